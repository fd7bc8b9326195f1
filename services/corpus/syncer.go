// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package corpus

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sentria-ai/sentria/services/retrieval"
)

// DocumentIndexer receives corpus files as searchable evidence.
// *retrieval.Indexer satisfies this.
type DocumentIndexer interface {
	Index(ctx context.Context, file retrieval.PolicyFile) error
	Delete(ctx context.Context, docID string) error
}

// SyncerConfig configures a corpus sync run.
type SyncerConfig struct {
	// RemotePrefix is prepended to every object path in the store.
	RemotePrefix string

	// Workers bounds concurrent file syncs. Defaults to 4.
	Workers int

	// DryRun logs what would be synced without uploading or indexing.
	DryRun bool
}

// Syncer pushes a local policy directory to object storage and into the
// search index in one pass, so retrieval evidence and the archived corpus
// cannot drift apart.
type Syncer struct {
	store   ObjectStore
	indexer DocumentIndexer
	cfg     SyncerConfig
}

// NewSyncer creates a Syncer. Either backend may be nil to skip that half
// of the sync, but not both.
func NewSyncer(store ObjectStore, indexer DocumentIndexer, cfg SyncerConfig) (*Syncer, error) {
	if store == nil && indexer == nil {
		return nil, errors.New("at least one of store and indexer is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Syncer{store: store, indexer: indexer, cfg: cfg}, nil
}

// DocID derives the storage identifier for a corpus-relative path.
// Identifiers are URL-safe base64 without padding.
func DocID(relPath string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(filepath.ToSlash(relPath)))
}

// SyncDir walks root and syncs every regular file, fanning out across the
// configured number of workers. Returns the number of files synced.
func (s *Syncer) SyncDir(ctx context.Context, root string) (int, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking corpus dir %s: %w", root, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, path := range paths {
		g.Go(func() error {
			return s.SyncFile(ctx, root, path)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	slog.Info("Corpus sync complete", "root", root, "files", len(paths), "dry_run", s.cfg.DryRun)
	return len(paths), nil
}

// SyncFile uploads and indexes one file under root.
func (s *Syncer) SyncFile(ctx context.Context, root, path string) error {
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("resolving corpus path %s: %w", path, err)
	}
	remotePath := filepath.ToSlash(filepath.Join(s.cfg.RemotePrefix, relPath))

	if s.cfg.DryRun {
		slog.Info("Would sync corpus file", "path", relPath, "remote", remotePath, "doc_id", DocID(relPath))
		return nil
	}

	if s.store != nil {
		if err := s.store.Upload(ctx, path, remotePath); err != nil {
			return err
		}
	}

	if s.indexer != nil {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading corpus file %s: %w", path, err)
		}
		file := retrieval.PolicyFile{
			DocID:      DocID(relPath),
			FileName:   filepath.Base(relPath),
			Content:    string(content),
			SourcePath: remotePath,
		}
		if err := s.indexer.Index(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFile drops one file from the search index. The archived object in
// the store is kept for audit.
func (s *Syncer) RemoveFile(ctx context.Context, root, path string) error {
	if s.indexer == nil || s.cfg.DryRun {
		return nil
	}
	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("resolving corpus path %s: %w", path, err)
	}
	return s.indexer.Delete(ctx, DocID(relPath))
}
