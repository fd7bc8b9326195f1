// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"io/fs"
	"log"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/sentria-ai/sentria/pkg/ux"
	"github.com/sentria-ai/sentria/services/corpus"
	"github.com/sentria-ai/sentria/services/retrieval"
	"github.com/sentria-ai/sentria/services/scanner"
)

// runCorpusSync pushes a local policy directory into object storage and
// the evidence index in one pass. Files are scanned for secrets first;
// high-confidence findings stop the sync unless --force is given.
func runCorpusSync(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !scanCorpusDir(args[0]) {
		log.Fatalf("Secret scan found blocking findings in %s. Re-run with --force to override.", args[0])
	}

	syncer := buildSyncer(ctx)
	count, err := syncer.SyncDir(ctx, args[0])
	if err != nil {
		log.Fatalf("Corpus sync failed: %v", err)
	}

	if corpusDryRun {
		ux.Info("Dry run: %d files would be synced from %s", count, args[0])
		return
	}
	ux.Success("Synced %d files from %s", count, args[0])
}

// runCorpusWatch keeps a policy directory and the index in lockstep
// until interrupted.
func runCorpusWatch(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	syncer := buildSyncer(ctx)
	watcher, err := corpus.NewWatcher(syncer, args[0],
		time.Duration(corpusDebounce)*time.Millisecond)
	if err != nil {
		log.Fatalf("Failed to create corpus watcher: %v", err)
	}

	ux.Info("Watching %s (ctrl-c to stop)", args[0])
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("Corpus watcher failed: %v", err)
	}
}

// scanCorpusDir runs the secret scan over every regular file under
// root, printing findings. Returns false when a high-confidence
// finding should stop the sync.
func scanCorpusDir(root string) bool {
	scan, err := scanner.New()
	if err != nil {
		log.Fatalf("Failed to load scan rules: %v", err)
	}

	blocking := false
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		findings := scan.ScanContent(string(content))
		for _, f := range findings {
			ux.Warn("%s:%d [%s/%s] %s", path, f.LineNumber,
				f.ClassificationName, f.Confidence, f.PatternDescription)
		}
		if scanner.HasBlockingFinding(findings) {
			blocking = true
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Secret scan failed: %v", err)
	}

	if blocking && corpusForce {
		ux.Warn("High-confidence findings overridden with --force")
		return true
	}
	return !blocking
}

// buildSyncer wires the object store and document indexer from flags
// and configuration.
func buildSyncer(ctx context.Context) *corpus.Syncer {
	var store corpus.ObjectStore
	if corpusBucket != "" {
		gcs, err := corpus.NewGCSClient(ctx, corpusBucket,
			os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
		if err != nil {
			log.Fatalf("Failed to create GCS client: %v", err)
		}
		store = gcs
	}

	indexer, err := retrieval.NewIndexer(weaviateClient())
	if err != nil {
		log.Fatalf("Failed to create indexer: %v", err)
	}

	syncer, err := corpus.NewSyncer(store, indexer, corpus.SyncerConfig{
		RemotePrefix: corpusPrefix,
		Workers:      corpusWorkers,
		DryRun:       corpusDryRun,
	})
	if err != nil {
		log.Fatalf("Failed to create syncer: %v", err)
	}
	return syncer
}

// weaviateClient connects to the configured Weaviate instance.
func weaviateClient() *weaviate.Client {
	parsed, err := url.Parse(loadedConfig.WeaviateURL)
	if err != nil || parsed.Host == "" {
		log.Fatalf("Invalid weaviate_url in configuration: %q", loadedConfig.WeaviateURL)
	}

	client, err := retrieval.NewClient(retrieval.ClientConfig{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}
	return client
}
