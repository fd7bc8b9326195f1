// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// PolicyFile is one corpus file to index as guardrail evidence.
type PolicyFile struct {
	// DocID is the storage identifier, URL-safe base64 of the corpus path.
	DocID string

	// FileName is the human-readable filename.
	FileName string

	// Content is the policy text.
	Content string

	// SourcePath is the origin path in the corpus bucket.
	SourcePath string
}

// Indexer writes policy documents into the PolicyDocument class.
//
// Object IDs are derived deterministically from DocID, so re-indexing the
// same file replaces its previous version instead of duplicating it.
type Indexer struct {
	client *weaviate.Client
}

func NewIndexer(client *weaviate.Client) (*Indexer, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	return &Indexer{client: client}, nil
}

// objectID maps a storage identifier onto a stable Weaviate object UUID.
func objectID(docID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}

// Index upserts one policy file.
func (ix *Indexer) Index(ctx context.Context, file PolicyFile) error {
	if file.DocID == "" {
		return errors.New("doc ID must not be empty")
	}

	properties := map[string]interface{}{
		"docId":      file.DocID,
		"fileName":   file.FileName,
		"content":    file.Content,
		"sourcePath": file.SourcePath,
		"uploadedAt": time.Now().UTC().Format(time.RFC3339),
	}

	id := objectID(file.DocID)
	_, err := ix.client.Data().Creator().
		WithClassName(PolicyDocumentClassName).
		WithID(id).
		WithProperties(properties).
		Do(ctx)
	if err == nil {
		slog.Debug("Indexed policy document", "file", file.FileName, "id", id)
		return nil
	}
	if !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("indexing %s: %w", file.FileName, err)
	}

	if err := ix.client.Data().Updater().
		WithClassName(PolicyDocumentClassName).
		WithID(id).
		WithProperties(properties).
		Do(ctx); err != nil {
		return fmt.Errorf("updating %s: %w", file.FileName, err)
	}
	slog.Debug("Updated policy document", "file", file.FileName, "id", id)
	return nil
}

// Delete removes one policy file by storage identifier.
func (ix *Indexer) Delete(ctx context.Context, docID string) error {
	if err := ix.client.Data().Deleter().
		WithClassName(PolicyDocumentClassName).
		WithID(objectID(docID)).
		Do(ctx); err != nil {
		return fmt.Errorf("deleting %s: %w", docID, err)
	}
	return nil
}
