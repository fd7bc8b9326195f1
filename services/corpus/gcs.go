// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package corpus manages the policy corpus: synchronizing local policy
// files to object storage, indexing them as guardrail evidence, and
// watching a directory for live edits.
package corpus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ObjectStore is the destination for corpus files. Implementations must be
// safe for concurrent use.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, remotePath string) error
}

// GCSClient stores corpus files in a Google Cloud Storage bucket.
type GCSClient struct {
	storageClient *storage.Client
	bucketName    string
}

// NewGCSClient creates a GCS-backed object store.
//
// # Inputs
//
//   - ctx: context for client creation.
//   - bucketName: destination bucket. Required.
//   - credentialsFile: service account key path. Empty uses application
//     default credentials.
func NewGCSClient(ctx context.Context, bucketName, credentialsFile string) (*GCSClient, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name not set")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSClient{
		storageClient: storageClient,
		bucketName:    bucketName,
	}, nil
}

// Upload copies one local file to the bucket.
func (c *GCSClient) Upload(ctx context.Context, localPath, remotePath string) error {
	localFile, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open the local file %s: %w", localPath, err)
	}
	defer localFile.Close()

	obj := c.storageClient.Bucket(c.bucketName).Object(remotePath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, localFile); err != nil {
		writer.Close()
		return fmt.Errorf("failed to copy local file %s to GCS object %s: %w", localPath, remotePath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", remotePath, err)
	}

	slog.Info("Uploaded corpus file", "local", localPath, "remote", fmt.Sprintf("gs://%s/%s", c.bucketName, remotePath))
	return nil
}

// Close releases the underlying storage client.
func (c *GCSClient) Close() error {
	return c.storageClient.Close()
}
