// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PolicyDocumentClassName is the Weaviate class name for policy documents.
const PolicyDocumentClassName = "PolicyDocument"

// GetPolicyDocumentSchema returns the Weaviate schema for the
// PolicyDocument class.
//
// Description:
//
//	Defines the schema for storing policy corpus documents. Content is
//	vectorized with text2vec-transformers for the semantic half of hybrid
//	search; identifier and path fields skip vectorization.
//
// Outputs:
//
//	*models.Class - The Weaviate class definition
func GetPolicyDocumentSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	indexSearchable := new(bool)
	*indexSearchable = true

	return &models.Class{
		Class:       PolicyDocumentClassName,
		Description: "Policy corpus documents used as guardrail evidence",
		Vectorizer:  "text2vec-transformers",
		ModuleConfig: map[string]interface{}{
			"text2vec-transformers": map[string]interface{}{
				"vectorizeClassName": false,
			},
		},
		Properties: []*models.Property{
			{
				Name:            "docId",
				DataType:        []string{"text"},
				Description:     "Storage identifier, URL-safe base64 of the corpus path",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig: map[string]interface{}{
					"text2vec-transformers": map[string]interface{}{
						"skip": true,
					},
				},
			},
			{
				Name:            "fileName",
				DataType:        []string{"text"},
				Description:     "Human-readable filename",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
			},
			{
				Name:            "content",
				DataType:        []string{"text"},
				Description:     "The policy document text",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
			},
			{
				Name:            "sourcePath",
				DataType:        []string{"text"},
				Description:     "Origin path in the corpus bucket",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
				ModuleConfig: map[string]interface{}{
					"text2vec-transformers": map[string]interface{}{
						"skip": true,
					},
				},
			},
			{
				Name:        "uploadedAt",
				DataType:    []string{"text"},
				Description: "RFC3339 timestamp of the last corpus sync",
				ModuleConfig: map[string]interface{}{
					"text2vec-transformers": map[string]interface{}{
						"skip": true,
					},
				},
			},
		},
	}
}

// EnsurePolicyDocumentSchema creates the PolicyDocument class if it does
// not exist. Idempotent.
func EnsurePolicyDocumentSchema(ctx context.Context, client *weaviate.Client) error {
	_, err := client.Schema().ClassGetter().WithClassName(PolicyDocumentClassName).Do(ctx)
	if err == nil {
		slog.Info("PolicyDocument schema already exists")
		return nil
	}

	slog.Info("Creating PolicyDocument schema")
	if err := client.Schema().ClassCreator().WithClass(GetPolicyDocumentSchema()).Do(ctx); err != nil {
		return fmt.Errorf("creating PolicyDocument schema: %w", err)
	}

	slog.Info("PolicyDocument schema created successfully")
	return nil
}

// DeletePolicyDocumentSchema removes the PolicyDocument class and all its
// objects. Irreversible.
func DeletePolicyDocumentSchema(ctx context.Context, client *weaviate.Client) error {
	if err := client.Schema().ClassDeleter().WithClassName(PolicyDocumentClassName).Do(ctx); err != nil {
		return fmt.Errorf("deleting PolicyDocument schema: %w", err)
	}

	slog.Info("PolicyDocument schema deleted")
	return nil
}
