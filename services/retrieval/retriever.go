// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides the Weaviate-backed evidence retriever for
// the guardrail classifier.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sentria-ai/sentria/services/guardrail"
)

var tracer = otel.Tracer("sentria.retrieval")

// ClientConfig configures the connection to Weaviate.
type ClientConfig struct {
	// Host is the Weaviate address, e.g. localhost:8080.
	Host string

	// Scheme is http or https.
	Scheme string
}

// NewClient creates a Weaviate client from the connection config.
func NewClient(cfg ClientConfig) (*weaviate.Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate host not set")
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return weaviate.NewClient(weaviate.Config{
		Host:   cfg.Host,
		Scheme: scheme,
	})
}

// WeaviateRetriever performs hybrid keyword+vector search over the policy
// corpus. It implements guardrail.Retriever.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client carries no per-request
// state.
type WeaviateRetriever struct {
	client *weaviate.Client
	alpha  float32
}

// Compile-time interface implementation check.
var _ guardrail.Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever creates a retriever over client.
//
// # Inputs
//
//   - client: Weaviate client. Must not be nil.
//   - alpha: hybrid balance, 0 = pure keyword, 1 = pure vector.
//     Values outside [0,1] are rejected.
func NewWeaviateRetriever(client *weaviate.Client, alpha float32) (*WeaviateRetriever, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha must be in [0,1], got %v", alpha)
	}
	return &WeaviateRetriever{client: client, alpha: alpha}, nil
}

// Retrieve implements guardrail.Retriever.
//
// # Description
//
// Runs one hybrid GraphQL query against the PolicyDocument class and maps
// the results, in Weaviate's relevance order, onto guardrail documents.
// The hybrid score lands in each document's metadata.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string, k int) ([]guardrail.Document, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.top_k", k))

	if k <= 0 {
		return nil, fmt.Errorf("top-k must be positive, got %d", k)
	}

	fields := []graphql.Field{
		{Name: "docId"},
		{Name: "fileName"},
		{Name: "content"},
		{Name: "sourcePath"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	hybrid := r.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(r.alpha)

	result, err := r.client.GraphQL().Get().
		WithClassName(PolicyDocumentClassName).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		err := fmt.Errorf("hybrid search error: %s", result.Errors[0].Message)
		span.RecordError(err)
		return nil, err
	}

	docs := parseDocuments(result)
	span.SetAttributes(attribute.Int("retrieval.results", len(docs)))
	return docs, nil
}

// parseDocuments converts a GraphQL response into guardrail documents.
func parseDocuments(result *models.GraphQLResponse) []guardrail.Document {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []guardrail.Document{}
	}
	objects, ok := data[PolicyDocumentClassName].([]interface{})
	if !ok {
		return []guardrail.Document{}
	}

	docs := make([]guardrail.Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		doc := guardrail.Document{
			ID:      getString(m, "docId"),
			Name:    getString(m, "fileName"),
			Content: getString(m, "content"),
			Metadata: map[string]string{
				"source_path": getString(m, "sourcePath"),
			},
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if score := getString(additional, "score"); score != "" {
				doc.Metadata["score"] = score
			} else if f, ok := additional["score"].(float64); ok {
				doc.Metadata["score"] = strconv.FormatFloat(f, 'f', -1, 64)
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
