// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAIClient(t *testing.T, baseURL string, retries int) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{
		APIKey:     "test-key",
		Model:      "test-model",
		BaseURL:    baseURL,
		MaxRetries: retries,
	})
	require.NoError(t, err)
	return c
}

// TestOpenAIGenerate verifies the completion happy path.
func TestOpenAIGenerate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"decision\":\"SAFE\"}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL, 0)
	got, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"SAFE"}`, got)
}

// TestOpenAIGenerateRetries verifies transient failures are retried up to
// the configured limit.
func TestOpenAIGenerateRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"recovered"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL, 2)
	got, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(2), calls.Load())
}

// TestOpenAIGenerateExhaustsRetries verifies a persistent failure surfaces
// after the final attempt.
func TestOpenAIGenerateExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL, 1)
	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

// TestOpenAIChatStream verifies SSE deltas arrive as tokens.
func TestOpenAIChatStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n"))
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL, 0)
	stream, err := client.ChatStream(context.Background(), []Message{
		{Role: "user", Content: "hi"},
	}, GenerationParams{})
	require.NoError(t, err)

	got, err := drainStream(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

// TestNewOpenAIClientRequiresKey verifies the API key is mandatory.
func TestNewOpenAIClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIClient(OpenAIConfig{Model: "m"})
	assert.Error(t, err)
}
