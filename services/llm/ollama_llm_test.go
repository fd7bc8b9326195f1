// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestOllamaClient creates an OllamaClient pointing at a test server.
func newTestOllamaClient(t *testing.T, baseURL string) *OllamaClient {
	t.Helper()
	c, err := NewOllamaClient(OllamaConfig{
		BaseURL: baseURL,
		Model:   "test-model",
		Timeout: 30 * time.Second,
	})
	require.NoError(t, err)
	return c
}

// drainStream pulls a stream to completion and returns the joined text.
func drainStream(t *testing.T, stream TokenStream) (string, error) {
	t.Helper()
	defer stream.Close()

	var b strings.Builder
	for {
		token, err := stream.Next(context.Background())
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(token)
	}
}

// TestOllamaGenerate verifies the non-streaming completion path.
func TestOllamaGenerate(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Write([]byte(`{"model":"test-model","response":"{\"decision\":\"SAFE\"}","done":true}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	got, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, `{"decision":"SAFE"}`, got)
}

// TestOllamaGenerateModelNotFound verifies the pull hint on 404.
func TestOllamaGenerateModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model 'test-model' not found"}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	_, err := client.Generate(context.Background(), "prompt", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull")
}

// TestOllamaChatStreamBasic verifies NDJSON chunks arrive as individual
// tokens ending in io.EOF.
func TestOllamaChatStreamBasic(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Write([]byte(`{"message":{"role":"assistant","content":"Hel"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":"lo"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	stream, err := client.ChatStream(context.Background(), []Message{
		{Role: "user", Content: "hi"},
	}, GenerationParams{})
	require.NoError(t, err)

	got, err := drainStream(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

// TestOllamaChatStreamEmptyLines verifies blank lines in the NDJSON body
// are skipped.
func TestOllamaChatStreamEmptyLines(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\n\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":"ok"},"done":false}` + "\n"))
		w.Write([]byte("\n"))
		w.Write([]byte(`{"done":true}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	stream, err := client.ChatStream(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)

	got, err := drainStream(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

// TestOllamaChatStreamFinalChunkContent verifies content on the done chunk
// is not lost.
func TestOllamaChatStreamFinalChunkContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"almost"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":" done"},"done":true}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	stream, err := client.ChatStream(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)

	got, err := drainStream(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "almost done", got)
}

// TestOllamaChatStreamServerError verifies a non-200 response fails the
// stream start.
func TestOllamaChatStreamServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	_, err := client.ChatStream(context.Background(), nil, GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

// TestOllamaChatStreamMidStreamError verifies an error chunk surfaces as a
// stream error, not EOF.
func TestOllamaChatStreamMidStreamError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"part"},"done":false}` + "\n"))
		w.Write([]byte(`{"error":"model crashed"}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	stream, err := client.ChatStream(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)

	got, err := drainStream(t, stream)
	require.Error(t, err)
	assert.Equal(t, "part", got)
	assert.Contains(t, err.Error(), "model crashed")
}

// TestOllamaChatStreamMalformedJSON verifies a garbage chunk fails the
// stream cleanly.
func TestOllamaChatStreamMalformedJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	stream, err := client.ChatStream(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)

	_, err = drainStream(t, stream)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

// TestOllamaChatStreamContextCancellation verifies a cancelled context
// stops Next.
func TestOllamaChatStreamContextCancellation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"tok"},"done":false}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := client.ChatStream(ctx, nil, GenerationParams{})
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	_, err = stream.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestOllamaCloseIsIdempotent verifies Close can be called repeatedly.
func TestOllamaCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"done":true}` + "\n"))
	}))
	defer server.Close()

	client := newTestOllamaClient(t, server.URL)
	stream, err := client.ChatStream(context.Background(), nil, GenerationParams{})
	require.NoError(t, err)

	assert.NoError(t, stream.Close())
	stream.Close()

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

// TestNewOllamaClientValidation verifies required config fields.
func TestNewOllamaClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOllamaClient(OllamaConfig{Model: "m"})
	assert.Error(t, err)

	_, err = NewOllamaClient(OllamaConfig{BaseURL: "http://localhost:11434"})
	assert.Error(t, err)
}
