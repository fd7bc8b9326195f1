// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides clients for the generation backends used by the
// moderation pipeline: synchronous single-shot completion for verdicts and
// token streaming for moderated replies.
package llm

import "context"

// Message is one turn of a conversation sent to a chat backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams carries per-request generation options. Nil pointer
// fields mean "use the backend default".
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// TokenStream is a pull-based stream of generated text fragments.
// Next returns io.EOF after the final fragment. Close releases the
// underlying connection and is safe to call more than once.
type TokenStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// LLMClient defines the standard interface for any generation backend.
type LLMClient interface {
	// Generate produces a complete response for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// ChatStream starts a streaming conversation response. The returned
	// stream must be closed by the caller.
	ChatStream(ctx context.Context, messages []Message, params GenerationParams) (TokenStream, error)
}
