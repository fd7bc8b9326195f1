// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains request and event types for the moderated SSE chat
// streaming endpoint. For synchronous check types, see check.go.
package datatypes

import (
	"fmt"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessagesPerRequest is the maximum number of messages in a
	// streaming chat request.
	MaxMessagesPerRequest = 100
)

// =============================================================================
// Stream Request Types
// =============================================================================

// ChatMessage is one turn of the conversation submitted for moderated
// generation.
//
// # Fields
//
//   - Role: "user", "assistant", or "system".
//   - Content: Message text, limited to 32KB.
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required,maxbytes"`
}

// ChatStreamRequest is the body of POST /v1/chat/stream.
//
// # Description
//
// Carries the conversation to generate a moderated reply for. The final
// user message is pre-screened against the policy corpus before any
// tokens are generated; the generated reply is then released window by
// window as each window passes classification.
//
// # Fields
//
//   - Messages: Required. Conversation history with 1-100 messages.
//   - Model: Optional. Overrides the configured default model.
//
// # Validation
//
// Uses go-playground/validator:
//   - Messages: required, 1-100 elements, each element validated
//   - Messages[].Content: max 32768 bytes per message
type ChatStreamRequest struct {
	Messages []ChatMessage `json:"messages" validate:"required,min=1,max=100,dive"`
	Model    string        `json:"model"`
}

// Validate checks the request against its validation tags.
func (r *ChatStreamRequest) Validate() error {
	if err := checkValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid stream request: %w", err)
	}
	return nil
}

// LastUserMessage returns the content of the final message when its role
// is "user", or "" otherwise.
func (r *ChatStreamRequest) LastUserMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != "user" {
		return ""
	}
	return last.Content
}

// =============================================================================
// Stream Event Types
// =============================================================================

// SourceInfo describes one evidence document attached to a sources event.
//
// # Fields
//
//   - Source: Resolved filename or diagnostic identifier string.
//   - Resolved: Whether the filename was derived from document data.
//   - Preview: Truncated content preview.
type SourceInfo struct {
	Source   string `json:"source"`
	Resolved bool   `json:"resolved"`
	Preview  string `json:"preview,omitempty"`
}

// StreamEvent is the wire representation of one SSE event.
//
// # Description
//
// Every event carries integrity metadata populated by the SSE writer:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content
//   - PrevHash: Hash of the previous event for chain verification
//
// Event types emitted by the gateway:
//   - "chunk": approved output text (Content)
//   - "blocked": stream terminated by a harmful window (Reason)
//   - "error": stream failed (Error)
//   - "sources": resolved evidence documents (Sources)
//   - "diagnostics": aggregate classification telemetry (ElapsedMs, Windows)
//   - "done": stream completed; AuditHash covers all approved output
//   - "status": progress message (Message)
type StreamEvent struct {
	Id        string       `json:"id"`
	Type      string       `json:"type"`
	CreatedAt int64        `json:"created_at"`
	Content   string       `json:"content,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Message   string       `json:"message,omitempty"`
	Error     string       `json:"error,omitempty"`
	Sources   []SourceInfo `json:"sources,omitempty"`
	ElapsedMs int64        `json:"elapsed_ms,omitempty"`
	Windows   int          `json:"windows,omitempty"`
	AuditHash string       `json:"audit_hash,omitempty"`
	StreamId  string       `json:"stream_id,omitempty"`
	Hash      string       `json:"hash"`
	PrevHash  string       `json:"prev_hash"`
}
