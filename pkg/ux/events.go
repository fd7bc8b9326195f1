// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides user experience components for the Sentria CLI.
//
// The package consumes moderated SSE streams from the guardrail gateway:
// parsers convert raw lines into events, readers sequence events and
// invoke callbacks, the integrity verifier checks the event hash chain
// and the content audit hash, and the renderer draws everything on the
// terminal.
//
// Single Responsibility:
//
//	Each file owns one concern. Parsers only parse, readers only do I/O
//	and sequencing, verifiers only verify, renderers only render. This
//	separation keeps every piece independently testable.
package ux

// =============================================================================
// Stream Event Types
// =============================================================================

// StreamEventType represents the type of a gateway streaming event.
type StreamEventType string

const (
	// StreamEventStatus carries progress messages before generation.
	StreamEventStatus StreamEventType = "status"

	// StreamEventChunk carries an approved window of moderated output.
	StreamEventChunk StreamEventType = "chunk"

	// StreamEventBlocked signals the stream was terminated by moderation.
	StreamEventBlocked StreamEventType = "blocked"

	// StreamEventError signals a server-side failure.
	StreamEventError StreamEventType = "error"

	// StreamEventSources carries the evidence documents behind verdicts.
	StreamEventSources StreamEventType = "sources"

	// StreamEventDiagnostics carries timing and window counts.
	StreamEventDiagnostics StreamEventType = "diagnostics"

	// StreamEventDone terminates a successful stream and carries the
	// content audit hash.
	StreamEventDone StreamEventType = "done"
)

// SourceInfo describes one evidence document cited by the moderator.
//
// Field order and JSON tags mirror the gateway wire format exactly;
// the hash chain covers the serialized form.
type SourceInfo struct {
	Source   string `json:"source"`
	Resolved bool   `json:"resolved"`
	Preview  string `json:"preview,omitempty"`
}

// StreamEvent is one event from a gateway SSE stream.
//
// All fields are server-populated. Id, CreatedAt, Hash, and PrevHash
// form the tamper-evident chain; they must be preserved as received
// for verification to succeed.
type StreamEvent struct {
	Id        string          `json:"id"`
	Type      StreamEventType `json:"type"`
	CreatedAt int64           `json:"created_at"`
	Content   string          `json:"content,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	Sources   []SourceInfo    `json:"sources,omitempty"`
	ElapsedMs int64           `json:"elapsed_ms,omitempty"`
	Windows   int             `json:"windows,omitempty"`
	AuditHash string          `json:"audit_hash,omitempty"`
	StreamId  string          `json:"stream_id,omitempty"`
	Hash      string          `json:"hash"`
	PrevHash  string          `json:"prev_hash"`

	// Index is the position of this event in the stream, assigned by
	// the reader. Not part of the wire format.
	Index int `json:"-"`
}

// IsTerminal reports whether no further events follow this one.
func (e StreamEvent) IsTerminal() bool {
	switch e.Type {
	case StreamEventDone, StreamEventBlocked, StreamEventError:
		return true
	default:
		return false
	}
}

// =============================================================================
// Stream Result
// =============================================================================

// StreamResult is the aggregated outcome of consuming a stream.
type StreamResult struct {
	// Answer is the concatenation of all approved chunk content.
	Answer string

	// Sources are the evidence documents reported by the gateway.
	Sources []SourceInfo

	// Blocked is true when moderation terminated the stream.
	Blocked bool

	// BlockReason is the policy reason for a blocked stream.
	BlockReason string

	// Error is the server error message, if the stream failed.
	Error string

	// StreamId identifies the stream for audit lookup.
	StreamId string

	// AuditHash is the server's SHA-256 over all released content.
	AuditHash string

	// ElapsedMs is the total moderation time reported in diagnostics.
	ElapsedMs int64

	// Windows is the number of classified output windows.
	Windows int

	// TotalChunks counts the chunk events received.
	TotalChunks int

	// Events holds every event in arrival order, for chain verification.
	Events []StreamEvent
}
