// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sentria-ai/sentria/services/gateway/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter defines the contract for writing Server-Sent Events to HTTP
// responses.
//
// # Description
//
// SSEWriter abstracts SSE event serialization and writing, enabling
// testability and separation from HTTP response mechanics. Implementations
// handle the SSE wire format (event: type\ndata: json\n\n) internally.
//
// Each event is automatically assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 hash of event content for integrity
//   - PrevHash: Hash of previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter
//   - Response headers must be set before the first write
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders before writing
type SSEWriter interface {
	// WriteEvent writes a single SSE event to the response. Id,
	// CreatedAt, Hash, and PrevHash are populated automatically.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteStatus writes a status event with a progress message.
	WriteStatus(message string) error

	// WriteChunk writes an approved output window.
	WriteChunk(content string) error

	// WriteBlocked writes the terminal blocked event with the verdict
	// reason. The stream should be closed after this event.
	WriteBlocked(reason string) error

	// WriteError writes an error event. The message must already be
	// sanitized; internal details are never sent to clients.
	WriteError(errMsg string) error

	// WriteSources writes a sources event with resolved evidence
	// documents.
	WriteSources(sources []datatypes.SourceInfo) error

	// WriteDiagnostics writes the aggregate classification telemetry
	// for the stream.
	WriteDiagnostics(elapsedMs int64, windows int) error

	// WriteDone writes the final done event carrying the stream ID and
	// the audit hash over all approved output.
	WriteDone(streamID, auditHash string) error

	// WriteKeepAlive sends an SSE comment line (": ping") to prevent
	// connection timeouts during long classification calls. Comments
	// do not participate in the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter implements SSEWriter for HTTP SSE responses.
//
// # Description
//
// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events.
// Each event is written as:
//
//	event: {type}
//	data: {json}
//
// The writer maintains a hash chain for integrity verification: each
// event's Hash is the SHA-256 of its content, and each event's PrevHash
// links to the previous event. This provides chain of custody for every
// byte of moderated output a client receives.
//
// # Thread Safety
//
// Thread-safe via mutex. Hash chain integrity is maintained across
// concurrent writes.
//
// # Limitations
//
//   - Cannot be reused across requests
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

// NewSSEWriter creates a new SSEWriter for the given ResponseWriter.
//
// # Inputs
//
//   - w: HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//   - SSEWriter: Ready to write SSE events.
//   - error: Non-nil if the ResponseWriter doesn't support flushing.
//
// # Examples
//
//	SetSSEHeaders(c.Writer)
//	writer, err := NewSSEWriter(c.Writer)
//	if err != nil {
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
//	    return
//	}
//	writer.WriteStatus("Screening input...")
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:   w,
		flusher:  flusher,
		prevHash: "",
	}, nil
}

// WriteEvent writes a single SSE event to the response.
//
// # Description
//
// Populates event metadata (Id, CreatedAt, Hash, PrevHash), serializes
// to JSON, and writes in SSE format. Flushes immediately after writing.
// The hash covers all content fields including sources.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash

	event.Hash = w.computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash computes the SHA-256 hash of event content.
//
// Hashes metadata and all content fields, with sources serialized to JSON
// for consistent hashing. Must be called before setting event.Hash.
func (w *sseWriter) computeEventHash(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%d|%d|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Reason,
		event.Message,
		event.Error,
		event.StreamId,
		event.AuditHash,
		event.ElapsedMs,
		event.Windows,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// WriteStatus writes a status event with the given message.
func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "status",
		Message: message,
	})
}

// WriteChunk writes an approved output window.
func (w *sseWriter) WriteChunk(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "chunk",
		Content: content,
	})
}

// WriteBlocked writes the terminal blocked event.
func (w *sseWriter) WriteBlocked(reason string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:   "blocked",
		Reason: reason,
	})
}

// WriteError writes an error event with a sanitized message.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:  "error",
		Error: errMsg,
	})
}

// WriteSources writes a sources event with resolved evidence documents.
func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:    "sources",
		Sources: sources,
	})
}

// WriteDiagnostics writes the aggregate classification telemetry.
func (w *sseWriter) WriteDiagnostics(elapsedMs int64, windows int) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "diagnostics",
		ElapsedMs: elapsedMs,
		Windows:   windows,
	})
}

// WriteDone writes the final done event.
func (w *sseWriter) WriteDone(streamID, auditHash string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      "done",
		StreamId:  streamID,
		AuditHash: auditHash,
	})
}

// WriteKeepAlive sends a comment line to keep the connection alive.
func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// SSE comment format: colon followed by text, then double newline
	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures HTTP response headers for SSE streaming.
//
// # Description
//
// Sets the required headers for Server-Sent Events:
//   - Content-Type: text/event-stream
//   - Cache-Control: no-cache
//   - Connection: keep-alive
//   - X-Accel-Buffering: no (disables nginx buffering)
//
// Must be called before writing any response body.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEWriter = (*sseWriter)(nil)
