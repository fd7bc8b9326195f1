// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamCallback is invoked for each parsed event. Returning an error
// stops reading.
type StreamCallback func(event StreamEvent) error

// StreamReader reads moderated streaming responses and invokes callbacks.
//
// Implementations handle the specific wire format and emit parsed
// StreamEvent structs.
//
// Thread Safety:
//
//	A single Read/ReadAll operation must not be called concurrently on
//	the same reader instance.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//
//	err := reader.Read(ctx, httpResp.Body, func(event ux.StreamEvent) error {
//	    if event.Type == ux.StreamEventChunk {
//	        fmt.Print(event.Content)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	//
	// Parameters:
	//   - ctx: Context for cancellation. When cancelled, stops reading.
	//   - r: The source to read from. Caller is responsible for closing.
	//   - callback: Invoked for each parsed event. Return error to stop.
	//
	// The stream is considered complete when:
	//   - EOF is reached
	//   - A terminal event (done/blocked/error) is received
	//   - Context is cancelled
	//   - Callback returns an error
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error

	// ReadAll reads the entire stream and returns the aggregated result.
	//
	// Convenience over Read() for callers that do not need real-time
	// event processing.
	//
	// Note: If the stream ends with a blocked or error event, that is
	// captured in the StreamResult and this method returns nil.
	ReadAll(ctx context.Context, r io.Reader) (*StreamResult, error)
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader for Server-Sent Events.
type sseStreamReader struct {
	parser SSEParser
}

// NewSSEStreamReader creates a new SSE stream reader.
func NewSSEStreamReader(parser SSEParser) StreamReader {
	return &sseStreamReader{
		parser: parser,
	}
}

// Read processes an SSE stream, invoking callback for each event.
//
// Lines are read using bufio.Scanner. Nil events (empty lines,
// comments, bare field lines) are skipped.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	scanner := bufio.NewScanner(reader)
	eventIndex := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := r.parser.ParseLine(scanner.Text())
		if err != nil {
			return err
		}
		if event == nil {
			continue
		}

		event.Index = eventIndex
		eventIndex++

		if err := callback(*event); err != nil {
			return err
		}

		if event.IsTerminal() {
			return nil
		}
	}

	return scanner.Err()
}

// ReadAll reads the entire stream and returns the aggregated result.
//
// Collects all chunk content into Answer, captures sources,
// diagnostics, and the terminal event, and retains every event for
// chain verification.
func (r *sseStreamReader) ReadAll(ctx context.Context, reader io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	var answer strings.Builder

	err := r.Read(ctx, reader, func(event StreamEvent) error {
		result.Events = append(result.Events, event)

		switch event.Type {
		case StreamEventChunk:
			answer.WriteString(event.Content)
			result.TotalChunks++

		case StreamEventSources:
			result.Sources = append(result.Sources, event.Sources...)

		case StreamEventDiagnostics:
			result.ElapsedMs = event.ElapsedMs
			result.Windows = event.Windows

		case StreamEventDone:
			result.StreamId = event.StreamId
			result.AuditHash = event.AuditHash

		case StreamEventBlocked:
			result.Blocked = true
			result.BlockReason = event.Reason

		case StreamEventError:
			result.Error = event.Error
		}

		return nil
	})

	result.Answer = answer.String()
	return result, err
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
