// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// SSE Parser
// =============================================================================

// SSEParser parses Server-Sent Events lines into StreamEvent structs.
//
// SSE Format Reference (https://developer.mozilla.org/en-US/docs/Web/API/Server-sent_events):
//
//	event: chunk\n
//	data: {"type":"chunk","content":"Hello"}\n
//	\n
//
// Each line starting with "data: " contains a JSON payload. Empty lines
// are event delimiters. Lines starting with ":" are comments, which the
// gateway uses for keepalive pings. "event:" lines are redundant with
// the payload's type field and are skipped.
//
// Thread Safety:
//
//	The default implementation is stateless and safe for concurrent use.
//
// Example:
//
//	parser := NewSSEParser()
//	event, err := parser.ParseLine(`data: {"type":"chunk","content":"Hi"}`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if event != nil {
//	    fmt.Println(event.Content) // "Hi"
//	}
type SSEParser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Parameters:
	//   - line: A single line from the SSE stream (without trailing newline)
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for non-data lines
	//   - error: Non-nil if JSON parsing failed
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload into a StreamEvent.
	//
	// Use this when you have JSON without the "data: " prefix. Server
	// fields (id, hashes, timestamps) are preserved exactly as sent,
	// which the integrity verifier depends on.
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// sseParser implements SSEParser. Stateless.
type sseParser struct{}

// NewSSEParser creates a new SSE parser.
//
// The returned parser is stateless and can be safely shared across goroutines.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
//
// Handles the following line types:
//   - Empty: Returns nil (event boundary)
//   - Comment (starts with ":"): Returns nil (keepalive, ignored)
//   - Field ("event: ..."): Returns nil (type comes from the payload)
//   - Data (starts with "data:"): Parses JSON after the prefix
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)

	if line == "" {
		return nil, nil
	}

	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	if strings.HasPrefix(line, "data: ") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data: ")))
	}

	// Also handle "data:" without space (some servers do this)
	if strings.HasPrefix(line, "data:") {
		return p.ParseRawJSON([]byte(strings.TrimPrefix(line, "data:")))
	}

	// Other SSE fields (event:, id:, retry:) carry nothing the payload
	// does not already have.
	return nil, nil
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// The payload's id, created_at, hash, and prev_hash fields are kept
// verbatim so the hash chain can be re-verified client-side.
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	var event StreamEvent
	if err := json.Unmarshal(jsonData, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
