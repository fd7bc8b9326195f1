// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"context"
	"fmt"
	"io"
	"os"
)

// =============================================================================
// Stream Renderer
// =============================================================================

// StreamRenderer consumes a moderated stream and draws it on the
// terminal as events arrive: approved chunks as running text, a blocked
// banner when moderation stops the stream, evidence sources and timing
// at the end, and the integrity verdict last.
//
// Not safe for concurrent use; render one stream per renderer.
type StreamRenderer struct {
	out      io.Writer
	reader   StreamReader
	verifier ChainVerifier

	// Plain suppresses styling and decoration for scripting.
	Plain bool
}

// NewStreamRenderer creates a renderer writing to stdout.
func NewStreamRenderer() *StreamRenderer {
	return NewStreamRendererWithWriter(os.Stdout)
}

// NewStreamRendererWithWriter creates a renderer with a custom writer
// (for testing).
func NewStreamRendererWithWriter(w io.Writer) *StreamRenderer {
	return &StreamRenderer{
		out:      w,
		reader:   NewSSEStreamReader(NewSSEParser()),
		verifier: NewChainVerifier(),
	}
}

// Render consumes the stream from r and draws it, returning the
// aggregated result.
//
// # Description
//
// Chunks are written as they arrive so the user sees output with the
// same latency the moderation pipeline allows. After the terminal
// event, sources and diagnostics are printed, then the hash chain and
// audit hash are verified and the outcome reported. A failed
// verification does not discard the output; it is flagged loudly so
// the user knows the transcript cannot be trusted.
//
// # Outputs
//
//   - *StreamResult: Aggregated stream contents, also on error.
//   - error: Non-nil on read or parse failure.
func (sr *StreamRenderer) Render(ctx context.Context, r io.Reader) (*StreamResult, error) {
	result := &StreamResult{}
	chunks := 0

	err := sr.reader.Read(ctx, r, func(event StreamEvent) error {
		result.Events = append(result.Events, event)

		switch event.Type {
		case StreamEventStatus:
			sr.status(event.Message)

		case StreamEventChunk:
			fmt.Fprint(sr.out, event.Content)
			result.Answer += event.Content
			result.TotalChunks++
			chunks++

		case StreamEventBlocked:
			if chunks > 0 {
				fmt.Fprintln(sr.out)
			}
			result.Blocked = true
			result.BlockReason = event.Reason
			sr.blocked(event.Reason)

		case StreamEventError:
			if chunks > 0 {
				fmt.Fprintln(sr.out)
			}
			result.Error = event.Error
			sr.error(event.Error)

		case StreamEventSources:
			result.Sources = append(result.Sources, event.Sources...)

		case StreamEventDiagnostics:
			result.ElapsedMs = event.ElapsedMs
			result.Windows = event.Windows

		case StreamEventDone:
			result.StreamId = event.StreamId
			result.AuditHash = event.AuditHash
			fmt.Fprintln(sr.out)
		}

		return nil
	})
	if err != nil {
		return result, err
	}

	sr.footer(result)
	return result, nil
}

// status prints a transient status message.
func (sr *StreamRenderer) status(message string) {
	if sr.Plain {
		return
	}
	fmt.Fprintln(sr.out, Styles.Muted.Render(message))
}

// blocked prints the moderation banner.
func (sr *StreamRenderer) blocked(reason string) {
	if sr.Plain {
		fmt.Fprintf(sr.out, "blocked: %s\n", reason)
		return
	}
	fmt.Fprintln(sr.out, Styles.BlockedBox.Render(
		fmt.Sprintf("%s Response blocked: %s", Styles.StatusError.String(), reason)))
}

// error prints a stream failure.
func (sr *StreamRenderer) error(message string) {
	if sr.Plain {
		fmt.Fprintf(sr.out, "error: %s\n", message)
		return
	}
	fmt.Fprintln(sr.out, Styles.Error.Render(
		fmt.Sprintf("%s %s", Styles.StatusError.String(), message)))
}

// footer prints sources, diagnostics, and the integrity verdict.
func (sr *StreamRenderer) footer(result *StreamResult) {
	if len(result.Sources) > 0 && !sr.Plain {
		fmt.Fprintln(sr.out, Styles.Subtitle.Render("Evidence:"))
		for _, src := range result.Sources {
			marker := Styles.StatusOK.String()
			if !src.Resolved {
				marker = Styles.StatusWarning.String()
			}
			fmt.Fprintf(sr.out, "  %s %s\n", marker, src.Source)
		}
	}

	if result.Windows > 0 && !sr.Plain {
		fmt.Fprintln(sr.out, Styles.Muted.Render(
			fmt.Sprintf("%d windows moderated in %dms", result.Windows, result.ElapsedMs)))
	}

	verification := sr.verifier.VerifyResult(result)
	switch {
	case !verification.Valid:
		fmt.Fprintln(sr.out, Styles.Error.Render(
			fmt.Sprintf("%s INTEGRITY FAILURE: %s", Styles.StatusError.String(), verification.Reason)))
	case verification.AuditVerified && !sr.Plain:
		fmt.Fprintln(sr.out, Styles.Muted.Render(
			fmt.Sprintf("%s stream verified (%d events, audit hash ok)",
				Styles.StatusOK.String(), verification.EventsVerified)))
	}
}
