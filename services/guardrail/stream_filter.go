// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var filterTracer = otel.Tracer("sentria.guardrail.streamfilter")

// =============================================================================
// Stream Contracts
// =============================================================================

// FragmentSource is a pull-based stream of text fragments, typically backed
// by a model's token stream. Next returns io.EOF after the final fragment.
// Fragments may split words or multi-byte runes arbitrarily; the filter
// accumulates runes and never assumes fragment boundaries mean anything.
type FragmentSource interface {
	// Next returns the next fragment. It blocks until a fragment is
	// available, the stream ends (io.EOF), or ctx is done.
	Next(ctx context.Context) (string, error)

	// Close releases the underlying stream. Safe to call more than once.
	Close() error
}

// EventCallback receives filter output events in order. Returning a non-nil
// error aborts the run immediately; no further events are delivered.
type EventCallback func(ctx context.Context, ev Event) error

// =============================================================================
// StreamFilter
// =============================================================================

// StreamFilter incrementally moderates a fragment stream.
//
// # Description
//
// The filter accumulates incoming fragments into a rune buffer. Whenever
// the buffer reaches the active threshold it classifies a window of exactly
// that many runes: a harmful window terminates the stream with a BLOCKED
// event, any other outcome releases the window downstream as a SAFE_CHUNK
// and the buffering continues. The first released window uses
// InitialThreshold so the consumer sees output quickly; every later window
// uses SubsequentThreshold. On stream end the remaining buffered text is
// classified regardless of size. Every run ends with exactly one
// DIAGNOSTICS event carrying the aggregate cost of all classification
// calls, and nothing is emitted after it.
//
// # Limitations
//
//   - Windows are fixed-size rune counts, not sentence boundaries. A
//     harmful statement straddling two windows is only caught if one of
//     the windows independently classifies as harmful.
//
// # Thread Safety
//
// A StreamFilter holds no mutable state; one instance may serve concurrent
// Run calls. Each Run is single-goroutine.
type StreamFilter struct {
	classifier TextClassifier
	policy     BufferPolicy
}

// NewStreamFilter creates a StreamFilter.
//
// # Inputs
//
//   - classifier: the window classifier. Must not be nil.
//   - policy: buffer thresholds. Both must be positive.
//
// # Outputs
//
//   - *StreamFilter: ready for use.
//   - error: non-nil on a nil classifier or an invalid policy.
func NewStreamFilter(classifier TextClassifier, policy BufferPolicy) (*StreamFilter, error) {
	if classifier == nil {
		return nil, errors.New("classifier must not be nil")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &StreamFilter{classifier: classifier, policy: policy}, nil
}

// Run consumes source until it ends, a window is blocked, or the stream
// fails, delivering events to emit in order.
//
// # Description
//
// Run drives the whole moderation protocol for one stream. It returns nil
// when the protocol completed (including the BLOCKED and upstream-error
// outcomes, which are protocol states, not Run failures). It returns a
// non-nil error only when the callback rejected an event or ctx was
// cancelled, in which case delivery stops immediately and the terminal
// guarantee no longer holds for the consumer that cancelled.
//
// # Inputs
//
//   - ctx: governs the run; cancellation stops reads and delivery.
//   - source: the upstream fragment stream. Closed before Run returns.
//   - emit: event sink. Must not be nil.
func (f *StreamFilter) Run(ctx context.Context, source FragmentSource, emit EventCallback) error {
	ctx, span := filterTracer.Start(ctx, "StreamFilter.Run")
	defer span.End()
	defer source.Close()

	var (
		buffer      []rune
		flushedOnce bool
		diag        StreamDiagnostics
		windows     int
	)

	finish := func(terminal *Event) error {
		if terminal != nil {
			if err := emit(ctx, *terminal); err != nil {
				return err
			}
		}
		d := diag
		return emit(ctx, Event{Type: EventDiagnostics, Diagnostics: &d})
	}

	classifyWindow := func(window string) (Verdict, error) {
		verdict := f.classifier.Classify(ctx, window)
		diag.Merge(verdict)
		windows++
		return verdict, ctx.Err()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// The active threshold is re-evaluated on every pass, so a
		// large burst of fragments can release several windows before
		// the next upstream read.
		threshold := f.policy.SubsequentThreshold
		if !flushedOnce {
			threshold = f.policy.InitialThreshold
		}

		if len(buffer) >= threshold {
			window := string(buffer[:threshold])
			verdict, err := classifyWindow(window)
			if err != nil {
				return err
			}
			if verdict.Decision == DecisionHarmful {
				span.SetAttributes(attribute.Int("guardrail.windows", windows))
				slog.Info("Stream blocked", "reason", verdict.Reason, "windows", windows)
				return finish(&Event{Type: EventBlocked, Reason: verdict.Reason})
			}
			if err := emit(ctx, Event{Type: EventSafeChunk, Text: window}); err != nil {
				return err
			}
			buffer = buffer[threshold:]
			flushedOnce = true
			continue
		}

		fragment, err := source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			consumption := &StreamConsumptionError{Err: err}
			span.RecordError(consumption)
			slog.Warn("Upstream stream failed", "error", err, "buffered_runes", len(buffer))
			return finish(&Event{Type: EventError, Message: consumption.Error()})
		}
		buffer = append(buffer, []rune(fragment)...)
	}

	// Stream ended cleanly; the remainder is classified no matter how
	// small, so trailing text never bypasses moderation.
	if len(buffer) > 0 {
		remainder := string(buffer)
		verdict, err := classifyWindow(remainder)
		if err != nil {
			return err
		}
		if verdict.Decision == DecisionHarmful {
			span.SetAttributes(attribute.Int("guardrail.windows", windows))
			slog.Info("Stream blocked at tail", "reason", verdict.Reason, "windows", windows)
			return finish(&Event{Type: EventBlocked, Reason: verdict.Reason})
		}
		if err := emit(ctx, Event{Type: EventSafeChunk, Text: remainder}); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.Int("guardrail.windows", windows))
	return finish(nil)
}
