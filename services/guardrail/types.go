// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrail implements the policy-compliance moderation core.
//
// The package turns text (user input or model output) into a Verdict by
// retrieving policy evidence, budgeting it to a context window, and asking
// a generation backend for a structured judgment. A StreamFilter wraps a
// live token stream in the same check using an adaptive buffering protocol,
// and a CitationMatcher reconciles the filenames the model claims as
// evidence against the documents that were actually retrieved.
//
// Components are designed to be:
//   - Injectable: retrieval and generation backends are interfaces
//   - Request-local: all stream state lives in one Run invocation
//   - Non-throwing: classification failures become ERROR verdicts, never panics
package guardrail

import (
	"time"
)

// =============================================================================
// Decision
// =============================================================================

// Decision is the closed set of classification outcomes.
//
// SAFE, HARMFUL and CANNOT_DETERMINE are business outcomes produced by the
// generation backend. ERROR is distinct: it is only produced by the
// classifier's own failure paths (retrieval, generation, parse) and never
// carries policy content.
type Decision string

const (
	// DecisionSafe means the text violates no policy in the retrieved context.
	DecisionSafe Decision = "SAFE"

	// DecisionHarmful means the text violates a specific retrieved policy.
	DecisionHarmful Decision = "HARMFUL"

	// DecisionCannotDetermine means the retrieved context was insufficient to
	// judge. Treated as a pass-through state: insufficient evidence is not
	// itself a violation.
	DecisionCannotDetermine Decision = "CANNOT_DETERMINE"

	// DecisionError means classification itself failed (network, timeout,
	// malformed response). Carries a diagnostic reason, never policy content.
	DecisionError Decision = "ERROR"
)

// ParseDecision maps a raw decision string from the generation backend onto
// the closed Decision set. Unknown values map to CANNOT_DETERMINE so a
// misbehaving model cannot invent new outcome states downstream.
func ParseDecision(raw string) Decision {
	switch Decision(raw) {
	case DecisionSafe, DecisionHarmful, DecisionCannotDetermine, DecisionError:
		return Decision(raw)
	default:
		return DecisionCannotDetermine
	}
}

// =============================================================================
// Document
// =============================================================================

// Document is one retrieved policy document. Instances are owned by the
// retrieval backend and treated as read-only by the classifier, the stream
// filter and the citation matcher for the lifetime of one request.
type Document struct {
	// ID is the storage identifier, possibly an encoded storage path.
	ID string `json:"id"`

	// Name is an optional human-readable filename.
	Name string `json:"name,omitempty"`

	// Content is the document text.
	Content string `json:"content"`

	// Metadata carries arbitrary retrieval metadata (scores, paths).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// Verdict
// =============================================================================

// Verdict is the structured outcome of one classification call.
//
// Every code path that produces a Verdict populates all five fields;
// ElapsedTime is measured from classifier-call start even on failure, and
// SourceDocuments always holds the retrieved list (empty on retrieval
// failure) regardless of the decision.
type Verdict struct {
	Decision        Decision      `json:"decision"`
	Reason          string        `json:"reason"`
	CitedFiles      []string      `json:"cited_files"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
	SourceDocuments []Document    `json:"source_documents"`
}

// =============================================================================
// BufferPolicy
// =============================================================================

// BufferPolicy holds the character thresholds for the stream filter's
// adaptive buffer. The initial threshold is typically smaller to optimize
// time-to-first-output; the subsequent threshold larger for throughput.
type BufferPolicy struct {
	// InitialThreshold is the character count that triggers the first
	// classification window. Must be positive.
	InitialThreshold int

	// SubsequentThreshold is the character count for every later window.
	// Must be positive.
	SubsequentThreshold int
}

// Validate reports whether both thresholds are positive.
func (p BufferPolicy) Validate() error {
	if p.InitialThreshold <= 0 {
		return &ConfigError{Field: "InitialThreshold", Value: p.InitialThreshold}
	}
	if p.SubsequentThreshold <= 0 {
		return &ConfigError{Field: "SubsequentThreshold", Value: p.SubsequentThreshold}
	}
	return nil
}

// =============================================================================
// StreamDiagnostics
// =============================================================================

// StreamDiagnostics accumulates per-stream classification telemetry: the sum
// of elapsed times, the concatenation of source documents (not deduplicated
// at this layer) and the set union of cited files across every classifier
// call made during one stream's lifetime.
//
// A StreamDiagnostics is exclusively owned by one StreamFilter invocation
// and is mutated only by it; once the terminal DIAGNOSTICS event is emitted
// the value is no longer modified.
type StreamDiagnostics struct {
	ElapsedTime     time.Duration `json:"elapsed_time"`
	SourceDocuments []Document    `json:"source_documents"`
	CitedFiles      []string      `json:"cited_files"`
}

// Merge folds one verdict's telemetry into the accumulator. Cited files are
// deduplicated (set union); source documents are concatenated as-is.
func (d *StreamDiagnostics) Merge(v Verdict) {
	d.ElapsedTime += v.ElapsedTime
	d.SourceDocuments = append(d.SourceDocuments, v.SourceDocuments...)
	for _, f := range v.CitedFiles {
		if !containsString(d.CitedFiles, f) {
			d.CitedFiles = append(d.CitedFiles, f)
		}
	}
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

// =============================================================================
// Event
// =============================================================================

// EventType tags the variants of the stream filter's output union.
type EventType string

const (
	// EventSafeChunk carries an approved window of output text.
	EventSafeChunk EventType = "SAFE_CHUNK"

	// EventBlocked is terminal: a window was classified HARMFUL.
	EventBlocked EventType = "BLOCKED"

	// EventError is terminal: consuming the upstream stream failed.
	EventError EventType = "ERROR"

	// EventDiagnostics carries the final accumulator. It is always the
	// last event of a run, emitted exactly once.
	EventDiagnostics EventType = "DIAGNOSTICS"
)

// Event is one element of the filtered output stream. Exactly one payload
// field is meaningful per type: Text for SAFE_CHUNK, Reason for BLOCKED,
// Message for ERROR, Diagnostics for DIAGNOSTICS.
type Event struct {
	Type        EventType          `json:"type"`
	Text        string             `json:"text,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Message     string             `json:"message,omitempty"`
	Diagnostics *StreamDiagnostics `json:"diagnostics,omitempty"`
}
