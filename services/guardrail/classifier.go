// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// classifierTracer is the OpenTelemetry tracer for Classifier operations.
var classifierTracer = otel.Tracer("sentria.guardrail.classifier")

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Retriever defines the contract for the evidence-retrieval backend.
//
// # Description
//
// Implementations perform hybrid keyword+vector search over the policy
// corpus and return the top-k documents ranked by relevance. Ranking and
// embedding live entirely behind this interface; the classifier only
// consumes the ordered result.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; one Retriever is shared
// across all requests.
type Retriever interface {
	// Retrieve returns up to k documents ranked by relevance to query.
	Retrieve(ctx context.Context, query string, k int) ([]Document, error)
}

// Generator defines the contract for the synchronous generation backend.
//
// Complete must return raw text expected to parse as the verdict JSON
// object. Timeouts and retry counts belong to the implementation's own
// configuration, not to the classifier.
type Generator interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TextClassifier is the downstream contract exposed by the classifier;
// StreamFilter depends on this rather than on the concrete type so tests
// can substitute counting stubs.
type TextClassifier interface {
	Classify(ctx context.Context, text string) Verdict
}

// Compile-time interface implementation check.
var _ TextClassifier = (*Classifier)(nil)

// =============================================================================
// Classifier
// =============================================================================

// ClassifierConfig holds the read-only options consumed at construction.
type ClassifierConfig struct {
	// MaxContextTokens bounds the budgeted evidence context.
	MaxContextTokens int

	// RetrievalTopK is passed to the retrieval backend as the result limit.
	RetrievalTopK int
}

// Classifier performs a single synchronous policy check: retrieve evidence,
// budget it, prompt the generation backend, parse the structured verdict.
//
// Classify never returns an error; every failure mode resolves to a verdict
// with Decision=ERROR. The classifier holds no per-request state and is
// safe for concurrent use provided its injected backends are.
type Classifier struct {
	retriever Retriever
	generator Generator
	cache     VerdictCache
	cfg       ClassifierConfig
}

// NewClassifier creates a Classifier with the provided backends.
//
// # Inputs
//
//   - retriever: evidence retrieval backend. Must not be nil.
//   - generator: synchronous generation backend. Must not be nil.
//   - cfg: read-only configuration. Non-positive values are rejected.
//
// # Outputs
//
//   - *Classifier: ready for concurrent use.
//   - error: non-nil if a backend is nil or the config is invalid.
func NewClassifier(retriever Retriever, generator Generator, cfg ClassifierConfig) (*Classifier, error) {
	if retriever == nil {
		return nil, errors.New("retriever must not be nil")
	}
	if generator == nil {
		return nil, errors.New("generator must not be nil")
	}
	if cfg.MaxContextTokens <= 0 {
		return nil, &ConfigError{Field: "MaxContextTokens", Value: cfg.MaxContextTokens}
	}
	if cfg.RetrievalTopK <= 0 {
		return nil, &ConfigError{Field: "RetrievalTopK", Value: cfg.RetrievalTopK}
	}
	return &Classifier{
		retriever: retriever,
		generator: generator,
		cfg:       cfg,
	}, nil
}

// WithCache attaches an optional verdict cache consulted before the full
// retrieve/generate pipeline. Only non-ERROR verdicts are ever cached.
// Returns the classifier for chaining.
func (c *Classifier) WithCache(cache VerdictCache) *Classifier {
	c.cache = cache
	return c
}

// verdictPayload mirrors the JSON object the generation backend is
// instructed to return.
type verdictPayload struct {
	Decision    string   `json:"decision"`
	Reason      string   `json:"reason"`
	SourceFiles []string `json:"source_files"`
}

// Classify evaluates text against the policy corpus and returns a Verdict.
//
// # Description
//
// Steps: (1) retrieve top-k evidence for text, (2) budget it to the
// configured token limit, (3) render the fixed prompt, (4) invoke the
// generation backend synchronously, (5) parse the response as the verdict
// JSON object. All five Verdict fields are populated on every path:
// ElapsedTime is wall-clock from step (1) to return even on failure, and
// SourceDocuments is the retrieved list (empty when retrieval failed).
//
// # Inputs
//
//   - ctx: context for cancellation and tracing. A cancelled context
//     surfaces as an ERROR verdict, not as a panic or returned error.
//   - text: the text to evaluate.
//
// # Outputs
//
//   - Verdict: never accompanied by an error; failures have Decision=ERROR.
func (c *Classifier) Classify(ctx context.Context, text string) Verdict {
	ctx, span := classifierTracer.Start(ctx, "Classifier.Classify")
	defer span.End()

	start := time.Now()

	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, CacheKey(text)); ok {
			v.ElapsedTime = time.Since(start)
			span.SetAttributes(
				attribute.Bool("guardrail.cache_hit", true),
				attribute.String("guardrail.decision", string(v.Decision)),
			)
			return v
		}
	}

	docs, err := c.retriever.Retrieve(ctx, text, c.cfg.RetrievalTopK)
	if err != nil {
		return c.errorVerdict(span, start, &RetrievalError{Query: text, Err: err})
	}
	span.SetAttributes(attribute.Int("guardrail.retrieved_docs", len(docs)))

	budgeted := BudgetContext(docs, c.cfg.MaxContextTokens)
	prompt := RenderPrompt(budgeted.CombinedText, text)

	raw, err := c.generator.Complete(ctx, prompt)
	if err != nil {
		v := c.errorVerdict(span, start, &GenerationError{Err: err})
		v.SourceDocuments = docs
		return v
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		slog.Warn("Guardrail verdict did not parse as JSON",
			"error", err,
			"response_length", len(raw),
		)
		span.RecordError(&VerdictParseError{Raw: raw, Err: err})
		span.SetStatus(codes.Error, "verdict parse failed")
		return Verdict{
			Decision:        DecisionError,
			Reason:          "Failed to parse response",
			CitedFiles:      []string{},
			ElapsedTime:     time.Since(start),
			SourceDocuments: docs,
		}
	}

	cited := payload.SourceFiles
	if cited == nil {
		cited = []string{}
	}

	verdict := Verdict{
		Decision:        ParseDecision(payload.Decision),
		Reason:          payload.Reason,
		CitedFiles:      cited,
		ElapsedTime:     time.Since(start),
		SourceDocuments: docs,
	}

	span.SetAttributes(attribute.String("guardrail.decision", string(verdict.Decision)))
	slog.Debug("Classified text",
		"decision", verdict.Decision,
		"elapsed", verdict.ElapsedTime,
		"source_docs", len(docs),
	)

	if c.cache != nil && verdict.Decision != DecisionError {
		c.cache.Put(ctx, CacheKey(text), verdict)
	}

	return verdict
}

// errorVerdict converts a recovered failure into an ERROR verdict with all
// fields populated. The reason is the stringified failure; SourceDocuments
// defaults to empty and is overridden by the caller when retrieval already
// succeeded.
func (c *Classifier) errorVerdict(span trace.Span, start time.Time, cause error) Verdict {
	span.RecordError(cause)
	span.SetStatus(codes.Error, "classification failed")
	slog.Warn("Guardrail classification failed", "error", cause)
	return Verdict{
		Decision:        DecisionError,
		Reason:          cause.Error(),
		CitedFiles:      []string{},
		ElapsedTime:     time.Since(start),
		SourceDocuments: []Document{},
	}
}
