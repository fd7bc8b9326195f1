// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP handlers of the gateway service.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sentria-ai/sentria/services/gateway/datatypes"
	"github.com/sentria-ai/sentria/services/gateway/observability"
	"github.com/sentria-ai/sentria/services/guardrail"
)

var checkTracer = otel.Tracer("sentria.gateway.handlers")

// HealthCheck responds to liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleGuardrailCheck returns a handler for POST /v1/guardrail/check.
//
// # Description
//
// Runs one synchronous classification of the submitted text against the
// policy corpus and returns the verdict together with the resolved
// evidence documents. The classifier never fails the request; every
// internal failure surfaces as an ERROR decision in the response body.
//
// # Inputs
//
//   - classifier: The policy classifier. Must not be nil.
//   - matcher: Resolves cited file identifiers to display documents.
//
// # Outputs
//
//   - gin.HandlerFunc: The bound handler.
//
// # Limitations
//
//   - Text is limited to 32KB; larger payloads are rejected with 400.
func HandleGuardrailCheck(classifier guardrail.TextClassifier, matcher guardrail.CitationMatcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := checkTracer.Start(c.Request.Context(), "HandleGuardrailCheck")
		defer span.End()

		var req datatypes.CheckRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid request body")
			slog.Error("Failed to parse check request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "validation failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
			return
		}

		start := time.Now()
		verdict := classifier.Classify(ctx, req.Text)

		span.SetAttributes(
			attribute.String("verdict.decision", string(verdict.Decision)),
			attribute.Int("verdict.cited_files", len(verdict.CitedFiles)),
		)

		if m := observability.DefaultMetrics; m != nil {
			m.RecordClassification(string(verdict.Decision), time.Since(start).Seconds())
		}

		evidence := buildEvidence(matcher, verdict)

		c.JSON(http.StatusOK, datatypes.CheckResponse{
			Decision:   string(verdict.Decision),
			Reason:     verdict.Reason,
			CitedFiles: verdict.CitedFiles,
			Evidence:   evidence,
			ElapsedMs:  verdict.ElapsedTime.Milliseconds(),
		})
	}
}

// buildEvidence resolves the verdict's citations against its retrieved
// documents. Returns an empty, non-nil slice when nothing resolves.
func buildEvidence(matcher guardrail.CitationMatcher, verdict guardrail.Verdict) []datatypes.EvidenceDoc {
	display := matcher.Match(verdict.SourceDocuments, verdict.CitedFiles)
	evidence := make([]datatypes.EvidenceDoc, 0, len(display))
	for _, d := range display {
		evidence = append(evidence, datatypes.EvidenceDoc{
			ID:       d.ID,
			Filename: d.Filename,
			Resolved: d.Resolved,
			Preview:  d.Preview,
		})
	}
	return evidence
}
