// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentria-ai/sentria/services/gateway/datatypes"
	"github.com/sentria-ai/sentria/services/gateway/observability"
	"github.com/sentria-ai/sentria/services/guardrail"
	"github.com/sentria-ai/sentria/services/llm"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// heartbeatInterval is how often keepalive pings are sent while
	// waiting on generation or classification.
	heartbeatInterval = 15 * time.Second

	// clientErrorMessage is the sanitized error sent to clients when the
	// upstream generation stream fails. Internal details stay in logs.
	clientErrorMessage = "generation stream interrupted"
)

// =============================================================================
// Handler
// =============================================================================

// StreamChatHandler serves POST /v1/chat/stream: moderated chat over SSE.
//
// # Description
//
// The handler runs the full guarded generation pipeline:
//
//  1. The final user message is pre-screened by the classifier. A
//     HARMFUL verdict rejects the request before any generation.
//  2. A token stream is started on the generation backend.
//  3. The stream filter buffers tokens and classifies fixed-size
//     windows; approved windows are released as chunk events, a harmful
//     window terminates the stream with a blocked event.
//  4. Every released window is also folded into a secure accumulator;
//     the final done event carries the SHA-256 audit hash over exactly
//     the bytes the client received.
//  5. Cited evidence is resolved to display documents and sent as a
//     sources event alongside the diagnostics.
//
// # Thread Safety
//
// Safe for concurrent use. All per-request state lives on the stack.
type StreamChatHandler struct {
	classifier  guardrail.TextClassifier
	llmClient   llm.LLMClient
	policy      guardrail.BufferPolicy
	matcher     guardrail.CitationMatcher
	temperature float32
	tracer      trace.Tracer
}

// NewStreamChatHandler creates a StreamChatHandler.
//
// # Inputs
//
//   - classifier: Policy classifier. Must not be nil.
//   - llmClient: Generation backend. Must not be nil.
//   - policy: Window thresholds for the stream filter.
//   - temperature: Sampling temperature passed to the backend.
//
// # Outputs
//
//   - *StreamChatHandler: Ready for route registration.
//   - error: Non-nil if a dependency is nil or the policy is invalid.
func NewStreamChatHandler(classifier guardrail.TextClassifier, llmClient llm.LLMClient,
	policy guardrail.BufferPolicy, temperature float32) (*StreamChatHandler, error) {
	if classifier == nil {
		return nil, &guardrail.ConfigError{Field: "classifier", Value: nil}
	}
	if llmClient == nil {
		return nil, &guardrail.ConfigError{Field: "llmClient", Value: nil}
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &StreamChatHandler{
		classifier:  classifier,
		llmClient:   llmClient,
		policy:      policy,
		matcher:     guardrail.CitationMatcher{},
		temperature: temperature,
		tracer:      otel.Tracer("sentria.gateway.handlers"),
	}, nil
}

// HandleChatStream handles POST /v1/chat/stream.
func (h *StreamChatHandler) HandleChatStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointChatStream
	streamID := uuid.New().String()

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleChatStream")
	defer span.End()
	span.SetAttributes(attribute.String("stream.id", streamID))

	if m := observability.DefaultMetrics; m != nil {
		m.StreamStarted(endpoint)
		defer m.StreamEnded(endpoint)
	}

	outcome := observability.OutcomeError
	defer func() {
		if m := observability.DefaultMetrics; m != nil {
			m.RecordStream(endpoint, outcome, time.Since(startTime).Seconds())
		}
	}()

	// Step 1: Parse and validate the request.
	var req datatypes.ChatStreamRequest
	if err := c.BindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request body")
		slog.Error("Failed to parse stream request", "error", err, "stream_id", streamID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: validation failed"})
		return
	}
	span.SetAttributes(attribute.Int("request.message_count", len(req.Messages)))

	// Step 2: Pre-screen the user's input before generating anything.
	if userText := req.LastUserMessage(); userText != "" {
		verdict := h.classifier.Classify(ctx, userText)
		if m := observability.DefaultMetrics; m != nil {
			m.RecordClassification(string(verdict.Decision), verdict.ElapsedTime.Seconds())
		}
		if verdict.Decision == guardrail.DecisionHarmful {
			span.SetAttributes(attribute.String("input_screen.decision", string(verdict.Decision)))
			slog.Warn("Blocked chat stream: input failed policy screen",
				"stream_id", streamID,
				"reason", verdict.Reason,
			)
			outcome = observability.OutcomeBlocked
			c.JSON(http.StatusForbidden, gin.H{
				"error":  "Policy Violation: message violates content policy.",
				"reason": verdict.Reason,
			})
			return
		}
		if verdict.Decision == guardrail.DecisionError {
			// Input screening is advisory; the output filter still
			// guards everything the client receives.
			slog.Warn("Input screen errored, continuing with output filtering only",
				"stream_id", streamID,
				"reason", verdict.Reason,
			)
		}
	}

	// Step 3: Set SSE headers and create the writer.
	SetSSEHeaders(c.Writer)
	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "SSE setup failed")
		slog.Error("Failed to create SSE writer", "error", err, "stream_id", streamID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	if err := writer.WriteStatus("Generating moderated response..."); err != nil {
		span.RecordError(err)
		slog.Error("Failed to write status event", "error", err, "stream_id", streamID)
		return
	}

	// Step 4: Start the token stream.
	stream, err := h.llmClient.ChatStream(ctx, h.toLLMMessages(req.Messages), h.generationParams())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream start failed")
		slog.Error("Failed to start generation stream", "error", err, "stream_id", streamID)
		_ = writer.WriteError(clientErrorMessage)
		return
	}

	// Step 5: Keepalive pings while the filter is waiting on backends.
	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go h.runHeartbeat(writer, heartbeatDone)

	// Step 6: Run the stream filter, relaying its events to the client.
	acc, accErr := NewSecureOutputAccumulator()
	if accErr != nil {
		span.RecordError(accErr)
		slog.Error("Failed to allocate output accumulator", "error", accErr, "stream_id", streamID)
		_ = writer.WriteError("service unavailable")
		return
	}
	defer acc.Destroy()

	filter, err := guardrail.NewStreamFilter(h.classifier, h.policy)
	if err != nil {
		span.RecordError(err)
		_ = writer.WriteError("service unavailable")
		return
	}

	blocked := false
	failed := false
	windows := 0
	runErr := filter.Run(ctx, stream, func(ctx context.Context, ev guardrail.Event) error {
		switch ev.Type {
		case guardrail.EventSafeChunk:
			windows++
			if err := acc.Write(ev.Text); err != nil {
				slog.Error("Accumulator write failed", "error", err, "stream_id", streamID)
				return err
			}
			if m := observability.DefaultMetrics; m != nil {
				m.RecordChunkReleased(endpoint)
			}
			return writer.WriteChunk(ev.Text)

		case guardrail.EventBlocked:
			windows++
			blocked = true
			slog.Warn("Blocked chat stream: output window failed policy",
				"stream_id", streamID,
				"reason", ev.Reason,
			)
			return writer.WriteBlocked(ev.Reason)

		case guardrail.EventError:
			failed = true
			slog.Error("Generation stream failed", "detail", ev.Message, "stream_id", streamID)
			return writer.WriteError(clientErrorMessage)

		case guardrail.EventDiagnostics:
			return h.writeDiagnostics(writer, ev.Diagnostics, windows)
		}
		return nil
	})

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "stream aborted")
		slog.Warn("Chat stream aborted", "error", runErr, "stream_id", streamID)
		return
	}

	switch {
	case blocked:
		outcome = observability.OutcomeBlocked
	case failed:
		outcome = observability.OutcomeError
	default:
		// Step 7: Seal the approved output and hand the client its
		// audit hash.
		_, auditHash, finErr := acc.Finalize()
		if finErr != nil {
			span.RecordError(finErr)
			slog.Error("Failed to finalize output accumulator", "error", finErr, "stream_id", streamID)
			return
		}
		if err := writer.WriteDone(streamID, auditHash); err != nil {
			slog.Error("Failed to write done event", "error", err, "stream_id", streamID)
			return
		}
		outcome = observability.OutcomeCompleted
	}
}

// runHeartbeat sends keepalive comments until done is closed.
func (h *StreamChatHandler) runHeartbeat(writer SSEWriter, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// writeDiagnostics emits the sources and diagnostics events from the
// filter's terminal accumulator.
func (h *StreamChatHandler) writeDiagnostics(writer SSEWriter, diag *guardrail.StreamDiagnostics, windows int) error {
	if diag == nil {
		return nil
	}

	display := h.matcher.Match(diag.SourceDocuments, diag.CitedFiles)
	if len(display) > 0 {
		sources := make([]datatypes.SourceInfo, 0, len(display))
		for _, d := range display {
			sources = append(sources, datatypes.SourceInfo{
				Source:   d.Filename,
				Resolved: d.Resolved,
				Preview:  d.Preview,
			})
		}
		if err := writer.WriteSources(sources); err != nil {
			return err
		}
	}

	return writer.WriteDiagnostics(diag.ElapsedTime.Milliseconds(), windows)
}

// toLLMMessages converts request messages to the llm package's type.
func (h *StreamChatHandler) toLLMMessages(messages []datatypes.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// generationParams builds the per-request generation options.
func (h *StreamChatHandler) generationParams() llm.GenerationParams {
	temp := h.temperature
	return llm.GenerationParams{Temperature: &temp}
}
