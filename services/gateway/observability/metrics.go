// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the gateway.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the moderation
// pipeline. Metrics include:
//   - Classification counters (by decision)
//   - Stream outcome counters (completed, blocked, error)
//   - Latency histograms (classification, full stream duration)
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "sentria"

// Subsystem for guardrail metrics
const guardrailSubsystem = "guardrail"

// GuardrailMetrics holds all Prometheus metrics for the moderation pipeline.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring classification
// and streaming performance. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - ClassificationsTotal: Counter of classifier calls by decision
//   - ClassificationSeconds: Histogram of single classification latency
//   - StreamsTotal: Counter of moderated streams by outcome
//   - StreamDurationSeconds: Histogram of total stream duration
//   - ActiveStreams: Gauge of currently active moderated streams
//   - ChunksReleasedTotal: Counter of SAFE_CHUNK windows released
//   - CacheLookupsTotal: Counter of verdict cache lookups by result
//
// # Thread Safety
//
// All operations are thread-safe.
type GuardrailMetrics struct {
	// ClassificationsTotal counts classifier calls by decision.
	// Labels: decision (SAFE, HARMFUL, CANNOT_DETERMINE, ERROR)
	ClassificationsTotal *prometheus.CounterVec

	// ClassificationSeconds measures single classification latency.
	ClassificationSeconds prometheus.Histogram

	// StreamsTotal counts moderated streams by outcome.
	// Labels: endpoint (chat_stream), outcome (completed, blocked, error)
	StreamsTotal *prometheus.CounterVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint (chat_stream), outcome (completed, blocked, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active moderated streams.
	// Labels: endpoint (chat_stream)
	ActiveStreams *prometheus.GaugeVec

	// ChunksReleasedTotal counts approved output windows released to clients.
	// Labels: endpoint (chat_stream)
	ChunksReleasedTotal *prometheus.CounterVec

	// CacheLookupsTotal counts verdict cache lookups.
	// Labels: result (hit, miss)
	CacheLookupsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of GuardrailMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GuardrailMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after the Prometheus registry is available.
//
// # Outputs
//
//   - *GuardrailMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *GuardrailMetrics {
	DefaultMetrics = &GuardrailMetrics{
		ClassificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "classifications_total",
				Help:      "Total classifier calls by decision",
			},
			[]string{"decision"},
		),

		ClassificationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "classification_seconds",
				Help:      "Latency of a single classification call in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		StreamsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "streams_total",
				Help:      "Total moderated streams by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total moderated stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "outcome"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active moderated streams",
			},
			[]string{"endpoint"},
		),

		ChunksReleasedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "chunks_released_total",
				Help:      "Total approved output windows released to clients",
			},
			[]string{"endpoint"},
		),

		CacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: guardrailSubsystem,
				Name:      "cache_lookups_total",
				Help:      "Total verdict cache lookups by result",
			},
			[]string{"result"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Outcome Names
// =============================================================================

// Outcome represents a terminal stream outcome for metrics labeling.
type Outcome string

const (
	// OutcomeCompleted indicates the stream finished with all windows approved.
	OutcomeCompleted Outcome = "completed"

	// OutcomeBlocked indicates a window was classified harmful.
	OutcomeBlocked Outcome = "blocked"

	// OutcomeError indicates the stream failed upstream or during delivery.
	OutcomeError Outcome = "error"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a gateway endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the moderated SSE chat streaming endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointCheck is the synchronous guardrail check endpoint.
	EndpointCheck Endpoint = "check"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordClassification records one classifier call.
//
// # Inputs
//
//   - decision: The verdict decision string.
//   - seconds: Classification latency in seconds.
func (m *GuardrailMetrics) RecordClassification(decision string, seconds float64) {
	m.ClassificationsTotal.WithLabelValues(decision).Inc()
	m.ClassificationSeconds.Observe(seconds)
}

// RecordStream records a completed moderated stream.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
//   - outcome: The terminal outcome.
//   - seconds: Total duration in seconds.
func (m *GuardrailMetrics) RecordStream(endpoint Endpoint, outcome Outcome, seconds float64) {
	m.StreamsTotal.WithLabelValues(string(endpoint), string(outcome)).Inc()
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), string(outcome)).Observe(seconds)
}

// StreamStarted increments the active streams gauge.
//
// # Inputs
//
//   - endpoint: The endpoint handling the stream.
func (m *GuardrailMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
//
// # Inputs
//
//   - endpoint: The endpoint that handled the stream.
func (m *GuardrailMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordChunkReleased increments the released chunk counter.
//
// # Inputs
//
//   - endpoint: The endpoint that released the chunk.
func (m *GuardrailMetrics) RecordChunkReleased(endpoint Endpoint) {
	m.ChunksReleasedTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordCacheLookup records a verdict cache lookup.
//
// # Inputs
//
//   - hit: Whether the lookup found a cached verdict.
func (m *GuardrailMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.WithLabelValues(result).Inc()
}
