// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestRenderSafeStream(t *testing.T) {
	t.Parallel()

	transcript := sseTranscript(chainEvents([]StreamEvent{
		{Type: StreamEventChunk, Content: "hello"},
		{Type: StreamEventChunk, Content: " world"},
		{Type: StreamEventDiagnostics, ElapsedMs: 8, Windows: 2},
		{Type: StreamEventDone, StreamId: "s1", AuditHash: contentHash("hello", " world")},
	}))

	var out bytes.Buffer
	renderer := NewStreamRendererWithWriter(&out)
	result, err := renderer.Render(context.Background(), strings.NewReader(transcript))
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	if result.Answer != "hello world" {
		t.Errorf("Answer = %q", result.Answer)
	}
	if !strings.Contains(out.String(), "hello world") {
		t.Error("chunk content missing from output")
	}
	if !strings.Contains(out.String(), "stream verified") {
		t.Error("integrity confirmation missing from output")
	}
}

func TestRenderBlockedStream(t *testing.T) {
	t.Parallel()

	transcript := sseTranscript(chainEvents([]StreamEvent{
		{Type: StreamEventChunk, Content: "safe"},
		{Type: StreamEventBlocked, Reason: "Violates the weapons policy."},
	}))

	var out bytes.Buffer
	renderer := NewStreamRendererWithWriter(&out)
	result, err := renderer.Render(context.Background(), strings.NewReader(transcript))
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}

	if !result.Blocked {
		t.Error("expected Blocked")
	}
	if !strings.Contains(out.String(), "Violates the weapons policy.") {
		t.Error("block reason missing from output")
	}
}

func TestRenderPlainMode(t *testing.T) {
	t.Parallel()

	transcript := sseTranscript(chainEvents([]StreamEvent{
		{Type: StreamEventStatus, Message: "working"},
		{Type: StreamEventBlocked, Reason: "policy"},
	}))

	var out bytes.Buffer
	renderer := NewStreamRendererWithWriter(&out)
	renderer.Plain = true
	if _, err := renderer.Render(context.Background(), strings.NewReader(transcript)); err != nil {
		t.Fatalf("Render error: %v", err)
	}

	if strings.Contains(out.String(), "working") {
		t.Error("plain mode should suppress status messages")
	}
	if !strings.Contains(out.String(), "blocked: policy") {
		t.Errorf("plain blocked line missing, got %q", out.String())
	}
}

func TestRenderFlagsTamperedStream(t *testing.T) {
	t.Parallel()

	events := chainEvents([]StreamEvent{
		{Type: StreamEventChunk, Content: "hello"},
		{Type: StreamEventDone, StreamId: "s1", AuditHash: contentHash("hello")},
	})
	events[0].Content = "HELLO"
	transcript := sseTranscript(events)

	var out bytes.Buffer
	renderer := NewStreamRendererWithWriter(&out)
	if _, err := renderer.Render(context.Background(), strings.NewReader(transcript)); err != nil {
		t.Fatalf("Render error: %v", err)
	}

	if !strings.Contains(out.String(), "INTEGRITY FAILURE") {
		t.Error("tampered stream not flagged")
	}
}

func TestRenderSourcesFooter(t *testing.T) {
	t.Parallel()

	transcript := sseTranscript(chainEvents([]StreamEvent{
		{Type: StreamEventSources, Sources: []SourceInfo{
			{Source: "credential policy.txt", Resolved: true},
			{Source: "orphan claim", Resolved: false},
		}},
		{Type: StreamEventDone, StreamId: "s1"},
	}))

	var out bytes.Buffer
	renderer := NewStreamRendererWithWriter(&out)
	if _, err := renderer.Render(context.Background(), strings.NewReader(transcript)); err != nil {
		t.Fatalf("Render error: %v", err)
	}

	if !strings.Contains(out.String(), "credential policy.txt") {
		t.Error("resolved source missing from footer")
	}
	if !strings.Contains(out.String(), "orphan claim") {
		t.Error("unresolved source missing from footer")
	}
}
