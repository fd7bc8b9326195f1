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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource replays fragments and then ends with io.EOF, or with err when
// one is configured.
type sliceSource struct {
	fragments []string
	err       error
	next      int
	closed    bool
}

func (s *sliceSource) Next(_ context.Context) (string, error) {
	if s.next < len(s.fragments) {
		f := s.fragments[s.next]
		s.next++
		return f, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// scriptedClassifier returns SAFE for every window except the (1-based)
// indexes listed in harmfulAt, records every window, and charges a fixed
// elapsed time per call.
type scriptedClassifier struct {
	harmfulAt map[int]string
	perCall   time.Duration
	windows   []string
}

func (c *scriptedClassifier) Classify(_ context.Context, text string) Verdict {
	c.windows = append(c.windows, text)
	call := len(c.windows)
	v := Verdict{
		Decision:        DecisionSafe,
		Reason:          "no policy prohibits this",
		CitedFiles:      []string{},
		ElapsedTime:     c.perCall,
		SourceDocuments: []Document{},
	}
	if reason, ok := c.harmfulAt[call]; ok {
		v.Decision = DecisionHarmful
		v.Reason = reason
	}
	return v
}

func collectEvents(events *[]Event) EventCallback {
	return func(_ context.Context, ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func safeText(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == EventSafeChunk {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func runFilter(t *testing.T, fragments []string, policy BufferPolicy, classifier TextClassifier) ([]Event, *sliceSource) {
	t.Helper()
	f, err := NewStreamFilter(classifier, policy)
	require.NoError(t, err)

	source := &sliceSource{fragments: fragments}
	var events []Event
	require.NoError(t, f.Run(context.Background(), source, collectEvents(&events)))
	return events, source
}

// TestNewStreamFilterValidation verifies constructor input checks.
func TestNewStreamFilterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStreamFilter(nil, BufferPolicy{InitialThreshold: 1, SubsequentThreshold: 1})
	assert.Error(t, err)

	_, err = NewStreamFilter(&scriptedClassifier{}, BufferPolicy{InitialThreshold: 0, SubsequentThreshold: 1})
	assert.Error(t, err)

	_, err = NewStreamFilter(&scriptedClassifier{}, BufferPolicy{InitialThreshold: 1, SubsequentThreshold: 0})
	assert.Error(t, err)
}

// TestStreamFilterAllSafe verifies a fully safe stream is passed through
// intact: SAFE_CHUNK concatenation equals the input, one trailing
// DIAGNOSTICS, empty cited files.
func TestStreamFilterAllSafe(t *testing.T) {
	t.Parallel()

	fragments := []string{
		"Hel",
		"lo wor",
		"ld, a long safe sentence padded well past fifty characters of total length for the test...",
	}
	classifier := &scriptedClassifier{perCall: 5 * time.Millisecond}
	events, source := runFilter(t, fragments, BufferPolicy{InitialThreshold: 50, SubsequentThreshold: 200}, classifier)

	full := strings.Join(fragments, "")
	assert.Equal(t, full, safeText(events))
	assert.True(t, source.closed)

	last := events[len(events)-1]
	require.Equal(t, EventDiagnostics, last.Type)
	require.NotNil(t, last.Diagnostics)
	assert.Empty(t, last.Diagnostics.CitedFiles)
	assert.Equal(t, time.Duration(len(classifier.windows))*5*time.Millisecond, last.Diagnostics.ElapsedTime)
}

// TestStreamFilterBlocksSecondWindow verifies a HARMFUL verdict on the
// second window stops the stream with BLOCKED and diagnostics covering
// exactly two classifier calls.
func TestStreamFilterBlocksSecondWindow(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("x", 120)
	classifier := &scriptedClassifier{
		harmfulAt: map[int]string{2: "policy 2.2"},
		perCall:   5 * time.Millisecond,
	}
	events, source := runFilter(t, []string{input}, BufferPolicy{InitialThreshold: 50, SubsequentThreshold: 200}, classifier)

	require.Len(t, events, 3)
	assert.Equal(t, EventSafeChunk, events[0].Type)
	assert.Equal(t, input[:50], events[0].Text)
	assert.Equal(t, EventBlocked, events[1].Type)
	assert.Equal(t, "policy 2.2", events[1].Reason)
	require.Equal(t, EventDiagnostics, events[2].Type)
	assert.Equal(t, 10*time.Millisecond, events[2].Diagnostics.ElapsedTime)

	assert.Len(t, classifier.windows, 2)
	assert.True(t, source.closed)
}

// TestStreamFilterThresholdLaw verifies window sizing: first window uses
// the initial threshold, later windows the subsequent threshold, and the
// final remainder is whatever is left.
func TestStreamFilterThresholdLaw(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("a", 10+30+30+7)
	classifier := &scriptedClassifier{}
	runFilter(t, []string{input[:25], input[25:60], input[60:]}, BufferPolicy{InitialThreshold: 10, SubsequentThreshold: 30}, classifier)

	var lengths []int
	for _, w := range classifier.windows {
		lengths = append(lengths, len([]rune(w)))
	}
	assert.Equal(t, []int{10, 30, 30, 7}, lengths)
}

// TestStreamFilterShortStream verifies a stream shorter than the initial
// threshold is still classified once as the final remainder.
func TestStreamFilterShortStream(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{}
	events, _ := runFilter(t, []string{"tiny"}, BufferPolicy{InitialThreshold: 50, SubsequentThreshold: 200}, classifier)

	assert.Equal(t, []string{"tiny"}, classifier.windows)
	assert.Equal(t, "tiny", safeText(events))
	assert.Equal(t, EventDiagnostics, events[len(events)-1].Type)
}

// TestStreamFilterEmptyStream verifies an empty stream classifies nothing
// and still emits the terminal diagnostics.
func TestStreamFilterEmptyStream(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{}
	events, _ := runFilter(t, nil, BufferPolicy{InitialThreshold: 50, SubsequentThreshold: 200}, classifier)

	assert.Empty(t, classifier.windows)
	require.Len(t, events, 1)
	assert.Equal(t, EventDiagnostics, events[0].Type)
}

// TestStreamFilterCharacterConservation verifies no character is duplicated
// or lost across a range of policies and fragmentations, including
// multi-byte runes split across windows.
func TestStreamFilterCharacterConservation(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("낱말 and latin mixed 텍스트 ", 40)
	fragments := []string{}
	for runes := []rune(input); len(runes) > 0; {
		n := 7
		if n > len(runes) {
			n = len(runes)
		}
		fragments = append(fragments, string(runes[:n]))
		runes = runes[n:]
	}

	for _, policy := range []BufferPolicy{
		{InitialThreshold: 1, SubsequentThreshold: 1},
		{InitialThreshold: 13, SubsequentThreshold: 64},
		{InitialThreshold: 50, SubsequentThreshold: 200},
		{InitialThreshold: 5000, SubsequentThreshold: 5000},
	} {
		classifier := &scriptedClassifier{}
		events, _ := runFilter(t, fragments, policy, classifier)
		assert.Equal(t, input, safeText(events), "policy %+v", policy)
		assert.Equal(t, input, strings.Join(classifier.windows, ""), "policy %+v", policy)
	}
}

// TestStreamFilterEarlyTermination verifies no classification or emission
// happens after a HARMFUL window.
func TestStreamFilterEarlyTermination(t *testing.T) {
	t.Parallel()

	fragments := make([]string, 100)
	for i := range fragments {
		fragments[i] = strings.Repeat("z", 10)
	}
	classifier := &scriptedClassifier{harmfulAt: map[int]string{1: "stop"}}
	events, source := runFilter(t, fragments, BufferPolicy{InitialThreshold: 10, SubsequentThreshold: 10}, classifier)

	assert.Len(t, classifier.windows, 1)
	assert.Equal(t, "", safeText(events))
	assert.Equal(t, EventBlocked, events[0].Type)
	assert.Equal(t, EventDiagnostics, events[1].Type)
	assert.True(t, source.closed)
	assert.Less(t, source.next, len(fragments), "upstream must not be drained after blocking")
}

// TestStreamFilterUpstreamError verifies an upstream failure yields ERROR
// then DIAGNOSTICS with the progress accumulated so far.
func TestStreamFilterUpstreamError(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{perCall: time.Millisecond}
	f, err := NewStreamFilter(classifier, BufferPolicy{InitialThreshold: 5, SubsequentThreshold: 5})
	require.NoError(t, err)

	source := &sliceSource{
		fragments: []string{"0123456789"},
		err:       errors.New("upstream reset"),
	}
	var events []Event
	require.NoError(t, f.Run(context.Background(), source, collectEvents(&events)))

	// Two windows of five flushed before the failed read.
	require.Len(t, events, 4)
	assert.Equal(t, EventSafeChunk, events[0].Type)
	assert.Equal(t, EventSafeChunk, events[1].Type)
	assert.Equal(t, EventError, events[2].Type)
	assert.Contains(t, events[2].Message, "upstream reset")
	require.Equal(t, EventDiagnostics, events[3].Type)
	assert.Equal(t, 2*time.Millisecond, events[3].Diagnostics.ElapsedTime)
	assert.True(t, source.closed)
}

// TestStreamFilterTerminalPairing verifies every run ends with exactly one
// DIAGNOSTICS event and nothing after it.
func TestStreamFilterTerminalPairing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		fragments []string
		harmfulAt map[int]string
		upstream  error
	}{
		{name: "success", fragments: []string{strings.Repeat("a", 30)}},
		{name: "blocked", fragments: []string{strings.Repeat("a", 30)}, harmfulAt: map[int]string{1: "r"}},
		{name: "upstream error", fragments: []string{"abc"}, upstream: errors.New("reset")},
		{name: "empty", fragments: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f, err := NewStreamFilter(&scriptedClassifier{harmfulAt: tc.harmfulAt}, BufferPolicy{InitialThreshold: 10, SubsequentThreshold: 10})
			require.NoError(t, err)

			source := &sliceSource{fragments: tc.fragments, err: tc.upstream}
			var events []Event
			require.NoError(t, f.Run(context.Background(), source, collectEvents(&events)))

			diagCount := 0
			for _, ev := range events {
				if ev.Type == EventDiagnostics {
					diagCount++
				}
			}
			assert.Equal(t, 1, diagCount)
			assert.Equal(t, EventDiagnostics, events[len(events)-1].Type)
		})
	}
}

// TestStreamFilterDiagnosticsMergesCitations verifies cited files are set
// union and source documents concatenate across windows.
func TestStreamFilterDiagnosticsMergesCitations(t *testing.T) {
	t.Parallel()

	citing := &citingClassifier{}
	events, _ := runFilter(t, []string{strings.Repeat("a", 20)}, BufferPolicy{InitialThreshold: 10, SubsequentThreshold: 10}, citing)

	last := events[len(events)-1]
	require.Equal(t, EventDiagnostics, last.Type)
	assert.Equal(t, []string{"policy_a.txt"}, last.Diagnostics.CitedFiles)
	assert.Len(t, last.Diagnostics.SourceDocuments, 2, "documents concatenate without dedup")
}

// citingClassifier returns the same citation and document on every call.
type citingClassifier struct{}

func (citingClassifier) Classify(_ context.Context, _ string) Verdict {
	return Verdict{
		Decision:        DecisionSafe,
		Reason:          "ok",
		CitedFiles:      []string{"policy_a.txt"},
		SourceDocuments: []Document{{ID: "a", Name: "policy_a.txt"}},
	}
}

// TestStreamFilterCallbackAbort verifies a rejecting callback stops the run
// immediately.
func TestStreamFilterCallbackAbort(t *testing.T) {
	t.Parallel()

	classifier := &scriptedClassifier{}
	f, err := NewStreamFilter(classifier, BufferPolicy{InitialThreshold: 5, SubsequentThreshold: 5})
	require.NoError(t, err)

	abort := errors.New("consumer went away")
	source := &sliceSource{fragments: []string{"0123456789"}}
	delivered := 0
	runErr := f.Run(context.Background(), source, func(_ context.Context, _ Event) error {
		delivered++
		return abort
	})

	assert.ErrorIs(t, runErr, abort)
	assert.Equal(t, 1, delivered)
	assert.Len(t, classifier.windows, 1, "no classification after the consumer disengages")
	assert.True(t, source.closed)
}

// TestStreamFilterContextCancellation verifies a cancelled context stops
// the run before any upstream read.
func TestStreamFilterContextCancellation(t *testing.T) {
	t.Parallel()

	f, err := NewStreamFilter(&scriptedClassifier{}, BufferPolicy{InitialThreshold: 5, SubsequentThreshold: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &sliceSource{fragments: []string{"abc"}}
	runErr := f.Run(ctx, source, func(_ context.Context, _ Event) error { return nil })

	assert.ErrorIs(t, runErr, context.Canceled)
	assert.Zero(t, source.next)
	assert.True(t, source.closed)
}
