// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMatchNoCitations verifies omitting citedFiles returns every unique
// document with previews.
func TestMatchNoCitations(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Name: "policy_a.txt", Content: "alpha body"},
		{ID: "b", Name: "policy_b.txt", Content: "beta body"},
	}
	got := CitationMatcher{}.Match(docs, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "policy_a.txt", got[0].Filename)
	assert.Equal(t, "alpha body", got[0].Preview)
	assert.True(t, got[0].Resolved)
}

// TestMatchDedupeLastWins verifies duplicate identifiers collapse to one
// entry carrying the last-seen value.
func TestMatchDedupeLastWins(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Name: "policy_a.txt", Content: "stale"},
		{ID: "b", Name: "policy_b.txt", Content: "beta"},
		{ID: "a", Name: "policy_a.txt", Content: "fresh"},
	}
	got := CitationMatcher{}.Match(docs, nil)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "fresh", got[0].Preview)
}

// TestMatchFailOpen verifies zero fuzzy matches returns the full document
// set instead of hiding evidence.
func TestMatchFailOpen(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Name: "policy_a.txt"},
		{ID: "b", Name: "policy_b.txt"},
	}
	got := CitationMatcher{}.Match(docs, []string{"nonexistent.txt"})

	assert.Len(t, got, 2)
}

// TestMatchFiltersToCited verifies matching documents are kept and the
// rest dropped when at least one match exists.
func TestMatchFiltersToCited(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Name: "credential_policy.txt"},
		{ID: "b", Name: "travel_expenses.txt"},
	}
	got := CitationMatcher{}.Match(docs, []string{"credential_policy.txt"})

	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

// TestMatchFuzzyVariants verifies near-miss citations still match through
// normalization and token overlap.
func TestMatchFuzzyVariants(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Name: "Credential Policy (v2 draft).txt"},
		{ID: "b", Name: "travel_expenses.txt"},
	}
	cases := []string{
		"credential policy",
		"CREDENTIAL_POLICY.TXT",
		"credential policy v3.pdf",
	}
	for _, cited := range cases {
		got := CitationMatcher{}.Match(docs, []string{cited})
		require.Len(t, got, 1, "cited %q", cited)
		assert.Equal(t, "a", got[0].ID, "cited %q", cited)
	}
}

// TestResolveFilenameFromEncodedID verifies a URL-safe base64 identifier
// decodes to its final path segment.
func TestResolveFilenameFromEncodedID(t *testing.T) {
	t.Parallel()

	id := base64.RawURLEncoding.EncodeToString([]byte("corpus/policies/credential%20policy.txt"))
	docs := []Document{{ID: id, Content: "body"}}
	got := CitationMatcher{}.Match(docs, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "credential policy.txt", got[0].Filename)
	assert.True(t, got[0].Resolved)
}

// TestResolveFilenameAbsoluteURL verifies absolute URLs skip base64
// decoding and use the last path segment directly.
func TestResolveFilenameAbsoluteURL(t *testing.T) {
	t.Parallel()

	docs := []Document{{ID: "https://storage.example.com/corpus/policy_a.txt"}}
	got := CitationMatcher{}.Match(docs, nil)

	require.Len(t, got, 1)
	assert.Equal(t, "policy_a.txt", got[0].Filename)
	assert.True(t, got[0].Resolved)
}

// TestResolveFilenameUnresolved verifies an empty identifier is reported
// as unresolved rather than silently blank.
func TestResolveFilenameUnresolved(t *testing.T) {
	t.Parallel()

	docs := []Document{{ID: "", Content: "orphan"}}
	got := CitationMatcher{}.Match(docs, nil)

	require.Len(t, got, 1)
	assert.False(t, got[0].Resolved)
	assert.Contains(t, got[0].Filename, "unresolved")
}

// TestMatchPreviewTruncation verifies long content is truncated for display.
func TestMatchPreviewTruncation(t *testing.T) {
	t.Parallel()

	docs := []Document{{ID: "a", Name: "a.txt", Content: strings.Repeat("x", 500)}}
	got := CitationMatcher{}.Match(docs, nil)

	require.Len(t, got, 1)
	assert.Len(t, []rune(got[0].Preview), previewMaxRunes+3)
	assert.True(t, strings.HasSuffix(got[0].Preview, "..."))
}

// TestNormalizeName verifies the canonicalization steps.
func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Credential Policy (v2 draft).txt", "credential policy"},
		{"travel_expenses.txt", "travelexpenses"},
		{"  Spaced   Out  .pdf", "spaced out"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeName(tc.in), "input %q", tc.in)
	}
}

// TestSequenceRatio verifies the similarity ratio bounds.
func TestSequenceRatio(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, sequenceRatio([]rune("abc"), []rune("abc")))
	assert.Equal(t, 0.0, sequenceRatio([]rune("abc"), []rune("xyz")))
	assert.InDelta(t, 0.8, sequenceRatio([]rune("abcd"), []rune("abcde")), 0.11)
}
