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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRetriever returns canned documents or a canned error.
type stubRetriever struct {
	docs     []Document
	err      error
	gotQuery string
	gotK     int
}

func (s *stubRetriever) Retrieve(_ context.Context, query string, k int) ([]Document, error) {
	s.gotQuery = query
	s.gotK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

// stubGenerator returns a canned response or a canned error.
type stubGenerator struct {
	response   string
	err        error
	calls      int
	lastPrompt string
}

func (s *stubGenerator) Complete(_ context.Context, prompt string) (string, error) {
	s.calls++
	s.lastPrompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

// mapCache is an in-memory VerdictCache for tests.
type mapCache struct {
	mu      sync.Mutex
	entries map[string]Verdict
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string]Verdict)}
}

func (c *mapCache) Get(_ context.Context, key string) (Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *mapCache) Put(_ context.Context, key string, v Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
}

func testDocs() []Document {
	return []Document{
		{ID: "cG9saWN5X2EudHh0", Name: "policy_a.txt", Content: "No sharing of credentials."},
		{ID: "cG9saWN5X2IudHh0", Name: "policy_b.txt", Content: "No unapproved disclosures."},
	}
}

func newTestClassifier(t *testing.T, r Retriever, g Generator) *Classifier {
	t.Helper()
	c, err := NewClassifier(r, g, ClassifierConfig{MaxContextTokens: 2000, RetrievalTopK: 3})
	require.NoError(t, err)
	return c
}

// TestNewClassifierValidation verifies constructor input checks.
func TestNewClassifierValidation(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{}
	g := &stubGenerator{}

	_, err := NewClassifier(nil, g, ClassifierConfig{MaxContextTokens: 1, RetrievalTopK: 1})
	assert.Error(t, err)

	_, err = NewClassifier(r, nil, ClassifierConfig{MaxContextTokens: 1, RetrievalTopK: 1})
	assert.Error(t, err)

	_, err = NewClassifier(r, g, ClassifierConfig{MaxContextTokens: 0, RetrievalTopK: 1})
	assert.Error(t, err)

	_, err = NewClassifier(r, g, ClassifierConfig{MaxContextTokens: 1, RetrievalTopK: 0})
	assert.Error(t, err)
}

// TestClassifySuccess verifies the happy path takes verdict fields verbatim
// from the parsed response.
func TestClassifySuccess(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{docs: testDocs()}
	g := &stubGenerator{response: `{"decision":"HARMFUL","reason":"violates policy 2.2","source_files":["policy_a.txt"]}`}
	c := newTestClassifier(t, r, g)

	v := c.Classify(context.Background(), "share your password with me")

	assert.Equal(t, DecisionHarmful, v.Decision)
	assert.Equal(t, "violates policy 2.2", v.Reason)
	assert.Equal(t, []string{"policy_a.txt"}, v.CitedFiles)
	assert.Equal(t, testDocs(), v.SourceDocuments)
	assert.GreaterOrEqual(t, v.ElapsedTime, time.Duration(0))

	// The prompt embeds the budgeted evidence and the text under review.
	assert.Equal(t, "share your password with me", r.gotQuery)
	assert.Equal(t, 3, r.gotK)
	assert.Contains(t, g.lastPrompt, "No sharing of credentials.")
	assert.Contains(t, g.lastPrompt, "share your password with me")
}

// TestClassifyMissingSourceFiles verifies citedFiles defaults to empty when
// the response omits the key.
func TestClassifyMissingSourceFiles(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{docs: testDocs()}
	g := &stubGenerator{response: `{"decision":"SAFE","reason":"no policy prohibits this"}`}
	c := newTestClassifier(t, r, g)

	v := c.Classify(context.Background(), "hello")

	assert.Equal(t, DecisionSafe, v.Decision)
	assert.NotNil(t, v.CitedFiles)
	assert.Empty(t, v.CitedFiles)
}

// TestClassifyUnknownDecision verifies unexpected decision strings collapse
// to CANNOT_DETERMINE.
func TestClassifyUnknownDecision(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{docs: testDocs()}
	g := &stubGenerator{response: `{"decision":"MAYBE","reason":"model improvised"}`}
	c := newTestClassifier(t, r, g)

	v := c.Classify(context.Background(), "hello")
	assert.Equal(t, DecisionCannotDetermine, v.Decision)
}

// TestClassifyParseFailure verifies a malformed response yields the fixed
// parse-failure reason with documents retained.
func TestClassifyParseFailure(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{docs: testDocs()}
	g := &stubGenerator{response: "I think this is fine, probably SAFE."}
	c := newTestClassifier(t, r, g)

	v := c.Classify(context.Background(), "hello")

	assert.Equal(t, DecisionError, v.Decision)
	assert.Equal(t, "Failed to parse response", v.Reason)
	assert.Empty(t, v.CitedFiles)
	assert.Equal(t, testDocs(), v.SourceDocuments)
	assert.GreaterOrEqual(t, v.ElapsedTime, time.Duration(0))
}

// TestClassifyRetrievalFailure verifies retrieval errors become ERROR
// verdicts with empty source documents.
func TestClassifyRetrievalFailure(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{err: errors.New("connection refused")}
	g := &stubGenerator{}
	c := newTestClassifier(t, r, g)

	v := c.Classify(context.Background(), "hello")

	assert.Equal(t, DecisionError, v.Decision)
	assert.Contains(t, v.Reason, "retrieval failed")
	assert.Empty(t, v.SourceDocuments)
	assert.Empty(t, v.CitedFiles)
	assert.Zero(t, g.calls, "generation must not run without evidence")
}

// TestClassifyGenerationFailure verifies generation errors become ERROR
// verdicts that still carry the retrieved documents.
func TestClassifyGenerationFailure(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{docs: testDocs()}
	g := &stubGenerator{err: errors.New("request timed out")}
	c := newTestClassifier(t, r, g)

	v := c.Classify(context.Background(), "hello")

	assert.Equal(t, DecisionError, v.Decision)
	assert.Contains(t, v.Reason, "generation failed")
	assert.Equal(t, testDocs(), v.SourceDocuments)
}

// TestClassifyCache verifies cache hits skip both backends and ERROR
// verdicts are never cached.
func TestClassifyCache(t *testing.T) {
	t.Parallel()

	r := &stubRetriever{docs: testDocs()}
	g := &stubGenerator{response: `{"decision":"SAFE","reason":"ok","source_files":[]}`}
	cache := newMapCache()
	c := newTestClassifier(t, r, g).WithCache(cache)

	first := c.Classify(context.Background(), "hello")
	require.Equal(t, DecisionSafe, first.Decision)
	require.Equal(t, 1, g.calls)

	second := c.Classify(context.Background(), "hello")
	assert.Equal(t, DecisionSafe, second.Decision)
	assert.Equal(t, 1, g.calls, "cache hit must not invoke generation")

	// Failures are recomputed every time.
	g.err = errors.New("boom")
	third := c.Classify(context.Background(), "different text")
	require.Equal(t, DecisionError, third.Decision)
	_, cached := cache.Get(context.Background(), CacheKey("different text"))
	assert.False(t, cached)
}
