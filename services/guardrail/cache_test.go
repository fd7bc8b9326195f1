// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"context"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCacheKeyStability verifies identical text yields identical keys and
// distinct text distinct keys.
func TestCacheKeyStability(t *testing.T) {
	t.Parallel()

	assert.Equal(t, CacheKey("hello"), CacheKey("hello"))
	assert.NotEqual(t, CacheKey("hello"), CacheKey("hello "))
	assert.Len(t, CacheKey("hello"), 64)
}

// TestBadgerVerdictCacheRoundTrip verifies Put then Get restores the
// decision, reason and cited files.
func TestBadgerVerdictCacheRoundTrip(t *testing.T) {
	t.Parallel()

	cache, err := NewBadgerVerdictCache(openTestDB(t), time.Hour)
	require.NoError(t, err)

	ctx := context.Background()
	key := CacheKey("some moderated text")
	cache.Put(ctx, key, Verdict{
		Decision:    DecisionHarmful,
		Reason:      "violates policy 2.2",
		CitedFiles:  []string{"policy_a.txt"},
		ElapsedTime: 42 * time.Millisecond,
		SourceDocuments: []Document{
			{ID: "a", Name: "policy_a.txt", Content: "body"},
		},
	})

	got, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, DecisionHarmful, got.Decision)
	assert.Equal(t, "violates policy 2.2", got.Reason)
	assert.Equal(t, []string{"policy_a.txt"}, got.CitedFiles)

	// Per-call telemetry and documents are not persisted.
	assert.Zero(t, got.ElapsedTime)
	assert.Empty(t, got.SourceDocuments)
}

// TestBadgerVerdictCacheMiss verifies an unknown key is a clean miss.
func TestBadgerVerdictCacheMiss(t *testing.T) {
	t.Parallel()

	cache, err := NewBadgerVerdictCache(openTestDB(t), time.Hour)
	require.NoError(t, err)

	_, ok := cache.Get(context.Background(), CacheKey("never stored"))
	assert.False(t, ok)
}

// TestNewBadgerVerdictCacheValidation verifies constructor input checks.
func TestNewBadgerVerdictCacheValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBadgerVerdictCache(nil, time.Hour)
	assert.Error(t, err)

	_, err = NewBadgerVerdictCache(openTestDB(t), 0)
	assert.Error(t, err)
}
