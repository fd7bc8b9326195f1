// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// =============================================================================
// Verdict Cache
// =============================================================================

// VerdictCache is an optional read-through cache for classification
// verdicts. Implementations must be safe for concurrent use. A cache is a
// pure optimization: Get misses and Put failures never surface to callers.
type VerdictCache interface {
	Get(ctx context.Context, key string) (Verdict, bool)
	Put(ctx context.Context, key string, v Verdict)
}

// CacheKey derives the cache key for a piece of classified text. Keys are
// content-addressed so identical text hits the same entry regardless of
// request origin.
func CacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// cachedVerdict is the stored form of a verdict. ElapsedTime and
// SourceDocuments are deliberately excluded: elapsed time is per-call and
// documents are re-attached by the caller when needed.
type cachedVerdict struct {
	Decision   Decision `json:"decision"`
	Reason     string   `json:"reason"`
	CitedFiles []string `json:"cited_files"`
}

// BadgerVerdictCache stores verdicts in an embedded BadgerDB with a TTL.
//
// # Description
//
// Entries expire via Badger's native TTL support, so repeat checks of the
// same text within the window skip retrieval and generation entirely while
// stale verdicts age out without explicit invalidation.
//
// # Thread Safety
//
// Safe for concurrent use; *badger.DB handles its own locking.
type BadgerVerdictCache struct {
	db     *badger.DB
	ttl    time.Duration
	prefix []byte
}

// NewBadgerVerdictCache wraps db as a verdict cache.
//
// # Inputs
//
//   - db: an open BadgerDB handle. Ownership stays with the caller; the
//     cache never closes it.
//   - ttl: entry lifetime. Must be positive.
//
// # Outputs
//
//   - *BadgerVerdictCache: ready for use.
//   - error: non-nil on a nil db or non-positive ttl.
func NewBadgerVerdictCache(db *badger.DB, ttl time.Duration) (*BadgerVerdictCache, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if ttl <= 0 {
		return nil, &ConfigError{Field: "ttl", Value: ttl}
	}
	return &BadgerVerdictCache{
		db:     db,
		ttl:    ttl,
		prefix: []byte("verdict/"),
	}, nil
}

// Get returns the cached verdict for key, if present and unexpired.
func (c *BadgerVerdictCache) Get(_ context.Context, key string) (Verdict, bool) {
	var stored cachedVerdict
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.storageKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("Verdict cache read failed", "error", err)
		}
		return Verdict{}, false
	}
	cited := stored.CitedFiles
	if cited == nil {
		cited = []string{}
	}
	return Verdict{
		Decision:        stored.Decision,
		Reason:          stored.Reason,
		CitedFiles:      cited,
		SourceDocuments: []Document{},
	}, true
}

// Put stores v under key with the configured TTL. Failures are logged and
// swallowed.
func (c *BadgerVerdictCache) Put(_ context.Context, key string, v Verdict) {
	payload, err := json.Marshal(cachedVerdict{
		Decision:   v.Decision,
		Reason:     v.Reason,
		CitedFiles: v.CitedFiles,
	})
	if err != nil {
		slog.Warn("Verdict cache encode failed", "error", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(c.storageKey(key), payload).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		slog.Warn("Verdict cache write failed", "error", err)
	}
}

func (c *BadgerVerdictCache) storageKey(key string) []byte {
	return append(append([]byte{}, c.prefix...), key...)
}
