// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// =============================================================================
// Hash Chain Verification
// =============================================================================

// The gateway hash-chains every SSE event: each event carries the hash
// of the previous event and a hash over its own content. The done event
// additionally carries an audit hash over all released chunk content.
// Verifying both client-side detects any event that was dropped,
// reordered, or altered in transit.

// ChainVerificationResult reports the outcome of verifying a stream.
type ChainVerificationResult struct {
	// Valid is true when every check passed.
	Valid bool

	// EventsVerified is the number of events whose hashes checked out.
	EventsVerified int

	// FailedIndex is the stream index of the first bad event, or -1.
	FailedIndex int

	// Reason describes the first failure in human terms.
	Reason string

	// AuditVerified is true when the done event's audit hash matched
	// the received content. False when the stream had no done event.
	AuditVerified bool
}

// ChainVerifier verifies the tamper-evident event chain of a stream.
type ChainVerifier interface {
	// VerifyChain checks the hash linkage across events in order.
	VerifyChain(events []StreamEvent) ChainVerificationResult

	// VerifyResult checks the full stream result: the event chain plus
	// the content audit hash when a done event is present.
	VerifyResult(result *StreamResult) ChainVerificationResult
}

// chainVerifier recomputes event hashes with the gateway's formula.
type chainVerifier struct{}

// NewChainVerifier creates a verifier for gateway streams.
func NewChainVerifier() ChainVerifier {
	return &chainVerifier{}
}

// VerifyChain checks linkage and per-event hashes.
//
// # Description
//
// For each event in order: the event's prev_hash must equal the hash of
// the preceding event (empty for the first), and the event's hash must
// equal the recomputed hash over its own fields. Comparison is constant
// time.
func (v *chainVerifier) VerifyChain(events []StreamEvent) ChainVerificationResult {
	result := ChainVerificationResult{FailedIndex: -1}

	prevHash := ""
	for i, event := range events {
		if !hashEqual(event.PrevHash, prevHash) {
			result.Reason = fmt.Sprintf("event %d: prev_hash does not match preceding event", i)
			result.FailedIndex = i
			return result
		}

		expected := computeEventHash(event)
		if !hashEqual(event.Hash, expected) {
			result.Reason = fmt.Sprintf("event %d: content hash mismatch", i)
			result.FailedIndex = i
			return result
		}

		prevHash = event.Hash
		result.EventsVerified++
	}

	result.Valid = true
	return result
}

// VerifyResult checks the event chain and the audit hash.
//
// # Description
//
// Runs VerifyChain over the result's events, then recomputes the
// SHA-256 over the concatenated chunk content and compares it against
// the done event's audit hash. Blocked and errored streams have no done
// event; for those only the chain is checked and AuditVerified stays
// false.
func (v *chainVerifier) VerifyResult(result *StreamResult) ChainVerificationResult {
	chain := v.VerifyChain(result.Events)
	if !chain.Valid {
		return chain
	}

	if result.AuditHash == "" {
		return chain
	}

	contentHash := sha256.New()
	for _, event := range result.Events {
		if event.Type == StreamEventChunk {
			contentHash.Write([]byte(event.Content))
		}
	}
	computed := hex.EncodeToString(contentHash.Sum(nil))

	if !hashEqual(result.AuditHash, computed) {
		chain.Valid = false
		chain.Reason = "audit hash does not match received content"
		return chain
	}

	chain.AuditVerified = true
	return chain
}

// computeEventHash mirrors the gateway's event hash formula. Any change
// on the server side must be reflected here or every stream will fail
// verification.
func computeEventHash(event StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}

	hashInput := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s|%d|%d|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Reason,
		event.Message,
		event.Error,
		event.StreamId,
		event.AuditHash,
		event.ElapsedMs,
		event.Windows,
		sourcesJSON,
	)

	hash := sha256.Sum256([]byte(hashInput))
	return hex.EncodeToString(hash[:])
}

// hashEqual compares hex hash strings in constant time.
func hashEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ ChainVerifier = (*chainVerifier)(nil)
