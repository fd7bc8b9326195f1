// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// SecureBufferSize is the size of the mlocked buffer used to hold a
	// stream's approved output. 512 KB covers long moderated replies.
	SecureBufferSize = 512 * 1024

	// MinMlockLimitKB is the minimum mlock limit required in kilobytes.
	MinMlockLimitKB = 512

	// insecureMemoryEnv opts into the heap-backed fallback accumulator
	// when the system mlock limit is insufficient.
	insecureMemoryEnv = "SENTRIA_INSECURE_MEMORY"
)

// =============================================================================
// Package Variables
// =============================================================================

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient is set during initialization to indicate whether
	// secure memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// =============================================================================
// Interface
// =============================================================================

// OutputAccumulator accumulates the approved windows of one moderated
// stream and produces an audit hash over them.
//
// # Description
//
// Every window released to the client is also appended here and hashed
// incrementally, so the final hash commits to exactly the bytes the
// client received, in order. The done event carries this hash; a client
// can recompute it from the chunk events it observed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
//
// # Limitations
//
//   - Buffer size is fixed (cannot grow dynamically)
//   - An accumulator cannot be reused after Finalize() or Destroy()
type OutputAccumulator interface {
	// Write appends an approved window. Windows are hashed immediately
	// as they arrive.
	Write(window string) error

	// Finalize returns the accumulated output and its hex-encoded
	// SHA-256 hash, then wipes the buffer. Can only be called once.
	Finalize() (string, string, error)

	// Destroy wipes the buffer without returning data. Idempotent.
	Destroy()

	// ID returns the unique identifier of this accumulator instance.
	ID() string

	// CreatedAt returns when this accumulator was created.
	CreatedAt() time.Time
}

// =============================================================================
// Secure Implementation
// =============================================================================

// secureOutputAccumulator stores approved output in mlocked memory with
// incremental hashing.
//
// # Description
//
// Uses a memguard LockedBuffer so the accumulated reply is never swapped
// to disk, is protected by guard pages and canaries, and is explicitly
// zeroed on Destroy(). Windows are hashed with SHA-256 as they arrive.
//
// # System Requirements
//
// Requires mlock limit >= SecureBufferSize (512 KB), or the
// SENTRIA_INSECURE_MEMORY=true override.
type secureOutputAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// insecureOutputAccumulator is a fallback for systems without sufficient
// mlock limits.
//
// # Description
//
// Same interface as secureOutputAccumulator but backed by ordinary Go
// memory. Used when mlock limits are insufficient and
// SENTRIA_INSECURE_MEMORY=true is set.
//
// # Security Warning
//
// Data held here may be swapped to disk and has no guard page protection.
type insecureOutputAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

// =============================================================================
// Constructors
// =============================================================================

// NewSecureOutputAccumulator creates an accumulator for one stream's
// approved output.
//
// # Description
//
// Allocates a mlocked buffer of SecureBufferSize bytes. If the mlock limit
// is insufficient and SENTRIA_INSECURE_MEMORY is not set, returns an
// error. With SENTRIA_INSECURE_MEMORY=true, falls back to the insecure
// accumulator with a warning.
//
// # Outputs
//
//   - OutputAccumulator: Ready for use (secure or insecure based on system).
//   - error: Non-nil if allocation failed and no fallback is available.
//
// # Examples
//
//	acc, err := NewSecureOutputAccumulator()
//	if err != nil {
//	    return err
//	}
//	defer acc.Destroy()
//
//	acc.Write("approved window")
//	answer, auditHash, _ := acc.Finalize()
func NewSecureOutputAccumulator() (OutputAccumulator, error) {
	initMemguard()

	if !mlockSufficient {
		return handleInsufficientMlock()
	}

	return allocateSecureBuffer()
}

// newInsecureOutputAccumulator creates the heap-backed fallback.
func newInsecureOutputAccumulator() OutputAccumulator {
	accID := uuid.New().String()

	slog.Warn("Created INSECURE output accumulator - data may be swapped to disk",
		"accumulator_id", accID,
	)

	return &insecureOutputAccumulator{
		id:        accID,
		createdAt: time.Now(),
		data:      make([]byte, 0, SecureBufferSize),
		hasher:    sha256.New(),
	}
}

// =============================================================================
// secureOutputAccumulator Methods
// =============================================================================

// Write appends an approved window to the secure buffer.
//
// Copies window bytes into the mlocked buffer and updates the incremental
// hash. If the buffer would overflow, sets the overflow flag and returns
// an error; the accumulator cannot recover from overflow.
func (a *secureOutputAccumulator) Write(window string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateWriteState(); err != nil {
		return err
	}

	windowBytes := []byte(window)

	if err := a.checkBufferCapacity(len(windowBytes)); err != nil {
		return err
	}

	copy(a.buffer.Bytes()[a.offset:], windowBytes)
	a.offset += len(windowBytes)
	a.hasher.Write(windowBytes)

	return nil
}

// Finalize returns the accumulated output and its hash, then wipes the
// buffer. Can only be called once; the accumulator is unusable afterward.
func (a *secureOutputAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.validateFinalizeState(); err != nil {
		return "", "", err
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeBuffer()

	slog.Debug("Finalized secure output accumulator",
		"accumulator_id", a.id,
		"output_length", len(answer),
		"audit_hash", hashStr[:16]+"...",
	)

	return answer, hashStr, nil
}

// Destroy wipes the buffer without returning data. Safe to call multiple
// times.
func (a *secureOutputAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	a.wipeBuffer()
	slog.Debug("Destroyed secure output accumulator", "accumulator_id", a.id)
}

// ID returns the unique identifier for this accumulator instance.
func (a *secureOutputAccumulator) ID() string {
	return a.id
}

// CreatedAt returns when this accumulator was created.
func (a *secureOutputAccumulator) CreatedAt() time.Time {
	return a.createdAt
}

// validateWriteState checks if the accumulator can accept writes.
func (a *secureOutputAccumulator) validateWriteState() error {
	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow - output too large")
	}
	return nil
}

// checkBufferCapacity verifies there is room for the window.
func (a *secureOutputAccumulator) checkBufferCapacity(windowLen int) error {
	if a.offset+windowLen > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			windowLen, SecureBufferSize-a.offset)
	}
	return nil
}

// validateFinalizeState checks if the accumulator can be finalized.
func (a *secureOutputAccumulator) validateFinalizeState() error {
	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipeBuffer()
		return fmt.Errorf("buffer overflowed during accumulation")
	}
	return nil
}

// wipeBuffer destroys the secure buffer and marks the accumulator dead.
func (a *secureOutputAccumulator) wipeBuffer() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

// =============================================================================
// insecureOutputAccumulator Methods
// =============================================================================

// Write appends an approved window to the heap buffer.
func (a *insecureOutputAccumulator) Write(window string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow - output too large")
	}

	windowBytes := []byte(window)
	if len(a.data)+len(windowBytes) > SecureBufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(windowBytes), SecureBufferSize-len(a.data))
	}

	a.data = append(a.data, windowBytes...)
	a.hasher.Write(windowBytes)

	return nil
}

// Finalize returns the accumulated output and its hash, then wipes the
// data slice.
func (a *insecureOutputAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipeData()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipeData()

	slog.Debug("Finalized insecure output accumulator",
		"accumulator_id", a.id,
		"output_length", len(answer),
	)

	return answer, hashStr, nil
}

// Destroy wipes the data without returning it. Idempotent.
func (a *insecureOutputAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return
	}

	a.wipeData()
	slog.Debug("Destroyed insecure output accumulator", "accumulator_id", a.id)
}

// ID returns the unique identifier for this accumulator instance.
func (a *insecureOutputAccumulator) ID() string {
	return a.id
}

// CreatedAt returns when this accumulator was created.
func (a *insecureOutputAccumulator) CreatedAt() time.Time {
	return a.createdAt
}

// wipeData zeroes the data slice and marks the accumulator dead.
func (a *insecureOutputAccumulator) wipeData() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

// =============================================================================
// Initialization Helpers
// =============================================================================

// initMemguard initializes memguard and checks mlock limits once.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		logMlockStatus()
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit and
// compares it against the minimum required.
//
// # Outputs
//
//   - bool: True if the limit is sufficient (>= MinMlockLimitKB)
//   - int64: Current limit in kilobytes (-1 if unlimited)
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// logMlockStatus logs the current mlock status.
func logMlockStatus() {
	if mlockSufficient {
		slog.Info("Secure memory initialized",
			"mlock_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"status", "sufficient",
		)
		return
	}

	if os.Getenv(insecureMemoryEnv) == "true" {
		slog.Warn("SECURITY: Running with insecure memory - mlock limit insufficient",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"env_override", insecureMemoryEnv+"=true",
		)
	} else {
		slog.Error("mlock limit insufficient for secure memory",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
			"help", "Raise RLIMIT_MEMLOCK or set "+insecureMemoryEnv+"=true",
		)
	}
}

// handleInsufficientMlock handles the case when mlock limits are too low.
func handleInsufficientMlock() (OutputAccumulator, error) {
	if os.Getenv(insecureMemoryEnv) == "true" {
		slog.Warn("Using insecure output accumulator due to mlock limits",
			"current_limit_kb", currentMlockLimitKB,
			"required_kb", MinMlockLimitKB,
		)
		return newInsecureOutputAccumulator(), nil
	}
	return nil, fmt.Errorf(
		"mlock limit insufficient: have %d KB, need %d KB. "+
			"Configure system limits or set %s=true",
		currentMlockLimitKB, MinMlockLimitKB, insecureMemoryEnv,
	)
}

// allocateSecureBuffer allocates a new mlocked buffer.
func allocateSecureBuffer() (OutputAccumulator, error) {
	buf := memguard.NewBuffer(SecureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", SecureBufferSize)
	}
	buf.Melt()

	accID := uuid.New().String()

	slog.Debug("Created secure output accumulator",
		"accumulator_id", accID,
		"buffer_size", SecureBufferSize,
	)

	return &secureOutputAccumulator{
		id:        accID,
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// =============================================================================
// Utility Functions
// =============================================================================

// IsMlockAvailable reports whether secure memory is available on this
// system, and the current mlock limit in KB (-1 if unlimited).
func IsMlockAvailable() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// PurgeAllSecureMemory wipes all memguard-allocated memory. Call during
// graceful shutdown; after this, all existing LockedBuffers are invalid.
func PurgeAllSecureMemory() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}
