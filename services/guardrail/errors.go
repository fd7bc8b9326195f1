// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

// The four failure kinds of the moderation core. All of them are recovered
// locally: the Classifier converts the first three into ERROR verdicts and
// the StreamFilter converts the fourth into an ERROR event. None of them
// ever escape to the hosting process.

// RetrievalError wraps a failure of the retrieval backend.
type RetrievalError struct {
	Query string
	Err   error
}

// Error implements the error interface for RetrievalError.
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *RetrievalError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the generation backend (network,
// timeout; retry counts are owned by the backend's own configuration).
type GenerationError struct {
	Err error
}

// Error implements the error interface for GenerationError.
func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *GenerationError) Unwrap() error { return e.Err }

// VerdictParseError reports a generation response that did not parse as the
// expected verdict JSON object.
type VerdictParseError struct {
	Raw string
	Err error
}

// Error implements the error interface for VerdictParseError.
func (e *VerdictParseError) Error() string {
	return fmt.Sprintf("failed to parse verdict response: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *VerdictParseError) Unwrap() error { return e.Err }

// StreamConsumptionError reports a failure while iterating the live
// fragment sequence from the generation backend.
type StreamConsumptionError struct {
	Err error
}

// Error implements the error interface for StreamConsumptionError.
func (e *StreamConsumptionError) Error() string {
	return fmt.Sprintf("stream consumption failed: %v", e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StreamConsumptionError) Unwrap() error { return e.Err }

// ConfigError reports an invalid component configuration value.
type ConfigError struct {
	Field string
	Value any
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid guardrail config: %s = %v", e.Field, e.Value)
}

// =============================================================================
// Helpers
// =============================================================================

// IsRetrievalError checks if an error is (or wraps) a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// IsGenerationError checks if an error is (or wraps) a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// IsVerdictParseError checks if an error is (or wraps) a VerdictParseError.
func IsVerdictParseError(err error) bool {
	var pe *VerdictParseError
	return errors.As(err, &pe)
}

// IsStreamConsumptionError checks if an error is (or wraps) a
// StreamConsumptionError.
func IsStreamConsumptionError(err error) bool {
	var se *StreamConsumptionError
	return errors.As(err, &se)
}
