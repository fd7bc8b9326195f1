// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides request and response structures for the
// gateway service.
//
// This file contains types for the synchronous guardrail check endpoint.
// For streaming chat types, see stream.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxTextBytes is the maximum size of text submitted for a check.
	// Checks byte length, not rune count, to bound memory usage.
	MaxTextBytes = 32 * 1024 // 32KB
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// checkValidate is the validator instance for gateway datatypes.
// Initialized in init() with custom validators.
var checkValidate *validator.Validate

func init() {
	checkValidate = validator.New()
	_ = checkValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed MaxTextBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTextBytes
}

// =============================================================================
// Check Request / Response Types
// =============================================================================

// CheckRequest is the body of POST /v1/guardrail/check.
//
// # Fields
//
//   - Text: Required. The text to classify against the policy corpus.
//     Limited to 32KB.
//
// # Validation
//
// Uses go-playground/validator:
//   - Text: required, max 32768 bytes
type CheckRequest struct {
	Text string `json:"text" validate:"required,maxbytes"`
}

// Validate checks the request against its validation tags.
func (r *CheckRequest) Validate() error {
	return checkValidate.Struct(r)
}

// EvidenceDoc is one resolved evidence document in a check response.
//
// # Fields
//
//   - ID: Storage identifier of the document.
//   - Filename: Resolved display name, or a diagnostic string when
//     resolution failed.
//   - Resolved: Whether Filename was derived from document data.
//   - Preview: Truncated content preview for display.
type EvidenceDoc struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Resolved bool   `json:"resolved"`
	Preview  string `json:"preview"`
}

// CheckResponse is the body returned by POST /v1/guardrail/check.
//
// # Fields
//
//   - Decision: SAFE, HARMFUL, CANNOT_DETERMINE, or ERROR.
//   - Reason: Model-provided or synthesized explanation.
//   - CitedFiles: Raw file identifiers the model cited.
//   - Evidence: Resolved evidence documents matched to the citations.
//   - ElapsedMs: Classification wall time in milliseconds.
type CheckResponse struct {
	Decision   string        `json:"decision"`
	Reason     string        `json:"reason"`
	CitedFiles []string      `json:"cited_files"`
	Evidence   []EvidenceDoc `json:"evidence"`
	ElapsedMs  int64         `json:"elapsed_ms"`
}
