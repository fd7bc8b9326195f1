// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scanner checks policy corpus files for secrets and personal
// data before they are uploaded or indexed. Everything in the evidence
// index is quotable in verdict reasons and evidence previews, so
// leaked material there surfaces to end users.
package scanner

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sentria-ai/sentria/services/scanner/enforcement"
)

// Scanner holds the compiled detection rules and scans content against
// them. Safe for concurrent use after construction.
type Scanner struct {
	Classifiers []Classification
}

// New initializes a Scanner from the detection rules embedded in the
// binary.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func New() (*Scanner, error) {
	var file classificationFile
	if err := yaml.Unmarshal(enforcement.DataClassificationPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded rules file: %w", err)
	}

	if err := file.compileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex: %w", err)
	}

	file.sortByPriority()

	return &Scanner{Classifiers: file.Classifications}, nil
}

// ClassifyData performs a quick check on a byte slice and returns the
// name of the first matching classification, by priority. Unmatched
// data classifies as "public".
func (s *Scanner) ClassifyData(data []byte) string {
	for _, classifier := range s.Classifiers {
		for _, pattern := range classifier.Patterns {
			if pattern.compiledPattern.Match(data) {
				return classifier.Name
			}
		}
	}
	return "public"
}

// ScanContent audits a string line by line against every rule.
//
// # Description
//
// Captures every match with its line number and the text that
// triggered it. Intended for the corpus sync pipeline, where each
// finding is shown to the operator before the file is allowed through.
func (s *Scanner) ScanContent(content string) []Finding {
	var findings []Finding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, classifier := range s.Classifiers {
			for _, pattern := range classifier.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match != "" {
					findings = append(findings, Finding{
						LineNumber:         lineNum + 1,
						MatchedContent:     strings.TrimSpace(match),
						ClassificationName: classifier.Name,
						PatternId:          pattern.Id,
						PatternDescription: pattern.Description,
						Confidence:         pattern.Confidence,
					})
				}
			}
		}
	}
	return findings
}

// HasBlockingFinding reports whether any finding is high confidence.
// Low and medium confidence findings are advisory.
func HasBlockingFinding(findings []Finding) bool {
	for _, f := range findings {
		if f.Confidence == High {
			return true
		}
	}
	return false
}
