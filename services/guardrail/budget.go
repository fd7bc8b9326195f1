// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"strings"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// CharsPerToken is the documented approximation used for budgeting:
	// 1 token ~= 3 characters. This is deliberately not a real tokenizer;
	// the budget is a guard against prompt overflow, not an exact count.
	CharsPerToken = 3

	// MinPartialChars is the smallest partial inclusion worth keeping. When
	// the remaining budget converts to fewer characters than this, the
	// document is dropped instead of truncated. Empirically chosen in the
	// original deployment; kept as a named constant rather than re-derived.
	MinPartialChars = 100
)

// =============================================================================
// ContextBudgeter
// =============================================================================

// BudgetedContext is the result of trimming ranked evidence to a token
// budget: the input document list unchanged, plus the combined text that
// fits the budget.
type BudgetedContext struct {
	Documents    []Document
	CombinedText string
}

// BudgetContext walks documents in rank order and accumulates their content
// into a combined context string bounded by maxTokens.
//
// # Description
//
// Per-document cost is max(1, runeCount/CharsPerToken). Before adding a
// document that would exceed the budget, a partial inclusion of the
// remaining budget's worth of characters is attempted; partials shorter
// than MinPartialChars are dropped. Either way the walk halts at the first
// document that does not fit whole.
//
// The function is pure: deterministic, no network access, inputs are not
// mutated, and the returned Documents slice is the input slice.
//
// # Inputs
//
//   - docs: ranked evidence documents, highest relevance first.
//   - maxTokens: approximate token budget. Non-positive yields empty text.
//
// # Outputs
//
//   - BudgetedContext: input documents plus the budget-bounded combined text.
//
// # Examples
//
//	budgeted := BudgetContext(docs, cfg.MaxContextTokens)
//	prompt := RenderPrompt(budgeted.CombinedText, userText)
func BudgetContext(docs []Document, maxTokens int) BudgetedContext {
	if len(docs) == 0 || maxTokens <= 0 {
		return BudgetedContext{Documents: docs, CombinedText: ""}
	}

	var combined strings.Builder
	currentTokens := 0

	for _, doc := range docs {
		content := []rune(doc.Content)
		docTokens := len(content) / CharsPerToken
		if docTokens < 1 {
			docTokens = 1
		}

		if currentTokens+docTokens > maxTokens {
			remainingTokens := maxTokens - currentTokens
			remainingChars := remainingTokens * CharsPerToken
			if remainingChars > MinPartialChars {
				combined.WriteString("\n\n")
				combined.WriteString(string(content[:remainingChars]))
				combined.WriteString("...")
			}
			break
		}

		combined.WriteString("\n\n")
		combined.WriteString(doc.Content)
		currentTokens += docTokens
	}

	return BudgetedContext{
		Documents:    docs,
		CombinedText: strings.TrimSpace(combined.String()),
	}
}
