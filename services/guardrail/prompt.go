// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import "fmt"

// classifyPromptTemplate is the fixed prompt for the policy check. The
// first %s receives the budgeted evidence context, the second the text
// under evaluation. The backend must answer with a single raw JSON object;
// anything else is treated as a parse failure.
const classifyPromptTemplate = `You are a compliance reviewer. Your task is to decide whether a given text violates any of the internal policies provided in the context below, and nothing else.

Follow these steps strictly:
1. Read the text to be evaluated.
2. Compare it against the policies in the context. Base your decision exclusively on that context; do not use outside knowledge.
3. If the text violates a specific policy from the context, decide "HARMFUL".
4. If the text does not violate any policy in the context, decide "SAFE".
5. If the context is insufficient or irrelevant to judge the text, decide "CANNOT_DETERMINE" and explain why in the reason.

Your answer MUST be a single raw JSON object with exactly these keys, and no text before or after it:

{
  "decision": "SAFE" | "HARMFUL" | "CANNOT_DETERMINE",
  "reason": "<quote or reference the specific policy text that justifies the decision>",
  "source_files": ["<filename(s) from the context that support the decision>"]
}

Rules:
- The reason must directly quote or reference policy text from the context.
- The source_files list must name the context document(s) used; leave it empty only when the context contributed nothing to the decision.
- If the context does not prohibit an action, the action is "SAFE".

Context from policy documents:
%s

Text to be evaluated:
%s

Answer (JSON object only):`

// RenderPrompt fills the classification prompt template with the budgeted
// evidence context and the text under evaluation.
func RenderPrompt(contextText, question string) string {
	return fmt.Sprintf(classifyPromptTemplate, contextText, question)
}
