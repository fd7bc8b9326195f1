// Copyright (C) 2025 Sentria AI (oss@sentria.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// Display Types
// =============================================================================

// DisplayDoc is one entry in the human-auditable evidence list built from a
// verdict's retrieved documents and claimed citations.
type DisplayDoc struct {
	// ID is the storage identifier of the underlying document.
	ID string

	// Filename is the resolved display name, or a diagnostic string
	// containing the raw identifier when resolution failed.
	Filename string

	// Resolved reports whether Filename was derived from the document's
	// name or identifier rather than falling back to the raw ID.
	Resolved bool

	// Preview is the document content truncated for display.
	Preview string
}

// Matching constants. The similarity values are empirically tuned; treat
// them as policy knobs, not derived quantities.
const (
	// SimilarityThreshold accepts a citation when the fuzzy name
	// similarity reaches this ratio.
	SimilarityThreshold = 0.35

	// MinTokenOverlap accepts a citation when at least this many
	// normalized tokens are shared.
	MinTokenOverlap = 1

	// previewMaxRunes bounds DisplayDoc.Preview.
	previewMaxRunes = 200
)

// =============================================================================
// CitationMatcher
// =============================================================================

// CitationMatcher reconciles the filenames a classifier claims it cited
// against the documents that were actually retrieved.
//
// # Description
//
// Match deduplicates the retrieved documents by storage identifier, resolves
// a display filename for each, then filters to the documents whose names
// fuzzily match a cited filename. When no document matches any citation the
// matcher fails open and returns the full deduplicated set: over-disclosing
// evidence is preferred to hiding it behind a fuzzy-match miss.
//
// # Thread Safety
//
// CitationMatcher is stateless; the zero value is ready for concurrent use.
type CitationMatcher struct{}

// Match builds the display list for documents, optionally filtered to the
// entries matching citedFiles.
//
// # Inputs
//
//   - documents: retrieved documents, possibly with duplicate identifiers.
//     The slice and its elements are not mutated.
//   - citedFiles: filenames claimed by the classifier. A nil slice means
//     no filtering; every unique document is returned.
//
// # Outputs
//
//   - []DisplayDoc: the evidence list, never nil.
func (CitationMatcher) Match(documents []Document, citedFiles []string) []DisplayDoc {
	unique := dedupeByID(documents)

	display := make([]DisplayDoc, 0, len(unique))
	for _, doc := range unique {
		filename, resolved := resolveFilename(doc)
		display = append(display, DisplayDoc{
			ID:       doc.ID,
			Filename: filename,
			Resolved: resolved,
			Preview:  truncatePreview(doc.Content),
		})
	}

	if citedFiles == nil {
		return display
	}

	normalizedCitations := make([]string, 0, len(citedFiles))
	for _, cited := range citedFiles {
		normalizedCitations = append(normalizedCitations, normalizeName(cited))
	}

	matched := make([]DisplayDoc, 0, len(display))
	for _, d := range display {
		if citationMatches(normalizeName(d.Filename), normalizedCitations) {
			matched = append(matched, d)
		}
	}

	// Fail open: an empty intersection means the fuzzy match failed, not
	// that no evidence exists.
	if len(matched) == 0 {
		return display
	}
	return matched
}

// =============================================================================
// Deduplication and Name Resolution
// =============================================================================

// dedupeByID collapses documents sharing a storage identifier. The first
// occurrence keeps its position; the last occurrence supplies the value.
func dedupeByID(documents []Document) []Document {
	index := make(map[string]int, len(documents))
	unique := make([]Document, 0, len(documents))
	for _, doc := range documents {
		if i, seen := index[doc.ID]; seen {
			unique[i] = doc
			continue
		}
		index[doc.ID] = len(unique)
		unique = append(unique, doc)
	}
	return unique
}

// resolveFilename derives a display name for doc. It prefers the explicit
// human-readable name, then falls back to decoding the storage identifier
// and taking the final path segment.
func resolveFilename(doc Document) (string, bool) {
	if doc.Name != "" {
		return doc.Name, true
	}
	if segment := identifierBasename(doc.ID); segment != "" {
		return segment, true
	}
	return fmt.Sprintf("unresolved (%s)", doc.ID), false
}

// identifierBasename decodes a storage identifier and returns the final
// path segment, URL-unescaped. Identifiers that are not absolute URLs are
// treated as URL-safe base64 of the storage path.
func identifierBasename(id string) string {
	if id == "" {
		return ""
	}
	path := id
	if !isAbsoluteURL(id) {
		if decoded, err := decodeURLSafeBase64(id); err == nil {
			path = decoded
		}
	}
	segment := path
	if i := strings.LastIndex(segment, "/"); i >= 0 {
		segment = segment[i+1:]
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	return strings.TrimSpace(segment)
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// decodeURLSafeBase64 restores padding on a URL-safe base64 string and
// decodes it, requiring the result to be printable text.
func decodeURLSafeBase64(s string) (string, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	decoded := string(raw)
	for _, r := range decoded {
		if r == unicode.ReplacementChar || (unicode.IsControl(r) && r != '\t') {
			return "", fmt.Errorf("decoded identifier is not text")
		}
	}
	return decoded, nil
}

func truncatePreview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewMaxRunes {
		return content
	}
	return string(runes[:previewMaxRunes]) + "..."
}

// =============================================================================
// Fuzzy Matching
// =============================================================================

var (
	parentheticalRe = regexp.MustCompile(`\([^)]*\)`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// normalizeName canonicalizes a filename for fuzzy comparison: drop
// parenthetical substrings and the file extension, lowercase, strip
// everything but letters, digits and spaces, collapse whitespace.
func normalizeName(name string) string {
	s := parentheticalRe.ReplaceAllString(name, " ")
	if i := strings.LastIndex(s, "."); i > 0 {
		s = s[:i]
	}
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(b.String(), " "))
}

// citationMatches reports whether candidate fuzzily matches any of the
// normalized citations.
func citationMatches(candidate string, citations []string) bool {
	if candidate == "" {
		return false
	}
	candidateTokens := strings.Fields(candidate)
	for _, cited := range citations {
		if cited == "" {
			continue
		}
		citedTokens := strings.Fields(cited)
		overlap := tokenOverlap(candidateTokens, citedTokens)
		if overlap >= MinTokenOverlap {
			return true
		}
		if nameSimilarity(candidate, cited, candidateTokens, citedTokens) >= SimilarityThreshold {
			return true
		}
	}
	return false
}

// nameSimilarity is the maximum of a character-sequence similarity ratio
// and a token-set Jaccard index.
func nameSimilarity(a, b string, aTokens, bTokens []string) float64 {
	seq := sequenceRatio([]rune(a), []rune(b))
	jac := jaccard(aTokens, bTokens)
	if jac > seq {
		return jac
	}
	return seq
}

// sequenceRatio is 2*LCS(a,b) / (len(a)+len(b)), the classic similarity
// ratio over character sequences.
func sequenceRatio(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// Single-row LCS table; names are short so quadratic time is fine.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(b)]
	return 2 * float64(lcs) / float64(len(a)+len(b))
}

func tokenOverlap(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	count := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			count++
			delete(set, t)
		}
	}
	return count
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, t := range a {
		set[t] = struct{}{}
	}
	inter := 0
	for _, t := range uniqueTokens(b) {
		if _, ok := set[t]; ok {
			inter++
		}
		set[t] = struct{}{}
	}
	if len(set) == 0 {
		return 0
	}
	return float64(inter) / float64(len(set))
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
