// Copyright 2025 The Studio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hebrew provides the text-cleanup and normalization primitives
// shared by the reference resolver, chunker, and similarity index: markup
// stripping, cantillation-mark removal, short-parenthetical removal, and
// the fuller normalization used for lexical similarity.
package hebrew

import (
	"regexp"
	"strings"
)

// cantillationBlock matches the Hebrew cantillation/point mark block
// U+0591..U+05C7 (spec.md §4.A cleanup rule).
var cantillationBlock = regexp.MustCompile(`[\x{0591}-\x{05C7}]`)

// htmlTag matches an HTML/XML tag for stripping.
var htmlTag = regexp.MustCompile(`<[^>]*>`)

// shortParenthetical matches a parenthesized insert of 1-5 characters,
// e.g. "(ג)" or "(a)". Content length is measured in runes, not bytes.
var shortParenthetical = regexp.MustCompile(`\([^()]{1,5}\)`)

// whitespaceRun collapses runs of whitespace to a single space.
var whitespaceRun = regexp.MustCompile(`\s+`)

// quoteLikeMarks matches geresh/gershayim and ASCII quote characters used as
// Hebrew abbreviation/acronym markers, which similarity normalization
// replaces with spaces.
var quoteLikeMarks = regexp.MustCompile(`[\x{05F3}\x{05F4}"'` + "`" + `]`)

// nonIndexable matches anything that is not a Hebrew letter, Latin letter,
// digit, or space — used to clear punctuation before tokenizing for
// similarity.
var nonIndexable = regexp.MustCompile(`[^\x{05D0}-\x{05EA}a-zA-Z0-9\s]`)

// Clean applies the leaf-cleanup rule of spec.md §4.A to one fragment of
// upstream text: strip HTML/XML tags, strip cantillation marks, remove
// short parenthesized inserts, trim, and collapse internal whitespace.
func Clean(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	s = cantillationBlock.ReplaceAllString(s, "")
	s = shortParenthetical.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Normalize applies the fuller normalization used by the Similarity Index
// (spec.md §4.C): everything Clean does, plus replacing quote-like marks
// and any remaining non-(Hebrew|Latin|digit|space) character with a space,
// then collapsing whitespace again.
func Normalize(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	s = cantillationBlock.ReplaceAllString(s, "")
	s = quoteLikeMarks.ReplaceAllString(s, " ")
	s = nonIndexable.ReplaceAllString(s, " ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// sectionAliases lists orthographic variants of section names that must be
// treated as equal when normalizing prefixes for link-graph filtering. The
// corpus's English transliteration uses both spellings interchangeably.
var sectionAliases = map[string]string{
	"chayim": "chaim",
}

// NormalizePrefix lowercases s, collapses whitespace, and unifies known
// orthographic variants of section names (spec.md §4.A normalization rule
// for prefix filtering — e.g. "Chaim" vs "Chayim").
func NormalizePrefix(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	for variant, canonical := range sectionAliases {
		s = strings.ReplaceAll(s, variant, canonical)
	}
	return s
}

// HasHebrewCodepoint reports whether s contains at least one codepoint in
// the Hebrew letter block U+05D0..U+05EA.
func HasHebrewCodepoint(s string) bool {
	for _, r := range s {
		if r >= 0x05D0 && r <= 0x05EA {
			return true
		}
	}
	return false
}

// Ratio returns the fraction of runes in s that fall in the broader Hebrew
// Unicode block U+0590..U+05FF (letters, points, and punctuation), used by
// the explanation/summary validators to reject non-Hebrew output. Returns 0
// for an empty string.
func Ratio(s string) float64 {
	if s == "" {
		return 0
	}
	total := 0
	hebrew := 0
	for _, r := range s {
		total++
		if r >= 0x0590 && r <= 0x05FF {
			hebrew++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hebrew) / float64(total)
}
