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

package chunker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/logger"
)

// Chunk is a word-bounded slice of a fragment, the unit of LLM processing.
type Chunk struct {
	ID          string
	Text        string
	ContentHash string
	Ref         corpus.FragmentRef
	Path        []int
}

// Result is the outcome of one Run call: the emitted chunks plus how many
// were dropped by the profile's MaxTotalChunks cap.
type Result struct {
	Chunks  []Chunk
	Dropped int
}

// wordToken matches a whitespace-delimited token containing at least one
// alphanumeric or Hebrew codepoint, per spec.md §4.B word-counting rule.
var wordToken = regexp.MustCompile(`\S*[\x{05D0}-\x{05EA}a-zA-Z0-9]\S*`)

// WordCount counts the tokens in s that contain at least one alphanumeric
// or Hebrew character.
func WordCount(s string) int {
	return len(wordToken.FindAllString(s, -1))
}

// clauseSplitter matches the sentence-or-clause delimiters of spec.md §4.B,
// kept attached to the preceding clause when splitting.
var clauseSplitter = regexp.MustCompile(`([.:\n])`)

// splitClauses splits text on {".", ":", "\n"}, keeping each delimiter
// attached to the clause that precedes it. Returns nil if no delimiter is
// present in text.
func splitClauses(text string) []string {
	if !strings.ContainsAny(text, ".:\n") {
		return nil
	}
	parts := clauseSplitter.Split(text, -1)
	delims := clauseSplitter.FindAllString(text, -1)

	clauses := make([]string, 0, len(parts))
	for i, p := range parts {
		clause := p
		if i < len(delims) {
			clause += delims[i]
		}
		if strings.TrimSpace(clause) == "" {
			continue
		}
		clauses = append(clauses, clause)
	}
	return clauses
}

// normalizeRefForID lowercases ref, collapses non-alphanumerics to
// underscores, and truncates to the last 64 characters, per spec.md §4.B
// chunk-id format.
func normalizeRefForID(ref string) string {
	lower := strings.ToLower(ref)
	var b strings.Builder
	lastWasUnderscore := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastWasUnderscore = false
			continue
		}
		if !lastWasUnderscore {
			b.WriteByte('_')
			lastWasUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 64 {
		out = out[len(out)-64:]
	}
	return out
}

// chunkID builds the deterministic chunk id of spec.md §4.B:
// <corpus>_<normalizedRef>_<pathOrRoot>_chunk_<1-based-ordinal>.
func chunkID(corpusID corpus.ID, ref corpus.FragmentRef, pathOrRoot string, ordinal int) string {
	return fmt.Sprintf("%s_%s_%s_chunk_%d", corpusID, normalizeRefForID(string(ref)), pathOrRoot, ordinal)
}

// Run chunks every fragment in fragments under profile, assigning
// deterministic ids scoped to corpusID and a contiguous 1-based ordinal
// across the whole run (not per-fragment), and caps the total number of
// emitted chunks at profile.MaxTotalChunks if set.
func Run(corpusID corpus.ID, fragments []corpus.Fragment, profile Profile) Result {
	var all []Chunk
	for _, frag := range fragments {
		all = append(all, chunkFragment(corpusID, frag, profile)...)
	}

	for i := range all {
		all[i].ID = reindexID(all[i].ID, i+1)
	}

	if profile.MaxTotalChunks > 0 && len(all) > profile.MaxTotalChunks {
		dropped := len(all) - profile.MaxTotalChunks
		logger.Component("chunker").Warn("dropping overflow chunks",
			"corpus", corpusID, "total", len(all), "cap", profile.MaxTotalChunks, "dropped", dropped)
		return Result{Chunks: all[:profile.MaxTotalChunks], Dropped: dropped}
	}
	return Result{Chunks: all}
}

// reindexID rewrites the trailing _chunk_<n> ordinal of id to ordinal,
// letting Run assign a single contiguous ordinal sequence across all
// fragments of one call while chunkFragment itself only knows its
// per-fragment ordinal.
func reindexID(id string, ordinal int) string {
	idx := strings.LastIndex(id, "_chunk_")
	if idx < 0 {
		return id
	}
	return fmt.Sprintf("%s_chunk_%d", id[:idx], ordinal)
}

// chunkFragment applies the splitting algorithm of spec.md §4.B to a single
// fragment, returning chunks with placeholder ordinals (renumbered by Run).
func chunkFragment(corpusID corpus.ID, frag corpus.Fragment, profile Profile) []Chunk {
	pathOrRoot := frag.PathOrRoot()

	if WordCount(frag.Text) <= profile.MaxWords {
		return []Chunk{{
			ID:          chunkID(corpusID, frag.Ref, pathOrRoot, 1),
			Text:        frag.Text,
			ContentHash: ContentHash(frag.Text),
			Ref:         frag.Ref,
			Path:        append([]int(nil), frag.Path...),
		}}
	}

	clauses := splitClauses(frag.Text)
	var groups []string
	if len(clauses) == 0 {
		groups = splitByWordCount(frag.Text, profile.MaxWords)
	} else {
		groups = groupClauses(clauses, profile)
	}

	chunks := make([]Chunk, 0, len(groups))
	for i, g := range groups {
		chunks = append(chunks, Chunk{
			ID:          chunkID(corpusID, frag.Ref, pathOrRoot, i+1),
			Text:        g,
			ContentHash: ContentHash(g),
			Ref:         frag.Ref,
			Path:        append([]int(nil), frag.Path...),
		})
	}
	return chunks
}

// groupClauses accumulates clauses into groups per spec.md §4.B: flush the
// current group when adding the next clause would exceed MaxWords and the
// current group has already reached MinWords. A single clause exceeding
// MaxWords+oversizeSlack is flushed on its own regardless of the current
// group's size.
func groupClauses(clauses []string, profile Profile) []string {
	var groups []string
	var current strings.Builder
	currentWords := 0

	flush := func() {
		if current.Len() > 0 {
			groups = append(groups, strings.TrimSpace(current.String()))
			current.Reset()
			currentWords = 0
		}
	}

	for _, clause := range clauses {
		clauseWords := WordCount(clause)

		if clauseWords > profile.MaxWords+oversizeSlack {
			flush()
			groups = append(groups, strings.TrimSpace(clause))
			continue
		}

		wouldExceed := currentWords+clauseWords > profile.MaxWords
		if wouldExceed && currentWords >= profile.MinWords {
			flush()
		}

		current.WriteString(clause)
		currentWords += clauseWords
	}
	flush()
	return groups
}

// splitByWordCount is the fallback used when a fragment has no clause
// delimiters at all: split purely by word count into groups of MaxWords
// tokens.
func splitByWordCount(text string, maxWords int) []string {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return []string{text}
	}
	var groups []string
	for start := 0; start < len(tokens); start += maxWords {
		end := start + maxWords
		if end > len(tokens) {
			end = len(tokens)
		}
		groups = append(groups, strings.Join(tokens[start:end], " "))
	}
	return groups
}
