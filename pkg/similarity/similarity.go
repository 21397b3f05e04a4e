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

// Package similarity builds token/bigram sets from Hebrew-normalized text
// and scores a query against a candidate list with a weighted overlap
// metric (spec.md §4.C). It is the fallback the Alignment Engine uses when
// the upstream link graph has nothing for a paragraph.
package similarity

import (
	"sort"
	"strings"

	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/hebrew"
)

// minTokenLen is the minimum token length kept after tokenizing, per
// spec.md §4.C.
const minTokenLen = 2

// Doc is the tokens/bigrams profile of one piece of text, plus whatever ref
// and upstream order the caller wants to recover it by.
type Doc struct {
	Ref     corpus.FragmentRef
	Order   int // upstream order, for deterministic tie-breaking
	Tokens  map[string]struct{}
	Bigrams map[string]struct{}
}

// Build computes the Doc for text, tokenizing its Hebrew-normalized form.
func Build(ref corpus.FragmentRef, order int, text string) Doc {
	tokens := tokenize(text)
	d := Doc{
		Ref:     ref,
		Order:   order,
		Tokens:  make(map[string]struct{}, len(tokens)),
		Bigrams: make(map[string]struct{}),
	}
	for _, tok := range tokens {
		d.Tokens[tok] = struct{}{}
	}
	for i := 0; i+1 < len(tokens); i++ {
		d.Bigrams[tokens[i]+" "+tokens[i+1]] = struct{}{}
	}
	return d
}

func tokenize(text string) []string {
	normalized := hebrew.Normalize(text)
	fields := strings.Fields(normalized)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) >= minTokenLen {
			out = append(out, f)
		}
	}
	return out
}

// Score computes the weighted overlap score of query against candidate, per
// spec.md §4.C: 0.7 * token-Jaccard-like-overlap + 0.3 * bigram overlap,
// both normalized by the query's own set sizes (not the union), with a term
// of 0 when the corresponding query set is empty.
func Score(query, candidate Doc) float64 {
	var tokenTerm, bigramTerm float64

	if len(query.Tokens) > 0 {
		tokenTerm = 0.7 * float64(intersectionSize(query.Tokens, candidate.Tokens)) / float64(len(query.Tokens))
	}
	if len(query.Bigrams) > 0 {
		bigramTerm = 0.3 * float64(intersectionSize(query.Bigrams, candidate.Bigrams)) / float64(len(query.Bigrams))
	}
	return tokenTerm + bigramTerm
}

func intersectionSize(a, b map[string]struct{}) int {
	count := 0
	for k := range a {
		if _, ok := b[k]; ok {
			count++
		}
	}
	return count
}

// scored pairs a candidate Doc with its score against one query, for
// sorting in Select.
type scored struct {
	doc   Doc
	score float64
}

// Select implements the candidate-selection algorithm of spec.md §4.C:
// score every candidate, keep nothing if the best score is below 0.05,
// otherwise keep everything within 0.6x of the best score (floored at
// 0.08), capped at 12, re-sorted by upstream order, and deduplicated by ref
// preserving first occurrence. Returns the selected refs in upstream
// order, and the best score observed (0 if nothing qualified).
func Select(query Doc, candidates []Doc) (refs []corpus.FragmentRef, bestScore float64) {
	if len(candidates) == 0 {
		return nil, 0
	}

	scoredCandidates := make([]scored, len(candidates))
	for i, c := range candidates {
		scoredCandidates[i] = scored{doc: c, score: Score(query, c)}
	}

	sort.SliceStable(scoredCandidates, func(i, j int) bool {
		if scoredCandidates[i].score != scoredCandidates[j].score {
			return scoredCandidates[i].score > scoredCandidates[j].score
		}
		return scoredCandidates[i].doc.Order < scoredCandidates[j].doc.Order
	})

	best := scoredCandidates[0].score
	if best < 0.05 {
		return nil, 0
	}

	threshold := best * 0.6
	if threshold < 0.08 {
		threshold = 0.08
	}

	var kept []scored
	for _, sc := range scoredCandidates {
		if sc.score >= threshold {
			kept = append(kept, sc)
		}
		if len(kept) == 12 {
			break
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].doc.Order < kept[j].doc.Order
	})

	seen := make(map[corpus.FragmentRef]struct{}, len(kept))
	for _, sc := range kept {
		if _, dup := seen[sc.doc.Ref]; dup {
			continue
		}
		seen[sc.doc.Ref] = struct{}{}
		refs = append(refs, sc.doc.Ref)
	}
	return refs, best
}

// Index is an immutable, request-scoped collection of Docs built over one
// secondary corpus's fragments, safe to share across concurrent read-only
// queries (spec.md §5).
type Index struct {
	docs []Doc
}

// NewIndex builds an Index over fragments, assigning each fragment its
// position as upstream Order.
func NewIndex(fragments []corpus.Fragment) Index {
	docs := make([]Doc, len(fragments))
	for i, f := range fragments {
		docs[i] = Build(f.Ref, i, f.Text)
	}
	return Index{docs: docs}
}

// Query scores query against every Doc in the index and returns the
// selected refs and best score, per Select.
func (idx Index) Query(queryText string) (refs []corpus.FragmentRef, bestScore float64) {
	q := Build("", -1, queryText)
	return Select(q, idx.docs)
}
