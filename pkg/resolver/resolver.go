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

// Package resolver implements the Reference Resolver (spec.md §4.A): it
// maps a canonical Location into provider-specific reference strings and
// flattens the upstream provider's nested text arrays into ordered,
// individually-referable fragments.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/yossefc/studio/pkg/apperr"
	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/hebrew"
	"github.com/yossefc/studio/pkg/numerals"
	"github.com/yossefc/studio/pkg/textprovider"
)

// Resolver resolves canonical locations into provider fragments.
type Resolver struct {
	client textprovider.Client
}

// New constructs a Resolver backed by client.
func New(client textprovider.Client) *Resolver {
	return &Resolver{client: client}
}

// BuildRef is purely mechanical: it follows corpusID's prefix and qualifier
// rules (spec.md §4.A). chapter and paragraph may be an int or a vernacular
// numeral string; MustBeInt converts non-integer values via the numeral
// table.
func BuildRef(corpusID corpus.ID, section corpus.Section, chapter any, paragraph any) (string, error) {
	meta, ok := corpus.MetaOf(corpusID)
	if !ok {
		return "", fmt.Errorf("resolver: unknown corpus %q", corpusID)
	}

	chapterInt, err := numerals.MustBeInt(chapter)
	if err != nil {
		return "", fmt.Errorf("resolver: invalid chapter: %w", err)
	}

	var paragraphInt int
	hasParagraph := paragraph != nil
	if hasParagraph {
		paragraphInt, err = numerals.MustBeInt(paragraph)
		if err != nil {
			return "", fmt.Errorf("resolver: invalid paragraph: %w", err)
		}
	}

	var b strings.Builder
	b.WriteString(meta.ProviderPrefix)
	if meta.SectionQualified {
		b.WriteString(", ")
		b.WriteString(string(section))
		b.WriteString(" ")
	} else {
		b.WriteString(" ")
	}
	b.WriteString(strconv.Itoa(chapterInt))
	if hasParagraph && meta.AddressesParagraphs {
		b.WriteString(":")
		b.WriteString(strconv.Itoa(paragraphInt))
	}
	return b.String(), nil
}

// FetchResult is the outcome of FetchFragments: the canonical providerRef
// (which may differ textually from the request), the flattened fragments,
// and the raw pre-cleaning leaf strings used for source-hash comparisons.
type FetchResult struct {
	ProviderRef string
	Fragments   []corpus.Fragment
	RawLeaves   []string
}

// FetchFragments calls the upstream text API for refString with
// language=he and context=0, flattens the nested "he" array via pre-order
// traversal assigning each leaf a 1-based index path, and cleans each leaf
// per spec.md §4.A. The canonical providerRef returned by the upstream API
// (which may differ textually from refString) is what the caller should
// store.
func (r *Resolver) FetchFragments(ctx context.Context, ref corpus.FragmentRef, refString string) (*FetchResult, error) {
	resp, err := r.client.FetchText(ctx, refString)
	if err != nil {
		return nil, err
	}

	var tree any
	if err := json.Unmarshal(resp.He, &tree); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamSchemaDrift, "resolver", "malformed he payload", err)
	}

	var fragments []corpus.Fragment
	var rawLeaves []string
	flatten(tree, nil, &fragments, &rawLeaves, ref)

	if len(fragments) == 0 {
		return nil, apperr.New(apperr.KindUpstreamNotFound, "resolver", fmt.Sprintf("no fragments for %s", refString))
	}

	return &FetchResult{
		ProviderRef: resp.Ref,
		Fragments:   fragments,
		RawLeaves:   rawLeaves,
	}, nil
}

// flatten performs the pre-order traversal of the nested "he" array: each
// string leaf becomes one Fragment with a 1-based index path; nested arrays
// recurse, extending path with that array's 1-based position.
func flatten(node any, path []int, out *[]corpus.Fragment, rawLeaves *[]string, ref corpus.FragmentRef) {
	switch v := node.(type) {
	case string:
		cleaned := hebrew.Clean(v)
		if cleaned == "" {
			return
		}
		*rawLeaves = append(*rawLeaves, v)
		*out = append(*out, corpus.Fragment{
			Ref:  ref,
			Path: append([]int(nil), path...),
			Text: cleaned,
		})
	case []any:
		for i, child := range v {
			flatten(child, append(path, i+1), out, rawLeaves, ref)
		}
	case nil:
		// Skip null leaves (gaps in the upstream array).
	default:
		// Non-string, non-array leaf: ignore; the provider contract only
		// promises nested string arrays.
	}
}

// SourceHash computes a stable SHA-256 hash over the raw (pre-cleaning)
// leaf strings returned by FetchFragments, used by the Alignment Engine to
// detect upstream content changes (spec.md §3 AlignmentRecord.sourceHash).
func SourceHash(rawLeaves []string) string {
	h := sha256.New()
	for _, s := range rawLeaves {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LinkedRefs is the outcome of FetchLinkedRefs: the reference strings found
// in the provider's link graph, pre-filtered to each of the two secondary
// corpora and restricted to section.
type LinkedRefs struct {
	PredecessorRefs []string
	CompendiumRefs  []string
}

// FetchLinkedRefs calls the provider's link endpoint for primaryRef,
// collects every reference-bearing field of every link object, and filters
// to references whose normalized prefix matches the predecessor-code or
// source-compendium corpus restricted to section (spec.md §4.A).
func (r *Resolver) FetchLinkedRefs(ctx context.Context, primaryRef corpus.FragmentRef, section corpus.Section) (*LinkedRefs, error) {
	resp, err := r.client.FetchLinks(ctx, string(primaryRef))
	if err != nil {
		return nil, err
	}

	predecessorMeta, _ := corpus.MetaOf(corpus.PredecessorCode)
	compendiumMeta, _ := corpus.MetaOf(corpus.SourceCompendium)

	predecessorPrefix := hebrew.NormalizePrefix(predecessorMeta.ProviderPrefix + ", " + string(section))
	compendiumPrefix := hebrew.NormalizePrefix(compendiumMeta.ProviderPrefix + ", " + string(section))

	out := &LinkedRefs{}
	seenPredecessor := make(map[string]bool)
	seenCompendium := make(map[string]bool)

	for _, link := range resp.Links {
		for _, raw := range link.AllRefs() {
			normalized := hebrew.NormalizePrefix(raw)
			switch {
			case strings.HasPrefix(normalized, predecessorPrefix) && !seenPredecessor[raw]:
				seenPredecessor[raw] = true
				out.PredecessorRefs = append(out.PredecessorRefs, raw)
			case strings.HasPrefix(normalized, compendiumPrefix) && !seenCompendium[raw]:
				seenCompendium[raw] = true
				out.CompendiumRefs = append(out.CompendiumRefs, raw)
			}
		}
	}
	return out, nil
}
