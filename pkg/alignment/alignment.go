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

// Package alignment implements the Alignment Engine of spec.md §4.D: for a
// (section, chapter), it computes a ParagraphAlignment against each
// secondary corpus for every paragraph of the primary work, behind a
// store-level single-flight lock and an in-process singleflight.Group
// dedup keyed by the same (section, chapter) pair.
package alignment

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yossefc/studio/pkg/apperr"
	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/resolver"
	"github.com/yossefc/studio/pkg/similarity"
	"github.com/yossefc/studio/pkg/store"
)

const (
	lockTTL      = 5 * time.Minute
	pollInterval = 2 * time.Second
	pollTimeout  = 180 * time.Second
	staleAfter   = 12 * time.Hour
)

// Engine is the Alignment Engine.
type Engine struct {
	store    store.AlignmentStore
	resolver *resolver.Resolver
	group    singleflight.Group
}

// New constructs an Engine.
func New(s store.AlignmentStore, r *resolver.Resolver) *Engine {
	return &Engine{store: s, resolver: r}
}

// Align returns the ready AlignmentRecord for (section, chapter), building
// it if absent or acquiring it from a concurrent builder via the store's
// lock, deduplicated in-process by singleflight.
func (e *Engine) Align(ctx context.Context, section corpus.Section, chapter int, holder string) (store.AlignmentRecord, error) {
	key := fmt.Sprintf("%s_%d", strings.ToLower(string(section)), chapter)
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.alignLocked(ctx, section, chapter, holder)
	})
	if err != nil {
		return store.AlignmentRecord{}, err
	}
	return v.(store.AlignmentRecord), nil
}

func (e *Engine) alignLocked(ctx context.Context, section corpus.Section, chapter int, holder string) (store.AlignmentRecord, error) {
	log := logger.Component("alignment")

	if cur, gerr := e.store.GetAlignment(ctx, string(section), chapter); gerr == nil && cur.Status == store.StatusReady {
		return e.revalidate(ctx, cur)
	}

	rec, acquired, err := e.store.AcquireAlignmentLock(ctx, string(section), chapter, lockTTL, holder)
	if err != nil {
		return store.AlignmentRecord{}, err
	}

	if !acquired {
		if rec.Status == store.StatusReady {
			return e.revalidate(ctx, rec)
		}
		return e.pollUntilReady(ctx, section, chapter)
	}

	fetched, ferr := e.fetchChapterCorpora(ctx, section, chapter)
	if ferr != nil {
		if failErr := e.store.FailAlignmentBuild(ctx, string(section), chapter, ferr.Error()); failErr != nil {
			log.Error("failed to record build failure", "error", failErr)
		}
		return store.AlignmentRecord{}, ferr
	}

	paragraphMap, berr := buildParagraphMap(ctx, e.resolver, section, chapter, fetched)
	if berr != nil {
		if failErr := e.store.FailAlignmentBuild(ctx, string(section), chapter, berr.Error()); failErr != nil {
			log.Error("failed to record build failure", "error", failErr)
		}
		return store.AlignmentRecord{}, berr
	}

	sourceHash := make(map[string]string, len(fetched))
	for id, fc := range fetched {
		sourceHash[string(id)] = fc.sourceHash
	}

	return e.store.CompleteAlignmentBuild(ctx, string(section), chapter, sourceHash, paragraphMap)
}

// pollUntilReady polls the store every pollInterval for up to pollTimeout
// while another process holds the build lock.
func (e *Engine) pollUntilReady(ctx context.Context, section corpus.Section, chapter int) (store.AlignmentRecord, error) {
	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return store.AlignmentRecord{}, ctx.Err()
		case <-ticker.C:
			rec, err := e.store.GetAlignment(ctx, string(section), chapter)
			if err == nil && rec.Status == store.StatusReady {
				return rec, nil
			}
			if time.Now().After(deadline) {
				return store.AlignmentRecord{}, apperr.Wrap(apperr.KindLockContention, "alignment",
					fmt.Sprintf("timed out waiting for alignment build of %s %d", section, chapter), apperr.ErrTimeout)
			}
		}
	}
}

// revalidate checks a ready record's sourceCheckedAt against staleAfter,
// re-fetching and comparing hashes on expiry and forcing a rebuild if any
// differ (spec.md §4.D staleness/revalidation).
func (e *Engine) revalidate(ctx context.Context, rec store.AlignmentRecord) (store.AlignmentRecord, error) {
	if time.Since(rec.SourceCheckedAt) < staleAfter {
		return rec, nil
	}

	log := logger.Component("alignment")
	section, chapter := corpus.Section(rec.Section), rec.Chapter

	fetched, err := e.fetchChapterCorpora(ctx, section, chapter)
	if err != nil {
		log.Warn("revalidation fetch failed, keeping existing record", "section", rec.Section, "chapter", rec.Chapter, "error", err)
		return rec, nil
	}

	changed := false
	for id, fc := range fetched {
		if rec.SourceHash[string(id)] != fc.sourceHash {
			changed = true
			break
		}
	}
	if !changed {
		if err := e.store.TouchSourceCheckedAt(ctx, rec.Section, rec.Chapter); err != nil {
			log.Warn("failed to touch sourceCheckedAt", "error", err)
		}
		return rec, nil
	}

	log.Info("upstream drift detected, rebuilding alignment", "section", rec.Section, "chapter", rec.Chapter)
	paragraphMap, err := buildParagraphMap(ctx, e.resolver, section, chapter, fetched)
	if err != nil {
		return rec, nil
	}
	sourceHash := make(map[string]string, len(fetched))
	for id, fc := range fetched {
		sourceHash[string(id)] = fc.sourceHash
	}
	return e.store.CompleteAlignmentBuild(ctx, rec.Section, rec.Chapter, sourceHash, paragraphMap)
}

// fetchedCorpus holds one corpus's chapter-level fetch result plus its
// content hash, so revalidate can reuse a single fetch for both the hash
// comparison and (on drift) the rebuild, per the spec's "pass the freshly
// fetched payload into the builder to avoid a second fetch" note.
type fetchedCorpus struct {
	providerRef string
	fragments   []corpus.Fragment
	sourceHash  string
}

var chapterCorpora = []corpus.ID{corpus.Primary, corpus.PredecessorCode, corpus.SourceCompendium}

func (e *Engine) fetchChapterCorpora(ctx context.Context, section corpus.Section, chapter int) (map[corpus.ID]fetchedCorpus, error) {
	out := make(map[corpus.ID]fetchedCorpus, len(chapterCorpora))
	for _, id := range chapterCorpora {
		refString, err := resolver.BuildRef(id, section, chapter, nil)
		if err != nil {
			return nil, err
		}
		result, err := e.resolver.FetchFragments(ctx, corpus.FragmentRef(refString), refString)
		if err != nil {
			return nil, err
		}
		out[id] = fetchedCorpus{
			providerRef: result.ProviderRef,
			fragments:   result.Fragments,
			sourceHash:  resolver.SourceHash(result.RawLeaves),
		}
	}
	return out, nil
}

// paragraphRefPattern extracts a trailing "<chapter>:<paragraph>" or
// "<chapter>:<paragraph>:<sub>" suffix from a provider ref string, the
// regex fallback of spec.md §4.D step 4 for the rare case where a
// fragment's descent path does not itself encode the paragraph.
var paragraphRefPattern = regexp.MustCompile(`:(\d+):(\d+)(?::\d+)?$`)

func paragraphFromRef(ref string) (int, bool) {
	m := paragraphRefPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// paragraphOf returns the 1-based paragraph number for a primary fragment:
// path[0] (paths are already 1-based) when the fragment has a descent
// path, else the regex fallback
// against its provider ref, else paragraph 1.
func paragraphOf(f corpus.Fragment) int {
	if len(f.Path) > 0 {
		return f.Path[0]
	}
	if n, ok := paragraphFromRef(string(f.Ref)); ok {
		return n
	}
	return 1
}

// buildParagraphMap implements spec.md §4.D steps 4-6: partition the
// primary's fragments by paragraph, build a similarity index per secondary
// corpus, and resolve each paragraph's alignment via the link graph with a
// similarity fallback.
func buildParagraphMap(ctx context.Context, r *resolver.Resolver, section corpus.Section, chapter int, fetched map[corpus.ID]fetchedCorpus) (map[string]map[string]store.ParagraphAlignment, error) {
	primary := fetched[corpus.Primary]

	paragraphText := make(map[int]string)
	var paragraphs []int
	seen := make(map[int]bool)
	for _, f := range primary.fragments {
		p := paragraphOf(f)
		paragraphText[p] += f.Text
		if !seen[p] {
			seen[p] = true
			paragraphs = append(paragraphs, p)
		}
	}
	sort.Ints(paragraphs)

	predecessorIndex := similarity.NewIndex(fetched[corpus.PredecessorCode].fragments)
	compendiumIndex := similarity.NewIndex(fetched[corpus.SourceCompendium].fragments)

	out := make(map[string]map[string]store.ParagraphAlignment, len(paragraphs))
	for _, p := range paragraphs {
		primaryRef, err := resolver.BuildRef(corpus.Primary, section, chapter, p)
		if err != nil {
			return nil, err
		}
		linked, err := r.FetchLinkedRefs(ctx, corpus.FragmentRef(primaryRef), section)
		if err != nil {
			return nil, err
		}

		byCorpus := map[string]store.ParagraphAlignment{
			string(corpus.PredecessorCode): resolveParagraph(linked.PredecessorRefs, predecessorIndex, paragraphText[p]),
			string(corpus.SourceCompendium): resolveParagraph(linked.CompendiumRefs, compendiumIndex, paragraphText[p]),
		}
		out[strconv.Itoa(p)] = byCorpus
	}
	return out, nil
}

// resolveParagraph implements spec.md §4.D step 6a/b: prefer the linked
// refs the provider's link graph already gave us; fall back to similarity
// selection when the link graph yields nothing for this corpus.
func resolveParagraph(linkedRefs []string, idx similarity.Index, queryText string) store.ParagraphAlignment {
	if len(linkedRefs) > 0 {
		return store.ParagraphAlignment{Refs: linkedRefs, Mode: "linked-passages", Score: 1}
	}

	refs, bestScore := idx.Query(queryText)
	if len(refs) == 0 {
		return store.ParagraphAlignment{Mode: "none", Score: 0}
	}
	strRefs := make([]string, len(refs))
	for i, r := range refs {
		strRefs[i] = string(r)
	}
	return store.ParagraphAlignment{Refs: strRefs, Mode: "fallback-similarity", Score: bestScore}
}
