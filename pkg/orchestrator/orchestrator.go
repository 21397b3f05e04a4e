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

// Package orchestrator implements the Guide Orchestrator of spec.md §4.G:
// it computes a request fingerprint, coordinates a single-flight canonical
// cache across processes, fans out per-corpus fetch/chunk/explain work in
// parallel while preserving sequential N-1 context within a corpus, honors
// cooperative cancellation, and atomically persists the finished guide.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yossefc/studio/pkg/alignment"
	"github.com/yossefc/studio/pkg/apperr"
	"github.com/yossefc/studio/pkg/chunker"
	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/explanation"
	"github.com/yossefc/studio/pkg/llm"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/metrics"
	"github.com/yossefc/studio/pkg/progress"
	"github.com/yossefc/studio/pkg/resolver"
	"github.com/yossefc/studio/pkg/store"
	"github.com/yossefc/studio/pkg/summary"
)

// Request is the top-level shape a caller submits to the orchestrator.
type Request struct {
	Section   corpus.Section
	Chapter   int
	Paragraph int
	Corpora   []corpus.ID
}

// Fingerprint computes the request fingerprint of spec.md §4.G: a SHA-256
// over "v1|<section>|<chapter>|<paragraph>|<sorted-corpora-csv>".
func Fingerprint(req Request) string {
	ids := make([]string, len(req.Corpora))
	for i, c := range req.Corpora {
		ids[i] = string(c)
	}
	sort.Strings(ids)

	payload := fmt.Sprintf("v1|%s|%d|%d|%s",
		strings.ToLower(strings.TrimSpace(string(req.Section))),
		req.Chapter, req.Paragraph, strings.Join(ids, ","))
	h := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(h[:])
}

// Outcome is the discriminated result of one Process call.
type Outcome struct {
	Success   bool
	Cancelled bool
	Guide     *store.CanonicalGuideRecord
}

// Options configures every tunable the orchestrator needs; the caller
// (cmd/guide-worker) populates these from pkg/config.
type Options struct {
	MaxChunksPerSource        int
	CancellationCheckInterval int
	HebrewRatioThreshold      float64

	ExplanationTimeout       time.Duration
	ExplanationRepairTimeout time.Duration
	SummaryTimeout           time.Duration

	LLMModelPrimary  string
	LLMModelCost     string
	LLMModelFallback string
	LLMUseBatch      bool
	LLMBatchThreshold int

	CanonicalPollAttempts int
	CanonicalPollInterval time.Duration
	CanonicalLockStale    time.Duration
}

// Orchestrator is the Guide Orchestrator.
type Orchestrator struct {
	store    store.Store
	resolver *resolver.Resolver
	align    *alignment.Engine
	explain  *explanation.Memoizer
	provider llm.Provider
	metrics  *metrics.Metrics
	opts     Options
}

// New constructs an Orchestrator.
func New(s store.Store, r *resolver.Resolver, align *alignment.Engine, explain *explanation.Memoizer, provider llm.Provider, m *metrics.Metrics, opts Options) *Orchestrator {
	return &Orchestrator{store: s, resolver: r, align: align, explain: explain, provider: provider, metrics: m, opts: opts}
}

// Process implements the full §4.G procedure for req: canonical cache
// check, single-flight build, and the execution path described in
// execute.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Outcome, error) {
	start := time.Now()
	fp := Fingerprint(req)
	log := logger.Component("orchestrator")

	rec, acquired, err := o.store.AcquireCanonicalLock(ctx, fp, o.opts.CanonicalLockStale)
	if err != nil {
		return Outcome{}, err
	}

	if !acquired {
		if rec.Status == store.StatusReady {
			o.metrics.ObserveOrchestratorRequest("ready_cache_hit", time.Since(start))
			return Outcome{Success: true, Guide: &rec}, nil
		}
		final, perr := o.pollCanonical(ctx, fp)
		if perr != nil {
			o.metrics.ObserveOrchestratorRequest("poll_timeout", time.Since(start))
			return Outcome{}, perr
		}
		o.metrics.ObserveOrchestratorRequest("ready_after_poll", time.Since(start))
		return Outcome{Success: final.Status == store.StatusReady, Guide: &final}, nil
	}

	outcome, err := o.execute(ctx, fp, req)
	if err != nil {
		log.Error("build failed", "fingerprint", fp, "error", err)
		if failErr := o.store.FailCanonical(ctx, fp, err.Error()); failErr != nil {
			log.Error("failed to record build failure", "error", failErr)
		}
		o.metrics.ObserveOrchestratorRequest("failed", time.Since(start))
		return Outcome{}, err
	}
	if outcome.Cancelled {
		o.metrics.ObserveOrchestratorRequest("cancelled", time.Since(start))
		return outcome, nil
	}
	o.metrics.ObserveOrchestratorRequest("built", time.Since(start))
	return outcome, nil
}

// pollCanonical polls the store every CanonicalPollInterval up to
// CanonicalPollAttempts while another process holds the build.
func (o *Orchestrator) pollCanonical(ctx context.Context, fp string) (store.CanonicalGuideRecord, error) {
	for attempt := 0; attempt < o.opts.CanonicalPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return store.CanonicalGuideRecord{}, ctx.Err()
		case <-time.After(o.opts.CanonicalPollInterval):
		}
		rec, err := o.store.GetCanonical(ctx, fp)
		if err == nil && rec.Status == store.StatusReady {
			return rec, nil
		}
	}
	return store.CanonicalGuideRecord{}, fmt.Errorf("orchestrator: timed out waiting for canonical guide %s: %w", fp, apperr.ErrTimeout)
}

// corpusWork is one corpus's resolved fragments plus the chunks derived
// from them, assembled by fetchCorpora before the parallel explain fan-out.
type corpusWork struct {
	id     corpus.ID
	label  string
	chunks []chunker.Chunk
}

// execute runs the build procedure of spec.md §4.G steps 1-8 while holding
// the canonical lock for fp.
func (o *Orchestrator) execute(ctx context.Context, fp string, req Request) (Outcome, error) {
	log := logger.Component("orchestrator")

	holder := uuid.NewString()
	fragmentsByCorpus, companionText, err := o.fetchCorpora(ctx, req, holder)
	if err != nil {
		return Outcome{}, err
	}

	var work []corpusWork
	totalChunks := 0
	for _, id := range req.Corpora {
		if id == corpus.LaterCommentary {
			continue
		}
		fragments := fragmentsByCorpus[id]
		if len(fragments) == 0 {
			continue
		}
		meta, _ := corpus.MetaOf(id)
		result := chunker.Run(id, fragments, chunker.ExplanationProfile())
		if len(result.Chunks) > o.opts.MaxChunksPerSource {
			dropped := len(result.Chunks) - o.opts.MaxChunksPerSource
			o.metrics.RecordChunkOverflowDrop(string(id), "max_chunks_per_source", dropped)
			log.Warn("truncating chunks to per-source cap", "corpus", id, "dropped", dropped)
			result.Chunks = result.Chunks[:o.opts.MaxChunksPerSource]
		}
		if len(result.Chunks) == 0 {
			continue
		}
		work = append(work, corpusWork{id: id, label: meta.Label, chunks: result.Chunks})
		totalChunks += len(result.Chunks)
	}

	if totalChunks == 0 {
		return Outcome{}, fmt.Errorf("orchestrator: no fragments resolved for any requested corpus")
	}

	tier := o.opts.LLMModelPrimary
	if o.opts.LLMUseBatch && totalChunks > o.opts.LLMBatchThreshold {
		tier = o.opts.LLMModelCost
	}
	candidates := llm.Candidates{Preferred: tier, Cost: o.opts.LLMModelCost, Fallback: o.opts.LLMModelFallback}

	prog := progress.New(totalChunks)

	results := make(map[corpus.ID][]store.ChunkRecord, len(work))
	cancelled := false
	allValidated := true

	g, gctx := errgroup.WithContext(ctx)
	resultsCh := make(chan struct {
		id        corpus.ID
		records   []store.ChunkRecord
		cancelled bool
		validated bool
	}, len(work))

	for _, w := range work {
		w := w
		var companion string
		if w.id == corpus.Primary {
			companion = companionText
		}
		g.Go(func() error {
			records, wasCancelled, validated, err := o.processCorpus(gctx, fp, req, w, companion, candidates, prog)
			if err != nil {
				return err
			}
			resultsCh <- struct {
				id        corpus.ID
				records   []store.ChunkRecord
				cancelled bool
				validated bool
			}{w.id, records, wasCancelled, validated}
			return nil
		})
	}

	err = g.Wait()
	close(resultsCh)
	if err != nil {
		return Outcome{}, err
	}

	for r := range resultsCh {
		results[r.id] = r.records
		if r.cancelled {
			cancelled = true
		}
		if !r.validated {
			allValidated = false
		}
	}

	if cancelled {
		if failErr := o.store.FailCanonical(ctx, fp, "cancelled"); failErr != nil {
			log.Error("failed to record cancellation", "error", failErr)
		}
		return Outcome{Cancelled: true}, nil
	}

	sections := make([]summary.CorpusSection, 0, len(work))
	var allChunks []store.ChunkRecord
	for _, w := range work {
		records := results[w.id]
		var text strings.Builder
		for _, r := range records {
			text.WriteString(r.ExplanationText)
			text.WriteString("\n")
		}
		sections = append(sections, summary.CorpusSection{CorpusID: w.id, Label: w.label, Text: text.String()})
		allChunks = append(allChunks, records...)
	}

	sumResult, err := summary.Produce(ctx, o.provider, sections, candidates, o.opts.SummaryTimeout)
	if err != nil {
		return Outcome{}, err
	}
	if !sumResult.Validated {
		allValidated = false
	}

	corporaCSV := make([]string, len(req.Corpora))
	for i, c := range req.Corpora {
		corporaCSV[i] = string(c)
	}
	sort.Strings(corporaCSV)

	out := store.NewCanonicalGuideRecord(fp)
	out.Status = store.StatusReady
	out.Section = string(req.Section)
	out.Chapter = req.Chapter
	out.Paragraph = req.Paragraph
	out.Corpora = corporaCSV
	out.SummaryText = sumResult.Summary
	out.SummaryModel = sumResult.ModelUsed
	out.Validated = allValidated
	out.ChunkCount = len(allChunks)
	out.Chunks = allChunks

	if err := o.store.CompleteCanonical(ctx, out); err != nil {
		return Outcome{}, err
	}
	return Outcome{Success: true, Guide: &out}, nil
}

// processCorpus drives chunks sequentially for one corpus, preserving the
// N-1 context and polling the cancellation flag every
// CancellationCheckInterval chunks, per spec.md §4.G step 5.
func (o *Orchestrator) processCorpus(ctx context.Context, fp string, req Request, w corpusWork, companionText string, candidates llm.Candidates, prog *progress.Counter) ([]store.ChunkRecord, bool, bool, error) {
	var records []store.ChunkRecord
	var prevRaw, prevExplanation string
	validated := true

	for i, c := range w.chunks {
		if i%o.opts.CancellationCheckInterval == 0 {
			if ctx.Err() != nil {
				return records, true, validated, nil
			}
			cancelledNow, cerr := o.store.IsCancelRequested(ctx, fp)
			if cerr == nil && cancelledNow {
				return records, true, validated, nil
			}
		}

		var companion string
		if w.id == corpus.Primary {
			companion = companionText
		}

		out, err := o.explain.Explain(ctx, explanation.Input{
			Ref: explanation.RefKey{
				Section:   string(req.Section),
				Chapter:   req.Chapter,
				Paragraph: req.Paragraph,
				Corpus:    string(w.id),
				Ordinal:   i,
			},
			RefCanonical:        string(c.Ref),
			CorpusLabel:         w.label,
			CurrentSegment:      c.Text,
			PreviousSegmentText: prevRaw,
			PreviousExplanation: prevExplanation,
			CompanionText:       companion,
			ContentHash:         c.ContentHash,
		}, candidates, explanation.Options{
			GenerationTimeout:    o.opts.ExplanationTimeout,
			RepairTimeout:        o.opts.ExplanationRepairTimeout,
			HebrewRatioThreshold: o.opts.HebrewRatioThreshold,
		})
		if err != nil {
			return nil, false, false, err
		}

		cacheOutcome := "miss"
		if out.CacheHit {
			cacheOutcome = "structured_hit"
		}
		o.metrics.RecordExplanationCacheLookup(cacheOutcome)
		if !out.Validated {
			validated = false
			o.metrics.RecordValidationRepair("explanation", "still_invalid")
		}

		records = append(records, store.ChunkRecord{
			Corpus:          string(w.id),
			Ordinal:         i,
			RawText:         c.Text,
			ExplanationText: out.Explanation,
			ModelName:       out.ModelUsed,
			Validated:       out.Validated,
		})
		prevRaw, prevExplanation = c.Text, out.Explanation
		prog.Increment()
	}
	return records, false, validated, nil
}

// fetchCorpora implements spec.md §4.G step 1's per-corpus fetch-strategy
// table: primary and later-commentary fetch the exact paragraph directly;
// predecessor-code and source-compendium go through the Alignment Engine's
// paragraph map and a ref-list fetch (the "tighter paragraph slicing"
// optimization is not implemented — every linked-passages paragraph falls
// through to the plain ref-list fetch, which already returns precisely the
// linked fragments).
func (o *Orchestrator) fetchCorpora(ctx context.Context, req Request, holder string) (map[corpus.ID][]corpus.Fragment, string, error) {
	log := logger.Component("orchestrator")
	out := make(map[corpus.ID][]corpus.Fragment, len(req.Corpora))
	var companionText string

	var alignRec *store.AlignmentRecord
	needsAlignment := func() bool {
		for _, id := range req.Corpora {
			if id == corpus.PredecessorCode || id == corpus.SourceCompendium {
				return true
			}
		}
		return false
	}()
	if needsAlignment {
		rec, err := o.align.Align(ctx, req.Section, req.Chapter, holder)
		if err != nil {
			return nil, "", err
		}
		alignRec = &rec
	}

	paragraphKey := strconv.Itoa(req.Paragraph)

	for _, id := range req.Corpora {
		switch id {
		case corpus.Primary:
			frags, err := o.fetchExactParagraph(ctx, id, req)
			if err != nil {
				return nil, "", err
			}
			out[id] = frags

		case corpus.LaterCommentary:
			frags, err := o.fetchExactParagraph(ctx, id, req)
			if err != nil {
				log.Warn("later commentary unavailable, continuing without companion text", "error", err)
				continue
			}
			var b strings.Builder
			for _, f := range frags {
				b.WriteString(f.Text)
				b.WriteString(" ")
			}
			companionText = strings.TrimSpace(b.String())

		case corpus.PredecessorCode, corpus.SourceCompendium:
			if alignRec == nil {
				continue
			}
			pa := alignRec.ParagraphMap[paragraphKey][string(id)]
			if id == corpus.SourceCompendium && pa.Mode != "linked-passages" {
				continue
			}
			if len(pa.Refs) == 0 {
				continue
			}
			var frags []corpus.Fragment
			for _, ref := range pa.Refs {
				res, err := o.resolver.FetchFragments(ctx, corpus.FragmentRef(ref), ref)
				if err != nil {
					log.Warn("skipping unreachable linked ref", "ref", ref, "error", err)
					continue
				}
				frags = append(frags, res.Fragments...)
			}
			out[id] = frags
		}
	}

	if len(out) == 0 {
		return nil, "", fmt.Errorf("orchestrator: zero corpora resolved any fragments")
	}
	return out, companionText, nil
}

func (o *Orchestrator) fetchExactParagraph(ctx context.Context, id corpus.ID, req Request) ([]corpus.Fragment, error) {
	var refString string
	var err error
	if req.Paragraph > 0 {
		refString, err = resolver.BuildRef(id, req.Section, req.Chapter, req.Paragraph)
	} else {
		refString, err = resolver.BuildRef(id, req.Section, req.Chapter, nil)
	}
	if err != nil {
		return nil, err
	}
	res, err := o.resolver.FetchFragments(ctx, corpus.FragmentRef(refString), refString)
	if err != nil {
		return nil, err
	}
	return res.Fragments, nil
}
