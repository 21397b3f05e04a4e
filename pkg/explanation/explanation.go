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

// Package explanation implements the per-fragment Explanation Memoizer of
// spec.md §4.E: cache-first lookup against the structured store key with a
// read-migrated legacy fallback, LLM generation with model cascade,
// Hebrew-ratio validation with one repair round, and write-back to both the
// structured and legacy keys.
package explanation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/yossefc/studio/pkg/hebrew"
	"github.com/yossefc/studio/pkg/llm"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/retry"
	"github.com/yossefc/studio/pkg/store"
)

// RefKey identifies one explanation slot in the structured store layout.
type RefKey struct {
	Section   string
	Chapter   int
	Paragraph int
	Corpus    string
	Ordinal   int
}

// Input is everything one explanation call needs.
type Input struct {
	Ref                  RefKey
	RefCanonical         string // provider-assigned ref string, for the legacy key
	CorpusLabel          string
	CurrentSegment       string
	PreviousSegmentText  string
	PreviousExplanation  string
	CompanionText        string // only set when Ref.Corpus is the primary work
	ContentHash          string
}

// Candidates is the ordered (preferred, cost, fallback) model list for this
// call.
type Candidates = llm.Candidates

// Output is the result of one Explain call.
type Output struct {
	Explanation   string
	ModelUsed     string
	CacheHit      bool
	PromptVersion string
	Validated     bool
	DurationMs    int64
}

// Options configures timeouts and the Hebrew-ratio validation threshold;
// all have spec.md §5/§6 defaults the caller (pkg/config) supplies.
type Options struct {
	GenerationTimeout   time.Duration
	RepairTimeout       time.Duration
	HebrewRatioThreshold float64
}

// Memoizer is the Explanation Memoizer.
type Memoizer struct {
	store    store.ExplanationStore
	provider llm.Provider
}

// New constructs a Memoizer.
func New(s store.ExplanationStore, provider llm.Provider) *Memoizer {
	return &Memoizer{store: s, provider: provider}
}

// LegacyKey computes the opaque legacy cache key of spec.md §4.E: a strong
// hash over (corpus | refCanonical | ordinal | contentHash | promptVersion
// | modelName).
func LegacyKey(corpus, refCanonical string, ordinal int, contentHash, promptVersion, modelName string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s", corpus, refCanonical, ordinal, contentHash, promptVersion, modelName)
	return hex.EncodeToString(h.Sum(nil))
}

// Explain implements the cache-first lookup, generation-on-miss, and
// write-back procedure of spec.md §4.E.
func (m *Memoizer) Explain(ctx context.Context, in Input, candidates Candidates, opts Options) (Output, error) {
	start := time.Now()
	log := logger.Component("cache")

	if rec, err := m.store.GetExplanation(ctx, in.Ref.Section, in.Ref.Chapter, in.Ref.Paragraph, in.Ref.Corpus, in.Ref.Ordinal); err == nil {
		if rec.IsHit(in.ContentHash, llm.ExplanationPromptVersion) {
			log.Debug("structured cache hit", "section", in.Ref.Section, "chapter", in.Ref.Chapter, "ordinal", in.Ref.Ordinal)
			return Output{
				Explanation:   rec.ExplanationText,
				ModelUsed:     rec.ModelName,
				CacheHit:      true,
				PromptVersion: rec.PromptVersion,
				Validated:     rec.Validated,
				DurationMs:    time.Since(start).Milliseconds(),
			}, nil
		}
	}

	ordered := llm.DedupCandidates(candidates.Preferred, candidates.Cost, candidates.Fallback)
	for _, model := range ordered {
		legacyKey := LegacyKey(in.Ref.Corpus, in.RefCanonical, in.Ref.Ordinal, in.ContentHash, llm.ExplanationPromptVersion, model)
		rec, err := m.store.GetLegacyExplanation(ctx, legacyKey)
		if err != nil || !rec.IsHit(in.ContentHash, llm.ExplanationPromptVersion) {
			continue
		}
		log.Debug("legacy cache hit, migrating", "model", model)
		rec.Section, rec.Chapter, rec.Paragraph, rec.Corpus, rec.Ordinal =
			in.Ref.Section, in.Ref.Chapter, in.Ref.Paragraph, in.Ref.Corpus, in.Ref.Ordinal
		if werr := m.store.PutExplanation(ctx, rec); werr != nil {
			log.Warn("legacy migration write failed", "error", werr)
		}
		return Output{
			Explanation:   rec.ExplanationText,
			ModelUsed:     rec.ModelName,
			CacheHit:      true,
			PromptVersion: rec.PromptVersion,
			Validated:     rec.Validated,
			DurationMs:    time.Since(start).Milliseconds(),
		}, nil
	}

	prompt := llm.BuildExplanationPrompt(in.CorpusLabel, in.CurrentSegment, in.PreviousSegmentText, in.PreviousExplanation, in.CompanionText)
	result, err := llm.Cascade(ctx, m.provider, ordered, prompt, opts.GenerationTimeout)
	if err != nil {
		return Output{}, err
	}

	rawText := result.Text
	finalText := rawText
	validated := validHebrewRatio(finalText, opts.HebrewRatioThreshold)

	if !validated {
		repaired, rerr := m.repair(ctx, result.ModelUsed, rawText, opts.RepairTimeout)
		if rerr == nil {
			finalText = repaired
			validated = validHebrewRatio(finalText, opts.HebrewRatioThreshold)
		} else {
			log.Warn("repair round failed, keeping unvalidated output", "error", rerr)
		}
	}

	rec := store.NewExplanationRecord()
	rec.Section, rec.Chapter, rec.Paragraph, rec.Corpus, rec.Ordinal =
		in.Ref.Section, in.Ref.Chapter, in.Ref.Paragraph, in.Ref.Corpus, in.Ref.Ordinal
	rec.RawText = rawText
	rec.ExplanationText = finalText
	rec.ContentHash = in.ContentHash
	rec.ModelName = result.ModelUsed
	rec.PromptVersion = llm.ExplanationPromptVersion
	rec.Validated = validated

	if err := m.store.PutExplanation(ctx, rec); err != nil {
		log.Error("structured write-back failed", "error", err)
		return Output{}, err
	}

	usedKey := LegacyKey(in.Ref.Corpus, in.RefCanonical, in.Ref.Ordinal, in.ContentHash, llm.ExplanationPromptVersion, result.ModelUsed)
	if err := m.store.PutLegacyExplanation(ctx, usedKey, rec); err != nil {
		log.Warn("legacy write-back failed", "error", err)
	}
	if candidates.Preferred != "" && candidates.Preferred != result.ModelUsed {
		preferredKey := LegacyKey(in.Ref.Corpus, in.RefCanonical, in.Ref.Ordinal, in.ContentHash, llm.ExplanationPromptVersion, candidates.Preferred)
		if err := m.store.PutLegacyExplanation(ctx, preferredKey, rec); err != nil {
			log.Warn("legacy write-back for preferred model failed", "error", err)
		}
	}

	return Output{
		Explanation:   finalText,
		ModelUsed:     result.ModelUsed,
		CacheHit:      false,
		PromptVersion: llm.ExplanationPromptVersion,
		Validated:     validated,
		DurationMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (m *Memoizer) repair(ctx context.Context, model, original string, timeout time.Duration) (string, error) {
	prompt := llm.BuildExplanationRepairPrompt(original)
	var out string
	err := retry.Do(ctx, retry.Options{
		MaxAttempts:       2,
		BaseBackoff:       baseRepairBackoff,
		PerAttemptTimeout: timeout,
	}, func(attemptCtx context.Context) error {
		text, err := m.provider.Generate(attemptCtx, model, prompt)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

const baseRepairBackoff = 400 * time.Millisecond

func validHebrewRatio(text string, threshold float64) bool {
	if threshold <= 0 {
		threshold = 0.7
	}
	return hebrew.Ratio(text) >= threshold
}
