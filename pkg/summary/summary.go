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

// Package summary implements the Summary Producer of spec.md §4.F: it
// combines per-corpus explanations into a single Hebrew prompt, generates
// one structured summary via the model cascade, strips meta-preamble and
// forbidden-phrase lines, and validates the result with one repair round.
package summary

import (
	"context"
	"strings"
	"time"

	"github.com/yossefc/studio/pkg/corpus"
	"github.com/yossefc/studio/pkg/hebrew"
	"github.com/yossefc/studio/pkg/llm"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/retry"
)

// CorpusSection is one corpus's combined, ordered explanation text, headed
// by its display label in the prompt.
type CorpusSection struct {
	CorpusID corpus.ID
	Label    string
	Text     string
}

// Result is the outcome of Produce.
type Result struct {
	Summary          string
	ModelUsed        string
	Validated        bool
	ValidationErrors []string
}

const repairTimeout = 45 * time.Second

// Produce builds the combined-text prompt, runs the model cascade, and
// validates/repairs the result.
func Produce(ctx context.Context, provider llm.Provider, sections []CorpusSection, candidates llm.Candidates, timeout time.Duration) (Result, error) {
	prompt := buildPrompt(sections)
	ordered := llm.DedupCandidates(candidates.Preferred, candidates.Cost, candidates.Fallback)
	out, err := llm.Cascade(ctx, provider, ordered, prompt, timeout)
	if err != nil {
		return Result{}, err
	}

	text, valid, verrs := cleanAndValidate(out.Text)
	if !valid {
		repaired, rerr := repair(ctx, provider, out.ModelUsed, text, verrs)
		if rerr == nil {
			text, valid, verrs = cleanAndValidate(repaired)
		} else {
			logger.Component("summary").Warn("repair round failed, keeping unvalidated summary", "error", rerr)
		}
	}

	return Result{
		Summary:          text,
		ModelUsed:        out.ModelUsed,
		Validated:        valid,
		ValidationErrors: verrs,
	}, nil
}

func repair(ctx context.Context, provider llm.Provider, model, original string, verrs []string) (string, error) {
	prompt := buildRepairPrompt(original, verrs)
	var out string
	err := retry.Do(ctx, retry.Options{
		MaxAttempts:       2,
		BaseBackoff:       baseRepairBackoff,
		PerAttemptTimeout: repairTimeout,
	}, func(attemptCtx context.Context) error {
		text, err := provider.Generate(attemptCtx, model, prompt)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

const baseRepairBackoff = 400 * time.Millisecond

// buildPrompt names the majority-of-opinions, primary-decision,
// later-commentary-additions, and closing practical-ruling sections
// conditionally on which corpora are present, per spec.md §4.F.
func buildPrompt(sections []CorpusSection) string {
	present := make(map[corpus.ID]bool, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Text) != "" {
			present[s.CorpusID] = true
		}
	}

	var b strings.Builder
	b.WriteString("יש לחבר סיכום הלכתי אחד בעברית בלבד, המבוסס על קטעי המקור הבאים.\n")

	secondaryCount := 0
	for _, id := range []corpus.ID{corpus.PredecessorCode, corpus.SourceCompendium} {
		if present[id] {
			secondaryCount++
		}
	}
	if secondaryCount >= 2 && present[corpus.Primary] {
		b.WriteString("יש לפתוח בסעיף המסכם את ריבוי הדעות בין המקורות.\n")
	}
	if present[corpus.Primary] {
		b.WriteString("יש לכלול סעיף המפרט את הכרעת ההלכה העיקרית.\n")
	}
	if present[corpus.LaterCommentary] {
		b.WriteString("יש לכלול סעיף המוסיף את חידושי הפרשנות המאוחרת.\n")
	}
	b.WriteString("יש לסיים בסעיף המלכה למעשה, בצורת רשימת תבליטים (בתחילת כל שורה תבליט \"- \").\n")
	b.WriteString("אין לכתוב הקדמה או הערות מחוץ לגוף הסיכום.\n\n")

	for _, s := range sections {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		b.WriteString(s.Label)
		b.WriteString(":\n")
		b.WriteString(s.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("סיכום:")
	return b.String()
}

const maxPreambleLinesExamined = 5

// cleanAndValidate drops, as whole lines, any of the first
// maxPreambleLinesExamined non-empty lines that start with one of
// llm.ForbiddenPreamblePrefixes (later lines are kept as they are), then
// validates non-emptiness, Hebrew ratio, and bullet-line presence.
func cleanAndValidate(text string) (string, bool, []string) {
	lines := strings.Split(text, "\n")
	var kept []string
	examined := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			kept = append(kept, line)
			continue
		}
		if examined < maxPreambleLinesExamined && hasForbiddenPrefix(trimmed) {
			examined++
			continue
		}
		examined++
		kept = append(kept, line)
	}
	cleaned := strings.TrimSpace(strings.Join(kept, "\n"))

	var errs []string
	if cleaned == "" {
		errs = append(errs, "empty summary")
	}
	if ratio := hebrew.Ratio(cleaned); ratio < 0.7 {
		errs = append(errs, "hebrew ratio below threshold")
	}
	if !hasBulletLine(cleaned) {
		errs = append(errs, "no bullet line found")
	}
	return cleaned, len(errs) == 0, errs
}

func hasForbiddenPrefix(line string) bool {
	for _, prefix := range llm.ForbiddenPreamblePrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func hasBulletLine(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "•") || strings.HasPrefix(trimmed, "* ") {
			return true
		}
	}
	return false
}
