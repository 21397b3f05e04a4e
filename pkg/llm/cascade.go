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

package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/yossefc/studio/pkg/apperr"
	"github.com/yossefc/studio/pkg/logger"
	"github.com/yossefc/studio/pkg/retry"
)

const (
	maxRetriesPerCandidate = 3
	baseBackoff            = 400 * time.Millisecond
)

// Result is the outcome of a successful Cascade call.
type Result struct {
	Text      string
	ModelUsed string
}

// Cascade runs candidates in order — preferred, cost, fallback, deduplicated
// — calling provider.Generate for each with up to maxRetriesPerCandidate
// attempts, and returns as soon as one candidate succeeds (spec.md §9
// Design Note 4: the candidate loop early-returns on success explicitly,
// rather than relying on the inner retry loop to end early).
func Cascade(ctx context.Context, provider Provider, candidates []string, prompt string, timeout time.Duration) (Result, error) {
	seen := make(map[string]bool, len(candidates))
	var lastErr error

	for _, model := range candidates {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		var text string
		err := retry.Do(ctx, retry.Options{
			MaxAttempts:       maxRetriesPerCandidate,
			BaseBackoff:       baseBackoff,
			PerAttemptTimeout: timeout,
			Classify:          classifyForCascade,
		}, func(attemptCtx context.Context) error {
			out, genErr := provider.Generate(attemptCtx, model, prompt)
			if genErr != nil {
				if attemptCtx.Err() != nil {
					logger.Component("llm-retry").Warn("attempt abandoned on timeout", "model", model)
				}
				return genErr
			}
			text = out
			return nil
		})

		if err == nil {
			return Result{Text: text, ModelUsed: model}, nil
		}
		logger.Component("llm-retry").Warn("candidate exhausted", "model", model, "error", err)
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("llm: no candidate models supplied")
	}
	return Result{}, apperr.Wrap(apperr.KindLLMPermanent, "llm-retry", "all candidates exhausted", lastErr)
}

// classifyForCascade maps a raw provider error to the retry loop's
// classification, per spec.md §4.E: model-unavailable/quota-exhausted skip
// the remaining attempts for this candidate; transient errors retry;
// everything else stops this candidate immediately.
func classifyForCascade(err error) retry.Classification {
	switch Classify(err) {
	case apperr.KindLLMModelUnavailable, apperr.KindLLMQuotaExhausted:
		return retry.SkipRemaining
	case apperr.KindLLMTransient:
		return retry.Retry
	default:
		return retry.Stop
	}
}

// DedupCandidates returns preferred/cost/fallback with empties and
// duplicates removed, preserving order.
func DedupCandidates(preferred, cost, fallback string) []string {
	ordered := []string{preferred, cost, fallback}
	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(ordered))
	for _, m := range ordered {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
