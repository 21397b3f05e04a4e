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

// Package retry provides the exponential-backoff retry loop shared by the
// LLM cascade (pkg/llm) and the upstream text-provider client
// (pkg/textprovider), per spec.md §4.E: attempts bounded by a per-attempt
// timeout, backoff of base*2^(attempt-1), and a classifier that decides
// whether a given error should be retried at all.
package retry

import (
	"context"
	"time"
)

// Classification tells the retry loop what to do after an attempt failed.
type Classification int

const (
	// Stop means do not retry; the candidate/operation has failed for good.
	Stop Classification = iota
	// Retry means back off and try again, up to MaxAttempts.
	Retry
	// SkipRemaining means do not retry this candidate at all — move to
	// whatever the caller considers the next candidate (used for
	// model-unavailable / quota-exhausted errors in the LLM cascade).
	SkipRemaining
)

// Classifier decides how to handle an error returned by Attempt.
type Classifier func(err error) Classification

// Options configures a retry loop.
type Options struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// BaseBackoff is the backoff duration used in base*2^(attempt-1); attempt
	// is 1-based, so the first retry waits exactly BaseBackoff.
	BaseBackoff time.Duration

	// PerAttemptTimeout bounds each individual attempt. Zero means no
	// per-attempt timeout beyond ctx's own deadline.
	PerAttemptTimeout time.Duration

	// Classify decides what to do with an attempt's error. A nil Classify
	// always retries generic errors (Retry) until MaxAttempts is exhausted.
	Classify Classifier
}

// Attempt is one unit of retryable work. It receives a context scoped to
// PerAttemptTimeout (if configured) and must respect ctx.Done().
type Attempt func(ctx context.Context) error

// Do runs fn up to opts.MaxAttempts times, backing off between attempts per
// opts.BaseBackoff and classifying each failure with opts.Classify. It
// returns nil on the first success, or the last error seen if every attempt
// failed or a Stop/SkipRemaining classification ended the loop early.
func Do(ctx context.Context, opts Options, fn Attempt) error {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	classify := opts.Classify
	if classify == nil {
		classify = func(error) Classification { return Retry }
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.PerAttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.PerAttemptTimeout)
		}

		err := fn(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}

		switch classify(err) {
		case Stop, SkipRemaining:
			return lastErr
		case Retry:
			if attempt == opts.MaxAttempts {
				return lastErr
			}
			backoff := opts.BaseBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}
