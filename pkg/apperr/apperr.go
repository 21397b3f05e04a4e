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

// Package apperr defines the closed error taxonomy of spec.md §7: the kinds
// of failure the pipeline distinguishes, independent of which component
// raised them. Components classify raw upstream/LLM errors into one of
// these kinds; callers branch on kind with errors.As, never on message
// text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds the pipeline distinguishes.
type Kind string

const (
	// KindUpstreamNotFound covers a non-2xx response from the text or link
	// endpoint for a given ref.
	KindUpstreamNotFound Kind = "upstream_not_found"

	// KindUpstreamSchemaDrift covers a 2xx response missing required fields
	// (he/ref). Treated identically to KindUpstreamNotFound by callers.
	KindUpstreamSchemaDrift Kind = "upstream_schema_drift"

	// KindLLMModelUnavailable triggers an immediate cascade to the next
	// candidate model, without retrying the current one.
	KindLLMModelUnavailable Kind = "llm_model_unavailable"

	// KindLLMQuotaExhausted also triggers an immediate cascade, without
	// retry.
	KindLLMQuotaExhausted Kind = "llm_quota_exhausted"

	// KindLLMTransient is retried with backoff before cascading.
	KindLLMTransient Kind = "llm_transient"

	// KindLLMPermanent fails the current candidate; the cascade continues
	// to the next one, and bubbles up only once every candidate is
	// exhausted.
	KindLLMPermanent Kind = "llm_permanent"

	// KindValidationFailure triggers one repair round; if the repaired
	// output still fails, the record is written with validated=false and
	// returned — not treated as a hard error by the orchestrator.
	KindValidationFailure Kind = "validation_failure"

	// KindLockContention is raised only when a polling wait exceeds its
	// overall timeout.
	KindLockContention Kind = "lock_contention"

	// KindStoreFailure covers a failed terminal write to the persistent
	// store.
	KindStoreFailure Kind = "store_failure"
)

// Error is the typed error carrying a Kind plus the wrapped cause. All
// pipeline components return *Error (never raw errors) for conditions that
// the taxonomy names, so callers can branch with errors.As.
type Error struct {
	Kind      Kind
	Component string // e.g. "alignment", "llm-retry", "cache", "textprovider", "orchestrator"
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Component, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Component, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind, component tag, and message.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap constructs an *Error of the given kind, component tag, and message,
// wrapping cause.
func Wrap(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err and true if err is an *Error, or ("", false)
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ErrCancelled is a sentinel returned by the orchestrator when a request was
// cooperatively cancelled. It is a distinct outcome, not a member of Kind —
// spec.md §7 treats cancellation as its own discriminated result, never as
// an error kind callers branch on.
var ErrCancelled = errors.New("apperr: request cancelled")

// ErrTimeout is returned by polling loops (alignment lock wait, canonical
// guide wait) that exceed their overall timeout without observing the
// expected state transition.
var ErrTimeout = errors.New("apperr: timed out waiting for state transition")
