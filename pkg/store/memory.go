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

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Store implementation used by component and
// orchestrator tests in place of a live Postgres instance; it honors the
// same conditional-lock semantics as Postgres so the single-flight
// testable properties of spec.md §8 hold against it.
type Memory struct {
	mu          sync.Mutex
	alignments  map[string]AlignmentRecord
	explanation map[string]ExplanationRecord
	legacy      map[string]ExplanationRecord
	canonical   map[string]CanonicalGuideRecord
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		alignments:  make(map[string]AlignmentRecord),
		explanation: make(map[string]ExplanationRecord),
		legacy:      make(map[string]ExplanationRecord),
		canonical:   make(map[string]CanonicalGuideRecord),
	}
}

func alignmentKey(section string, chapter int) string {
	return fmt.Sprintf("%s_%d", section, chapter)
}

func explanationKey(section string, chapter, paragraph int, corpus string, ordinal int) string {
	return fmt.Sprintf("%s/%d/%d/%s/%d", section, chapter, paragraph, corpus, ordinal)
}

func (m *Memory) AcquireAlignmentLock(ctx context.Context, section string, chapter int, ttl time.Duration, holder string) (AlignmentRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := alignmentKey(section, chapter)
	now := time.Now()
	rec, ok := m.alignments[key]
	if !ok {
		rec = NewAlignmentRecord(section, chapter)
		rec.Status = StatusBuilding
		rec.LockExpiresAt = now.Add(ttl)
		rec.LockHolder = holder
		rec.CreatedAt = now
		rec.UpdatedAt = now
		rec.SourceHash = map[string]string{}
		rec.ParagraphMap = map[string]map[string]ParagraphAlignment{}
		m.alignments[key] = rec
		return rec, true, nil
	}

	expired := rec.Status == StatusBuilding && rec.LockExpiresAt.Before(now)
	if rec.Status != StatusBuilding || expired {
		rec.Status = StatusBuilding
		rec.LockExpiresAt = now.Add(ttl)
		rec.LockHolder = holder
		rec.UpdatedAt = now
		m.alignments[key] = rec
		return rec, true, nil
	}
	return rec, false, nil
}

func (m *Memory) GetAlignment(ctx context.Context, section string, chapter int) (AlignmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.alignments[alignmentKey(section, chapter)]
	if !ok {
		return AlignmentRecord{}, ErrNotFound
	}
	return rec, rec.Validate()
}

func (m *Memory) CompleteAlignmentBuild(ctx context.Context, section string, chapter int, sourceHash map[string]string, paragraphMap map[string]map[string]ParagraphAlignment) (AlignmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alignmentKey(section, chapter)
	rec := m.alignments[key]
	now := time.Now()
	rec.Status = StatusReady
	rec.LockExpiresAt = time.Time{}
	rec.LockHolder = ""
	rec.SourceHash = sourceHash
	rec.ParagraphMap = paragraphMap
	rec.SourceCheckedAt = now
	rec.Error = ""
	rec.UpdatedAt = now
	m.alignments[key] = rec
	return rec, nil
}

func (m *Memory) FailAlignmentBuild(ctx context.Context, section string, chapter int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alignmentKey(section, chapter)
	rec := m.alignments[key]
	rec.Status = StatusFailed
	rec.LockExpiresAt = time.Time{}
	rec.LockHolder = ""
	rec.Error = errMsg
	rec.UpdatedAt = time.Now()
	m.alignments[key] = rec
	return nil
}

func (m *Memory) TouchSourceCheckedAt(ctx context.Context, section string, chapter int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := alignmentKey(section, chapter)
	rec := m.alignments[key]
	rec.SourceCheckedAt = time.Now()
	m.alignments[key] = rec
	return nil
}

func (m *Memory) GetExplanation(ctx context.Context, section string, chapter, paragraph int, corpus string, ordinal int) (ExplanationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.explanation[explanationKey(section, chapter, paragraph, corpus, ordinal)]
	if !ok {
		return ExplanationRecord{}, ErrNotFound
	}
	return rec, rec.Validate()
}

func (m *Memory) GetLegacyExplanation(ctx context.Context, legacyKey string) (ExplanationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.legacy[legacyKey]
	if !ok {
		return ExplanationRecord{}, ErrNotFound
	}
	return rec, rec.Validate()
}

func (m *Memory) PutExplanation(ctx context.Context, rec ExplanationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Version == 0 {
		rec.Version = schemaVersion
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.explanation[explanationKey(rec.Section, rec.Chapter, rec.Paragraph, rec.Corpus, rec.Ordinal)] = rec
	return nil
}

func (m *Memory) PutLegacyExplanation(ctx context.Context, legacyKey string, rec ExplanationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Version == 0 {
		rec.Version = schemaVersion
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	m.legacy[legacyKey] = rec
	return nil
}

func (m *Memory) AcquireCanonicalLock(ctx context.Context, fingerprint string, staleAfter time.Duration) (CanonicalGuideRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec, ok := m.canonical[fingerprint]
	if !ok {
		rec = NewCanonicalGuideRecord(fingerprint)
		rec.Status = StatusProcessing
		rec.CreatedAt = now
		rec.UpdatedAt = now
		m.canonical[fingerprint] = rec
		return rec, true, nil
	}

	switch rec.Status {
	case StatusReady:
		return rec, false, nil
	case StatusProcessing:
		if now.Sub(rec.UpdatedAt) < staleAfter {
			return rec, false, nil
		}
	}

	rec.Status = StatusProcessing
	rec.UpdatedAt = now
	m.canonical[fingerprint] = rec
	return rec, true, nil
}

func (m *Memory) GetCanonical(ctx context.Context, fingerprint string) (CanonicalGuideRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.canonical[fingerprint]
	if !ok {
		return CanonicalGuideRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) IsCancelRequested(ctx context.Context, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.canonical[fingerprint]
	if !ok {
		return false, nil
	}
	return rec.CancelRequested, nil
}

// SetCancelRequested is a test/external-agent hook simulating the caller
// setting the cancellation flag on the external guide record.
func (m *Memory) SetCancelRequested(fingerprint string, cancel bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.canonical[fingerprint]
	if !ok {
		return
	}
	rec.CancelRequested = cancel
	m.canonical[fingerprint] = rec
}

func (m *Memory) CompleteCanonical(ctx context.Context, rec CanonicalGuideRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Status = StatusReady
	rec.UpdatedAt = time.Now()
	rec.ChunkCount = len(rec.Chunks)
	m.canonical[rec.Fingerprint] = rec
	return nil
}

func (m *Memory) FailCanonical(ctx context.Context, fingerprint string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.canonical[fingerprint]
	rec.Status = StatusFailed
	rec.Error = reason
	rec.UpdatedAt = time.Now()
	m.canonical[fingerprint] = rec
	return nil
}

var _ Store = (*Memory)(nil)
