package store

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireAlignmentLock_FirstCallerWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, acquired, err := m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected first caller to acquire the lock")
	}
	if rec.Status != StatusBuilding {
		t.Errorf("expected status building, got %s", rec.Status)
	}
}

func TestAcquireAlignmentLock_SecondCallerBlockedWhileActive(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, _ = m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder-1")
	rec, acquired, err := m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Fatal("expected second caller to be blocked by an active lock")
	}
	if rec.LockHolder != "holder-1" {
		t.Errorf("expected to observe holder-1's lock, got %q", rec.LockHolder)
	}
}

func TestAcquireAlignmentLock_ExpiredLockIsReacquirable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, _ = m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, -1*time.Second, "holder-1")
	_, acquired, err := m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected expired lock to be reacquirable")
	}
}

func TestAcquireAlignmentLock_ReadyRecordIsReacquirable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, _ = m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder-1")
	_, err := m.CompleteAlignmentBuild(ctx, "Orach Chayim", 24, map[string]string{"primary": "h1"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, acquired, err := m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected a ready record to be reacquirable for a rebuild")
	}
	if rec.Status != StatusBuilding {
		t.Errorf("expected status building after reacquire, got %s", rec.Status)
	}
}

func TestAcquireAlignmentLock_ConcurrentCallersSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	acquiredCount := 0
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, acquired, err := m.AcquireAlignmentLock(ctx, "Orach Chayim", 24, 5*time.Minute, "holder")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if acquired {
				mu.Lock()
				acquiredCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if acquiredCount != 1 {
		t.Errorf("expected exactly one winner among %d concurrent callers, got %d", n, acquiredCount)
	}
}

func TestExplanationCache_HitRequiresMatchingHashAndVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := NewExplanationRecord()
	rec.Section, rec.Chapter, rec.Paragraph, rec.Corpus, rec.Ordinal = "Orach Chayim", 24, 1, "primary", 0
	rec.ContentHash = "abc123"
	rec.PromptVersion = "v3.4-rabbanut"
	rec.ExplanationText = "פירוש"

	if err := m.PutExplanation(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.GetExplanation(ctx, "Orach Chayim", 24, 1, "primary", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsHit("abc123", "v3.4-rabbanut") {
		t.Error("expected a cache hit for matching hash/version")
	}
	if got.IsHit("different", "v3.4-rabbanut") {
		t.Error("expected a miss for a different content hash")
	}
}

func TestCanonicalLock_ProcessingThenReadyLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec, acquired, err := m.AcquireCanonicalLock(ctx, "fp1", 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired || rec.Status != StatusProcessing {
		t.Fatalf("expected fresh acquire into processing, got acquired=%v status=%s", acquired, rec.Status)
	}

	_, acquired, err = m.AcquireCanonicalLock(ctx, "fp1", 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Fatal("expected second caller to observe the active processing lock")
	}

	rec.Status = StatusReady
	rec.SummaryText = "summary"
	if err := m.CompleteCanonical(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final, acquired, err := m.AcquireCanonicalLock(ctx, "fp1", 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Fatal("expected a ready record to be returned as-is, not reacquired")
	}
	if final.Status != StatusReady || final.SummaryText != "summary" {
		t.Errorf("expected ready record with summary, got %+v", final)
	}
}

func TestCanonicalLock_StaleProcessingIsReacquirable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, _ = m.AcquireCanonicalLock(ctx, "fp2", -1*time.Second)
	_, acquired, err := m.AcquireCanonicalLock(ctx, "fp2", -1*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected a stale processing lock to be reacquirable")
	}
}

func TestCancelRequested_DefaultsFalse(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, _, _ = m.AcquireCanonicalLock(ctx, "fp3", 10*time.Minute)

	cancel, err := m.IsCancelRequested(ctx, "fp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancel {
		t.Error("expected cancellation flag to default false")
	}

	m.SetCancelRequested("fp3", true)
	cancel, err = m.IsCancelRequested(ctx, "fp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cancel {
		t.Error("expected cancellation flag to reflect SetCancelRequested")
	}
}
