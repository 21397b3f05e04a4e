package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_StopClassificationEndsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		Classify:    func(error) Classification { return Stop },
	}, func(ctx context.Context) error {
		calls++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call with Stop classification, got %d", calls)
	}
}

func TestDo_SkipRemainingEndsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{
		MaxAttempts: 5,
		BaseBackoff: time.Millisecond,
		Classify:    func(error) Classification { return SkipRemaining },
	}, func(ctx context.Context) error {
		calls++
		return errors.New("model unavailable")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call with SkipRemaining classification, got %d", calls)
	}
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Options{MaxAttempts: 3, BaseBackoff: time.Millisecond}, func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Options{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			cancel()
		}
		return errors.New("fail")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected loop to stop after cancellation, got %d calls", calls)
	}
}
