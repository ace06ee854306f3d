package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/fault"
)

func noSleepPolicy(waits *[]time.Duration) Policy {
	p := DefaultPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestExponential(t *testing.T) {
	t.Parallel()

	b := Exponential(2*time.Second, 10*time.Second)
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := b(i + 1); got != w {
			t.Errorf("retry %d: got %v, want %v", i+1, got, w)
		}
	}
}

func TestDo_SucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), noSleepPolicy(&waits), zerolog.Nop(), "send", func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.New(fault.Transient, "send", errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != 2*time.Second || waits[1] != 4*time.Second {
		t.Fatalf("unexpected waits: %v", waits)
	}
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), noSleepPolicy(&waits), zerolog.Nop(), "send", func(context.Context) error {
		calls++
		return fault.New(fault.Transient, "send", errors.New("timeout"))
	})
	if !fault.Is(err, fault.Transient) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits, got %v", waits)
	}
}

func TestDo_DoesNotRetryValidation(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), noSleepPolicy(&waits), zerolog.Nop(), "send", func(context.Context) error {
		calls++
		return fault.New(fault.Validation, "send", errors.New("malformed payload"))
	})
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 1 || len(waits) != 0 {
		t.Fatalf("validation errors must not be retried: calls=%d waits=%v", calls, waits)
	}
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := DefaultPolicy()
	p.Sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	err := Do(ctx, p, zerolog.Nop(), "send", func(context.Context) error {
		calls++
		return fault.New(fault.Transient, "send", errors.New("503"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected a single failed call, got calls=%d err=%v", calls, err)
	}
}
