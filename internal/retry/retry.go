// Package retry runs an operation with bounded attempts and exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/fault"
)

// Backoff returns the wait before the given retry (1 for the first retry).
type Backoff func(retry int) time.Duration

// Policy configures Do.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Exponential doubles from initial and caps at max.
func Exponential(initial, max time.Duration) Backoff {
	return func(retry int) time.Duration {
		d := initial
		for i := 1; i < retry; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		if d > max {
			return max
		}
		return d
	}
}

// DefaultPolicy is three attempts with 2s, 4s waits capped at 10s, retrying
// only errors fault.IsRetryable accepts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(2*time.Second, 10*time.Second),
		Retryable:   fault.IsRetryable,
		Sleep:       SleepContext,
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or attempts run out.
// The last error is returned.
func Do(ctx context.Context, p Policy, logger zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Retryable == nil {
		p.Retryable = fault.IsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if attempt == p.MaxAttempts {
			break
		}

		if !p.Retryable(err) {
			logger.Warn().Err(err).Str("op", op).Msg("Non-retriable error")
			return err
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		logger.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", p.MaxAttempts).
			Dur("retry_in", delay).
			Msg("Transient error, retrying")

		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}

	return err
}
