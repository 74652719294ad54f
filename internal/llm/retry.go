package llm

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Backoff is an exponential retry policy for transient provider errors.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool

	// Rand returns a value in [0,1); nil uses math/rand.
	Rand func() float64
}

// BackoffFrom converts a config section into a policy.
func BackoffFrom(c common.RetryConfig) Backoff {
	return Backoff{MaxAttempts: c.MaxAttempts, BaseDelay: c.BaseDelay, MaxDelay: c.MaxDelay, Jitter: c.Jitter}
}

// Delay returns the wait before retry number attempt (0-based):
// base*2^attempt, capped at MaxDelay, scaled into [0.5,1.0) when Jitter is set.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(2, float64(attempt))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}
	if b.Jitter {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d *= 0.5 + r()*0.5
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempt budget is spent. It reports how many retries were made.
func Retry[T any](ctx context.Context, b Backoff, logger *slog.Logger, op string, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := fn(ctx, attempt)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if !common.IsTransient(err) || attempt == attempts-1 {
			return zero, attempt, err
		}
		delay := b.Delay(attempt)
		logger.Warn(op+".retry",
			"attempt", attempt+1,
			"max_attempts", attempts,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, attempt, err
		}
	}
	return zero, attempts - 1, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
