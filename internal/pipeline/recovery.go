package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
)

// Strategy attempts to recover from pe by calling retry. It returns nil when
// the stage eventually succeeded, or the last error otherwise.
type Strategy func(ctx context.Context, pe *common.PipelineError, retry func(context.Context) error) error

// Recovery is a registry of strategies keyed by error category.
type Recovery struct {
	mu         sync.RWMutex
	strategies map[common.ErrorCategory]Strategy
	logger     *slog.Logger
}

// NewRecovery returns a registry with bounded retry-with-delay registered for
// network errors.
func NewRecovery(logger *slog.Logger) *Recovery {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recovery{strategies: map[common.ErrorCategory]Strategy{}, logger: logger}
	r.Register(common.CategoryNetwork, RetryWithDelay(3, time.Second, logger))
	return r
}

// Register sets the strategy for cat, replacing any previous one.
func (r *Recovery) Register(cat common.ErrorCategory, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[cat] = s
}

// Recover runs the strategy registered for pe's category. Without one, pe is
// returned unchanged.
func (r *Recovery) Recover(ctx context.Context, pe *common.PipelineError, retry func(context.Context) error) error {
	if r == nil || pe == nil {
		return pe
	}
	r.mu.RLock()
	s, ok := r.strategies[pe.Category]
	r.mu.RUnlock()
	if !ok {
		return pe
	}
	return s(ctx, pe, retry)
}

// RetryWithDelay retries up to attempts times, doubling delay after each try.
func RetryWithDelay(attempts int, delay time.Duration, logger *slog.Logger) Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, pe *common.PipelineError, retry func(context.Context) error) error {
		var err error = pe
		d := delay
		for i := 0; i < attempts; i++ {
			common.LoggerFrom(ctx, logger).Warn("pipeline.recovery.retry",
				"stage", pe.Stage,
				"category", pe.Category,
				"attempt", i+1,
				"delay_ms", d.Milliseconds(),
			)
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
			if err = retry(ctx); err == nil {
				return nil
			}
			d *= 2
		}
		return err
	}
}
