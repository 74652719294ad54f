package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles calls to a Provider. One Limited is shared by every
// document using the provider, so cross-document parallelism respects the
// provider's rate limit.
type Limited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewLimited allows rps requests per second with the given burst.
// rps <= 0 disables limiting.
func NewLimited(p Provider, rps float64, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	lim := rate.NewLimiter(rate.Inf, burst)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Limited{inner: p, limiter: lim}
}

func (l *Limited) Name() string { return l.inner.Name() }

func (l *Limited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return l.inner.Complete(ctx, req)
}
