package crawl

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ChuanYuanNotBoat/malody-api/internal/metrics"
)

// RateLimiter is a token-bucket gate shared by all outbound fetches. Waiters
// are served in arrival order; a waiter whose context deadline elapses fails
// with ErrRateLimited without consuming a token.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter builds a limiter refilling at rps tokens per second with the
// given burst capacity. A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	r := rate.Limit(rps)
	if rps <= 0 {
		r = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(r, burst)}
}

// Acquire blocks until a token is available or ctx finishes. Deadline and
// would-exceed-deadline failures surface as ErrRateLimited so callers can
// back off and retry later.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}
	return nil
}
