package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the rate-limiting policy applied after each detail fetch.
// The crawl logic never knows which strategy is in use, so tests can
// substitute a zero-delay limiter without touching it.
type Limiter interface {
	Wait(ctx context.Context) error
}

type fixedDelay struct {
	d time.Duration
}

// FixedDelay pauses for a constant duration on every call. A zero or
// negative duration makes it a no-op.
func FixedDelay(d time.Duration) Limiter {
	return fixedDelay{d: d}
}

func (f fixedDelay) Wait(ctx context.Context) error {
	if f.d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(f.d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type tokenBucket struct {
	limiter *rate.Limiter
}

// TokenBucket allows short bursts while keeping the aggregate request
// rate at requestsPerSecond.
func TokenBucket(requestsPerSecond float64, burst int) Limiter {
	return tokenBucket{limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst)}
}

func (t tokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
