package retry

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound requests. It is shared between the API transport
// and the download workers so both draw from the same budget.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a RateLimiter allowing rps requests per second with the given burst
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Unlimited returns a RateLimiter that never blocks
func Unlimited() *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
}

// Wait blocks until a request is allowed or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
