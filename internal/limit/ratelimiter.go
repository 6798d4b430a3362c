package limit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBurstRatio is the share of the per-minute budget that may be spent
// at once when no explicit burst is configured.
const DefaultBurstRatio = 0.2

// RateLimiter is a token bucket throttle. Tokens refill continuously at
// rpm per minute up to the burst capacity. Over any window of W minutes at
// most rpm*W + burst calls are granted.
type RateLimiter struct {
	rpm     int
	burst   int
	limiter *rate.Limiter
}

// NewRateLimiter returns a limiter granting rpm requests per minute. A
// burst <= 0 defaults to 20% of rpm, at least 1.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if rpm < 1 {
		rpm = 1
	}
	if burst <= 0 {
		burst = max(1, int(float64(rpm)*DefaultBurstRatio))
	}
	return &RateLimiter{
		rpm:     rpm,
		burst:   burst,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst),
	}
}

// Wait consumes a token, sleeping for exactly as long as it takes for the
// next token to become available when the bucket is empty.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Allow consumes a token if one is available right now.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

func (r *RateLimiter) RPM() int {
	return r.rpm
}

func (r *RateLimiter) Burst() int {
	return r.burst
}
