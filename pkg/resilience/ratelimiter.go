package resilience

import (
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is reported when a caller exceeds its allowance.
var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures a token bucket.
type LimiterOpts struct {
	// Rate is tokens per second. Zero or less disables limiting.
	Rate float64
	// Burst is the bucket capacity; at least one.
	Burst int
}

// Limiter is a token bucket shared by concurrent callers.
type Limiter = rate.Limiter

// NewLimiter builds a token bucket from opts.
func NewLimiter(opts LimiterOpts) *Limiter {
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	return rate.NewLimiter(limit, max(opts.Burst, 1))
}

// Every allows one event per interval with the given burst.
func Every(interval time.Duration, burst int) LimiterOpts {
	return LimiterOpts{Rate: float64(rate.Every(interval)), Burst: burst}
}

// RetryAfter is how long a rejected client should back off, in whole
// seconds and at least one.
func (o LimiterOpts) RetryAfter() time.Duration {
	if o.Rate <= 0 || o.Rate >= 1 {
		return time.Second
	}
	return time.Duration(1/o.Rate+0.5) * time.Second
}
