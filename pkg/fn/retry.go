package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry. Waits double from InitialWait up to MaxWait.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Jitter scales each wait by a random factor in [0.5, 1.5).
	Jitter bool
	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// DefaultRetry suits calls to the vector store and model servers.
var DefaultRetry = RetryOpts{
	MaxAttempts: 3,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

func (o RetryOpts) wait(attempt int) time.Duration {
	d := o.InitialWait << attempt
	if d < o.InitialWait {
		d = o.MaxWait
	}
	if o.Jitter {
		d = time.Duration(float64(d) * (0.5 + rand.Float64()))
	}
	if o.MaxWait > 0 && d > o.MaxWait {
		d = o.MaxWait
	}
	return d
}

// Retry calls f until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. It returns ctx.Err() if ctx ends while waiting.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	for attempt := 0; ; attempt++ {
		res := f(ctx)
		if res.IsOk() || attempt+1 >= attempts {
			return res
		}
		if opts.Retryable != nil && !opts.Retryable(res.err) {
			return res
		}

		timer := time.NewTimer(opts.wait(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return Err[T](ctx.Err())
		case <-timer.C:
		}
	}
}
