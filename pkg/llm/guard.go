package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/wessley-garage/pkg/resilience"
)

// GuardOpts configures a Guard.
type GuardOpts struct {
	// Name identifies the backend in logs.
	Name string
	// Interval and Burst pace outgoing calls. Zero Interval disables pacing.
	Interval time.Duration
	Burst    int
	Breaker  resilience.BreakerOpts
}

// Guard wraps a Completer with call pacing and a circuit breaker.
type Guard struct {
	next    Completer
	name    string
	limiter *resilience.Limiter
	breaker *resilience.Breaker
}

// NewGuard wraps next. A nil logger uses slog.Default().
func NewGuard(next Completer, opts GuardOpts, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "llm"
	}
	lopts := resilience.LimiterOpts{}
	if opts.Interval > 0 {
		lopts = resilience.Every(opts.Interval, opts.Burst)
	}
	bopts := opts.Breaker
	prev := bopts.OnStateChange
	bopts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("llm breaker state changed", "backend", opts.Name, "from", from.String(), "to", to.String())
		if prev != nil {
			prev(from, to)
		}
	}
	return &Guard{
		next:    next,
		name:    opts.Name,
		limiter: resilience.NewLimiter(lopts),
		breaker: resilience.NewBreaker(bopts),
	}
}

// Complete waits for a pacing token, then calls the wrapped backend through
// the breaker.
func (g *Guard) Complete(ctx context.Context, req Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: %s: wait: %w", g.name, err)
	}
	out, err := resilience.Do(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.next.Complete(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", g.name, err)
	}
	return out, nil
}
