// Package resilience provides the circuit breaker and rate limiter that
// guard calls to language-model backends and the HTTP surface.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned instead of calling through an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerOpts configures a Breaker. Zero fields take DefaultBreakerOpts.
type BreakerOpts struct {
	// FailThreshold consecutive failures open the breaker.
	FailThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenMax probes may be in flight while half-open.
	HalfOpenMax int
	// IsFailure decides which errors count. Nil counts every error except
	// context cancellation.
	IsFailure func(error) bool
	// OnStateChange runs after each transition, outside the breaker's lock.
	OnStateChange func(from, to State)
}

// DefaultBreakerOpts suits a model server: five straight failures open the
// breaker for thirty seconds.
var DefaultBreakerOpts = BreakerOpts{
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

type transition struct{ from, to State }

// Breaker is a closed/open/half-open circuit breaker. Every transition
// starts a new generation; outcomes of calls admitted in an earlier
// generation are ignored.
type Breaker struct {
	opts BreakerOpts
	now  func() time.Time

	mu       sync.Mutex
	state    State
	gen      uint64
	failures int
	probes   int
	reopenAt time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax <= 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	return &Breaker{opts: opts, now: time.Now}
}

// set moves to state to and records the transition. Must hold mu.
func (b *Breaker) set(to State, log *[]transition) {
	if b.state == to {
		return
	}
	*log = append(*log, transition{b.state, to})
	b.state = to
	b.gen++
	b.failures = 0
	b.probes = 0
	if to == StateOpen {
		b.reopenAt = b.now().Add(b.opts.Timeout)
	}
}

// expire half-opens an open breaker whose timeout has passed. Must hold mu.
func (b *Breaker) expire(log *[]transition) {
	if b.state == StateOpen && !b.now().Before(b.reopenAt) {
		b.set(StateHalfOpen, log)
	}
}

func (b *Breaker) fire(log []transition) {
	if b.opts.OnStateChange == nil {
		return
	}
	for _, t := range log {
		b.opts.OnStateChange(t.from, t.to)
	}
}

// State reports the current state.
func (b *Breaker) State() State {
	var log []transition
	b.mu.Lock()
	b.expire(&log)
	s := b.state
	b.mu.Unlock()
	b.fire(log)
	return s
}

func (b *Breaker) before() (uint64, error) {
	var log []transition
	b.mu.Lock()
	b.expire(&log)
	gen := b.gen
	var err error
	switch b.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.opts.HalfOpenMax {
			err = ErrCircuitOpen
		} else {
			b.probes++
		}
	}
	b.mu.Unlock()
	b.fire(log)
	return gen, err
}

func (b *Breaker) after(gen uint64, err error) {
	var log []transition
	b.mu.Lock()
	if gen == b.gen {
		switch {
		case err == nil:
			b.set(StateClosed, &log)
			b.failures = 0
		case b.opts.IsFailure(err):
			b.failures++
			if b.state == StateHalfOpen || b.failures >= b.opts.FailThreshold {
				b.set(StateOpen, &log)
			}
		case b.state == StateHalfOpen:
			// An uncounted probe outcome frees its slot.
			b.probes--
		}
	}
	b.mu.Unlock()
	b.fire(log)
}

// Call runs f unless the breaker rejects it.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = f(ctx)
	b.after(gen, err)
	return err
}

// Do is the value-returning form of Call.
func Do[T any](ctx context.Context, b *Breaker, f func(context.Context) (T, error)) (T, error) {
	gen, err := b.before()
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := f(ctx)
	b.after(gen, err)
	return v, err
}
