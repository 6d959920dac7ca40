package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/WessleyAI/wessley-garage/pkg/resilience"
)

func TestGuardPassesThrough(t *testing.T) {
	var got Request
	g := NewGuard(CompleterFunc(func(_ context.Context, req Request) (string, error) {
		got = req
		return "answer", nil
	}), GuardOpts{Name: "test"}, nil)

	out, err := g.Complete(context.Background(), Request{UserMessage: "q", Params: Params{Temperature: 0.7}})
	if err != nil || out != "answer" {
		t.Fatalf("got %q, %v", out, err)
	}
	if got.UserMessage != "q" || got.Params.Temperature != 0.7 {
		t.Fatalf("request not forwarded: %+v", got)
	}
}

func TestGuardOpensBreaker(t *testing.T) {
	calls := 0
	boom := errors.New("backend down")
	g := NewGuard(CompleterFunc(func(context.Context, Request) (string, error) {
		calls++
		return "", boom
	}), GuardOpts{Breaker: resilience.BreakerOpts{FailThreshold: 2}}, nil)

	for i := 0; i < 2; i++ {
		if _, err := g.Complete(context.Background(), Request{}); !errors.Is(err, boom) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}
	if _, err := g.Complete(context.Background(), Request{}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("backend called %d times, want 2", calls)
	}
}

func TestGuardHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGuard(CompleterFunc(func(ctx context.Context, _ Request) (string, error) {
		return "", ctx.Err()
	}), GuardOpts{}, nil)
	if _, err := g.Complete(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
