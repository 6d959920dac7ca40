// Package ensemble samples several completions for one question and picks
// the answer most of them agree on. Sampling is the only I/O; scoring and
// selection are pure functions over the parsed candidates.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/fn"
	"github.com/WessleyAI/wessley-garage/pkg/llm"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// MaxConcurrency caps parallel sampling calls.
const MaxConcurrency = 5

// Options configures sampling.
type Options struct {
	Iterations  int
	Concurrency int
	Temperature float64
	MaxTokens   int
	Model       string
	// CallTimeout bounds each completion independently.
	CallTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Iterations:  3,
		Concurrency: 3,
		Temperature: 0.7,
		MaxTokens:   400,
		CallTimeout: 30 * time.Second,
	}
}

// Metrics are the evaluator's instruments. A nil *Metrics records nothing.
type Metrics struct {
	CandidatesOK     *metrics.Counter
	CandidatesFailed *metrics.Counter
	Consistency      *metrics.Histogram
}

// NewMetrics registers the evaluator's instruments on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	const name = "garage_llm_candidates_total"
	const help = "Sampled candidate answers by result."
	return &Metrics{
		CandidatesOK:     reg.CounterWith(name, help, "result", "ok"),
		CandidatesFailed: reg.CounterWith(name, help, "result", "failed"),
		Consistency:      reg.Histogram("garage_consistency_score", "Agreement ratio among sampled answers.", metrics.RatioBuckets),
	}
}

// Evaluator samples candidates from a Completer and evaluates them.
type Evaluator struct {
	llm     llm.Completer
	opts    Options
	metrics *Metrics
	logger  *slog.Logger
}

// New creates an Evaluator. m may be nil.
func New(c llm.Completer, opts Options, m *Metrics, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Iterations <= 0 {
		opts.Iterations = def.Iterations
	}
	if opts.Concurrency <= 0 || opts.Concurrency > opts.Iterations {
		opts.Concurrency = opts.Iterations
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = def.CallTimeout
	}
	return &Evaluator{llm: c, opts: opts, metrics: m, logger: logger}
}

// Evaluate samples the configured number of completions for question under
// systemPrompt and returns the evaluated answer. Failed samples are dropped;
// if none succeed the error wraps domain.ErrSynthesisFailed. A cancelled ctx
// aborts outstanding calls and returns ctx's error.
func (e *Evaluator) Evaluate(ctx context.Context, systemPrompt, question string, docs []domain.DocumentPassage) (domain.EvaluatedAnswer, error) {
	ctx, span := otel.Tracer("garage/ensemble").Start(ctx, "ensemble.Evaluate")
	defer span.End()

	req := llm.Request{
		SystemPrompt: systemPrompt,
		UserMessage:  question,
		Params: llm.Params{
			Temperature: e.opts.Temperature,
			MaxTokens:   e.opts.MaxTokens,
			Model:       e.opts.Model,
		},
	}
	idx := make([]int, e.opts.Iterations)
	for i := range idx {
		idx[i] = i
	}

	results := fn.ParMapResult(ctx, idx, e.opts.Concurrency, func(ctx context.Context, i int) fn.Result[domain.CandidateAnswer] {
		cctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
		text, err := e.llm.Complete(cctx, req)
		if err != nil {
			return fn.Err[domain.CandidateAnswer](fmt.Errorf("candidate %d: %w", i, err))
		}
		cand := ParseCandidate(i, text, docs)
		if strings.TrimSpace(cand.Text) == "" {
			return fn.Err[domain.CandidateAnswer](fmt.Errorf("candidate %d: %w", i, llm.ErrEmptyCompletion))
		}
		return fn.Ok(cand)
	})
	if err := ctx.Err(); err != nil {
		return domain.EvaluatedAnswer{}, err
	}

	cands, errs := fn.Partition(results)
	for _, err := range errs {
		e.logger.Warn("ensemble: candidate failed", "err", err)
	}
	e.count(len(cands), len(errs))
	span.SetAttributes(attribute.Int("candidates.ok", len(cands)), attribute.Int("candidates.failed", len(errs)))

	if len(cands) == 0 {
		return domain.EvaluatedAnswer{}, fmt.Errorf("ensemble: all %d candidates failed: %w", e.opts.Iterations, domain.ErrSynthesisFailed)
	}

	out := Evaluate(cands, e.opts.Iterations)
	if e.metrics != nil && len(cands) >= 2 {
		e.metrics.Consistency.Observe(out.ConsistencyScore)
	}
	span.SetAttributes(attribute.Float64("consistency", out.ConsistencyScore), attribute.Float64("confidence", out.Confidence))
	return out, nil
}

func (e *Evaluator) count(ok, failed int) {
	if e.metrics == nil {
		return
	}
	e.metrics.CandidatesOK.Add(int64(ok))
	e.metrics.CandidatesFailed.Add(int64(failed))
}
