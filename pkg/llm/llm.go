// Package llm defines the language-model contracts used by the pipeline and
// a Guard that paces and circuit-breaks calls to any backend.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned by backends that produced no text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Params are the sampling parameters for one completion.
type Params struct {
	Temperature float64
	MaxTokens   int
	// Model overrides the backend's configured model when set.
	Model string
}

// Request is a single system+user exchange.
type Request struct {
	SystemPrompt string
	UserMessage  string
	Params       Params
}

// Completer produces one completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
