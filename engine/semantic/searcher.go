package semantic

import (
	"context"
	"fmt"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/fn"
	"github.com/WessleyAI/wessley-garage/pkg/llm"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// overfetch is how many extra hits are requested per wanted passage when a
// vehicle filter will discard some of them.
const overfetch = 4

type hitSearcher interface {
	Search(ctx context.Context, embedding []float32, userID string, topK int) ([]Hit, error)
}

// Searcher embeds a query and searches the vector store, returning passages
// that satisfy the vehicle filter.
type Searcher struct {
	embedder llm.Embedder
	store    hitSearcher
	retry    fn.RetryOpts
}

// NewSearcher creates a Searcher.
func NewSearcher(embedder llm.Embedder, store *VectorStore) *Searcher {
	return newSearcher(embedder, store)
}

func newSearcher(embedder llm.Embedder, store hitSearcher) *Searcher {
	retry := fn.DefaultRetry
	retry.Retryable = transient
	return &Searcher{embedder: embedder, store: store, retry: retry}
}

// Search returns up to limit passages for query in store order.
func (s *Searcher) Search(ctx context.Context, userID, query string, filter *domain.VehicleFilter, limit int) ([]domain.DocumentPassage, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}

	topK := limit
	if !filter.IsEmpty() {
		topK = limit * overfetch
	}
	hits, err := fn.Retry(ctx, s.retry, func(ctx context.Context) fn.Result[[]Hit] {
		return fn.FromPair(s.store.Search(ctx, vec, userID, topK))
	}).Unwrap()
	if err != nil {
		return nil, err
	}

	out := make([]domain.DocumentPassage, 0, limit)
	for _, h := range hits {
		if !filter.Matches(h.Make, h.Model, h.Year) {
			continue
		}
		out = append(out, toPassage(h))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func toPassage(h Hit) domain.DocumentPassage {
	score := float64(h.Score)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	title := h.Title
	if title == "" {
		title = "Untitled document"
	}
	return domain.DocumentPassage{
		Content:        h.Content,
		SourceTitle:    title,
		RelevanceScore: score,
		PageNumber:     h.Page,
	}
}

// transient reports whether a search error is worth retrying.
func transient(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	}
	return false
}
