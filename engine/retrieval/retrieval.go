// Package retrieval fetches document passages for a question and ranks them.
// Search failures degrade to an empty result.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/pkg/fn"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Searcher is the document-search collaborator.
type Searcher interface {
	Search(ctx context.Context, userID, query string, filter *domain.VehicleFilter, limit int) ([]domain.DocumentPassage, error)
}

// DefaultSearchTimeout bounds one document search.
const DefaultSearchTimeout = 5 * time.Second

// Retriever applies the vehicle filter, requests passages and enforces the
// ranking order.
type Retriever struct {
	search   Searcher
	timeout  time.Duration
	failures *metrics.Counter
	logger   *slog.Logger
}

// New creates a Retriever. failures may be nil.
func New(search Searcher, timeout time.Duration, failures *metrics.Counter, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}
	return &Retriever{search: search, timeout: timeout, failures: failures, logger: logger}
}

// Retrieve returns at most limit passages sorted by relevance, highest
// first, keeping store order among equal scores. A failed search yields an
// empty slice.
func (r *Retriever) Retrieve(ctx context.Context, userID, query string, filter *domain.VehicleFilter, limit int) []domain.DocumentPassage {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, span := otel.Tracer("garage/retrieval").Start(ctx, "retrieval.Retrieve")
	defer span.End()
	if filter.IsEmpty() {
		filter = nil
	}

	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	passages, err := r.search.Search(sctx, userID, query, filter, limit)
	if err != nil {
		if r.failures != nil {
			r.failures.Inc()
		}
		span.RecordError(err)
		r.logger.Warn("retrieval: document search failed, continuing without documents", "user_id", userID, "err", err)
		return nil
	}

	out := fn.Filter(passages, func(p domain.DocumentPassage) bool {
		return strings.TrimSpace(p.Content) != ""
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RelevanceScore > out[j].RelevanceScore
	})
	if len(out) > limit {
		out = out[:limit]
	}
	span.SetAttributes(attribute.Int("passages", len(out)))
	return out
}
