// Package ingest indexes uploaded documents for retrieval. An upload is
// validated, split into overlapping passages, embedded, and written to the
// vector store under the owner's scope.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/engine/semantic"
	"github.com/WessleyAI/wessley-garage/engine/usage"
	"github.com/WessleyAI/wessley-garage/pkg/fn"
	"github.com/WessleyAI/wessley-garage/pkg/llm"
)

// MaxContentBytes bounds a single upload.
const MaxContentBytes = 2 << 20

var (
	ErrMissingTitle   = errors.New("document title is required")
	ErrEmptyContent   = errors.New("document content is empty")
	ErrContentTooLong = errors.New("document content too long")
)

// VectorWriter is the write side of the vector store.
type VectorWriter interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	DeleteByDocID(ctx context.Context, docID string) error
}

// UploadLimiter charges uploads against the user's plan.
type UploadLimiter interface {
	CheckLimit(ctx context.Context, userID string, action usage.Action) (usage.Decision, error)
	Track(ctx context.Context, userID string, action usage.Action, metadata map[string]string) error
}

// Deps holds the collaborators of the ingestion pipeline. Usage may be nil.
type Deps struct {
	Embedder llm.Embedder
	Vectors  VectorWriter
	Usage    UploadLimiter
	Logger   *slog.Logger
	// EmbedWorkers bounds concurrent embedding calls per document.
	EmbedWorkers int
}

// Service runs uploads through the pipeline.
type Service struct {
	usage    UploadLimiter
	pipeline fn.Stage[Upload, Result]
	logger   *slog.Logger
}

// New wires the pipeline: validate, parse, chunk, embed, store.
func New(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := deps.EmbedWorkers
	if workers <= 0 {
		workers = 4
	}

	validated := fn.Then(loggedTap[Upload]("validate", log), Validate)
	parsed := fn.Then(validated, fn.Then(loggedTap[Upload]("parse", log), parse))
	chunked := fn.Then(parsed, fn.Then(loggedTap[parsedDoc]("chunk", log), chunkDoc))
	embedded := fn.Then(chunked, fn.Then(loggedTap[chunkedDoc]("embed", log),
		fn.TracedStage("ingest.embed", newEmbed(deps.Embedder, workers))))
	stored := fn.Then(embedded, fn.Then(loggedTap[embeddedDoc]("store", log),
		fn.TracedStage("ingest.store", newStore(deps.Vectors))))

	return &Service{usage: deps.Usage, pipeline: fn.TracedStage("ingest.Ingest", stored), logger: log}
}

// Ingest indexes one upload. A user upload over the plan's allowance returns
// a *domain.UsageDeniedError before anything is embedded.
func (s *Service) Ingest(ctx context.Context, up Upload) (Result, error) {
	if err := validate(up); err != nil {
		return Result{}, err
	}
	charged := !up.System && s.usage != nil
	if charged {
		d, err := s.usage.CheckLimit(ctx, up.UserID, usage.ActionDocumentUpload)
		if err != nil {
			return Result{}, err
		}
		if !d.Allowed {
			return Result{}, &domain.UsageDeniedError{Action: string(usage.ActionDocumentUpload), Reason: d.Reason}
		}
	}

	res, err := s.pipeline(ctx, up).Unwrap()
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("ingest: indexed", "doc_id", res.DocID, "chunks", res.Chunks, "system", up.System)

	if charged {
		meta := map[string]string{"doc_id": res.DocID, "title": up.Title}
		if err := s.usage.Track(context.WithoutCancel(ctx), up.UserID, usage.ActionDocumentUpload, meta); err != nil {
			s.logger.Warn("ingest: track upload", "err", err, "user_id", up.UserID)
		}
	}
	return res, nil
}

// Validate rejects uploads that cannot be indexed.
var Validate fn.Stage[Upload, Upload] = func(_ context.Context, up Upload) fn.Result[Upload] {
	if err := validate(up); err != nil {
		return fn.Err[Upload](err)
	}
	return fn.Ok(up)
}

func validate(up Upload) error {
	switch {
	case !up.System && strings.TrimSpace(up.UserID) == "":
		return domain.NewValidationError("user_id", up.UserID, domain.ErrMissingUser)
	case strings.TrimSpace(up.Title) == "" || slug(up.Title) == "":
		return domain.NewValidationError("title", up.Title, ErrMissingTitle)
	case strings.TrimSpace(up.Content) == "":
		return domain.NewValidationError("content", "", ErrEmptyContent)
	case len(up.Content) > MaxContentBytes:
		return domain.NewValidationError("content", fmt.Sprintf("%d bytes", len(up.Content)), ErrContentTooLong)
	}
	return nil
}

var parse fn.Stage[Upload, parsedDoc] = func(_ context.Context, up Upload) fn.Result[parsedDoc] {
	return fn.Ok(parsedDoc{Upload: up, ID: DocID(up), Sentences: splitSentences(up.Content)})
}

var chunkDoc fn.Stage[parsedDoc, chunkedDoc] = func(_ context.Context, doc parsedDoc) fn.Result[chunkedDoc] {
	return fn.Ok(chunkedDoc{parsedDoc: doc, Chunks: chunkSentences(doc.Sentences, DefaultChunkWords, DefaultOverlapWords)})
}

func newEmbed(e llm.Embedder, workers int) fn.Stage[chunkedDoc, embeddedDoc] {
	return func(ctx context.Context, doc chunkedDoc) fn.Result[embeddedDoc] {
		results := fn.ParMapResult(ctx, doc.Chunks, workers, func(ctx context.Context, c Chunk) fn.Result[[]float32] {
			return fn.FromPair(e.Embed(ctx, c.Text))
		})
		vecs, errs := fn.Partition(results)
		if len(errs) > 0 {
			return fn.Err[embeddedDoc](fmt.Errorf("ingest: embed %s: %w", doc.ID, errors.Join(errs...)))
		}
		return fn.Ok(embeddedDoc{chunkedDoc: doc, Embeddings: vecs})
	}
}

func newStore(vs VectorWriter) fn.Stage[embeddedDoc, Result] {
	return func(ctx context.Context, doc embeddedDoc) fn.Result[Result] {
		if err := vs.DeleteByDocID(ctx, doc.ID); err != nil {
			return fn.Err[Result](fmt.Errorf("ingest: replace %s: %w", doc.ID, err))
		}
		records := fn.Map(doc.Chunks, func(c Chunk) semantic.VectorRecord {
			return semantic.VectorRecord{
				ID:        pointID(doc.ID, c.Index),
				Embedding: doc.Embeddings[c.Index],
				Payload:   payload(doc, c),
			}
		})
		if err := vs.Upsert(ctx, records); err != nil {
			return fn.Err[Result](fmt.Errorf("ingest: store %s: %w", doc.ID, err))
		}
		return fn.Ok(Result{DocID: doc.ID, Chunks: len(records)})
	}
}

func payload(doc embeddedDoc, c Chunk) map[string]any {
	p := map[string]any{
		semantic.KeyContent: c.Text,
		semantic.KeyTitle:   doc.Title,
		semantic.KeyDocID:   doc.ID,
		semantic.KeyChunk:   c.Index,
	}
	if doc.System {
		p[semantic.KeyScope] = semantic.ScopeSystem
	} else {
		p[semantic.KeyUserID] = doc.UserID
	}
	if doc.Make != "" {
		p[semantic.KeyMake] = doc.Make
	}
	if doc.Model != "" {
		p[semantic.KeyModel] = doc.Model
	}
	if doc.Year > 0 {
		p[semantic.KeyYear] = doc.Year
	}
	return p
}

// loggedTap logs entry to the named stage.
func loggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return fn.TapStage(func(context.Context, T) {
		log.Debug("ingest: stage", "stage", name)
	})
}
