// Package app builds the question-answering pipeline and its collaborators
// from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/ensemble"
	"github.com/WessleyAI/wessley-garage/engine/garage"
	"github.com/WessleyAI/wessley-garage/engine/ingest"
	"github.com/WessleyAI/wessley-garage/engine/querylog"
	"github.com/WessleyAI/wessley-garage/engine/rag"
	"github.com/WessleyAI/wessley-garage/engine/retrieval"
	"github.com/WessleyAI/wessley-garage/engine/semantic"
	"github.com/WessleyAI/wessley-garage/engine/usage"
	"github.com/WessleyAI/wessley-garage/pkg/config"
	"github.com/WessleyAI/wessley-garage/pkg/llm"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"github.com/WessleyAI/wessley-garage/pkg/ollama"
	"github.com/WessleyAI/wessley-garage/pkg/openai"
	"github.com/WessleyAI/wessley-garage/pkg/resilience"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// DefaultOllamaChatModel is used when CHAT_MODEL is unset and the provider
// is Ollama.
const DefaultOllamaChatModel = "llama3.1"

// App holds the wired pipeline and the handles that must be closed.
type App struct {
	Pipeline   *rag.Service
	Ingest     *ingest.Service
	Usage      *usage.Limiter
	UsageStore *usage.SQLiteStore
	Garage     *garage.Store
	Vectors    *semantic.VectorStore
	Metrics    *metrics.Registry

	checks  map[string]func(context.Context) error
	closers []func(context.Context) error
	logger  *slog.Logger
}

// New connects every collaborator named in cfg. Connections are lazy where
// the driver allows it; use Health to probe them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Metrics: metrics.New(), checks: map[string]func(context.Context) error{}, logger: logger}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	completer, err := NewCompleter(cfg, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("app: neo4j driver: %w", err)
	}
	a.closers = append(a.closers, driver.Close)
	a.checks["neo4j"] = driver.VerifyConnectivity
	a.Garage = garage.NewStore(driver)

	vectors, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("app: qdrant: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return vectors.Close() })
	a.checks["qdrant"] = vectors.Ping
	a.Vectors = vectors

	store, err := usage.OpenSQLite(cfg.UsageDBPath)
	if err != nil {
		return nil, fmt.Errorf("app: usage store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	a.checks["usage_db"] = store.Ping
	a.UsageStore = store

	var qlog rag.QueryLogger = querylog.Discard{}
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("wessley-garage"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("app: nats: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return nc.Drain() })
		a.checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats: not connected")
			}
			return nil
		}
		qlog = querylog.NewPublisher(nc)
	}
	if nc != nil {
		a.Usage = usage.NewLimiter(store, nc, logger)
	} else {
		a.Usage = usage.NewLimiter(store, nil, logger)
	}

	a.Ingest = ingest.New(ingest.Deps{
		Embedder: embedder,
		Vectors:  vectors,
		Usage:    a.Usage,
		Logger:   logger,
	})
	if nc != nil {
		sub, err := ingest.StartConsumer(nc, a.Ingest, logger)
		if err != nil {
			return nil, fmt.Errorf("app: ingest consumer: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return sub.Unsubscribe() })
	}

	retriever := retrieval.New(
		semantic.NewSearcher(embedder, vectors),
		cfg.DocTimeout,
		a.Metrics.Counter("garage_document_search_failures_total", "Document searches that failed and were skipped."),
		logger,
	)
	evaluator := ensemble.New(completer, ensemble.Options{
		Iterations:  cfg.Iterations,
		Concurrency: cfg.Concurrency,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		CallTimeout: cfg.CallTimeout,
	}, ensemble.NewMetrics(a.Metrics), logger)

	opts := rag.DefaultOptions()
	opts.DocLimit = cfg.DocLimit
	a.Pipeline = rag.New(rag.Deps{
		Vehicles:  a.Garage,
		Documents: retriever,
		Evaluator: evaluator,
		Usage:     a.Usage,
		Log:       qlog,
	}, opts, rag.NewMetrics(a.Metrics), logger)

	logger.Info("app: pipeline ready",
		"llm_provider", cfg.LLMProvider, "embed_provider", cfg.EmbedProvider,
		"iterations", cfg.Iterations, "nats", cfg.NATSURL != "")
	return a, nil
}

// NewCompleter builds the configured completion backend behind a Guard.
func NewCompleter(cfg *config.Config, logger *slog.Logger) (llm.Completer, error) {
	var next llm.Completer
	switch cfg.LLMProvider {
	case "openai":
		opts := []openai.Option{openai.WithChatModel(cfg.ChatModel)}
		if cfg.OpenAIURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIURL))
		}
		c, err := openai.NewClient(cfg.OpenAIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: openai: %w", err)
		}
		next = c
	case "ollama", "":
		model := cfg.ChatModel
		if model == "" {
			model = DefaultOllamaChatModel
		}
		next = ollama.NewChatClient(cfg.OllamaURL, model)
	default:
		return nil, fmt.Errorf("app: unknown llm provider %q", cfg.LLMProvider)
	}

	g := llm.GuardOpts{
		Name:    cfg.LLMProvider,
		Burst:   cfg.LLMBurst,
		Breaker: resilience.DefaultBreakerOpts,
	}
	if cfg.LLMRate > 0 {
		g.Interval = time.Duration(float64(time.Second) / cfg.LLMRate)
	}
	return llm.NewGuard(next, g, logger), nil
}

// NewEmbedder builds the configured embedding backend. It must match the
// model the document collection was indexed with.
func NewEmbedder(cfg *config.Config) (llm.Embedder, error) {
	switch cfg.EmbedProvider {
	case "openai":
		opts := []openai.Option{openai.WithEmbedModel(cfg.EmbedModel)}
		if cfg.OpenAIURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIURL))
		}
		c, err := openai.NewClient(cfg.OpenAIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: openai embedder: %w", err)
		}
		return c, nil
	case "ollama", "":
		return ollama.NewEmbedClient(cfg.OllamaURL, cfg.EmbedModel), nil
	default:
		return nil, fmt.Errorf("app: unknown embed provider %q", cfg.EmbedProvider)
	}
}

// Health probes every dependency and returns "ok" or the error text per
// dependency, plus whether all are healthy.
func (a *App) Health(ctx context.Context) (map[string]string, bool) {
	names := make([]string, 0, len(a.checks))
	for n := range a.checks {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	healthy := true
	for _, n := range names {
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := a.checks[n](cctx)
		cancel()
		if err != nil {
			out[n] = err.Error()
			healthy = false
			continue
		}
		out[n] = "ok"
	}
	return out, healthy
}

// Close releases every connection in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
