// Package rag orchestrates the question-answering pipeline. For each
// question it resolves the vehicle in effect, checks the user's usage
// allowance, retrieves reference passages, composes the system prompt and
// has the ensemble evaluator produce a cross-checked answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/engine/garage"
	"github.com/WessleyAI/wessley-garage/engine/prompt"
	"github.com/WessleyAI/wessley-garage/engine/querylog"
	"github.com/WessleyAI/wessley-garage/engine/usage"
	"github.com/WessleyAI/wessley-garage/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// VehicleStore reads a user's garage.
type VehicleStore interface {
	GetUserVehicles(ctx context.Context, userID string) ([]domain.Vehicle, error)
	GetVehicle(ctx context.Context, userID, id string) (*domain.Vehicle, error)
}

// DocumentRetriever fetches reference passages. It never fails; a degraded
// search yields no passages.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, userID, query string, filter *domain.VehicleFilter, limit int) []domain.DocumentPassage
}

// AnswerEvaluator produces the final answer from sampled completions.
type AnswerEvaluator interface {
	Evaluate(ctx context.Context, systemPrompt, question string, docs []domain.DocumentPassage) (domain.EvaluatedAnswer, error)
}

// UsageLimiter gates and meters asks.
type UsageLimiter interface {
	CheckLimit(ctx context.Context, userID string, action usage.Action) (usage.Decision, error)
	Track(ctx context.Context, userID string, action usage.Action, metadata map[string]string) error
}

// QueryLogger records answered questions.
type QueryLogger interface {
	Log(ctx context.Context, e querylog.Entry) (string, error)
}

// Deps are the pipeline's collaborators. Usage and Log may be nil.
type Deps struct {
	Vehicles  VehicleStore
	Documents DocumentRetriever
	Evaluator AnswerEvaluator
	Usage     UsageLimiter
	Log       QueryLogger
}

// Options configures the pipeline.
type Options struct {
	Persona  string
	DocLimit int
	// SideEffectTimeout bounds usage tracking and query logging after the
	// answer is ready. They run even if the caller has gone away.
	SideEffectTimeout time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Persona:           prompt.DefaultPersona,
		DocLimit:          3,
		SideEffectTimeout: 5 * time.Second,
	}
}

// Service is the pipeline orchestrator.
type Service struct {
	deps    Deps
	opts    Options
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Service. m may be nil.
func New(deps Deps, opts Options, m *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Persona == "" {
		opts.Persona = def.Persona
	}
	if opts.DocLimit <= 0 {
		opts.DocLimit = def.DocLimit
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = def.SideEffectTimeout
	}
	return &Service{deps: deps, opts: opts, metrics: m, logger: logger, now: time.Now}
}

// Request is one question put to the pipeline.
type Request struct {
	UserID   string
	Question string
	// VehicleID names the vehicle the user currently has selected.
	VehicleID string
	// Garage, when non-nil, is used instead of loading the user's vehicles.
	Garage       []domain.Vehicle
	UseDocuments bool
	Units        domain.UnitPreferences
	// Engine and Notes are free-text vehicle details added to the prompt.
	Engine string
	Notes  string
}

// Response is the pipeline's answer plus vehicle and document metadata.
type Response struct {
	Answer           string   `json:"answer"`
	Confidence       float64  `json:"confidence"`
	ConsistencyScore float64  `json:"consistency_score"`
	UsedDocuments    []string `json:"used_documents"`
	Notes            string   `json:"notes,omitempty"`

	EffectiveVehicleID       string            `json:"effective_vehicle_id,omitempty"`
	EffectiveVehicle         *domain.Vehicle   `json:"effective_vehicle,omitempty"`
	VehicleSwitched          bool              `json:"vehicle_switched,omitempty"`
	NeedsVehicleConfirmation string            `json:"needs_vehicle_confirmation,omitempty"`
	SuggestedVehicleID       string            `json:"suggested_vehicle_id,omitempty"`
	MatchConfidence          garage.Confidence `json:"match_confidence"`
	DocumentsFound           int               `json:"documents_found"`
	QueryID                  string            `json:"query_id,omitempty"`
}

// Ask runs the pipeline for one question. Usage denial returns a
// *domain.UsageDeniedError before any model call; total sampling failure
// returns an error wrapping domain.ErrSynthesisFailed.
func (s *Service) Ask(ctx context.Context, req Request) (resp *Response, err error) {
	start := s.now()
	ctx, span := otel.Tracer("garage/rag").Start(ctx, "rag.Ask")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.observe(outcome(err), start)
	}()

	if req.UserID == "" {
		return nil, domain.NewValidationError("user_id", "", domain.ErrMissingUser)
	}
	if err := domain.ValidateQuestion(req.Question); err != nil {
		return nil, err
	}
	s.logger.Info("rag: ask", "user_id", req.UserID, "question_len", len(req.Question), "vehicle_id", req.VehicleID)

	if s.deps.Usage != nil {
		d, err := s.deps.Usage.CheckLimit(ctx, req.UserID, usage.ActionAsk)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			s.logger.Info("rag: usage denied", "user_id", req.UserID, "reason", d.Reason)
			return nil, &domain.UsageDeniedError{Action: string(usage.ActionAsk), Reason: d.Reason}
		}
	}

	res, err := s.resolveVehicle(ctx, req)
	if err != nil {
		return nil, err
	}
	s.metrics.matched(res.Match.Confidence)
	span.SetAttributes(attribute.String("match.confidence", string(res.Match.Confidence)))

	var docs []domain.DocumentPassage
	if req.UseDocuments {
		var filter *domain.VehicleFilter
		if res.Vehicle != nil {
			filter = res.Vehicle.Filter()
		}
		docs = s.deps.Documents.Retrieve(ctx, req.UserID, req.Question, filter, s.opts.DocLimit)
	}
	span.SetAttributes(attribute.Int("documents", len(docs)))

	system := prompt.Compose(s.opts.Persona, req.Units, &prompt.VehicleContext{
		Vehicle: res.Vehicle,
		Engine:  req.Engine,
		Notes:   req.Notes,
	}, docs)

	ans, err := s.deps.Evaluator.Evaluate(ctx, system, req.Question, docs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("rag: evaluate: %w", err)
	}

	resp = &Response{
		Answer:           ans.Answer,
		Confidence:       ans.Confidence,
		ConsistencyScore: ans.ConsistencyScore,
		UsedDocuments:    ans.UsedDocuments,
		Notes:            ans.Notes,
		VehicleSwitched:  res.Switched,
		MatchConfidence:  res.Match.Confidence,
		DocumentsFound:   len(docs),
	}
	if resp.UsedDocuments == nil {
		resp.UsedDocuments = []string{}
	}
	if res.Vehicle != nil {
		resp.EffectiveVehicleID = res.Vehicle.ID
		resp.EffectiveVehicle = res.Vehicle
	}
	if res.ConfirmationPrompt != "" {
		resp.NeedsVehicleConfirmation = res.ConfirmationPrompt
		resp.SuggestedVehicleID = res.Match.Vehicle.ID
	}

	resp.QueryID = s.record(ctx, req, resp, s.now().Sub(start))
	s.logger.Info("rag: answered", "user_id", req.UserID, "confidence", resp.Confidence,
		"consistency", resp.ConsistencyScore, "documents", resp.DocumentsFound, "vehicle_id", resp.EffectiveVehicleID)
	return resp, nil
}

// resolveVehicle loads the garage, applies the explicit selection and the
// match policy. A garage that cannot be loaded is treated as empty.
func (s *Service) resolveVehicle(ctx context.Context, req Request) (garage.Resolution, error) {
	vehicles := req.Garage
	if vehicles == nil && s.deps.Vehicles != nil {
		var err error
		vehicles, err = s.deps.Vehicles.GetUserVehicles(ctx, req.UserID)
		if err != nil {
			if ctx.Err() != nil {
				return garage.Resolution{}, ctx.Err()
			}
			s.logger.Warn("rag: garage unavailable, continuing without it", "user_id", req.UserID, "err", err)
			vehicles = nil
		}
	}

	var current *domain.Vehicle
	if req.VehicleID != "" {
		for i := range vehicles {
			if vehicles[i].ID == req.VehicleID {
				v := vehicles[i]
				current = &v
				break
			}
		}
		if current == nil && req.Garage == nil && s.deps.Vehicles != nil {
			v, err := s.deps.Vehicles.GetVehicle(ctx, req.UserID, req.VehicleID)
			if err != nil {
				return garage.Resolution{}, fmt.Errorf("rag: load vehicle: %w", err)
			}
			current = v
		}
		if current == nil {
			return garage.Resolution{}, domain.NewValidationError("vehicle_id", req.VehicleID, domain.ErrVehicleNotFound)
		}
	}

	activeID := ""
	if current != nil {
		activeID = current.ID
	}
	return garage.Resolve(garage.Match(req.Question, vehicles, activeID), current), nil
}

// record tracks usage and logs the query. Both are best-effort. An ask that
// searched documents is also tracked as a document search.
func (s *Service) record(ctx context.Context, req Request, resp *Response, latency time.Duration) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
	defer cancel()

	if s.deps.Usage != nil {
		meta := map[string]string{
			"documents":  strconv.Itoa(resp.DocumentsFound),
			"confidence": strconv.FormatFloat(resp.Confidence, 'f', 2, 64),
		}
		if resp.EffectiveVehicleID != "" {
			meta["vehicle_id"] = resp.EffectiveVehicleID
		}
		if err := s.deps.Usage.Track(ctx, req.UserID, usage.ActionAsk, meta); err != nil {
			s.logger.Warn("rag: usage tracking failed", "user_id", req.UserID, "err", err)
		}
		if req.UseDocuments {
			search := map[string]string{"documents": meta["documents"]}
			if err := s.deps.Usage.Track(ctx, req.UserID, usage.ActionDocumentSearch, search); err != nil {
				s.logger.Warn("rag: usage tracking failed", "user_id", req.UserID, "action", usage.ActionDocumentSearch, "err", err)
			}
		}
	}

	if s.deps.Log == nil {
		return ""
	}
	id, err := s.deps.Log.Log(ctx, querylog.Entry{
		UserID:           req.UserID,
		Question:         req.Question,
		Answer:           resp.Answer,
		VehicleID:        resp.EffectiveVehicleID,
		Confidence:       resp.Confidence,
		ConsistencyScore: resp.ConsistencyScore,
		Latency:          latency,
	})
	if err != nil {
		s.logger.Warn("rag: query logging failed", "user_id", req.UserID, "err", err)
		return ""
	}
	return id
}

func outcome(err error) string {
	var denied *domain.UsageDeniedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &denied):
		return "denied"
	case errors.Is(err, domain.ErrVehicleNotFound):
		return "vehicle_not_found"
	case errors.Is(err, domain.ErrSynthesisFailed):
		return "synthesis_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return "invalid"
	}
	return "error"
}

// Metrics are the orchestrator's instruments. A nil *Metrics records nothing.
type Metrics struct {
	reg      *metrics.Registry
	duration *metrics.Histogram
}

// NewMetrics registers the orchestrator's instruments on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		reg:      reg,
		duration: reg.Histogram("garage_ask_duration_seconds", "End-to-end ask latency.", nil),
	}
}

func (m *Metrics) observe(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.reg.CounterWith("garage_ask_total", "Questions by outcome.", "outcome", outcome).Inc()
	m.duration.Since(start)
}

func (m *Metrics) matched(c garage.Confidence) {
	if m == nil {
		return
	}
	m.reg.CounterWith("garage_vehicle_match_total", "Vehicle matches by confidence.", "confidence", string(c)).Inc()
}
