package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/WessleyAI/wessley-garage/engine/domain"
	"github.com/WessleyAI/wessley-garage/engine/ingest"
	"github.com/WessleyAI/wessley-garage/engine/rag"
	"github.com/WessleyAI/wessley-garage/engine/usage"
	"github.com/WessleyAI/wessley-garage/pkg/mid"
)

// statusClientClosed is logged when the caller went away mid-request.
const statusClientClosed = 499

const (
	// maxBodyBytes bounds an ask request body.
	maxBodyBytes = 64 << 10
	// maxUploadBytes leaves room for JSON escaping around the content.
	maxUploadBytes = 2*ingest.MaxContentBytes + 4<<10
)

type asker interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Response, error)
}

type uploader interface {
	Ingest(ctx context.Context, up ingest.Upload) (ingest.Result, error)
}

type usageStats interface {
	Stats(ctx context.Context, userID string) (usage.Stats, error)
}

type healthChecker interface {
	Health(ctx context.Context) (map[string]string, bool)
}

type server struct {
	pipeline asker
	uploads  uploader
	usage    usageStats
	health   healthChecker
	metrics  http.Handler
	logger   *slog.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("POST /api/documents", s.handleUpload)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	deps, ok := s.health.Health(r.Context())
	status, code := "ok", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	mid.WriteJSON(w, code, map[string]any{"status": status, "dependencies": deps})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	UserID       string                 `json:"user_id"`
	Question     string                 `json:"question"`
	VehicleID    string                 `json:"vehicle_id,omitempty"`
	Garage       []domain.Vehicle       `json:"garage,omitempty"`
	UseDocuments *bool                  `json:"use_documents,omitempty"`
	Units        domain.UnitPreferences `json:"units"`
	Engine       string                 `json:"engine,omitempty"`
	Notes        string                 `json:"notes,omitempty"`
}

func (r AskRequest) toPipeline() rag.Request {
	useDocs := true
	if r.UseDocuments != nil {
		useDocs = *r.UseDocuments
	}
	return rag.Request{
		UserID:       r.UserID,
		Question:     r.Question,
		VehicleID:    r.VehicleID,
		Garage:       r.Garage,
		UseDocuments: useDocs,
		Units:        r.Units,
		Engine:       r.Engine,
		Notes:        r.Notes,
	}
}

func (s *server) handleAsk(w http.ResponseWriter, r *http.Request) {
	// Unset unit fields keep their imperial defaults.
	req := AskRequest{Units: domain.DefaultUnits()}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.pipeline.Ask(r.Context(), req.toPipeline())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mid.WriteJSON(w, http.StatusOK, resp)
}

func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var up ingest.Upload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&up); err != nil {
		mid.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// Shared manuals are loaded by operators, never through the API.
	up.System = false
	res, err := s.uploads.Ingest(r.Context(), up)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mid.WriteJSON(w, http.StatusCreated, res)
}

// writeError maps pipeline errors to HTTP responses.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var denied *domain.UsageDeniedError
	var invalid *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrVehicleNotFound):
		mid.WriteError(w, http.StatusNotFound, domain.ErrVehicleNotFound.Error())
	case errors.As(err, &denied):
		mid.WriteJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":            denied.Reason,
			"upgrade_required": true,
		})
	case errors.As(err, &invalid):
		mid.WriteError(w, http.StatusBadRequest, invalid.Wrapped.Error())
	case errors.Is(err, domain.ErrSynthesisFailed):
		s.logger.Error("synthesis failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		mid.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":     domain.ErrSynthesisFailed.Error(),
			"retryable": domain.IsRetryable(err),
		})
	case errors.Is(err, context.DeadlineExceeded):
		mid.WriteError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		w.WriteHeader(statusClientClosed)
	default:
		s.logger.Error("request failed", "err", err, "request_id", mid.RequestIDFrom(r.Context()))
		mid.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *server) handleUsage(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user_id")
	if user == "" {
		mid.WriteError(w, http.StatusBadRequest, domain.ErrMissingUser.Error())
		return
	}
	stats, err := s.usage.Stats(r.Context(), user)
	if err != nil {
		s.logger.Error("usage stats failed", "err", err, "user_id", user)
		mid.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	mid.WriteJSON(w, http.StatusOK, stats)
}
