// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/errquotient/internal/adapters/repository"
	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/types"
	"github.com/okian/errquotient/pkg/logger"
)

// maxBodyBytes bounds request bodies; code snapshots can be large.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Classify records an event and recomputes its user synchronously.
	Classify(ctx context.Context, e model.ErrorEvent) (types.Classification, error)
	// Ingest records an event and schedules an asynchronous recompute.
	Ingest(ctx context.Context, e model.ErrorEvent) (model.ErrorEvent, error)

	Profile(ctx context.Context, userID string) (model.UserProfile, error)
	Sessions(ctx context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error)

	Predict(ctx context.Context, averageEQ float64) (types.Classification, error)
	RetrainAll(ctx context.Context) (types.RetrainResult, error)
	ModelInfo(ctx context.Context) types.ModelInfo
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	eventsHandler   *EventsHandler
	profilesHandler *ProfilesHandler
	modelHandler    *ModelHandler
}

// Option customises a Server.
type Option func(*options)

type options struct {
	log logger.Logger
}

// WithLogger logs server-side failures through l.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		healthHandler:   NewHealthHandler(),
		statsHandler:    NewStatsHandler(statsProvider),
		eventsHandler:   NewEventsHandler(deps, o.log),
		profilesHandler: NewProfilesHandler(deps, o.log),
		modelHandler:    NewModelHandler(deps, o.log),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("POST /classify", MetricsMiddleware(s.eventsHandler.HandleClassify, "classify"))
	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("GET /profiles/{user_id}", MetricsMiddleware(s.profilesHandler.HandleGetProfile, "profile"))
	mux.HandleFunc("GET /profiles/{user_id}/sessions", MetricsMiddleware(s.profilesHandler.HandleGetSessions, "sessions"))
	mux.HandleFunc("POST /predict", MetricsMiddleware(s.modelHandler.HandlePredict, "predict"))
	mux.HandleFunc("GET /model", MetricsMiddleware(s.modelHandler.HandleGetModel, "model"))
	mux.HandleFunc("POST /admin/retrain", MetricsMiddleware(s.modelHandler.HandleRetrain, "retrain"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error body. Server errors never carry err's text.
func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps a service error onto a status code.
func writeServiceError(ctx context.Context, w http.ResponseWriter, log logger.Logger, op string, err error) {
	switch {
	case errors.Is(err, types.ErrBadRequest), errors.Is(err, classifier.ErrFeatureShape):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", NewKind(op, ErrNotFound))
	case errors.Is(err, types.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
	case errors.Is(err, classifier.ErrModelUnavailable), errors.Is(err, types.ErrNotStarted):
		log.Error(ctx, "model unavailable", logger.Op(op), logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "model_unavailable", nil)
	default:
		log.Error(ctx, "request failed", logger.Op(op), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v validatable) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return v.Validate()
}
