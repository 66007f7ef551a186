package api

import (
	"errors"
	"net/http"

	"github.com/okian/errquotient/internal/domain/types"
	"github.com/okian/errquotient/pkg/logger"
)

// EventsHandler handles event ingestion and synchronous classification.
type EventsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(deps Dependencies, log logger.Logger) *EventsHandler {
	return &EventsHandler{deps: deps, log: log}
}

// HandleClassify handles POST /classify: the event is stored and its user
// recomputed before the answer is written.
func (h *EventsHandler) HandleClassify(w http.ResponseWriter, r *http.Request) {
	const op = "api.classify"
	var req eventRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	c, err := h.deps.Classify(r.Context(), req.event())
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandlePostEvent handles POST /events. The event is stored and a recompute
// scheduled; 429 means the event is stored but the queue is full.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	stored, err := h.deps.Ingest(r.Context(), req.event())
	if err != nil {
		if errors.Is(err, types.ErrBackpressure) {
			w.Header().Set("Retry-After", "1")
		}
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusAccepted, eventAccepted{Status: "accepted", EventID: stored.ID})
}
