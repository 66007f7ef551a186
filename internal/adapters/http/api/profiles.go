package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/errquotient/pkg/logger"
)

const (
	defaultSessionsLimit = 50
	maxSessionsLimit     = 500
)

// ProfilesHandler serves per-user reads.
type ProfilesHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewProfilesHandler creates a new profiles handler.
func NewProfilesHandler(deps Dependencies, log logger.Logger) *ProfilesHandler {
	return &ProfilesHandler{deps: deps, log: log}
}

// HandleGetProfile handles GET /profiles/{user_id}.
func (h *ProfilesHandler) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_profile"
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	p, err := h.deps.Profile(r.Context(), userID)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleGetSessions handles GET /profiles/{user_id}/sessions?offset=&limit=.
func (h *ProfilesHandler) HandleGetSessions(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_sessions"
	userID := strings.TrimSpace(r.PathValue("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	offset, err := queryInt(r, "offset", 0, 0, -1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	limit, err := queryInt(r, "limit", defaultSessionsLimit, 1, maxSessionsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	sessions, err := h.deps.Sessions(r.Context(), userID, offset, limit)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{UserID: userID, Offset: offset, Limit: limit, Sessions: sessions})
}

// queryInt parses an optional integer parameter within [lo, hi]; hi < 0
// means unbounded.
func queryInt(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || (hi >= 0 && n > hi) {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}
