package api

import (
	"net/http"

	"github.com/okian/errquotient/pkg/logger"
)

// ModelHandler serves prediction and model lifecycle routes.
type ModelHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewModelHandler creates a new model handler.
func NewModelHandler(deps Dependencies, log logger.Logger) *ModelHandler {
	return &ModelHandler{deps: deps, log: log}
}

// HandlePredict handles POST /predict.
func (h *ModelHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"
	var req predictRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	c, err := h.deps.Predict(r.Context(), *req.AverageEQScore)
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleGetModel handles GET /model.
func (h *ModelHandler) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.ModelInfo(r.Context()))
}

// HandleRetrain handles POST /admin/retrain. A skipped retrain is still 200.
func (h *ModelHandler) HandleRetrain(w http.ResponseWriter, r *http.Request) {
	const op = "api.retrain"
	res, err := h.deps.RetrainAll(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, h.log, op, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
