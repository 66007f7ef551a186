package api

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/okian/errquotient/internal/domain/model"
)

// requestValidate is the validator instance for request bodies.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateNotBlank rejects strings that are empty after trimming.
func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

type validatable interface {
	Validate() error
}

// eventRequest mirrors the OpenAPI schema shared by POST /classify and
// POST /events.
type eventRequest struct {
	UserID        string         `json:"user_id" validate:"notblank,max=128"`
	ProjectID     string         `json:"project_id" validate:"max=128"`
	ErrorSnapshot string         `json:"error_snapshot" validate:"max=65536"`
	OccurredAt    string         `json:"occurred_at" validate:"max=64"`
	CodeSnapshot  map[string]any `json:"code_snapshot"`
}

// Validate checks the request with its struct tags.
func (r *eventRequest) Validate() error {
	return requestValidate.Struct(r)
}

func (r *eventRequest) event() model.ErrorEvent {
	return model.ErrorEvent{
		UserID:       strings.TrimSpace(r.UserID),
		ProjectID:    r.ProjectID,
		RawMessage:   r.ErrorSnapshot,
		OccurredAt:   r.OccurredAt,
		CodeSnapshot: r.CodeSnapshot,
	}
}

// predictRequest mirrors the OpenAPI schema for POST /predict.
type predictRequest struct {
	AverageEQScore *float64 `json:"average_eq_score" validate:"required,gte=0,lte=1"`
}

// Validate checks the request with its struct tags.
func (r *predictRequest) Validate() error {
	return requestValidate.Struct(r)
}

type eventAccepted struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

type sessionsResponse struct {
	UserID   string                  `json:"user_id"`
	Offset   int                     `json:"offset"`
	Limit    int                     `json:"limit"`
	Sessions []model.SessionEQRecord `json:"sessions"`
}
