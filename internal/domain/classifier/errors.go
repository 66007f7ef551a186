package classifier

import "errors"

// Sentinel errors of the classification model.
var (
	// ErrInsufficientData means fewer than three usable rows were offered.
	ErrInsufficientData = errors.New("insufficient data for retraining")
	// ErrDegenerateFit means the rows cannot be split into three clusters.
	ErrDegenerateFit = errors.New("fit did not yield three distinct clusters")
	// ErrModelUnavailable means no model was ever loaded or constructed.
	ErrModelUnavailable = errors.New("classification model unavailable")
	// ErrFeatureShape means a feature vector has the wrong arity or values.
	ErrFeatureShape = errors.New("feature vector shape mismatch")
)
