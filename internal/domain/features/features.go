// Package features reduces a user's scored sessions into the vector the
// classifier consumes.
package features

import (
	"fmt"

	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/scoring"
)

// Schema identifies a feature layout.
type Schema string

const (
	// SchemaEQ is the system of record: the mean session EQ.
	SchemaEQ Schema = "eq"
	// SchemaWeighted is the earlier weighted error-count layout. It is only
	// produced by explicit inspection and backfill commands.
	SchemaWeighted Schema = "weighted"
)

// ParseSchema validates a schema name.
func ParseSchema(s string) (Schema, error) {
	switch Schema(s) {
	case SchemaEQ, SchemaWeighted:
		return Schema(s), nil
	}
	return "", fmt.Errorf("unknown feature schema %q", s)
}

// Names lists the vector columns of the canonical schema.
var Names = []string{"average_eq_score"}

// EQFeatures is the canonical per-user aggregate.
type EQFeatures struct {
	AverageEQScore float64           `json:"average_eq_score"`
	TotalSessions  int               `json:"total_sessions"`
	Counts         model.ErrorCounts `json:"error_counts"`
}

// Aggregate averages session scores and sums their counts.
// No sessions yields the zero value.
func Aggregate(sessions []scoring.Result) EQFeatures {
	var f EQFeatures
	if len(sessions) == 0 {
		return f
	}
	var sum float64
	for _, s := range sessions {
		sum += s.EQ
		f.Counts = f.Counts.Add(s.Counts)
	}
	f.TotalSessions = len(sessions)
	f.AverageEQScore = sum / float64(len(sessions))
	return f
}

// Vector returns the classifier input, ordered like Names.
func (f EQFeatures) Vector() []float64 {
	return []float64{f.AverageEQScore}
}

// FromProfile rebuilds the canonical features of a stored profile.
func FromProfile(p model.UserProfile) EQFeatures {
	return EQFeatures{AverageEQScore: p.AverageEQScore, TotalSessions: p.TotalSessions, Counts: p.ErrorCounts}
}

// Row builds the retraining row of a user.
func (f EQFeatures) Row(userID string) model.FeatureRow {
	return model.FeatureRow{UserID: userID, Features: f.Vector(), TotalSessions: f.TotalSessions}
}
