// Package model contains domain models passed between layers.
package model

import "time"

// ErrorEvent is one compiler error produced by a user's submission.
// OccurredAt keeps the timestamp text as recorded; it is parsed during
// segmentation so a malformed value drops the event instead of the batch.
type ErrorEvent struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	ProjectID    string         `json:"project_id"`
	RawMessage   string         `json:"raw_message"`
	OccurredAt   string         `json:"occurred_at"`
	CodeSnapshot map[string]any `json:"code_snapshot,omitempty"`
}

// SessionEQRecord summarises one session of a user.
type SessionEQRecord struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	SessionEQScore float64      `json:"session_eq_score"`
	SessionStart   time.Time    `json:"session_start"`
	SessionEnd     time.Time    `json:"session_end"`
	EventCount     int          `json:"event_count"`
	ErrorCounts    ErrorCounts  `json:"error_counts"`
	Cluster        *int         `json:"cluster"`
	Performance    *Performance `json:"performance"`
	RecordedAt     time.Time    `json:"recorded_at"`
}

// UserProfile is the per-user aggregate; one per user, upserted.
type UserProfile struct {
	UserID           string       `json:"user_id"`
	AverageEQScore   float64      `json:"average_eq_score"`
	TotalSessions    int          `json:"total_sessions"`
	ErrorCounts      ErrorCounts  `json:"error_counts"`
	Cluster          *int         `json:"cluster"`
	Performance      *Performance `json:"performance"`
	LastCalculatedAt time.Time    `json:"last_calculated_at"`
}

// FeatureRow is one user's input row for retraining.
type FeatureRow struct {
	UserID        string    `json:"user_id"`
	Features      []float64 `json:"features"`
	TotalSessions int       `json:"total_sessions"`
}

// LabelUpdate rewrites the labels of one session record.
// Nil fields clear the stored label.
type LabelUpdate struct {
	RecordID    string
	Cluster     *int
	Performance *Performance
}

// ModelMetadata describes the last successful retrain.
type ModelMetadata struct {
	OptimalK        int       `json:"optimal_k"`
	LastRetrainedAt time.Time `json:"last_retrained_at"`
	Rows            int       `json:"rows"`
}

// SameLabels reports whether two optional label pairs are equal.
func SameLabels(c1 *int, p1 *Performance, c2 *int, p2 *Performance) bool {
	if (c1 == nil) != (c2 == nil) || (p1 == nil) != (p2 == nil) {
		return false
	}
	if c1 != nil && *c1 != *c2 {
		return false
	}
	if p1 != nil && *p1 != *p2 {
		return false
	}
	return true
}
