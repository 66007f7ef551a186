// Package types contains the read shapes returned by the service and API.
package types

import (
	"time"

	"github.com/okian/errquotient/internal/domain/classifier"
	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/internal/domain/reconcile"
)

// Classification is the answer to a classify or predict call.
type Classification struct {
	UserID         string            `json:"user_id,omitempty"`
	Performance    model.Performance `json:"performance"`
	Cluster        int               `json:"cluster"`
	AverageEQScore float64           `json:"average_eq_score"`
	TotalSessions  int               `json:"total_sessions,omitempty"`
}

// RetrainOutcome values.
const (
	OutcomeFitted  = "fitted"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// RetrainResult reports one retrain run.
type RetrainResult struct {
	Outcome   string            `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
	Rows      int               `json:"rows"`
	Version   int               `json:"version"`
	Reconcile *reconcile.Report `json:"reconcile,omitempty"`
	Took      time.Duration     `json:"took_ns"`
}

// ModelInfo describes the live model.
type ModelInfo struct {
	State        classifier.State          `json:"state"`
	Version      int                       `json:"version"`
	TrainedAt    *time.Time                `json:"trained_at,omitempty"`
	FeatureNames []string                  `json:"feature_names"`
	Centers      [][]float64               `json:"centers,omitempty"`
	Performance  map[int]model.Performance `json:"performance,omitempty"`
	Labels       map[int]int               `json:"labels,omitempty"`
	Metadata     *model.ModelMetadata      `json:"metadata,omitempty"`
}

// NewModelInfo builds the view of snap. Centers are reported in original
// feature units.
func NewModelInfo(state classifier.State, snap *classifier.Snapshot, meta *model.ModelMetadata) ModelInfo {
	info := ModelInfo{State: state, Metadata: meta}
	if snap == nil {
		return info
	}
	info.Version = snap.Version
	info.FeatureNames = snap.FeatureNames
	info.Performance = snap.Performance
	info.Labels = snap.Labels
	if !snap.TrainedAt.IsZero() {
		at := snap.TrainedAt
		info.TrainedAt = &at
	}
	if snap.Fitted() {
		info.Centers = make([][]float64, len(snap.Centers))
		for i, c := range snap.Centers {
			orig := make([]float64, len(c))
			for j, v := range c {
				orig[j] = v*snap.Scaler.Scale[j] + snap.Scaler.Mean[j]
			}
			info.Centers[i] = orig
		}
	}
	return info
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started       bool             `json:"started"`
	Uptime        string           `json:"uptime"`
	ModelState    classifier.State `json:"model_state"`
	ModelVersion  int              `json:"model_version"`
	QueueSize     int              `json:"queue_size"`
	QueueCapacity int              `json:"queue_capacity"`
	PendingUsers  int64            `json:"pending_users"`
	Workers       int              `json:"workers"`
	JobsInFlight  int64            `json:"jobs_in_flight"`
	JobsProcessed int64            `json:"jobs_processed"`
	JobsFailed    int64            `json:"jobs_failed"`
	Events        int              `json:"events"`
	Sessions      int              `json:"sessions"`
	Profiles      int              `json:"profiles"`
	Goroutines    int              `json:"goroutines"`
}
