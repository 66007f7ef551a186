// Package repository defines the record store used by the EQ pipeline and
// its in-memory and SQLite implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/errquotient/internal/domain/model"
	"github.com/okian/errquotient/pkg/metrics"
)

// Counts reports table sizes.
type Counts struct {
	Events   int `json:"events"`
	Sessions int `json:"sessions"`
	Profiles int `json:"profiles"`
}

// Store is a keyed record store with paginated range reads.
// List methods return user ids in ascending order so offsets are stable.
type Store interface {
	// AppendEvent stores an immutable event, assigning an id if empty.
	AppendEvent(ctx context.Context, e model.ErrorEvent) (model.ErrorEvent, error)
	// FetchEvents returns a page of a user's events ordered by occurred_at.
	FetchEvents(ctx context.Context, userID string, offset, limit int) ([]model.ErrorEvent, error)
	// ListUsers returns a page of distinct users that have events.
	ListUsers(ctx context.Context, offset, limit int) ([]string, error)

	DeleteSessionRecords(ctx context.Context, userID string) (int, error)
	InsertSessionRecords(ctx context.Context, records []model.SessionEQRecord) error
	// FetchSessionRecords returns a page ordered by session start.
	FetchSessionRecords(ctx context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error)
	// UpdateSessionLabels rewrites labels keyed by record id and returns
	// how many records were found.
	UpdateSessionLabels(ctx context.Context, updates []model.LabelUpdate) (int, error)
	ListSessionUsers(ctx context.Context, offset, limit int) ([]string, error)

	UpsertProfile(ctx context.Context, p model.UserProfile) error
	// GetProfile returns ErrNotFound for an unknown user.
	GetProfile(ctx context.Context, userID string) (model.UserProfile, error)
	// FetchFeatureRows returns a page of retraining rows, one per profile.
	FetchFeatureRows(ctx context.Context, offset, limit int) ([]model.FeatureRow, error)
	ListProfileUsers(ctx context.Context, offset, limit int) ([]string, error)
	// UpdateProfileLabels sets (or, with nils, clears) a profile's labels.
	UpdateProfileLabels(ctx context.Context, userID string, cluster *int, perf *model.Performance, at time.Time) error

	UpsertModelMetadata(ctx context.Context, m model.ModelMetadata) error
	// GetModelMetadata returns ErrNotFound before the first retrain.
	GetModelMetadata(ctx context.Context) (model.ModelMetadata, error)

	Count(ctx context.Context) (Counts, error)
	Close() error
}

// HistoryReplacer is implemented by stores that can swap a user's whole
// history and profile atomically.
type HistoryReplacer interface {
	ReplaceHistory(ctx context.Context, userID string, records []model.SessionEQRecord, p model.UserProfile) error
}

func observe(op string, start time.Time) {
	metrics.RecordStoreLatency(op, time.Since(start))
}
