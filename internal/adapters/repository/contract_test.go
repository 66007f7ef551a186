package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/errquotient/internal/domain/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func sessionRecord(id, user string, start time.Time, eq float64) model.SessionEQRecord {
	counts := model.ErrorCounts{2, 0, 1}
	return model.SessionEQRecord{
		ID:             id,
		UserID:         user,
		SessionEQScore: eq,
		SessionStart:   start,
		SessionEnd:     start.Add(10 * time.Minute),
		EventCount:     3,
		ErrorCounts:    counts,
		Cluster:        model.IntPtr(2),
		Performance:    model.PerformanceMedium.Ptr(),
		RecordedAt:     t0,
	}
}

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("events are paged in occurred_at order", func(t *testing.T) {
		s := open(t)
		for i, ts := range []string{"2024-03-01T09:20:00Z", "2024-03-01T09:00:00Z", "2024-03-01T09:10:00Z"} {
			_, err := s.AppendEvent(ctx, model.ErrorEvent{
				UserID: "u1", RawMessage: fmt.Sprintf("m%d", i), OccurredAt: ts,
				CodeSnapshot: map[string]any{"file": "Main.java"},
			})
			require.NoError(t, err)
		}
		_, err := s.AppendEvent(ctx, model.ErrorEvent{UserID: "u2", RawMessage: "x", OccurredAt: "2024-03-01T08:00:00Z"})
		require.NoError(t, err)

		first, err := s.FetchEvents(ctx, "u1", 0, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "m1", first[0].RawMessage)
		assert.Equal(t, "m2", first[1].RawMessage)
		assert.NotEmpty(t, first[0].ID)
		assert.Equal(t, "Main.java", first[0].CodeSnapshot["file"])

		rest, err := s.FetchEvents(ctx, "u1", 2, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "m0", rest[0].RawMessage)

		none, err := s.FetchEvents(ctx, "u1", 3, 2)
		require.NoError(t, err)
		assert.Empty(t, none)

		users, err := s.ListUsers(ctx, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, users)
	})

	t.Run("invalid input is rejected", func(t *testing.T) {
		s := open(t)
		_, err := s.AppendEvent(ctx, model.ErrorEvent{RawMessage: "x"})
		assert.True(t, errors.Is(err, ErrInvalidEvent))

		_, err = s.FetchEvents(ctx, "u1", 0, 0)
		assert.True(t, errors.Is(err, ErrInvalidLimit))
		_, err = s.ListProfileUsers(ctx, -1, 10)
		assert.True(t, errors.Is(err, ErrInvalidLimit))
	})

	t.Run("session records round trip and relabel", func(t *testing.T) {
		s := open(t)
		recs := []model.SessionEQRecord{
			sessionRecord("r2", "u1", t0.Add(2*time.Hour), 0.5),
			sessionRecord("r1", "u1", t0, 0.25),
			sessionRecord("r3", "u2", t0, 1),
		}
		require.NoError(t, s.InsertSessionRecords(ctx, recs))

		got, err := s.FetchSessionRecords(ctx, "u1", 0, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "r1", got[0].ID)
		assert.True(t, got[0].SessionStart.Equal(t0))
		assert.Equal(t, 2, got[0].ErrorCounts.Get(model.CannotFindSymbol))
		require.NotNil(t, got[0].Cluster)
		assert.Equal(t, 2, *got[0].Cluster)

		n, err := s.UpdateSessionLabels(ctx, []model.LabelUpdate{
			{RecordID: "r1", Cluster: model.IntPtr(1), Performance: model.PerformanceHigh.Ptr()},
			{RecordID: "r2"},
			{RecordID: "missing", Cluster: model.IntPtr(3)},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err = s.FetchSessionRecords(ctx, "u1", 0, 10)
		require.NoError(t, err)
		assert.Equal(t, model.PerformanceHigh, *got[0].Performance)
		assert.Nil(t, got[1].Cluster)
		assert.Nil(t, got[1].Performance)

		users, err := s.ListSessionUsers(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"u2"}, users)

		deleted, err := s.DeleteSessionRecords(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)
		got, err = s.FetchSessionRecords(ctx, "u1", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("profiles", func(t *testing.T) {
		s := open(t)
		_, err := s.GetProfile(ctx, "ghost")
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.True(t, errors.Is(s.UpdateProfileLabels(ctx, "ghost", nil, nil, t0), ErrNotFound))

		p := model.UserProfile{UserID: "u1", AverageEQScore: 0.4, TotalSessions: 3, LastCalculatedAt: t0}
		require.NoError(t, s.UpsertProfile(ctx, p))
		p.AverageEQScore = 0.6
		p.Cluster, p.Performance = model.IntPtr(3), model.PerformanceLow.Ptr()
		require.NoError(t, s.UpsertProfile(ctx, p))
		require.NoError(t, s.UpsertProfile(ctx, model.UserProfile{UserID: "u0", AverageEQScore: 0.1, TotalSessions: 1, LastCalculatedAt: t0}))

		got, err := s.GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.InDelta(t, 0.6, got.AverageEQScore, 1e-12)
		assert.Equal(t, model.PerformanceLow, *got.Performance)

		rows, err := s.FetchFeatureRows(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "u0", rows[0].UserID)
		assert.Equal(t, []float64{0.6}, rows[1].Features)
		assert.Equal(t, 3, rows[1].TotalSessions)

		later := t0.Add(time.Hour)
		require.NoError(t, s.UpdateProfileLabels(ctx, "u1", nil, nil, later))
		got, err = s.GetProfile(ctx, "u1")
		require.NoError(t, err)
		assert.Nil(t, got.Cluster)
		assert.True(t, got.LastCalculatedAt.Equal(later))

		users, err := s.ListProfileUsers(ctx, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"u0"}, users)
	})

	t.Run("model metadata and counts", func(t *testing.T) {
		s := open(t)
		_, err := s.GetModelMetadata(ctx)
		assert.True(t, errors.Is(err, ErrNotFound))

		require.NoError(t, s.UpsertModelMetadata(ctx, model.ModelMetadata{OptimalK: 3, LastRetrainedAt: t0, Rows: 5}))
		require.NoError(t, s.UpsertModelMetadata(ctx, model.ModelMetadata{OptimalK: 3, LastRetrainedAt: t0.Add(time.Hour), Rows: 7}))
		m, err := s.GetModelMetadata(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, m.Rows)

		_, err = s.AppendEvent(ctx, model.ErrorEvent{UserID: "u1", RawMessage: "x"})
		require.NoError(t, err)
		require.NoError(t, s.InsertSessionRecords(ctx, []model.SessionEQRecord{sessionRecord("r1", "u1", t0, 0)}))
		c, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, Counts{Events: 1, Sessions: 1, Profiles: 0}, c)
	})
}
