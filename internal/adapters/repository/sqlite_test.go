package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/errquotient/internal/domain/model"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "eq.db")
	s, err := OpenSQLite(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return openTestSQLite(t) })
}

func TestSQLiteStore_Pragmas(t *testing.T) {
	s := openTestSQLite(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestSQLiteStore_ReplaceHistory(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	require.NoError(t, s.InsertSessionRecords(ctx, []model.SessionEQRecord{
		sessionRecord("old-1", "u1", t0, 0.1),
		sessionRecord("old-2", "u1", t0.Add(time.Hour), 0.2),
		sessionRecord("other", "u2", t0, 0.3),
	}))

	fresh := []model.SessionEQRecord{sessionRecord("new-1", "u1", t0, 0.9)}
	profile := model.UserProfile{
		UserID: "u1", AverageEQScore: 0.9, TotalSessions: 1,
		Cluster: model.IntPtr(3), Performance: model.PerformanceLow.Ptr(), LastCalculatedAt: t0,
	}
	require.NoError(t, s.ReplaceHistory(ctx, "u1", fresh, profile))

	got, err := s.FetchSessionRecords(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new-1", got[0].ID)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.TotalSessions)
	assert.Equal(t, 3, *p.Cluster)

	other, err := s.FetchSessionRecords(ctx, "u2", 0, 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestSQLiteStore_ReplaceHistoryRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t)

	require.NoError(t, s.InsertSessionRecords(ctx, []model.SessionEQRecord{
		sessionRecord("keep", "u1", t0, 0.1),
		sessionRecord("taken", "u2", t0, 0.3),
	}))

	// "taken" belongs to u2 and survives the delete, so the insert conflicts.
	err := s.ReplaceHistory(ctx, "u1",
		[]model.SessionEQRecord{sessionRecord("taken", "u1", t0, 0.5)},
		model.UserProfile{UserID: "u1", TotalSessions: 1, LastCalculatedAt: t0})
	require.Error(t, err)

	got, err := s.FetchSessionRecords(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].ID)

	_, err = s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "eq.db")

	s, err := OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, model.ErrorEvent{ID: "e1", UserID: "u1", RawMessage: "x", OccurredAt: "2024-03-01T09:00:00Z"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()
	evs, err := s.FetchEvents(ctx, "u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "e1", evs[0].ID)
}
