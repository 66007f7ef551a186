package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/errquotient/internal/domain/model"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// timeLayout has fixed width so stored times sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS error_events (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	user_id       TEXT NOT NULL,
	project_id    TEXT NOT NULL DEFAULT '',
	raw_message   TEXT NOT NULL,
	occurred_at   TEXT NOT NULL,
	code_snapshot TEXT
);
CREATE INDEX IF NOT EXISTS idx_error_events_user ON error_events (user_id, occurred_at, seq);

CREATE TABLE IF NOT EXISTS session_eq_records (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	session_eq_score REAL NOT NULL,
	session_start    TEXT NOT NULL,
	session_end      TEXT NOT NULL,
	event_count      INTEGER NOT NULL,
	error_counts     TEXT NOT NULL,
	cluster          INTEGER,
	performance      TEXT,
	recorded_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_eq_records_user ON session_eq_records (user_id, session_start, id);

CREATE TABLE IF NOT EXISTS user_profiles (
	user_id            TEXT PRIMARY KEY,
	average_eq_score   REAL NOT NULL,
	total_sessions     INTEGER NOT NULL,
	error_counts       TEXT NOT NULL,
	cluster            INTEGER,
	performance        TEXT,
	last_calculated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS model_metadata (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	optimal_k         INTEGER NOT NULL,
	last_retrained_at TEXT NOT NULL,
	row_count         INTEGER NOT NULL
);`

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	o  options
}

// OpenSQLite opens (or creates) the database at dsn, applies pragmas and
// creates the schema. Connections are limited to one, which serialises
// writers without relying on busy retries.
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, o: buildOptions(opts)}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// DB exposes the handle for diagnostics and tests.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) AppendEvent(ctx context.Context, e model.ErrorEvent) (model.ErrorEvent, error) {
	defer observe("append_event", time.Now())
	if e.UserID == "" {
		return model.ErrorEvent{}, fmt.Errorf("%w: empty user id", ErrInvalidEvent)
	}
	if e.ID == "" {
		e.ID = s.o.newID()
	}
	if e.OccurredAt == "" {
		e.OccurredAt = s.o.now().UTC().Format(time.RFC3339Nano)
	}
	var snapshot sql.NullString
	if e.CodeSnapshot != nil {
		raw, err := json.Marshal(e.CodeSnapshot)
		if err != nil {
			return model.ErrorEvent{}, fmt.Errorf("%w: code snapshot: %v", ErrInvalidEvent, err)
		}
		snapshot = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_events (id, user_id, project_id, raw_message, occurred_at, code_snapshot) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.ProjectID, e.RawMessage, e.OccurredAt, snapshot)
	if err != nil {
		return model.ErrorEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

func (s *SQLiteStore) FetchEvents(ctx context.Context, userID string, offset, limit int) ([]model.ErrorEvent, error) {
	defer observe("fetch_events", time.Now())
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, project_id, raw_message, occurred_at, code_snapshot
		   FROM error_events WHERE user_id = ? ORDER BY occurred_at, seq LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := make([]model.ErrorEvent, 0, limit)
	for rows.Next() {
		var e model.ErrorEvent
		var snapshot sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.ProjectID, &e.RawMessage, &e.OccurredAt, &snapshot); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if snapshot.Valid {
			if err := json.Unmarshal([]byte(snapshot.String), &e.CodeSnapshot); err != nil {
				return nil, fmt.Errorf("decode code snapshot of %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListUsers(ctx context.Context, offset, limit int) ([]string, error) {
	return s.listUsers(ctx, `SELECT DISTINCT user_id FROM error_events ORDER BY user_id LIMIT ? OFFSET ?`, offset, limit)
}

func (s *SQLiteStore) ListSessionUsers(ctx context.Context, offset, limit int) ([]string, error) {
	return s.listUsers(ctx, `SELECT DISTINCT user_id FROM session_eq_records ORDER BY user_id LIMIT ? OFFSET ?`, offset, limit)
}

func (s *SQLiteStore) ListProfileUsers(ctx context.Context, offset, limit int) ([]string, error) {
	return s.listUsers(ctx, `SELECT user_id FROM user_profiles ORDER BY user_id LIMIT ? OFFSET ?`, offset, limit)
}

func (s *SQLiteStore) listUsers(ctx context.Context, query string, offset, limit int) ([]string, error) {
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0, limit)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func (s *SQLiteStore) DeleteSessionRecords(ctx context.Context, userID string) (int, error) {
	defer observe("delete_session_records", time.Now())
	return deleteSessions(ctx, s.db, userID)
}

func deleteSessions(ctx context.Context, ex execer, userID string) (int, error) {
	res, err := ex.ExecContext(ctx, `DELETE FROM session_eq_records WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete session records: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) InsertSessionRecords(ctx context.Context, records []model.SessionEQRecord) error {
	defer observe("insert_session_records", time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error { return insertSessions(ctx, tx, records) })
}

func insertSessions(ctx context.Context, ex execer, records []model.SessionEQRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt, err := ex.PrepareContext(ctx, `INSERT INTO session_eq_records
		(id, user_id, session_eq_score, session_start, session_end, event_count, error_counts, cluster, performance, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert session: %w", err)
	}
	defer stmt.Close()
	for _, r := range records {
		counts, err := json.Marshal(r.ErrorCounts)
		if err != nil {
			return fmt.Errorf("encode error counts: %w", err)
		}
		cluster, perf := nullLabels(r.Cluster, r.Performance)
		if _, err := stmt.ExecContext(ctx, r.ID, r.UserID, r.SessionEQScore,
			formatTime(r.SessionStart), formatTime(r.SessionEnd), r.EventCount, string(counts),
			cluster, perf, formatTime(r.RecordedAt)); err != nil {
			return fmt.Errorf("insert session record %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) FetchSessionRecords(ctx context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error) {
	defer observe("fetch_session_records", time.Now())
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, session_eq_score, session_start, session_end,
		event_count, error_counts, cluster, performance, recorded_at
		FROM session_eq_records WHERE user_id = ? ORDER BY session_start, id LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	out := make([]model.SessionEQRecord, 0, limit)
	for rows.Next() {
		var (
			r                    model.SessionEQRecord
			start, end, recorded string
			counts               string
			cluster              sql.NullInt64
			perf                 sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.SessionEQScore, &start, &end, &r.EventCount,
			&counts, &cluster, &perf, &recorded); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		if err := json.Unmarshal([]byte(counts), &r.ErrorCounts); err != nil {
			return nil, fmt.Errorf("decode error counts of %s: %w", r.ID, err)
		}
		if r.SessionStart, err = parseTime(start); err != nil {
			return nil, err
		}
		if r.SessionEnd, err = parseTime(end); err != nil {
			return nil, err
		}
		if r.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		r.Cluster, r.Performance = labelsFromNull(cluster, perf)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateSessionLabels(ctx context.Context, updates []model.LabelUpdate) (int, error) {
	defer observe("update_session_labels", time.Now())
	total := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE session_eq_records SET cluster = ?, performance = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("prepare label update: %w", err)
		}
		defer stmt.Close()
		for _, u := range updates {
			cluster, perf := nullLabels(u.Cluster, u.Performance)
			res, err := stmt.ExecContext(ctx, cluster, perf, u.RecordID)
			if err != nil {
				return fmt.Errorf("update labels of %s: %w", u.RecordID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.UserProfile) error {
	defer observe("upsert_profile", time.Now())
	return upsertProfile(ctx, s.db, p)
}

func upsertProfile(ctx context.Context, ex execer, p model.UserProfile) error {
	counts, err := json.Marshal(p.ErrorCounts)
	if err != nil {
		return fmt.Errorf("encode error counts: %w", err)
	}
	cluster, perf := nullLabels(p.Cluster, p.Performance)
	_, err = ex.ExecContext(ctx, `INSERT INTO user_profiles
		(user_id, average_eq_score, total_sessions, error_counts, cluster, performance, last_calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			average_eq_score = excluded.average_eq_score,
			total_sessions = excluded.total_sessions,
			error_counts = excluded.error_counts,
			cluster = excluded.cluster,
			performance = excluded.performance,
			last_calculated_at = excluded.last_calculated_at`,
		p.UserID, p.AverageEQScore, p.TotalSessions, string(counts), cluster, perf, formatTime(p.LastCalculatedAt))
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	defer observe("get_profile", time.Now())
	var (
		p       model.UserProfile
		counts  string
		cluster sql.NullInt64
		perf    sql.NullString
		at      string
	)
	err := s.db.QueryRowContext(ctx, `SELECT user_id, average_eq_score, total_sessions, error_counts, cluster, performance, last_calculated_at
		FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.AverageEQScore, &p.TotalSessions, &counts, &cluster, &perf, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserProfile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return model.UserProfile{}, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(counts), &p.ErrorCounts); err != nil {
		return model.UserProfile{}, fmt.Errorf("decode error counts of %s: %w", userID, err)
	}
	if p.LastCalculatedAt, err = parseTime(at); err != nil {
		return model.UserProfile{}, err
	}
	p.Cluster, p.Performance = labelsFromNull(cluster, perf)
	return p, nil
}

func (s *SQLiteStore) FetchFeatureRows(ctx context.Context, offset, limit int) ([]model.FeatureRow, error) {
	defer observe("fetch_feature_rows", time.Now())
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, average_eq_score, total_sessions
		FROM user_profiles ORDER BY user_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query feature rows: %w", err)
	}
	defer rows.Close()
	out := make([]model.FeatureRow, 0, limit)
	for rows.Next() {
		var (
			r   model.FeatureRow
			avg sql.NullFloat64
		)
		if err := rows.Scan(&r.UserID, &avg, &r.TotalSessions); err != nil {
			return nil, fmt.Errorf("scan feature row: %w", err)
		}
		if avg.Valid {
			r.Features = []float64{avg.Float64}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateProfileLabels(ctx context.Context, userID string, cluster *int, perf *model.Performance, at time.Time) error {
	defer observe("update_profile_labels", time.Now())
	c, p := nullLabels(cluster, perf)
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles SET cluster = ?, performance = ?, last_calculated_at = ? WHERE user_id = ?`,
		c, p, formatTime(at), userID)
	if err != nil {
		return fmt.Errorf("update profile labels %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) UpsertModelMetadata(ctx context.Context, m model.ModelMetadata) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO model_metadata (id, optimal_k, last_retrained_at, row_count)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET optimal_k = excluded.optimal_k,
			last_retrained_at = excluded.last_retrained_at, row_count = excluded.row_count`,
		m.OptimalK, formatTime(m.LastRetrainedAt), m.Rows)
	if err != nil {
		return fmt.Errorf("upsert model metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetModelMetadata(ctx context.Context) (model.ModelMetadata, error) {
	var (
		m  model.ModelMetadata
		at string
	)
	err := s.db.QueryRowContext(ctx, `SELECT optimal_k, last_retrained_at, row_count FROM model_metadata WHERE id = 1`).
		Scan(&m.OptimalK, &at, &m.Rows)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModelMetadata{}, fmt.Errorf("model metadata: %w", ErrNotFound)
	}
	if err != nil {
		return model.ModelMetadata{}, fmt.Errorf("get model metadata: %w", err)
	}
	if m.LastRetrainedAt, err = parseTime(at); err != nil {
		return model.ModelMetadata{}, err
	}
	return m, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM error_events),
		(SELECT COUNT(*) FROM session_eq_records),
		(SELECT COUNT(*) FROM user_profiles)`).Scan(&c.Events, &c.Sessions, &c.Profiles)
	if err != nil {
		return Counts{}, fmt.Errorf("count: %w", err)
	}
	return c, nil
}

// ReplaceHistory deletes a user's session records, inserts the new ones
// and upserts the profile in one transaction.
func (s *SQLiteStore) ReplaceHistory(ctx context.Context, userID string, records []model.SessionEQRecord, p model.UserProfile) error {
	defer observe("replace_history", time.Now())
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := deleteSessions(ctx, tx, userID); err != nil {
			return err
		}
		if err := insertSessions(ctx, tx, records); err != nil {
			return err
		}
		return upsertProfile(ctx, tx, p)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored time %q: %w", s, err)
	}
	return t, nil
}

func nullLabels(c *int, p *model.Performance) (sql.NullInt64, sql.NullString) {
	var nc sql.NullInt64
	var np sql.NullString
	if c != nil {
		nc = sql.NullInt64{Int64: int64(*c), Valid: true}
	}
	if p != nil {
		np = sql.NullString{String: string(*p), Valid: true}
	}
	return nc, np
}

func labelsFromNull(c sql.NullInt64, p sql.NullString) (*int, *model.Performance) {
	var oc *int
	var op *model.Performance
	if c.Valid {
		oc = model.IntPtr(int(c.Int64))
	}
	if p.Valid && strings.TrimSpace(p.String) != "" {
		op = model.Performance(p.String).Ptr()
	}
	return oc, op
}

var _ HistoryReplacer = (*SQLiteStore)(nil)
var _ Store = (*SQLiteStore)(nil)
var _ Store = (*MemoryStore)(nil)
