package repository

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/okian/errquotient/internal/domain/model"
)

// MemoryStore keeps every table in maps guarded by one RWMutex. It does not
// implement HistoryReplacer, so callers fall back to the step-wise path.
type MemoryStore struct {
	mu sync.RWMutex
	o  options

	events   map[string][]model.ErrorEvent // per user, ordered by occurred_at then arrival
	eventIDs map[string]struct{}
	sessions map[string][]model.SessionEQRecord // per user, ordered by start
	records  map[string]string                  // record id -> user id
	profiles map[string]model.UserProfile
	meta     *model.ModelMetadata
	closed   bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		o:        buildOptions(opts),
		events:   make(map[string][]model.ErrorEvent),
		eventIDs: make(map[string]struct{}),
		sessions: make(map[string][]model.SessionEQRecord),
		records:  make(map[string]string),
		profiles: make(map[string]model.UserProfile),
	}
}

func checkPage(offset, limit int) error {
	if offset < 0 || limit <= 0 {
		return fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidLimit, offset, limit)
	}
	return nil
}

func page[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := min(offset+limit, len(all))
	return slices.Clone(all[offset:end])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *MemoryStore) AppendEvent(ctx context.Context, e model.ErrorEvent) (model.ErrorEvent, error) {
	defer observe("append_event", time.Now())
	if e.UserID == "" {
		return model.ErrorEvent{}, fmt.Errorf("%w: empty user id", ErrInvalidEvent)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.ErrorEvent{}, ErrClosed
	}
	if e.ID == "" {
		e.ID = s.o.newID()
	}
	if e.OccurredAt == "" {
		e.OccurredAt = s.o.now().UTC().Format(time.RFC3339Nano)
	}
	if _, dup := s.eventIDs[e.ID]; dup {
		return model.ErrorEvent{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidEvent, e.ID)
	}
	evs := s.events[e.UserID]
	// insert after every event with occurred_at <= e.OccurredAt
	i := len(evs)
	for i > 0 && strings.Compare(evs[i-1].OccurredAt, e.OccurredAt) > 0 {
		i--
	}
	s.events[e.UserID] = slices.Insert(evs, i, e)
	s.eventIDs[e.ID] = struct{}{}
	return e, nil
}

func (s *MemoryStore) FetchEvents(ctx context.Context, userID string, offset, limit int) ([]model.ErrorEvent, error) {
	defer observe("fetch_events", time.Now())
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.events[userID], offset, limit), nil
}

func (s *MemoryStore) ListUsers(ctx context.Context, offset, limit int) ([]string, error) {
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(sortedKeys(s.events), offset, limit), nil
}

func (s *MemoryStore) DeleteSessionRecords(ctx context.Context, userID string) (int, error) {
	defer observe("delete_session_records", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	old := s.sessions[userID]
	for _, r := range old {
		delete(s.records, r.ID)
	}
	delete(s.sessions, userID)
	return len(old), nil
}

func (s *MemoryStore) InsertSessionRecords(ctx context.Context, records []model.SessionEQRecord) error {
	defer observe("insert_session_records", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, r := range records {
		if _, dup := s.records[r.ID]; dup || r.ID == "" {
			return fmt.Errorf("session record id %q missing or duplicate", r.ID)
		}
	}
	touched := map[string]struct{}{}
	for _, r := range records {
		r.Cluster, r.Performance = copyLabels(r.Cluster, r.Performance)
		s.sessions[r.UserID] = append(s.sessions[r.UserID], r)
		s.records[r.ID] = r.UserID
		touched[r.UserID] = struct{}{}
	}
	for u := range touched {
		slices.SortStableFunc(s.sessions[u], func(a, b model.SessionEQRecord) int {
			if c := a.SessionStart.Compare(b.SessionStart); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	}
	return nil
}

func (s *MemoryStore) FetchSessionRecords(ctx context.Context, userID string, offset, limit int) ([]model.SessionEQRecord, error) {
	defer observe("fetch_session_records", time.Now())
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := page(s.sessions[userID], offset, limit)
	for i := range out {
		out[i].Cluster, out[i].Performance = copyLabels(out[i].Cluster, out[i].Performance)
	}
	return out, nil
}

func (s *MemoryStore) UpdateSessionLabels(ctx context.Context, updates []model.LabelUpdate) (int, error) {
	defer observe("update_session_labels", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, u := range updates {
		userID, ok := s.records[u.RecordID]
		if !ok {
			continue
		}
		recs := s.sessions[userID]
		for i := range recs {
			if recs[i].ID == u.RecordID {
				recs[i].Cluster, recs[i].Performance = copyLabels(u.Cluster, u.Performance)
				n++
				break
			}
		}
	}
	return n, nil
}

func (s *MemoryStore) ListSessionUsers(ctx context.Context, offset, limit int) ([]string, error) {
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(sortedKeys(s.sessions), offset, limit), nil
}

func (s *MemoryStore) UpsertProfile(ctx context.Context, p model.UserProfile) error {
	defer observe("upsert_profile", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	p.Cluster, p.Performance = copyLabels(p.Cluster, p.Performance)
	s.profiles[p.UserID] = p
	return nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	defer observe("get_profile", time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return model.UserProfile{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	p.Cluster, p.Performance = copyLabels(p.Cluster, p.Performance)
	return p, nil
}

func (s *MemoryStore) FetchFeatureRows(ctx context.Context, offset, limit int) ([]model.FeatureRow, error) {
	defer observe("fetch_feature_rows", time.Now())
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := page(sortedKeys(s.profiles), offset, limit)
	rows := make([]model.FeatureRow, len(users))
	for i, u := range users {
		p := s.profiles[u]
		rows[i] = model.FeatureRow{UserID: u, Features: []float64{p.AverageEQScore}, TotalSessions: p.TotalSessions}
	}
	return rows, nil
}

func (s *MemoryStore) ListProfileUsers(ctx context.Context, offset, limit int) ([]string, error) {
	if err := checkPage(offset, limit); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(sortedKeys(s.profiles), offset, limit), nil
}

func (s *MemoryStore) UpdateProfileLabels(ctx context.Context, userID string, cluster *int, perf *model.Performance, at time.Time) error {
	defer observe("update_profile_labels", time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	p.Cluster, p.Performance = copyLabels(cluster, perf)
	p.LastCalculatedAt = at
	s.profiles[userID] = p
	return nil
}

func (s *MemoryStore) UpsertModelMetadata(ctx context.Context, m model.ModelMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = &m
	return nil
}

func (s *MemoryStore) GetModelMetadata(ctx context.Context) (model.ModelMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return model.ModelMetadata{}, fmt.Errorf("model metadata: %w", ErrNotFound)
	}
	return *s.meta, nil
}

func (s *MemoryStore) Count(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Counts{Events: len(s.eventIDs), Sessions: len(s.records), Profiles: len(s.profiles)}, nil
}

// Close marks the store closed; later writes fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyLabels(c *int, p *model.Performance) (*int, *model.Performance) {
	var oc *int
	var op *model.Performance
	if c != nil {
		oc = model.IntPtr(*c)
	}
	if p != nil {
		op = p.Ptr()
	}
	return oc, op
}
