// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	locations   map[string]*WorkLocation      // keyed by location ID
	assignments map[string]*StaffAssignment   // keyed by user ID
	sessions    map[string]*AttendanceSession // keyed by "userID:date"
	validations []*LocationValidation         // append-only, oldest first
	accruals    map[string]*AccrualEvent      // keyed by event ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		locations:   make(map[string]*WorkLocation),
		assignments: make(map[string]*StaffAssignment),
		sessions:    make(map[string]*AttendanceSession),
		accruals:    make(map[string]*AccrualEvent),
	}
}

func sessionKey(userID, date string) string {
	return userID + ":" + date
}

func (m *MockStore) CreateWorkLocation(ctx context.Context, loc *WorkLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy to avoid external modification
	l := *loc
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	m.locations[l.ID] = &l
	return nil
}

func (m *MockStore) GetWorkLocation(ctx context.Context, id string) (*WorkLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loc, ok := m.locations[id]
	if !ok {
		return nil, ErrNotFound
	}
	l := *loc
	return &l, nil
}

func (m *MockStore) ListWorkLocations(ctx context.Context) ([]*WorkLocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	locs := make([]*WorkLocation, 0, len(m.locations))
	for _, loc := range m.locations {
		l := *loc
		locs = append(locs, &l)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].Name < locs[j].Name })
	return locs, nil
}

func (m *MockStore) UpsertAssignment(ctx context.Context, a *StaffAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	cp.UpdatedAt = time.Now().UTC()
	m.assignments[cp.UserID] = &cp
	return nil
}

func (m *MockStore) GetAssignment(ctx context.Context, userID string) (*StaffAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// CreateSession mirrors the SQLite unique(user_id, date) guard: the map
// insert happens under the write lock, so concurrent duplicates get
// ErrDuplicateSession just like the constraint violation would.
func (m *MockStore) CreateSession(ctx context.Context, sess *AttendanceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(sess.UserID, sess.Date)
	if _, exists := m.sessions[key]; exists {
		return ErrDuplicateSession
	}

	now := time.Now().UTC()
	cp := *sess
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.sessions[key] = &cp
	return nil
}

func (m *MockStore) GetSessionByUserDate(ctx context.Context, userID, date string) (*AttendanceSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionKey(userID, date)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MockStore) LatestCompletedSession(ctx context.Context, userID string) (*AttendanceSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *AttendanceSession
	for _, sess := range m.sessions {
		if sess.UserID != userID || sess.Status != StatusCheckedOut {
			continue
		}
		if latest == nil || sess.Date > latest.Date {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *MockStore) CompleteSession(ctx context.Context, sess *AttendanceSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(sess.UserID, sess.Date)
	stored, ok := m.sessions[key]
	if !ok || stored.ID != sess.ID || stored.Status != StatusCheckedIn {
		return ErrNoOpenSession
	}

	stored.Status = StatusCheckedOut
	stored.CheckOutTime = sess.CheckOutTime
	stored.CheckOutLatitude = sess.CheckOutLatitude
	stored.CheckOutLongitude = sess.CheckOutLongitude
	stored.CheckOutAccuracyM = sess.CheckOutAccuracyM
	stored.DistanceCheckOutM = sess.DistanceCheckOutM
	stored.DurationMinutes = sess.DurationMinutes
	stored.UpdatedAt = time.Now().UTC()

	sess.Status = StatusCheckedOut
	return nil
}

func (m *MockStore) AppendValidation(ctx context.Context, v *LocationValidation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *v
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.validations = append(m.validations, &cp)
	return nil
}

func (m *MockStore) ListValidationsByUser(ctx context.Context, userID string, limit int) ([]*LocationValidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var vals []*LocationValidation
	for i := len(m.validations) - 1; i >= 0 && len(vals) < limit; i-- {
		if m.validations[i].UserID == userID {
			cp := *m.validations[i]
			vals = append(vals, &cp)
		}
	}
	return vals, nil
}

func (m *MockStore) LatestValidation(ctx context.Context, userID string) (*LocationValidation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.validations) - 1; i >= 0; i-- {
		if m.validations[i].UserID == userID {
			cp := *m.validations[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) SaveAccrualEvent(ctx context.Context, e *AccrualEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.accruals {
		if existing.UserID == e.UserID && existing.Date == e.Date {
			return nil // one event per completed session
		}
	}

	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.accruals[cp.ID] = &cp
	return nil
}

func (m *MockStore) ListUndeliveredAccrualEvents(ctx context.Context, limit int) ([]*AccrualEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var events []*AccrualEvent
	for _, e := range m.accruals {
		if e.DeliveredAt == nil {
			cp := *e
			events = append(events, &cp)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MockStore) MarkAccrualDelivered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.accruals[id]
	if !ok || e.DeliveredAt != nil {
		return ErrNotFound
	}
	t := at.UTC()
	e.DeliveredAt = &t
	return nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
