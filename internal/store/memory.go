package store

import (
	"context"
	"sync"
	"time"

	"github.com/wardenlabs/botwarden/internal/detection"
	"github.com/wardenlabs/botwarden/internal/session"
)

// MemoryStore is an in-memory Repository for development and tests.
type MemoryStore struct {
	mu              sync.RWMutex
	sessions        map[string]session.Session
	events          map[string][]session.Event
	classifications map[string]detection.Result
	blocklist       []BlockEntry

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:        make(map[string]session.Session),
		events:          make(map[string][]session.Event),
		classifications: make(map[string]detection.Result),
		now:             time.Now,
	}
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) UpsertSession(ctx context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) UpdateResponseAction(ctx context.Context, sessionID, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ResponseAction = action
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, e session.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.SessionID] = append(m.events[e.SessionID], e)
	return nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]session.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	evs := m.events[sessionID]
	out := make([]session.Event, len(evs))
	copy(out, evs)
	return out, nil
}

func (m *MemoryStore) CountEvents(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events[sessionID]), nil
}

func (m *MemoryStore) UpsertClassification(ctx context.Context, r detection.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classifications[r.SessionID] = r
	return nil
}

func (m *MemoryStore) GetClassification(ctx context.Context, sessionID string) (detection.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.classifications[sessionID]
	if !ok {
		return detection.Result{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) AppendToBlocklist(ctx context.Context, e BlockEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocklist = append(m.blocklist, e)
	return nil
}

func (m *MemoryStore) IsBlocked(ctx context.Context, sessionID, ipHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for i := range m.blocklist {
		e := &m.blocklist[i]
		if e.ExpiresAt.Before(now) {
			continue
		}
		if (sessionID != "" && e.SessionID == sessionID) || (ipHash != "" && e.IPHash == ipHash) {
			e.HitCount++
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Close() error { return nil }
