package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Session
	order    []string
	byBeacon map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Session),
		byBeacon: make(map[string][]string),
	}
}

func (m *MemoryStore) Insert(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.SessionID]; ok {
		return ErrDuplicate
	}
	if s.Status == StatusOpen {
		for _, id := range m.order {
			o := m.byID[id]
			if o.Status == StatusOpen && o.ClassID == s.ClassID && o.RoomID == s.RoomID {
				return ErrDuplicate
			}
		}
	}
	cp := s
	m.byID[s.SessionID] = &cp
	m.order = append(m.order, s.SessionID)
	key := strings.ToUpper(s.BeaconUUID)
	m.byBeacon[key] = append(m.byBeacon[key], s.SessionID)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SetStatus(_ context.Context, id string, status Status, closedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil
	}
	s.Status = status
	if closedAt != nil {
		t := *closedAt
		s.ClosedAt = &t
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Session, error) {
	return m.filter(func(*Session) bool { return true }), nil
}

func (m *MemoryStore) ListOpen(_ context.Context) ([]Session, error) {
	return m.filter(func(s *Session) bool { return s.Status == StatusOpen }), nil
}

func (m *MemoryStore) OpenByRoom(_ context.Context, classID, roomID string) ([]Session, error) {
	return m.filter(func(s *Session) bool {
		return s.Status == StatusOpen && s.ClassID == classID && s.RoomID == roomID
	}), nil
}

func (m *MemoryStore) LatestByBeacon(_ context.Context, beaconUUID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byBeacon[strings.ToUpper(beaconUUID)]
	if len(ids) == 0 {
		return nil, nil
	}
	cp := *m.byID[ids[len(ids)-1]]
	return &cp, nil
}

func (m *MemoryStore) filter(keep func(*Session) bool) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.order))
	for _, id := range m.order {
		if s := m.byID[id]; keep(s) {
			out = append(out, *s)
		}
	}
	return out
}
