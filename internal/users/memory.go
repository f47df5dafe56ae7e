package users

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps users in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (m *MemoryStore) Insert(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[u.StudentID]; ok {
		return ErrDuplicate
	}
	email := strings.ToLower(u.Email)
	if email != "" {
		if _, ok := m.byEmail[email]; ok {
			return ErrDuplicate
		}
		m.byEmail[email] = u.StudentID
	}
	m.byID[u.StudentID] = u
	return nil
}

func (m *MemoryStore) Get(_ context.Context, studentID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[studentID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	id, ok := m.byEmail[strings.ToLower(email)]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.Get(ctx, id)
}
