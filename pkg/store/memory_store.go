package store

import (
	"context"
	"sync"

	"examtrack/pkg/domain"
)

// MemoryStore is an in-memory AccountStore for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]domain.Account
	byEmail map[string]string
}

// NewMemoryStore constructs an empty account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]domain.Account),
		byEmail: make(map[string]string),
	}
}

// SaveAccount registers or updates an account.
func (s *MemoryStore) SaveAccount(_ context.Context, a domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byID[a.ID]; ok && prev.Email != a.Email {
		delete(s.byEmail, prev.Email)
	}
	s.byID[a.ID] = a
	s.byEmail[a.Email] = a.ID
	return nil
}

// HasEmail checks if email exists.
func (s *MemoryStore) HasEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

// GetByEmail looks up an account by email.
func (s *MemoryStore) GetByEmail(_ context.Context, email string) (domain.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return domain.Account{}, false, nil
	}
	return s.byID[id], true, nil
}

// GetByID returns an account by ID.
func (s *MemoryStore) GetByID(_ context.Context, id string) (domain.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return a, ok, nil
}
