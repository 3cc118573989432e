package notify

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistrar keeps requests in memory (single instance only).
type MemoryRegistrar struct {
	mu      sync.Mutex
	auth    map[string]AuthorizationStatus
	pending map[string]map[string]Request

	// FailAdd, when set, is returned by Add.
	FailAdd error
}

// NewMemoryRegistrar builds an empty registrar.
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{
		auth:    make(map[string]AuthorizationStatus),
		pending: make(map[string]map[string]Request),
	}
}

// AuthorizationStatus implements Registrar.
func (m *MemoryRegistrar) AuthorizationStatus(ctx context.Context) (AuthorizationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.auth[scopeFromContext(ctx)], nil
}

// RequestAuthorization implements Registrar.
func (m *MemoryRegistrar) RequestAuthorization(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := scopeFromContext(ctx)
	if m.auth[scope] == AuthNotDetermined {
		m.auth[scope] = AuthAuthorized
	}
	return m.auth[scope] == AuthAuthorized, nil
}

// SetAuthorization records an explicit decision for the current scope.
func (m *MemoryRegistrar) SetAuthorization(ctx context.Context, granted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := AuthDenied
	if granted {
		status = AuthAuthorized
	}
	m.auth[scopeFromContext(ctx)] = status
	return nil
}

// Add implements Registrar.
func (m *MemoryRegistrar) Add(ctx context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAdd != nil {
		return m.FailAdd
	}
	scope := scopeFromContext(ctx)
	if m.pending[scope] == nil {
		m.pending[scope] = make(map[string]Request)
	}
	m.pending[scope][req.ID] = req
	return nil
}

// Remove implements Registrar.
func (m *MemoryRegistrar) Remove(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.pending[scopeFromContext(ctx)]
	for _, id := range ids {
		delete(reqs, id)
	}
	return nil
}

// Pending implements Registrar.
func (m *MemoryRegistrar) Pending(ctx context.Context) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.pending[scopeFromContext(ctx)]
	out := make([]Request, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, req)
	}
	sortRequests(out)
	return out, nil
}

// ClaimDue implements Source.
func (m *MemoryRegistrar) ClaimDue(_ context.Context, now time.Time, limit int) ([]Due, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Due
	for scope, reqs := range m.pending {
		for id, req := range reqs {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			if req.FireAt.After(now) {
				continue
			}
			delete(reqs, id)
			out = append(out, Due{Scope: scope, Request: req})
		}
	}
	return out, nil
}
