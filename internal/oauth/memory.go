package oauth

import (
	"context"
	"sync"
)

// InMemory is a Store kept in process memory, used by tests and local
// development.
type InMemory struct {
	mu        sync.Mutex
	clients   map[string]*Client
	tokens    map[string]*Token
	byAccess  map[string]string
	byRefresh map[string]string
	codes     map[string]*AuthorizationCode
}

// NewInMemory returns an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		clients:   make(map[string]*Client),
		tokens:    make(map[string]*Token),
		byAccess:  make(map[string]string),
		byRefresh: make(map[string]string),
		codes:     make(map[string]*AuthorizationCode),
	}
}

func (m *InMemory) CreateClient(_ context.Context, c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.ID]; ok {
		return ErrConflict
	}
	cp := *c
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), c.GrantTypes...)
	m.clients[cp.ID] = &cp
	return nil
}

func (m *InMemory) FindClient(_ context.Context, id string) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *InMemory) CreateToken(_ context.Context, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.ID]; ok {
		return ErrConflict
	}
	cp := *t
	m.tokens[cp.ID] = &cp
	m.byAccess[cp.AccessToken] = cp.ID
	if cp.RefreshToken != "" {
		m.byRefresh[cp.RefreshToken] = cp.ID
	}
	return nil
}

func (m *InMemory) FindTokenByID(_ context.Context, id string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *InMemory) FindTokenByAccess(_ context.Context, accessToken string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAccess[accessToken]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.tokens[id]
	return &cp, nil
}

func (m *InMemory) FindTokenByRefresh(_ context.Context, refreshToken string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRefresh[refreshToken]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.tokens[id]
	return &cp, nil
}

func (m *InMemory) RevokeToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	return nil
}

func (m *InMemory) CreateCode(_ context.Context, c *AuthorizationCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[c.Code]; ok {
		return ErrConflict
	}
	cp := *c
	m.codes[cp.Code] = &cp
	return nil
}

func (m *InMemory) ConsumeCode(_ context.Context, code string) (*AuthorizationCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.codes, code)
	cp := *c
	return &cp, nil
}
