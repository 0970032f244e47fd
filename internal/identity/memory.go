package identity

import (
	"context"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and the development mode of cmd/api.
type InMemory struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
}

// NewInMemory creates an empty user store.
func NewInMemory() *InMemory {
	return &InMemory{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrConflict
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *InMemory) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}
