package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"omicsauth.org/internal/ids"
)

// Service provides registration and credential verification.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service backed by the given store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("identity: store is required")
	}
	svc := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Register creates a new user account with a hashed credential.
func (s *Service) Register(ctx context.Context, email, name, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Verify checks a credential and returns the matching user.
func (s *Service) Verify(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, ErrBadCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrBadCredentials
	}
	return user, nil
}

// Find returns a user by id.
func (s *Service) Find(ctx context.Context, userID string) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.Find(ctx, userID)
}

// ChangePassword rotates a user credential after verifying the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.store.Find(ctx, userID)
	if err != nil {
		return err
	}
	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		return ErrBadCredentials
	}
	next = strings.TrimSpace(next)
	if next == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(next)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, user.ID, hash)
}
