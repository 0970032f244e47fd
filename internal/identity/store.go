package identity

import "context"

// Store describes persistence operations for user accounts.
type Store interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}
