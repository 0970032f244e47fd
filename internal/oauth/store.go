package oauth

import (
	"context"
	"errors"
)

// Storage sentinels, distinct from the protocol errors the service maps
// them to.
var (
	ErrNotFound = errors.New("oauth: not found")
	ErrConflict = errors.New("oauth: already exists")
)

// Store describes persistence for clients, tokens and authorization codes.
type Store interface {
	ClientStore
	TokenStore
	CodeStore
}

// ClientStore manages registered clients.
type ClientStore interface {
	CreateClient(ctx context.Context, c *Client) error
	FindClient(ctx context.Context, id string) (*Client, error)
}

// TokenStore manages token rows. Rows are append-then-flag: RevokeToken
// marks, never deletes, so the audit trail of every issued token survives.
type TokenStore interface {
	CreateToken(ctx context.Context, t *Token) error
	FindTokenByID(ctx context.Context, id string) (*Token, error)
	FindTokenByAccess(ctx context.Context, accessToken string) (*Token, error)
	FindTokenByRefresh(ctx context.Context, refreshToken string) (*Token, error)
	RevokeToken(ctx context.Context, id string) error
}

// CodeStore manages single-use authorization codes.
type CodeStore interface {
	CreateCode(ctx context.Context, c *AuthorizationCode) error
	// ConsumeCode returns the code and removes it in one atomic step, so
	// two concurrent exchanges can never both succeed.
	ConsumeCode(ctx context.Context, code string) (*AuthorizationCode, error)
}
