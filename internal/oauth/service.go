package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/identity"
	"omicsauth.org/internal/ids"
	"omicsauth.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
	// masqueradeTTL is fixed; a delegated token never outlives it and
	// ignores the configured access TTL.
	masqueradeTTL = 5 * time.Hour
)

// Service issues, validates, revokes and introspects tokens. Every access
// token is a signed JWT, but the persisted row stays authoritative: a token
// the store does not confirm is dead no matter what its signature says.
type Service struct {
	store      Store
	users      *identity.Service
	authz      *access.Authorizer
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the service clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIssuer sets the iss claim on minted tokens.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) { s.accessTTL = ttl }
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) { s.refreshTTL = ttl }
}

// NewService wires the token service.
func NewService(store Store, users *identity.Service, authz *access.Authorizer, signingSecret []byte, opts ...Option) *Service {
	s := &Service{
		store:      store,
		users:      users,
		authz:      authz,
		secret:     signingSecret,
		issuer:     "omicsauth",
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterClient creates a client and returns the one-time plaintext
// secret. Public clients get no secret and must use PKCE.
func (s *Service) RegisterClient(ctx context.Context, name string, clientType ClientType, redirectURIs, grantTypes []string, ownerUserID string) (*Client, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", ErrInvalidRequest.WithDescription("client name is required")
	}
	switch clientType {
	case ClientPublic, ClientConfidential, ClientInternal:
	default:
		return nil, "", ErrInvalidRequest.WithDescription("unknown client type %q", clientType)
	}
	// Client ids are plain UUIDs: they travel in URLs and Basic auth
	// headers, where a sortable id buys nothing.
	c := &Client{
		ID:           uuid.NewString(),
		Name:         name,
		RedirectURIs: redirectURIs,
		GrantTypes:   grantTypes,
		Type:         clientType,
		OwnerUserID:  ownerUserID,
		CreatedAt:    s.now(),
	}
	var plaintext string
	if c.Confidential() {
		secret, err := newClientSecret()
		if err != nil {
			return nil, "", err
		}
		hash, err := hashSecret(secret)
		if err != nil {
			return nil, "", err
		}
		c.SecretHash = hash
		plaintext = secret
	}
	if err := s.store.CreateClient(ctx, c); err != nil {
		return nil, "", err
	}
	return c, plaintext, nil
}

// ClientInfo returns the public description of a client, as shown on a
// consent screen before code issuance. The secret hash never serializes.
func (s *Service) ClientInfo(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, ErrInvalidRequest.WithDescription("client_id is required")
	}
	c, err := s.store.FindClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	return c, nil
}

// authenticateClient resolves and, for confidential clients, authenticates
// the caller. All failures collapse to invalid_client.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient
	}
	c, err := s.store.FindClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	if c.Confidential() && !verifySecret(clientSecret, c.SecretHash) {
		return nil, ErrInvalidClient
	}
	return c, nil
}

// PasswordGrant exchanges resource-owner credentials for a token pair. A
// failed password never leaves a token row behind.
func (s *Service) PasswordGrant(ctx context.Context, clientID, clientSecret, email, password, scope string) (*Token, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(GrantPassword) {
		return nil, ErrUnauthorizedClient.WithDescription("client is not registered for the password grant")
	}
	user, err := s.users.Verify(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			return nil, ErrInvalidGrant.WithDescription("invalid resource owner credentials")
		}
		return nil, err
	}
	return s.issue(ctx, client, user.ID, "", scope, GrantPassword, s.accessTTL, true)
}

// RefreshGrant rotates a token pair. The presented refresh token is revoked
// whether or not the rotation succeeds downstream.
func (s *Service) RefreshGrant(ctx context.Context, clientID, clientSecret, refreshToken string) (*Token, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(GrantRefreshToken) {
		return nil, ErrUnauthorizedClient.WithDescription("client is not registered for the refresh grant")
	}
	old, err := s.store.FindTokenByRefresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidGrant.WithDescription("unknown refresh token")
		}
		return nil, err
	}
	now := s.now()
	if old.Revoked || old.ClientID != client.ID || now.After(old.IssuedAt.Add(s.refreshTTL)) {
		return nil, ErrInvalidGrant.WithDescription("refresh token is no longer usable")
	}
	if err := s.store.RevokeToken(ctx, old.ID); err != nil {
		return nil, err
	}
	return s.issue(ctx, client, old.UserID, old.ActorID, old.Scope, GrantRefreshToken, s.accessTTL, true)
}

// issue mints, persists and returns a token.
func (s *Service) issue(ctx context.Context, client *Client, userID, actorID, scope, grantType string, ttl time.Duration, withRefresh bool) (*Token, error) {
	t := &Token{
		ID:        ids.New(),
		ClientID:  client.ID,
		UserID:    userID,
		ActorID:   actorID,
		GrantType: grantType,
		TokenType: "Bearer",
		Scope:     strings.TrimSpace(scope),
		IssuedAt:  s.now(),
		ExpiresIn: int64(ttl / time.Second),
	}
	signed, err := signAccessToken(s.secret, s.issuer, t)
	if err != nil {
		return nil, err
	}
	t.AccessToken = signed
	if withRefresh {
		rt, err := newOpaqueToken()
		if err != nil {
			return nil, err
		}
		t.RefreshToken = rt
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return nil, err
	}
	obs.TokenIssued(grantType)
	return t, nil
}

// ValidateToken checks signature and expiry, then re-reads the row so that
// revocation takes effect immediately.
func (s *Service) ValidateToken(ctx context.Context, accessToken string) (*Token, error) {
	if accessToken == "" {
		return nil, ErrInvalidGrant
	}
	if _, err := parseAccessToken(s.secret, s.issuer, accessToken, s.now); err != nil {
		return nil, ErrInvalidGrant.WithDescription("token verification failed")
	}
	t, err := s.store.FindTokenByAccess(ctx, accessToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidGrant.WithDescription("unknown token")
		}
		return nil, err
	}
	if t.Revoked || s.now().After(t.ExpiresAt()) {
		return nil, ErrInvalidGrant.WithDescription("token is expired or revoked")
	}
	return t, nil
}

// RevokeToken implements RFC 7009: the caller passes an access or refresh
// token; unknown tokens succeed silently and rows are flagged, never
// removed. A client may only revoke its own tokens.
func (s *Service) RevokeToken(ctx context.Context, clientID, clientSecret, tokenStr string) error {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}
	t, err := s.store.FindTokenByAccess(ctx, tokenStr)
	if errors.Is(err, ErrNotFound) {
		t, err = s.store.FindTokenByRefresh(ctx, tokenStr)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil // per RFC 7009 unknown tokens are not an error
		}
		return err
	}
	if t.ClientID != client.ID {
		return nil
	}
	if t.Revoked {
		return nil
	}
	if err := s.store.RevokeToken(ctx, t.ID); err != nil {
		return err
	}
	obs.TokenRevoked()
	return nil
}

// Introspect implements RFC 7662. Only internal clients may ask; everyone
// else gets invalid_client rather than an inactive answer, so the endpoint
// leaks nothing about token existence.
func (s *Service) Introspect(ctx context.Context, clientID, clientSecret, tokenStr string) (*IntrospectionClaims, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if client.Type != ClientInternal {
		return nil, ErrInvalidClient.WithDescription("introspection is restricted to internal clients")
	}
	t, err := s.store.FindTokenByAccess(ctx, tokenStr)
	if errors.Is(err, ErrNotFound) {
		t, err = s.store.FindTokenByRefresh(ctx, tokenStr)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &IntrospectionClaims{Active: false}, nil
		}
		return nil, err
	}
	if t.Revoked || s.now().After(t.ExpiresAt()) {
		return &IntrospectionClaims{Active: false}, nil
	}
	claims := &IntrospectionClaims{
		Active:    true,
		Scope:     t.Scope,
		ClientID:  t.ClientID,
		TokenType: t.TokenType,
		Exp:       t.ExpiresAt().Unix(),
		Iat:       t.IssuedAt.Unix(),
		Nbf:       t.IssuedAt.Unix(),
		Sub:       t.UserID,
		Aud:       t.ClientID,
		Iss:       s.issuer,
		Jti:       t.ID,
	}
	if user, err := s.users.Find(ctx, t.UserID); err == nil {
		claims.Username = user.Email
	}
	return claims, nil
}

// Masquerade issues a delegated token acting as the target user. The
// calling actor must hold the masquerade privilege; the result is an
// independent token with a fixed five hour lifetime and no refresh token,
// and revoking it never touches the caller's own token.
func (s *Service) Masquerade(ctx context.Context, targetUserID, scope string) (*Token, error) {
	actor, ok := access.ActorFromContext(ctx)
	if !ok {
		return nil, ErrAccessDenied
	}
	if targetUserID == "" || targetUserID == actor.UserID {
		return nil, ErrInvalidRequest.WithDescription("target user is required and must differ from the caller")
	}
	allowed, err := s.authz.UserHasPrivilege(ctx, actor.UserID, access.PrivMasquerade)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrAccessDenied.WithDescription("caller may not masquerade")
	}
	if _, err := s.users.Find(ctx, targetUserID); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrInvalidRequest.WithDescription("unknown target user")
		}
		return nil, err
	}
	client, err := s.store.FindClient(ctx, actor.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidClient
		}
		return nil, err
	}
	return s.issue(ctx, client, targetUserID, actor.UserID, scope, GrantMasquerade, masqueradeTTL, false)
}

// newOpaqueToken returns a random URL-safe string for refresh tokens and
// authorization codes.
func newOpaqueToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
