package oauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/identity"
)

type fixture struct {
	svc     *Service
	store   *InMemory
	users   *identity.Service
	acStore *access.InMemory
	clock   *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTokenFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	users, err := identity.NewService(identity.NewInMemory(), identity.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("identity service: %v", err)
	}
	acStore := access.NewInMemory()
	authz := access.NewAuthorizer(acStore)
	store := NewInMemory()
	svc := NewService(store, users, authz, []byte("test-signing-secret"),
		WithClock(clock.Now),
		WithIssuer("omicsauth-test"),
	)
	return &fixture{svc: svc, store: store, users: users, acStore: acStore, clock: clock}
}

func (f *fixture) registerUser(t *testing.T, email, password string) *identity.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), email, "Test User", password)
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return u
}

func (f *fixture) registerClient(t *testing.T, ct ClientType, grants []string) (*Client, string) {
	t.Helper()
	c, secret, err := f.svc.RegisterClient(context.Background(), "portal", ct, nil, grants, "")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	return c, secret
}

func TestPasswordGrantRoundTrip(t *testing.T) {
	f := newTokenFixture(t)
	u := f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword, GrantRefreshToken})

	tok, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "alice@example.org", "hunter2hunter2", "read")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	if tok.UserID != u.ID || tok.TokenType != "Bearer" || tok.RefreshToken == "" {
		t.Fatalf("unexpected token: %+v", tok)
	}

	got, err := f.svc.ValidateToken(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.ID != tok.ID || got.UserID != u.ID {
		t.Fatalf("validation returned a different token: %+v", got)
	}
}

func TestPasswordGrantBadCredentialsLeavesNoToken(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword})

	_, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "alice@example.org", "wrong", "")
	if !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected invalid_grant, got %v", err)
	}
	if len(f.store.tokens) != 0 {
		t.Fatalf("failed grant must not persist a token row, found %d", len(f.store.tokens))
	}
}

func TestPasswordGrantRequiresClientSecret(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, _ := f.registerClient(t, ClientConfidential, []string{GrantPassword})

	_, err := f.svc.PasswordGrant(context.Background(), c.ID, "not-the-secret", "alice@example.org", "hunter2hunter2", "")
	if !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected invalid_client, got %v", err)
	}
}

func TestRevokeIsImmediateAndIdempotent(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword})

	tok, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "alice@example.org", "hunter2hunter2", "")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	if err := f.svc.RevokeToken(context.Background(), c.ID, secret, tok.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// The JWT is still well before its exp, but the row says no.
	if _, err := f.svc.ValidateToken(context.Background(), tok.AccessToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("revoked token must fail validation, got %v", err)
	}
	// The row survives revocation.
	row, err := f.store.FindTokenByID(context.Background(), tok.ID)
	if err != nil {
		t.Fatalf("revoked row must still exist: %v", err)
	}
	if !row.Revoked {
		t.Fatalf("row should be flagged revoked")
	}
	// Revoking again, or revoking garbage, succeeds silently.
	if err := f.svc.RevokeToken(context.Background(), c.ID, secret, tok.AccessToken); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
	if err := f.svc.RevokeToken(context.Background(), c.ID, secret, "no-such-token"); err != nil {
		t.Fatalf("unknown token revoke must succeed: %v", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword})

	tok, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "alice@example.org", "hunter2hunter2", "")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	f.clock.Advance(16 * time.Minute)
	if _, err := f.svc.ValidateToken(context.Background(), tok.AccessToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expired token must fail validation, got %v", err)
	}
}

func TestRefreshGrantRotates(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword, GrantRefreshToken})

	first, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "alice@example.org", "hunter2hunter2", "read")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	second, err := f.svc.RefreshGrant(context.Background(), c.ID, secret, first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.ID == first.ID || second.Scope != "read" {
		t.Fatalf("refresh should mint a new token with the same scope: %+v", second)
	}
	// The old pair is dead after rotation.
	if _, err := f.svc.ValidateToken(context.Background(), first.AccessToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("rotated-out access token must be invalid, got %v", err)
	}
	if _, err := f.svc.RefreshGrant(context.Background(), c.ID, secret, first.RefreshToken); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("rotated-out refresh token must be invalid, got %v", err)
	}
}

func TestIntrospectRestrictedToInternalClients(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword})
	tok, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "alice@example.org", "hunter2hunter2", "read")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}

	// An ordinary confidential client is refused outright.
	if _, err := f.svc.Introspect(context.Background(), c.ID, secret, tok.AccessToken); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("non-internal introspection must be invalid_client, got %v", err)
	}

	internal, internalSecret, err := f.svc.RegisterClient(context.Background(), "gateway", ClientInternal, nil, nil, "")
	if err != nil {
		t.Fatalf("register internal client: %v", err)
	}
	claims, err := f.svc.Introspect(context.Background(), internal.ID, internalSecret, tok.AccessToken)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if !claims.Active || claims.Sub != tok.UserID || claims.Username != "alice@example.org" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	// Revoked and unknown tokens introspect as inactive, not as errors.
	if err := f.svc.RevokeToken(context.Background(), c.ID, secret, tok.AccessToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	claims, err = f.svc.Introspect(context.Background(), internal.ID, internalSecret, tok.AccessToken)
	if err != nil || claims.Active {
		t.Fatalf("revoked token must be inactive, got %+v err=%v", claims, err)
	}
	claims, err = f.svc.Introspect(context.Background(), internal.ID, internalSecret, "garbage")
	if err != nil || claims.Active {
		t.Fatalf("unknown token must be inactive, got %+v err=%v", claims, err)
	}
}

func TestMasquerade(t *testing.T) {
	f := newTokenFixture(t)
	admin := f.registerUser(t, "admin@example.org", "hunter2hunter2")
	target := f.registerUser(t, "carol@example.org", "hunter2hunter2")
	c, secret := f.registerClient(t, ClientConfidential, []string{GrantPassword})

	adminTok, err := f.svc.PasswordGrant(context.Background(), c.ID, secret, "admin@example.org", "hunter2hunter2", "")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	ctx := access.ContextWithActor(context.Background(), access.Actor{
		UserID: admin.ID, ClientID: c.ID, TokenID: adminTok.ID,
	})

	// Without the privilege the call is denied.
	if _, err := f.svc.Masquerade(ctx, target.ID, ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("unprivileged masquerade must be denied, got %v", err)
	}

	// Grant the masquerade privilege through a direct role assignment.
	role := &access.Role{ID: "support-role", Name: "support", Privileges: []access.Privilege{{ID: access.PrivMasquerade}}}
	if err := f.acStore.CreateRole(context.Background(), role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := f.acStore.Assign(context.Background(), access.RoleAssignment{UserID: admin.ID, RoleID: role.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	sub, err := f.svc.Masquerade(ctx, target.ID, "read")
	if err != nil {
		t.Fatalf("masquerade: %v", err)
	}
	if sub.UserID != target.ID || sub.ActorID != admin.ID {
		t.Fatalf("delegated token must act as the target and record the actor: %+v", sub)
	}
	if sub.RefreshToken != "" {
		t.Fatalf("delegated tokens must not be refreshable")
	}
	if sub.ExpiresIn != int64((5*time.Hour)/time.Second) {
		t.Fatalf("delegated TTL must be five hours, got %ds", sub.ExpiresIn)
	}

	// Masquerading as yourself is rejected.
	if _, err := f.svc.Masquerade(ctx, admin.ID, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("self-masquerade must be invalid_request, got %v", err)
	}

	// Revoking the delegated token leaves the admin's own token alive.
	if err := f.svc.RevokeToken(context.Background(), c.ID, secret, sub.AccessToken); err != nil {
		t.Fatalf("revoke delegated: %v", err)
	}
	if _, err := f.svc.ValidateToken(context.Background(), adminTok.AccessToken); err != nil {
		t.Fatalf("actor token must survive delegated revocation: %v", err)
	}
}
