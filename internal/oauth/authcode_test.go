package oauth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"
)

func (f *fixture) codeClient(t *testing.T, ct ClientType, redirect string) (*Client, string) {
	t.Helper()
	c, secret, err := f.svc.RegisterClient(context.Background(), "webapp", ct,
		[]string{redirect}, []string{GrantAuthorizationCode, GrantRefreshToken}, "")
	if err != nil {
		t.Fatalf("register client: %v", err)
	}
	return c, secret
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestAuthCodeExchange(t *testing.T) {
	f := newTokenFixture(t)
	u := f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.codeClient(t, ClientConfidential, "https://app.example.org/cb")

	code, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "alice@example.org",
		Password:    "hunter2hunter2",
		Scope:       "read",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	tok, err := f.svc.ExchangeCode(context.Background(), c.ID, secret, code, "https://app.example.org/cb", "")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.UserID != u.ID || tok.Scope != "read" {
		t.Fatalf("unexpected token: %+v", tok)
	}

	// The code is gone after first use.
	if _, err := f.svc.ExchangeCode(context.Background(), c.ID, secret, code, "https://app.example.org/cb", ""); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("replayed code must be invalid_grant, got %v", err)
	}
}

func TestAuthoriseRejectsBadCredentials(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, _ := f.codeClient(t, ClientConfidential, "https://app.example.org/cb")

	_, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "alice@example.org",
		Password:    "not-her-password",
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("wrong password must be access_denied, got %v", err)
	}

	_, err = f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "nobody@example.org",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("unknown user must be access_denied, got %v", err)
	}
}

func TestAuthCodeSingleUseUnderConcurrency(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.codeClient(t, ClientConfidential, "https://app.example.org/cb")

	code, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "alice@example.org",
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ExchangeCode(context.Background(), c.ID, secret, code, "https://app.example.org/cb", "")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrInvalidGrant) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("exactly one exchange may win, got %d", ok)
	}
}

func TestAuthCodeExpiry(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.codeClient(t, ClientConfidential, "https://app.example.org/cb")

	code, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "alice@example.org",
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	f.clock.Advance(6 * time.Minute)
	if _, err := f.svc.ExchangeCode(context.Background(), c.ID, secret, code, "https://app.example.org/cb", ""); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expired code must be invalid_grant, got %v", err)
	}
}

func TestAuthCodePKCE(t *testing.T) {
	f := newTokenFixture(t)
	u := f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, _ := f.codeClient(t, ClientPublic, "https://app.example.org/cb")

	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	code, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:            c.ID,
		RedirectURI:         "https://app.example.org/cb",
		Email:               "alice@example.org",
		Password:            "hunter2hunter2",
		CodeChallenge:       s256(verifier),
		CodeChallengeMethod: "S256",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}

	// Wrong verifier burns the code.
	if _, err := f.svc.ExchangeCode(context.Background(), c.ID, "", code, "https://app.example.org/cb", "not-the-verifier"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("wrong verifier must be invalid_grant, got %v", err)
	}
	if _, err := f.svc.ExchangeCode(context.Background(), c.ID, "", code, "https://app.example.org/cb", verifier); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("a failed exchange must consume the code, got %v", err)
	}

	// Fresh code, correct verifier.
	code, err = f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:            c.ID,
		RedirectURI:         "https://app.example.org/cb",
		Email:               "alice@example.org",
		Password:            "hunter2hunter2",
		CodeChallenge:       s256(verifier),
		CodeChallengeMethod: "S256",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	tok, err := f.svc.ExchangeCode(context.Background(), c.ID, "", code, "https://app.example.org/cb", verifier)
	if err != nil {
		t.Fatalf("exchange with verifier: %v", err)
	}
	if tok.UserID != u.ID {
		t.Fatalf("unexpected token: %+v", tok)
	}
}

func TestPublicClientRequiresPKCE(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, _ := f.codeClient(t, ClientPublic, "https://app.example.org/cb")

	_, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "alice@example.org",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("public client without PKCE must be invalid_request, got %v", err)
	}
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, _ := f.codeClient(t, ClientConfidential, "https://app.example.org/cb")

	_, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://evil.example.org/cb",
		Email:       "alice@example.org",
		Password:    "hunter2hunter2",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unregistered redirect must be invalid_request, got %v", err)
	}
}

func TestExchangeRejectsMismatchedRedirect(t *testing.T) {
	f := newTokenFixture(t)
	f.registerUser(t, "alice@example.org", "hunter2hunter2")
	c, secret := f.codeClient(t, ClientConfidential, "https://app.example.org/cb")

	code, err := f.svc.AuthorizeCode(context.Background(), AuthorizeRequest{
		ClientID:    c.ID,
		RedirectURI: "https://app.example.org/cb",
		Email:       "alice@example.org",
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := f.svc.ExchangeCode(context.Background(), c.ID, secret, code, "https://app.example.org/other", ""); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("redirect mismatch must be invalid_grant, got %v", err)
	}
}
