package oauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"omicsauth.org/internal/identity"
	"omicsauth.org/internal/ids"
)

// codeTTL bounds how long an authorization code stays exchangeable.
const codeTTL = 5 * time.Minute

// AuthorizeRequest carries the parameters of the authorization endpoint,
// including the resource owner's credentials.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Email               string
	Password            string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizeCode validates the request, authenticates the resource owner by
// their credentials and mints a single-use code for them. The client and
// redirect checks run first so a malformed request never reaches the
// password check. Public clients must send a PKCE challenge.
func (s *Service) AuthorizeCode(ctx context.Context, req AuthorizeRequest) (string, error) {
	client, err := s.store.FindClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrInvalidClient
		}
		return "", err
	}
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return "", ErrUnauthorizedClient.WithDescription("client is not registered for the code grant")
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return "", ErrInvalidRequest.WithDescription("redirect_uri is not registered for this client")
	}
	switch req.CodeChallengeMethod {
	case "":
		if req.CodeChallenge != "" {
			return "", ErrInvalidRequest.WithDescription("code_challenge without code_challenge_method")
		}
		if client.Type == ClientPublic {
			return "", ErrInvalidRequest.WithDescription("public clients must use PKCE")
		}
	case "S256", "plain":
		if req.CodeChallenge == "" {
			return "", ErrInvalidRequest.WithDescription("code_challenge is required with %s", req.CodeChallengeMethod)
		}
	default:
		return "", ErrInvalidRequest.WithDescription("unsupported code_challenge_method %q", req.CodeChallengeMethod)
	}
	user, err := s.users.Verify(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			return "", ErrAccessDenied.WithDescription("invalid resource owner credentials")
		}
		return "", err
	}
	code, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	ac := &AuthorizationCode{
		ID:                  ids.New(),
		Code:                code,
		ClientID:            client.ID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		AuthTime:            now,
		ExpiresAt:           now.Add(codeTTL),
	}
	if err := s.store.CreateCode(ctx, ac); err != nil {
		return "", err
	}
	return code, nil
}

// ExchangeCode redeems an authorization code for a token pair. The code is
// consumed atomically so a replay finds nothing, and a consumed code whose
// checks then fail stays consumed.
func (s *Service) ExchangeCode(ctx context.Context, clientID, clientSecret, code, redirectURI, codeVerifier string) (*Token, error) {
	client, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return nil, ErrUnauthorizedClient.WithDescription("client is not registered for the code grant")
	}
	ac, err := s.store.ConsumeCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidGrant.WithDescription("unknown or already used code")
		}
		return nil, err
	}
	if ac.ClientID != client.ID {
		return nil, ErrInvalidGrant.WithDescription("code was issued to another client")
	}
	if s.now().After(ac.ExpiresAt) {
		return nil, ErrInvalidGrant.WithDescription("code has expired")
	}
	if ac.RedirectURI != redirectURI {
		return nil, ErrInvalidGrant.WithDescription("redirect_uri does not match the authorization request")
	}
	if !verifyPKCE(ac, codeVerifier) {
		return nil, ErrInvalidGrant.WithDescription("PKCE verification failed")
	}
	return s.issue(ctx, client, ac.UserID, "", ac.Scope, GrantAuthorizationCode, s.accessTTL, true)
}

// verifyPKCE checks the verifier against the stored challenge. A code
// issued without a challenge accepts only an empty verifier.
func verifyPKCE(ac *AuthorizationCode, verifier string) bool {
	switch ac.CodeChallengeMethod {
	case "":
		return verifier == ""
	case "plain":
		return subtle.ConstantTimeCompare([]byte(ac.CodeChallenge), []byte(verifier)) == 1
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		derived := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(ac.CodeChallenge), []byte(derived)) == 1
	default:
		return false
	}
}
