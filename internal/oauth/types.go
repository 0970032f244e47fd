package oauth

import "time"

// Grant type identifiers accepted at the token endpoint.
const (
	GrantPassword          = "password"
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantMasquerade        = "masquerade"
)

// ClientType determines authentication requirements and endpoint access.
type ClientType string

const (
	// ClientPublic cannot keep a secret; it must use PKCE.
	ClientPublic ClientType = "public"
	// ClientConfidential authenticates with its secret.
	ClientConfidential ClientType = "confidential"
	// ClientInternal is a confidential client operated by the platform
	// itself; only internal clients may call introspection.
	ClientInternal ClientType = "internal"
)

// Client is a registered OAuth2 relying party.
type Client struct {
	ID           string     `json:"client_id"`
	Name         string     `json:"name"`
	SecretHash   string     `json:"-"`
	RedirectURIs []string   `json:"redirect_uris,omitempty"`
	GrantTypes   []string   `json:"grant_types"`
	Type         ClientType `json:"client_type"`
	OwnerUserID  string     `json:"owner_user_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// AllowsGrant reports whether the client is registered for the grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirect reports whether the redirect URI matches a registered one
// exactly. No prefix or wildcard matching.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// Confidential reports whether the client must present its secret.
func (c *Client) Confidential() bool {
	return c.Type == ClientConfidential || c.Type == ClientInternal
}

// Token is an issued access/refresh token pair. Rows are never deleted;
// revocation flips the flag and every validation re-reads the row, so a
// revoked token dies immediately even before its JWT expiry.
type Token struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	UserID       string    `json:"user_id"`
	ActorID      string    `json:"actor_id,omitempty"` // set on masquerade tokens
	GrantType    string    `json:"grant_type"`
	TokenType    string    `json:"token_type"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
	Revoked      bool      `json:"-"`
	IssuedAt     time.Time `json:"-"`
	ExpiresIn    int64     `json:"expires_in"`
}

// ExpiresAt is the access token deadline derived from issue time and TTL.
func (t *Token) ExpiresAt() time.Time {
	return t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// AuthorizationCode is a single-use credential from the authorization
// endpoint. Consumption is atomic: the row is deleted in the same statement
// that reads it.
type AuthorizationCode struct {
	ID                  string    `json:"id"`
	Code                string    `json:"-"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	Nonce               string    `json:"nonce,omitempty"`
	CodeChallenge       string    `json:"-"`
	CodeChallengeMethod string    `json:"-"`
	AuthTime            time.Time `json:"auth_time"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// IntrospectionClaims is the RFC 7662 response shape.
type IntrospectionClaims struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Nbf       int64  `json:"nbf,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
}
