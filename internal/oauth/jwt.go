package oauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims is the JWT payload of an access token. The jti doubles as
// the token row id, which is how validation finds the authoritative record.
type accessClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	ActorID  string `json:"act,omitempty"`
}

// signAccessToken mints an HS256 JWT for the token row.
func signAccessToken(secret []byte, issuer string, t *Token) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.ID,
			Issuer:    issuer,
			Subject:   t.UserID,
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt()),
		},
		ClientID: t.ClientID,
		Scope:    t.Scope,
		ActorID:  t.ActorID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// parseAccessToken verifies signature, issuer and expiry and returns the
// claims. The caller must still consult the store for revocation.
func parseAccessToken(secret []byte, issuer, raw string, now func() time.Time) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(tok *jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
