package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/oauth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// publicPaths are reachable without a bearer token. The oauth endpoints
// authenticate the client themselves, and the authorise endpoint checks the
// resource owner's credentials; registration is open by design.
var publicPaths = []string{
	"/oauth2/token",
	"/oauth2/authorise",
	"/oauth2/revoke",
	"/oauth2/introspect",
	"/v1/users",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.svc.Tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		token, err := a.svc.Tokens.ValidateToken(r.Context(), raw)
		if err != nil {
			if errors.Is(err, oauth.ErrInvalidGrant) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := access.ContextWithActor(r.Context(), access.Actor{
			UserID:   token.UserID,
			ClientID: token.ClientID,
			TokenID:  token.ID,
			Scope:    strings.Fields(token.Scope),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
