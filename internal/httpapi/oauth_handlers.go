package httpapi

import (
	"errors"
	"net/http"

	"omicsauth.org/internal/oauth"
)

// clientCredentials pulls client_id/client_secret from Basic auth or, as
// RFC 6749 permits, from the form body.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// writeOAuthError renders an RFC 6749 error response.
func writeOAuthError(w http.ResponseWriter, err error) {
	var oe *oauth.Error
	if !errors.As(err, &oe) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "server_error"})
		return
	}
	code := http.StatusBadRequest
	if errors.Is(oe, oauth.ErrInvalidClient) {
		code = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", `Basic realm="omicsauth"`)
	}
	if errors.Is(oe, oauth.ErrAccessDenied) {
		code = http.StatusForbidden
	}
	payload := map[string]any{"error": oe.Code}
	if oe.Description != "" {
		payload["error_description"] = oe.Description
	}
	writeJSON(w, code, payload)
}

func writeToken(w http.ResponseWriter, t *oauth.Token) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, t)
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest.WithDescription("malformed form body"))
		return
	}
	clientID, clientSecret := clientCredentials(r)

	var (
		token *oauth.Token
		err   error
	)
	switch grant := r.PostFormValue("grant_type"); grant {
	case oauth.GrantPassword:
		token, err = a.svc.Tokens.PasswordGrant(r.Context(), clientID, clientSecret,
			r.PostFormValue("username"), r.PostFormValue("password"), r.PostFormValue("scope"))
	case oauth.GrantAuthorizationCode:
		token, err = a.svc.Tokens.ExchangeCode(r.Context(), clientID, clientSecret,
			r.PostFormValue("code"), r.PostFormValue("redirect_uri"), r.PostFormValue("code_verifier"))
	case oauth.GrantRefreshToken:
		token, err = a.svc.Tokens.RefreshGrant(r.Context(), clientID, clientSecret,
			r.PostFormValue("refresh_token"))
	default:
		err = oauth.ErrUnsupportedGrantType.WithDescription("grant_type %q is not supported", grant)
	}
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	a.audit(r.Context(), "oauth.token.issue", "token", token.ID, map[string]string{
		"grant_type": token.GrantType,
		"client_id":  token.ClientID,
	})
	writeToken(w, token)
}

// handleAuthorise serves the consent step. GET describes the requesting
// client and scope; POST checks the resource owner's credentials and issues
// a single-use code for them. The response carries the code and echoed
// state instead of a browser redirect.
func (a *API) handleAuthorise(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		client, err := a.svc.Tokens.ClientInfo(r.Context(), r.URL.Query().Get("client_id"))
		if err != nil {
			writeOAuthError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"client": client,
			"scope":  r.URL.Query().Get("scope"),
		})
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}
	var req struct {
		ClientID            string `json:"client_id"`
		RedirectURI         string `json:"redirect_uri"`
		Email               string `json:"email"`
		Password            string `json:"password"`
		Scope               string `json:"scope"`
		State               string `json:"state"`
		Nonce               string `json:"nonce"`
		CodeChallenge       string `json:"code_challenge"`
		CodeChallengeMethod string `json:"code_challenge_method"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	code, err := a.svc.Tokens.AuthorizeCode(r.Context(), oauth.AuthorizeRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Email:               req.Email,
		Password:            req.Password,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
	})
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	a.audit(r.Context(), "oauth.code.issue", "client", req.ClientID, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"code":  code,
		"state": req.State,
	})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest.WithDescription("malformed form body"))
		return
	}
	clientID, clientSecret := clientCredentials(r)
	if err := a.svc.Tokens.RevokeToken(r.Context(), clientID, clientSecret, r.PostFormValue("token")); err != nil {
		writeOAuthError(w, err)
		return
	}
	a.audit(r.Context(), "oauth.token.revoke", "client", clientID, nil)
	// RFC 7009: the response body is empty on success
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, oauth.ErrInvalidRequest.WithDescription("malformed form body"))
		return
	}
	clientID, clientSecret := clientCredentials(r)
	claims, err := a.svc.Tokens.Introspect(r.Context(), clientID, clientSecret, r.PostFormValue("token"))
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

func (a *API) handleMasquerade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Scope  string `json:"scope"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, err := a.svc.Tokens.Masquerade(r.Context(), req.UserID, req.Scope)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	a.audit(r.Context(), "oauth.token.masquerade", "user", req.UserID, map[string]string{
		"token_id": token.ID,
	})
	writeToken(w, token)
}
