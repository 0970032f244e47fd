package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/oauth"
)

type registerUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type registerClientRequest struct {
	Name         string   `json:"name"`
	ClientType   string   `json:"client_type"`
	RedirectURIs []string `json:"redirect_uris"`
	GrantTypes   []string `json:"grant_types"`
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.svc.Users.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	// Every fresh account may found exactly one group.
	if err := a.svc.Groups.GrantDefaultRole(r.Context(), user.ID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.audit(r.Context(), "identity.user.register", "user", user.ID, map[string]string{
		"email": user.Email,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", user.ID))
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) == 2 && parts[1] == "password" {
		a.changePassword(w, r, parts[0])
		return
	}
	if len(parts) == 1 && parts[0] != "" {
		a.getUser(w, r, parts[0])
		return
	}
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := access.ActorFromContext(r.Context())
	if !ok || actor.UserID != userID {
		writeError(w, r, http.StatusForbidden, "users may only read their own account")
		return
	}
	user, err := a.svc.Users.Find(r.Context(), userID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := access.ActorFromContext(r.Context())
	if !ok || actor.UserID != userID {
		writeError(w, r, http.StatusForbidden, "users may only change their own password")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.svc.Users.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.audit(r.Context(), "identity.user.change_password", "user", userID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := access.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	// Client registration is an administrative act, not self-service.
	if err := a.svc.Authz.RequirePrivilege(r.Context(), actor.UserID, access.PrivRegisterClient); err != nil {
		handleAccessError(w, r, err)
		return
	}
	var req registerClientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client, secret, err := a.svc.Tokens.RegisterClient(r.Context(), req.Name,
		oauth.ClientType(req.ClientType), req.RedirectURIs, req.GrantTypes, actor.UserID)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	a.audit(r.Context(), "oauth.client.register", "client", client.ID, map[string]string{
		"client_type": string(client.Type),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"client": client,
		// shown exactly once; only the hash is stored
		"client_secret": secret,
	})
}
