package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/audit"
	"omicsauth.org/internal/identity"
	"omicsauth.org/internal/oauth"
	"omicsauth.org/internal/obs"
)

// ReadyProbe checks downstream readiness (e.g. a database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services bundles the domain services the API exposes.
type Services struct {
	Users     *identity.Service
	Groups    *access.GroupService
	Roles     *access.RoleService
	Resources *access.ResourceService
	Grants    *access.GrantService
	Authz     *access.Authorizer
	Tokens    *oauth.Service
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        Services
}

func New(rp ReadyProbe, version string, svc Services) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// token service
	a.mux.HandleFunc("/oauth2/token", a.handleToken)
	a.mux.HandleFunc("/oauth2/authorise", a.handleAuthorise)
	a.mux.HandleFunc("/oauth2/revoke", a.handleRevoke)
	a.mux.HandleFunc("/oauth2/introspect", a.handleIntrospect)
	a.mux.HandleFunc("/oauth2/masquerade", a.handleMasquerade)

	// identity and clients
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserScoped)
	a.mux.HandleFunc("/v1/clients", a.handleClients)

	// groups and the join workflow
	a.mux.HandleFunc("/v1/groups", a.handleGroups)
	a.mux.HandleFunc("/v1/groups/requests", a.handleJoinRequests)
	a.mux.HandleFunc("/v1/groups/requests/", a.handleJoinRequestScoped)
	a.mux.HandleFunc("/v1/groups/", a.handleGroupScoped)

	// catalog, roles, resources, grants
	a.mux.HandleFunc("/v1/privileges", a.handlePrivileges)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleScoped)
	a.mux.HandleFunc("/v1/resources", a.handleResources)
	a.mux.HandleFunc("/v1/resources/", a.handleResourceScoped)

	// decision endpoint
	a.mux.HandleFunc("/v1/authz/decisions", a.handleDecisions)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wraps the mux with authentication, request ids and metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(a.withAuth(a.mux)))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "omicsauth-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "omicsauth-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) audit(ctx context.Context, event, entity, id string, fields map[string]string) {
	payload := map[string]any{
		"entity":    entity,
		"entity_id": id,
	}
	for k, v := range fields {
		payload[k] = v
	}
	_ = audit.LogEvent(ctx, event, payload)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps access-layer errors onto HTTP statuses.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	var me *access.MembershipError
	switch {
	case errors.As(err, &me):
		writeError(w, r, http.StatusConflict, me.Error())
	case errors.Is(err, access.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrMissingGroup):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrAuthorisation):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrInconsistency):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrBadCredentials):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
