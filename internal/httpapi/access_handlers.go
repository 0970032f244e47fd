package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"omicsauth.org/internal/access"
)

type createGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type joinRequestRequest struct {
	GroupID string `json:"group_id"`
	Message string `json:"message"`
}

type decisionRequest struct {
	Accept bool `json:"accept"`
}

type createRoleRequest struct {
	Name       string   `json:"name"`
	Privileges []string `json:"privileges"`
}

type setPrivilegesRequest struct {
	Privileges []string `json:"privileges"`
}

type createResourceRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Public   bool   `json:"public"`
}

type patchResourceRequest struct {
	Name   *string `json:"name"`
	Public *bool   `json:"public"`
}

type linkDataRequest struct {
	DatasetID string `json:"dataset_id"`
}

type grantRequest struct {
	UserID      string `json:"user_id"`
	GroupRoleID string `json:"group_role_id"`
}

type decisionsRequest struct {
	Privileges  []string `json:"privileges"`
	ResourceIDs []string `json:"resource_ids"`
}

// --- groups ---

func (a *API) handleGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	group, err := a.svc.Groups.CreateGroup(r.Context(), req.Name, req.Description)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.group.create", "group", group.ID, map[string]string{
		"name": group.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/groups/%s", group.ID))
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) handleGroupScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/groups/"), "/")
	if path == "" || strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	group, err := a.svc.Groups.FindGroup(r.Context(), path)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) handleJoinRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req joinRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	jr, err := a.svc.Groups.RequestJoin(r.Context(), req.GroupID, req.Message)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.group.join_request", "join_request", jr.ID, map[string]string{
		"group_id": jr.GroupID,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/groups/requests/%s", jr.ID))
	writeJSON(w, http.StatusCreated, jr)
}

func (a *API) handleJoinRequestScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/groups/requests/"), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[1] != "decision" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req decisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	jr, err := a.svc.Groups.DecideJoinRequest(r.Context(), parts[0], req.Accept)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.group.join_decision", "join_request", jr.ID, map[string]string{
		"status": string(jr.Status),
	})
	writeJSON(w, http.StatusOK, jr)
}

// --- catalog and roles ---

func (a *API) handlePrivileges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	privs, err := a.svc.Roles.ListPrivileges(r.Context())
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": privs})
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, groupRole, err := a.svc.Roles.CreateRole(r.Context(), req.Name, req.Privileges)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.role.create", "role", role.ID, map[string]string{
		"name": role.Name,
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/roles/%s", role.ID))
	writeJSON(w, http.StatusCreated, map[string]any{
		"role":       role,
		"group_role": groupRole,
	})
}

func (a *API) handleRoleScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/roles/"), "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		role, err := a.svc.Roles.FindRole(r.Context(), parts[0])
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, role)
	case len(parts) == 2 && parts[1] == "privileges":
		a.handleRolePrivileges(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleRolePrivileges(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req setPrivilegesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.svc.Roles.SetPrivileges(r.Context(), roleID, req.Privileges)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.role.set_privileges", "role", roleID, map[string]string{
		"count": fmt.Sprintf("%d", len(req.Privileges)),
	})
	writeJSON(w, http.StatusOK, role)
}

// --- resources ---

func (a *API) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req createResourceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	resource, err := a.svc.Resources.CreateResource(r.Context(), req.Name, access.Category(req.Category), req.Public)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.resource.create", "resource", resource.ID, map[string]string{
		"category": string(resource.Category),
	})
	w.Header().Set("Location", fmt.Sprintf("/v1/resources/%s", resource.ID))
	writeJSON(w, http.StatusCreated, resource)
}

func (a *API) handleResourceScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/resources/"), "/")
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		a.handleResource(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "data":
		a.handleResourceData(w, r, parts[0])
	case len(parts) == 3 && parts[1] == "data":
		a.handleResourceDataLink(w, r, parts[0], parts[2])
	case len(parts) == 2 && parts[1] == "grants":
		a.handleResourceGrants(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		resource, err := a.svc.Resources.Describe(r.Context(), id)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resource)
	case http.MethodPatch:
		var req patchResourceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		var (
			resource *access.Resource
			err      error
		)
		if req.Name != nil {
			resource, err = a.svc.Resources.Rename(r.Context(), id, *req.Name)
			if err != nil {
				handleAccessError(w, r, err)
				return
			}
		}
		if req.Public != nil {
			resource, err = a.svc.Resources.SetPublic(r.Context(), id, *req.Public)
			if err != nil {
				handleAccessError(w, r, err)
				return
			}
		}
		if resource == nil {
			writeError(w, r, http.StatusBadRequest, "nothing to update")
			return
		}
		a.audit(r.Context(), "access.resource.update", "resource", id, nil)
		writeJSON(w, http.StatusOK, resource)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleResourceData(w http.ResponseWriter, r *http.Request, resourceID string) {
	switch r.Method {
	case http.MethodGet:
		links, err := a.svc.Resources.ListData(r.Context(), resourceID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": links})
	case http.MethodPost:
		var req linkDataRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		link, err := a.svc.Resources.LinkData(r.Context(), resourceID, req.DatasetID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.audit(r.Context(), "access.resource.link_data", "resource", resourceID, map[string]string{
			"dataset_id": req.DatasetID,
		})
		writeJSON(w, http.StatusCreated, link)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleResourceDataLink(w http.ResponseWriter, r *http.Request, resourceID, linkID string) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	if err := a.svc.Resources.UnlinkData(r.Context(), resourceID, linkID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.audit(r.Context(), "access.resource.unlink_data", "resource", resourceID, map[string]string{
		"link_id": linkID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResourceGrants(w http.ResponseWriter, r *http.Request, resourceID string) {
	switch r.Method {
	case http.MethodGet:
		grants, err := a.svc.Grants.ListGrants(r.Context(), resourceID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": grants})
	case http.MethodPost:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		grant, err := a.svc.Grants.AssignRole(r.Context(), resourceID, req.UserID, req.GroupRoleID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.audit(r.Context(), "access.grant.assign", "resource", resourceID, map[string]string{
			"user_id":       req.UserID,
			"group_role_id": req.GroupRoleID,
		})
		writeJSON(w, http.StatusCreated, grant)
	case http.MethodDelete:
		var req grantRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.svc.Grants.UnassignRole(r.Context(), resourceID, req.UserID, req.GroupRoleID); err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.audit(r.Context(), "access.grant.unassign", "resource", resourceID, map[string]string{
			"user_id":       req.UserID,
			"group_role_id": req.GroupRoleID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// handleDecisions evaluates the caller's privileges over a set of
// resources in one round trip.
func (a *API) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := access.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req decisionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	decisions, err := a.svc.Authz.AuthorizedFor(r.Context(), actor.UserID, req.Privileges, req.ResourceIDs)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": decisions})
}
