package access

import (
	"context"

	"omicsauth.org/internal/obs"
)

// Authorizer answers privilege questions. It is pure read: evaluating a
// decision never mutates any state.
type Authorizer struct {
	store Store
}

// NewAuthorizer wraps the store for decision evaluation.
func NewAuthorizer(store Store) *Authorizer {
	return &Authorizer{store: store}
}

// AuthorizedFor reports, per resource, whether the user holds every listed
// privilege on it. Privileges from multiple grants on the same resource
// union together. A public resource satisfies a purely-read requirement for
// any user. Unknown resource ids evaluate to false rather than an error.
func (a *Authorizer) AuthorizedFor(ctx context.Context, userID string, privilegeIDs, resourceIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(resourceIDs))
	if len(resourceIDs) == 0 {
		return out, nil
	}
	resources, err := a.store.FindResources(ctx, resourceIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	held, err := a.store.ResourcePrivileges(ctx, userID, resourceIDs)
	if err != nil {
		return nil, err
	}
	publicOK := ReadOnly(privilegeIDs)
	for _, id := range resourceIDs {
		r, known := byID[id]
		allowed := false
		switch {
		case !known || len(privilegeIDs) == 0:
			// unknown resource or empty requirement: deny
		case publicOK && r.Public:
			allowed = true
		default:
			allowed = containsAll(held[id], privilegeIDs)
		}
		out[id] = allowed
		obs.AuthzDecision(allowed)
	}
	return out, nil
}

// Require returns ErrAuthorisation unless the user holds every privilege on
// the resource.
func (a *Authorizer) Require(ctx context.Context, userID string, privilegeIDs []string, resourceID string) error {
	decisions, err := a.AuthorizedFor(ctx, userID, privilegeIDs, []string{resourceID})
	if err != nil {
		return err
	}
	if !decisions[resourceID] {
		return ErrAuthorisation
	}
	return nil
}

// UserHasPrivilege reports whether the user holds the privilege through any
// direct role assignment or resource grant.
func (a *Authorizer) UserHasPrivilege(ctx context.Context, userID, privilegeID string) (bool, error) {
	privs, err := a.store.UserPrivileges(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range privs {
		if p == privilegeID {
			return true, nil
		}
	}
	return false, nil
}

// RequirePrivilege returns ErrAuthorisation unless UserHasPrivilege holds.
func (a *Authorizer) RequirePrivilege(ctx context.Context, userID, privilegeID string) error {
	ok, err := a.UserHasPrivilege(ctx, userID, privilegeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAuthorisation
	}
	return nil
}

func containsAll(held, wanted []string) bool {
	if len(wanted) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(held))
	for _, p := range held {
		set[p] = struct{}{}
	}
	for _, p := range wanted {
		if _, ok := set[p]; !ok {
			return false
		}
	}
	return true
}
