package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"omicsauth.org/internal/ids"
)

// RoleService manages user-editable roles and their privilege sets. System
// roles pass through it read-only.
type RoleService struct {
	store Store
	authz *Authorizer
	now   func() time.Time
}

// RoleOption customises a RoleService.
type RoleOption func(*RoleService)

// WithRoleClock overrides the service clock, mainly for tests.
func WithRoleClock(now func() time.Time) RoleOption {
	return func(s *RoleService) { s.now = now }
}

// NewRoleService wires a role service over the given store.
func NewRoleService(store Store, authz *Authorizer, opts ...RoleOption) *RoleService {
	s := &RoleService{
		store: store,
		authz: authz,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPrivileges returns the full privilege catalog.
func (s *RoleService) ListPrivileges(ctx context.Context) ([]Privilege, error) {
	return s.store.ListPrivileges(ctx)
}

// FindRole returns the role with its privilege set.
func (s *RoleService) FindRole(ctx context.Context, id string) (*Role, error) {
	return s.store.FindRole(ctx, id)
}

// CreateRole defines a new user-editable role scoped to the caller's group.
// The caller needs the create-role privilege and a group membership. The
// role is instantiated as a group role immediately so it can be granted on
// the group's resources.
func (s *RoleService) CreateRole(ctx context.Context, name string, privilegeIDs []string) (*Role, *GroupRole, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, nil, ErrAuthorisation
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, ErrInvalidInput
	}
	if err := s.authz.RequirePrivilege(ctx, actor.UserID, PrivCreateRole); err != nil {
		return nil, nil, err
	}
	ms, err := s.store.MembershipFor(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrMissingGroup
		}
		return nil, nil, err
	}
	privs, err := s.resolvePrivileges(ctx, privilegeIDs)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	role := &Role{
		ID:           ids.New(),
		Name:         name,
		UserEditable: true,
		Privileges:   privs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateRole(ctx, role); err != nil {
		return nil, nil, err
	}
	gr := &GroupRole{
		ID:        ids.New(),
		GroupID:   ms.GroupID,
		RoleID:    role.ID,
		CreatedAt: now,
	}
	if err := s.store.CreateGroupRole(ctx, gr); err != nil {
		return nil, nil, err
	}
	return role, gr, nil
}

// AddPrivilege extends a user-editable role with one more catalog entry.
func (s *RoleService) AddPrivilege(ctx context.Context, roleID, privilegeID string) (*Role, error) {
	role, err := s.editableRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	next := make([]string, 0, len(role.Privileges)+1)
	for _, p := range role.Privileges {
		if p.ID == privilegeID {
			return role, nil // already present
		}
		next = append(next, p.ID)
	}
	next = append(next, privilegeID)
	if err := s.store.SetRolePrivileges(ctx, roleID, next); err != nil {
		return nil, err
	}
	return s.store.FindRole(ctx, roleID)
}

// RemovePrivilege drops one catalog entry from a user-editable role.
func (s *RoleService) RemovePrivilege(ctx context.Context, roleID, privilegeID string) (*Role, error) {
	role, err := s.editableRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	next := make([]string, 0, len(role.Privileges))
	found := false
	for _, p := range role.Privileges {
		if p.ID == privilegeID {
			found = true
			continue
		}
		next = append(next, p.ID)
	}
	if !found {
		return nil, ErrNotFound
	}
	if err := s.store.SetRolePrivileges(ctx, roleID, next); err != nil {
		return nil, err
	}
	return s.store.FindRole(ctx, roleID)
}

// SetPrivileges replaces a user-editable role's privilege set wholesale.
func (s *RoleService) SetPrivileges(ctx context.Context, roleID string, privilegeIDs []string) (*Role, error) {
	if _, err := s.editableRole(ctx, roleID); err != nil {
		return nil, err
	}
	if _, err := s.resolvePrivileges(ctx, privilegeIDs); err != nil {
		return nil, err
	}
	if err := s.store.SetRolePrivileges(ctx, roleID, privilegeIDs); err != nil {
		return nil, err
	}
	return s.store.FindRole(ctx, roleID)
}

// editableRole loads the role and enforces the edit guard: the caller must
// hold the edit-role privilege and the role must not be a system role.
func (s *RoleService) editableRole(ctx context.Context, roleID string) (*Role, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	if err := s.authz.RequirePrivilege(ctx, actor.UserID, PrivEditRole); err != nil {
		return nil, err
	}
	role, err := s.store.FindRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.UserEditable {
		return nil, ErrAuthorisation
	}
	return role, nil
}

func (s *RoleService) resolvePrivileges(ctx context.Context, privilegeIDs []string) ([]Privilege, error) {
	if len(privilegeIDs) == 0 {
		return nil, nil
	}
	catalog, err := s.store.ListPrivileges(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Privilege, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	out := make([]Privilege, 0, len(privilegeIDs))
	for _, id := range privilegeIDs {
		p, ok := byID[id]
		if !ok {
			return nil, ErrInvalidInput
		}
		out = append(out, p)
	}
	return out, nil
}
