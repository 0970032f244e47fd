package access

import (
	"context"
	"time"
)

// GrantService shares resources by binding users to group roles on them.
type GrantService struct {
	store Store
	authz *Authorizer
	now   func() time.Time
}

// GrantOption customises a GrantService.
type GrantOption func(*GrantService)

// WithGrantClock overrides the service clock, mainly for tests.
func WithGrantClock(now func() time.Time) GrantOption {
	return func(s *GrantService) { s.now = now }
}

// NewGrantService wires a grant service over the given store.
func NewGrantService(store Store, authz *Authorizer, opts ...GrantOption) *GrantService {
	s := &GrantService{
		store: store,
		authz: authz,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AssignRole grants a user a group role on a resource. The caller needs the
// assign-role privilege on that resource; the role and resource must belong
// to the same group, which the store verifies transactionally. The grantee
// does not need to be a member of the owning group: that is how resources
// are shared across groups.
func (s *GrantService) AssignRole(ctx context.Context, resourceID, userID, groupRoleID string) (*PrivilegeGrant, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	if resourceID == "" || userID == "" || groupRoleID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.authz.Require(ctx, actor.UserID, []string{PrivAssignRole}, resourceID); err != nil {
		return nil, err
	}
	gr, err := s.store.FindGroupRole(ctx, groupRoleID)
	if err != nil {
		return nil, err
	}
	g := PrivilegeGrant{
		GroupID:     gr.GroupID,
		UserID:      userID,
		GroupRoleID: groupRoleID,
		ResourceID:  resourceID,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateGrant(ctx, g); err != nil {
		return nil, err
	}
	return &g, nil
}

// UnassignRole removes a previously granted role from a user on a resource.
func (s *GrantService) UnassignRole(ctx context.Context, resourceID, userID, groupRoleID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ErrAuthorisation
	}
	if err := s.authz.Require(ctx, actor.UserID, []string{PrivUnassignRole}, resourceID); err != nil {
		return err
	}
	return s.store.RemoveGrant(ctx, PrivilegeGrant{
		UserID:      userID,
		GroupRoleID: groupRoleID,
		ResourceID:  resourceID,
	})
}

// ListGrants returns every grant on the resource. Requires the assign-role
// privilege, since the grant table reveals who can do what.
func (s *GrantService) ListGrants(ctx context.Context, resourceID string) ([]PrivilegeGrant, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	if err := s.authz.Require(ctx, actor.UserID, []string{PrivAssignRole}, resourceID); err != nil {
		return nil, err
	}
	return s.store.GrantsForResource(ctx, resourceID)
}
