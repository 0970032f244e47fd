package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"omicsauth.org/internal/ids"
)

// ResourceService manages typed data resources and their dataset links. A
// resource belongs to exactly one group for its whole life and is never
// hard-deleted; visibility is controlled through the public flag.
type ResourceService struct {
	store Store
	authz *Authorizer
	now   func() time.Time
}

// ResourceOption customises a ResourceService.
type ResourceOption func(*ResourceService)

// WithResourceClock overrides the service clock, mainly for tests.
func WithResourceClock(now func() time.Time) ResourceOption {
	return func(s *ResourceService) { s.now = now }
}

// NewResourceService wires a resource service over the given store.
func NewResourceService(store Store, authz *Authorizer, opts ...ResourceOption) *ResourceService {
	s := &ResourceService{
		store: store,
		authz: authz,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateResource registers a resource under the caller's group and grants
// the caller the resource-owner role on it. Callers without a group get
// ErrMissingGroup; ownership is fixed at creation.
func (s *ResourceService) CreateResource(ctx context.Context, name string, category Category, public bool) (*Resource, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	name = strings.TrimSpace(name)
	if name == "" || !category.Valid() {
		return nil, ErrInvalidInput
	}
	ms, err := s.store.MembershipFor(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrMissingGroup
		}
		return nil, err
	}
	if err := s.authz.RequirePrivilege(ctx, actor.UserID, PrivCreateResource); err != nil {
		return nil, err
	}
	now := s.now()
	r := &Resource{
		ID:        ids.New(),
		GroupID:   ms.GroupID,
		Name:      name,
		Category:  category,
		Public:    public,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateResource(ctx, r); err != nil {
		return nil, err
	}
	ownerRole, err := s.ensureOwnerGroupRole(ctx, ms.GroupID)
	if err != nil {
		return nil, err
	}
	grant := PrivilegeGrant{
		GroupID:     ms.GroupID,
		UserID:      actor.UserID,
		GroupRoleID: ownerRole.ID,
		ResourceID:  r.ID,
		CreatedAt:   now,
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return nil, err
	}
	return r, nil
}

// ensureOwnerGroupRole instantiates the system resource-owner role for the
// group on first use.
func (s *ResourceService) ensureOwnerGroupRole(ctx context.Context, groupID string) (*GroupRole, error) {
	gr, err := s.store.FindGroupRoleByName(ctx, groupID, RoleResourceOwner)
	if err == nil {
		return gr, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	role, err := s.store.FindRoleByName(ctx, RoleResourceOwner)
	if err != nil {
		return nil, err
	}
	gr = &GroupRole{
		ID:        ids.New(),
		GroupID:   groupID,
		RoleID:    role.ID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateGroupRole(ctx, gr); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.store.FindGroupRoleByName(ctx, groupID, RoleResourceOwner)
		}
		return nil, err
	}
	return gr, nil
}

// Describe returns the resource if the caller may view it. Public resources
// are visible to everyone, including callers without any grant.
func (s *ResourceService) Describe(ctx context.Context, id string) (*Resource, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	r, err := s.store.FindResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, actor.UserID, []string{PrivViewResource}, id); err != nil {
		return nil, err
	}
	return r, nil
}

// Rename changes the resource's display name. Requires the edit privilege.
func (s *ResourceService) Rename(ctx context.Context, id, name string) (*Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	r, err := s.editableResource(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Name = name
	r.UpdatedAt = s.now()
	if err := s.store.UpdateResource(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SetPublic flips the visibility flag. Requires the edit privilege.
func (s *ResourceService) SetPublic(ctx context.Context, id string, public bool) (*Resource, error) {
	r, err := s.editableResource(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Public = public
	r.UpdatedAt = s.now()
	if err := s.store.UpdateResource(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// LinkData attaches a dataset reference to the resource. The link inherits
// the resource's category; a mismatching dataset category is rejected by
// the store.
func (s *ResourceService) LinkData(ctx context.Context, resourceID, datasetID string) (*DataLink, error) {
	if strings.TrimSpace(datasetID) == "" {
		return nil, ErrInvalidInput
	}
	r, err := s.editableResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	l := &DataLink{
		ID:         ids.New(),
		ResourceID: r.ID,
		DatasetID:  datasetID,
		Category:   r.Category,
		CreatedAt:  s.now(),
	}
	if err := s.store.LinkData(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// UnlinkData detaches a dataset reference. The resource itself stays.
func (s *ResourceService) UnlinkData(ctx context.Context, resourceID, linkID string) error {
	if _, err := s.editableResource(ctx, resourceID); err != nil {
		return err
	}
	return s.store.UnlinkData(ctx, resourceID, linkID)
}

// ListData returns the dataset links visible to the caller.
func (s *ResourceService) ListData(ctx context.Context, resourceID string) ([]DataLink, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	if err := s.authz.Require(ctx, actor.UserID, []string{PrivViewResource}, resourceID); err != nil {
		return nil, err
	}
	return s.store.ListData(ctx, resourceID)
}

// editableResource loads the resource and enforces the edit guard.
func (s *ResourceService) editableResource(ctx context.Context, id string) (*Resource, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	r, err := s.store.FindResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Require(ctx, actor.UserID, []string{PrivEditResource}, id); err != nil {
		return nil, err
	}
	return r, nil
}
