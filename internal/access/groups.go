package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"omicsauth.org/internal/ids"
)

// GroupService implements the group lifecycle: creation with automatic
// leadership, and the request/decide join workflow.
type GroupService struct {
	store Store
	authz *Authorizer
	now   func() time.Time
}

// GroupOption customises a GroupService.
type GroupOption func(*GroupService)

// WithGroupClock overrides the service clock, mainly for tests.
func WithGroupClock(now func() time.Time) GroupOption {
	return func(s *GroupService) { s.now = now }
}

// NewGroupService wires a group service over the given store.
func NewGroupService(store Store, authz *Authorizer, opts ...GroupOption) *GroupService {
	s := &GroupService{
		store: store,
		authz: authz,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateGroup registers a new group with the calling user as its sole
// leader. The caller must hold the create-group privilege and must not
// already belong to a group; the storage-level unique membership index is
// the final arbiter under concurrency. The store swaps the founder's
// group-creator role for group-leader in the same transaction that writes
// the group, so a failure never leaves a half-promoted leader behind.
func (s *GroupService) CreateGroup(ctx context.Context, name, description string) (*Group, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	if err := s.authz.RequirePrivilege(ctx, actor.UserID, PrivCreateGroup); err != nil {
		return nil, err
	}
	// Friendly pre-check; the store constraint still decides races.
	if _, err := s.store.MembershipFor(ctx, actor.UserID); err == nil {
		return nil, &MembershipError{UserID: actor.UserID}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := s.now()
	g := &Group{
		ID:          ids.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateGroup(ctx, g, actor.UserID); err != nil {
		return nil, err
	}
	return g, nil
}

// GrantDefaultRole gives a newly registered user the group-creator role so
// they can found their own group. Idempotent.
func (s *GroupService) GrantDefaultRole(ctx context.Context, userID string) error {
	creator, err := s.store.FindRoleByName(ctx, RoleGroupCreator)
	if err != nil {
		return err
	}
	err = s.store.Assign(ctx, RoleAssignment{UserID: userID, RoleID: creator.ID, CreatedAt: s.now()})
	if err != nil && !errors.Is(err, ErrConflict) {
		return err
	}
	return nil
}

// FindGroup returns the group by id.
func (s *GroupService) FindGroup(ctx context.Context, id string) (*Group, error) {
	return s.store.FindGroup(ctx, id)
}

// MembershipFor returns the caller's membership record.
func (s *GroupService) MembershipFor(ctx context.Context, userID string) (*Membership, error) {
	return s.store.MembershipFor(ctx, userID)
}

// RequestJoin files a join request against the group. The requester must be
// groupless; duplicate pending requests for the same group are rejected.
func (s *GroupService) RequestJoin(ctx context.Context, groupID, message string) (*JoinRequest, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	if groupID == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.store.FindGroup(ctx, groupID); err != nil {
		return nil, err
	}
	jr := &JoinRequest{
		ID:          ids.New(),
		GroupID:     groupID,
		RequesterID: actor.UserID,
		Message:     strings.TrimSpace(message),
		Status:      JoinPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateJoinRequest(ctx, jr); err != nil {
		return nil, err
	}
	return jr, nil
}

// DecideJoinRequest accepts or rejects a pending request. Only a leader of
// the target group may decide, and each request resolves exactly once.
// Acceptance admits the requester and retires their group-creator role in
// the same storage transaction.
func (s *GroupService) DecideJoinRequest(ctx context.Context, requestID string, accept bool) (*JoinRequest, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, ErrAuthorisation
	}
	jr, err := s.store.FindJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.MembershipFor(ctx, actor.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrAuthorisation
		}
		return nil, err
	}
	if !ms.Leader || ms.GroupID != jr.GroupID {
		return nil, ErrAuthorisation
	}
	status := JoinRejected
	if accept {
		status = JoinAccepted
	}
	return s.store.DecideJoinRequest(ctx, requestID, actor.UserID, status)
}
