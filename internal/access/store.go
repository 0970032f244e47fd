package access

import "context"

// Store describes persistence operations required by the access subsystem.
// Implementations keep the one-group-per-user and same-group-grant
// constraints authoritative at the storage layer.
type Store interface {
	GroupStore
	RoleStore
	ResourceStore
	GrantStore
	JoinRequestStore
}

// GroupStore manages groups and memberships.
type GroupStore interface {
	// CreateGroup inserts the group, its leader membership and the leader's
	// role swap (group-creator out, group-leader in) in one unit of work.
	// Returns *MembershipError if the leader already belongs to a group.
	CreateGroup(ctx context.Context, g *Group, leaderID string) error
	FindGroup(ctx context.Context, id string) (*Group, error)
	// MembershipFor returns ErrNotFound when the user has no group.
	MembershipFor(ctx context.Context, userID string) (*Membership, error)
}

// RoleStore manages the privilege catalog, roles and group-role instances.
type RoleStore interface {
	EnsurePrivileges(ctx context.Context, privs []Privilege) error
	ListPrivileges(ctx context.Context) ([]Privilege, error)

	CreateRole(ctx context.Context, role *Role) error
	FindRole(ctx context.Context, id string) (*Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	SetRolePrivileges(ctx context.Context, roleID string, privilegeIDs []string) error

	CreateGroupRole(ctx context.Context, gr *GroupRole) error
	FindGroupRole(ctx context.Context, id string) (*GroupRole, error)
	FindGroupRoleByName(ctx context.Context, groupID, roleName string) (*GroupRole, error)

	Assign(ctx context.Context, a RoleAssignment) error
}

// ResourceStore manages data resources and their dataset links.
type ResourceStore interface {
	CreateResource(ctx context.Context, r *Resource) error
	FindResource(ctx context.Context, id string) (*Resource, error)
	FindResources(ctx context.Context, ids []string) ([]*Resource, error)
	UpdateResource(ctx context.Context, r *Resource) error

	LinkData(ctx context.Context, l *DataLink) error
	UnlinkData(ctx context.Context, resourceID, linkID string) error
	ListData(ctx context.Context, resourceID string) ([]DataLink, error)
}

// GrantStore manages privilege grants and answers the authorization joins.
type GrantStore interface {
	CreateGrant(ctx context.Context, g PrivilegeGrant) error
	RemoveGrant(ctx context.Context, g PrivilegeGrant) error
	GrantsForResource(ctx context.Context, resourceID string) ([]PrivilegeGrant, error)

	// ResourcePrivileges unions the privileges of every grant the user
	// holds on each candidate resource.
	ResourcePrivileges(ctx context.Context, userID string, resourceIDs []string) (map[string][]string, error)
	// UserPrivileges unions privileges from direct role assignments and
	// all resource grants the user holds.
	UserPrivileges(ctx context.Context, userID string) ([]string, error)
}

// JoinRequestStore manages the join-request workflow.
type JoinRequestStore interface {
	CreateJoinRequest(ctx context.Context, jr *JoinRequest) error
	FindJoinRequest(ctx context.Context, id string) (*JoinRequest, error)
	// DecideJoinRequest resolves a pending request. Accepting inserts the
	// requester's membership and revokes their default group-creator role
	// in the same unit of work. Returns ErrConflict if the request is
	// already decided and *MembershipError if the requester joined a group
	// meanwhile.
	DecideJoinRequest(ctx context.Context, requestID, deciderID string, status JoinRequestStatus) (*JoinRequest, error)
}
