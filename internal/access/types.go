package access

import "time"

// Group is a research unit owning resources. A user belongs to at most one
// group at any time.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Membership binds a user to their single group.
type Membership struct {
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	Leader    bool      `json:"leader"`
	CreatedAt time.Time `json:"created_at"`
}

// Privilege is an atomic capability from the immutable catalog. The ID is
// the catalog key, e.g. "group:resource:edit-resource".
type Privilege struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Role bundles privileges. System roles are seeded at bootstrap and are not
// user-editable.
type Role struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	UserEditable bool        `json:"user_editable"`
	Privileges   []Privilege `json:"privileges"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// GroupRole scopes a role instance to a single group for resource grants.
type GroupRole struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RoleAssignment gives a user a role directly, outside any resource scope.
// Used for the default "group-creator" role and platform-level roles.
type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Category classifies a resource's dataset type.
type Category string

const (
	CategoryMRNA      Category = "mrna"
	CategoryGenotype  Category = "genotype"
	CategoryPhenotype Category = "phenotype"
)

// Valid reports whether the category is one of the known dataset types.
func (c Category) Valid() bool {
	switch c {
	case CategoryMRNA, CategoryGenotype, CategoryPhenotype:
		return true
	}
	return false
}

// Resource is a typed data asset owned by exactly one group. Resources are
// never hard-deleted.
type Resource struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DataLink attaches a dataset reference to a resource.
type DataLink struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	DatasetID  string    `json:"dataset_id"`
	Category   Category  `json:"category"`
	CreatedAt  time.Time `json:"created_at"`
}

// PrivilegeGrant binds a user to a group role on a specific resource. The
// role and resource must belong to the same group.
type PrivilegeGrant struct {
	GroupID     string    `json:"group_id"`
	UserID      string    `json:"user_id"`
	GroupRoleID string    `json:"group_role_id"`
	ResourceID  string    `json:"resource_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// JoinRequestStatus is the outcome of a join-request workflow step.
type JoinRequestStatus string

const (
	JoinPending  JoinRequestStatus = "PENDING"
	JoinAccepted JoinRequestStatus = "ACCEPTED"
	JoinRejected JoinRequestStatus = "REJECTED"
)

// JoinRequest asks a group's leader to admit a user. Each request is
// resolved exactly once.
type JoinRequest struct {
	ID          string            `json:"id"`
	GroupID     string            `json:"group_id"`
	RequesterID string            `json:"requester_id"`
	Message     string            `json:"message,omitempty"`
	Status      JoinRequestStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	DecidedBy   string            `json:"decided_by,omitempty"`
	DecidedAt   *time.Time        `json:"decided_at,omitempty"`
}
