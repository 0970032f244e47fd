package access

// Privilege catalog keys. The catalog itself is immutable and seeded at
// bootstrap; these constants are the only names the code refers to.
const (
	PrivCreateGroup    = "system:group:create-group"
	PrivMasquerade     = "system:user:masquerade"
	PrivPublicRead     = "system:resource:public-read"
	PrivRegisterClient = "system:client:register-client"
	PrivEditGroup      = "group:group:edit-group"
	PrivAddGroupMember = "group:user:add-group-member"
	PrivCreateRole     = "group:role:create-role"
	PrivEditRole       = "group:role:edit-role"
	PrivCreateResource = "group:resource:create-resource"
	PrivViewResource   = "group:resource:view-resource"
	PrivEditResource   = "group:resource:edit-resource"
	PrivAssignRole     = "group:resource:assign-role"
	PrivUnassignRole   = "group:resource:unassign-role"
)

// BuiltinPrivileges is the full catalog written by the seed step.
var BuiltinPrivileges = []Privilege{
	{ID: PrivCreateGroup, Description: "Create a new group and become its leader"},
	{ID: PrivMasquerade, Description: "Issue a delegated token for another user"},
	{ID: PrivPublicRead, Description: "Read publicly visible resources"},
	{ID: PrivRegisterClient, Description: "Register OAuth2 clients with the platform"},
	{ID: PrivEditGroup, Description: "Edit group metadata"},
	{ID: PrivAddGroupMember, Description: "Admit users into the group"},
	{ID: PrivCreateRole, Description: "Create group-scoped roles"},
	{ID: PrivEditRole, Description: "Edit user-editable group roles"},
	{ID: PrivCreateResource, Description: "Register data resources for the group"},
	{ID: PrivViewResource, Description: "View a resource and its attached data"},
	{ID: PrivEditResource, Description: "Rename, relink or toggle visibility of a resource"},
	{ID: PrivAssignRole, Description: "Grant a group role to a user on a resource"},
	{ID: PrivUnassignRole, Description: "Remove a granted group role from a user on a resource"},
}

// System role names. Seeded with user_editable=false.
const (
	RoleGroupCreator  = "group-creator"
	RoleGroupLeader   = "group-leader"
	RoleResourceOwner = "resource-owner"
)

// SystemRolePrivileges maps each system role to its privilege set.
var SystemRolePrivileges = map[string][]string{
	RoleGroupCreator: {PrivCreateGroup},
	RoleGroupLeader: {
		PrivEditGroup,
		PrivAddGroupMember,
		PrivCreateRole,
		PrivEditRole,
		PrivCreateResource,
	},
	RoleResourceOwner: {
		PrivViewResource,
		PrivEditResource,
		PrivAssignRole,
		PrivUnassignRole,
	},
}

// readPrivileges are satisfied implicitly by a public resource.
var readPrivileges = map[string]struct{}{
	PrivViewResource: {},
	PrivPublicRead:   {},
}

// ReadOnly reports whether every listed privilege is a read privilege, i.e.
// whether a public resource satisfies the whole requirement.
func ReadOnly(privilegeIDs []string) bool {
	if len(privilegeIDs) == 0 {
		return false
	}
	for _, id := range privilegeIDs {
		if _, ok := readPrivileges[id]; !ok {
			return false
		}
	}
	return true
}
