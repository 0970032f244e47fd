package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"omicsauth.org/internal/ids"
)

// InMemory is a Store kept entirely in process memory. It mirrors the
// relational constraints of the SQL store, including the unique membership
// index, so the services behave identically under test.
type InMemory struct {
	mu sync.Mutex

	groups      map[string]*Group
	memberships map[string]*Membership // keyed by user id: one group per user
	privileges  map[string]*Privilege
	roles       map[string]*Role
	groupRoles  map[string]*GroupRole
	assignments map[string]RoleAssignment // userID + "\x00" + roleID
	resources   map[string]*Resource
	dataLinks   map[string]*DataLink
	grants      map[string]PrivilegeGrant // userID + groupRoleID + resourceID
	requests    map[string]*JoinRequest
}

// NewInMemory returns an empty in-memory store with the built-in privilege
// catalog and system roles already seeded.
func NewInMemory() *InMemory {
	m := &InMemory{
		groups:      make(map[string]*Group),
		memberships: make(map[string]*Membership),
		privileges:  make(map[string]*Privilege),
		roles:       make(map[string]*Role),
		groupRoles:  make(map[string]*GroupRole),
		assignments: make(map[string]RoleAssignment),
		resources:   make(map[string]*Resource),
		dataLinks:   make(map[string]*DataLink),
		grants:      make(map[string]PrivilegeGrant),
		requests:    make(map[string]*JoinRequest),
	}
	now := time.Now().UTC()
	for _, p := range BuiltinPrivileges {
		cp := p
		cp.CreatedAt = now
		m.privileges[cp.ID] = &cp
	}
	for name, privIDs := range SystemRolePrivileges {
		role := &Role{
			ID:           ids.New(),
			Name:         name,
			UserEditable: false,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		for _, id := range privIDs {
			role.Privileges = append(role.Privileges, *m.privileges[id])
		}
		m.roles[role.ID] = role
	}
	return m
}

// --- GroupStore ---

func (m *InMemory) CreateGroup(_ context.Context, g *Group, leaderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.memberships[leaderID]; ok {
		return &MembershipError{UserID: leaderID, Groups: []string{existing.GroupID}}
	}
	for _, other := range m.groups {
		if other.Name == g.Name {
			return ErrConflict
		}
	}
	cp := *g
	m.groups[cp.ID] = &cp
	m.memberships[leaderID] = &Membership{
		GroupID:   cp.ID,
		UserID:    leaderID,
		Leader:    true,
		CreatedAt: cp.CreatedAt,
	}
	// Founding a group swaps the default group-creator role for group-leader.
	for _, role := range m.roles {
		if role.Name != RoleGroupLeader {
			continue
		}
		key := assignmentKey(leaderID, role.ID)
		if _, ok := m.assignments[key]; !ok {
			m.assignments[key] = RoleAssignment{UserID: leaderID, RoleID: role.ID, CreatedAt: cp.CreatedAt}
		}
	}
	for key, a := range m.assignments {
		if a.UserID != leaderID {
			continue
		}
		if role, ok := m.roles[a.RoleID]; ok && role.Name == RoleGroupCreator {
			delete(m.assignments, key)
		}
	}
	return nil
}

func (m *InMemory) FindGroup(_ context.Context, id string) (*Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *InMemory) MembershipFor(_ context.Context, userID string) (*Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.memberships[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ms
	return &cp, nil
}

// --- RoleStore ---

func (m *InMemory) EnsurePrivileges(_ context.Context, privs []Privilege) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range privs {
		if _, ok := m.privileges[p.ID]; ok {
			continue
		}
		cp := p
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		m.privileges[cp.ID] = &cp
	}
	return nil
}

func (m *InMemory) ListPrivileges(context.Context) ([]Privilege, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Privilege, 0, len(m.privileges))
	for _, p := range m.privileges {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *InMemory) CreateRole(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name {
			return ErrConflict
		}
	}
	for _, p := range role.Privileges {
		if _, ok := m.privileges[p.ID]; !ok {
			return ErrNotFound
		}
	}
	cp := *role
	cp.Privileges = append([]Privilege(nil), role.Privileges...)
	m.roles[cp.ID] = &cp
	return nil
}

func (m *InMemory) FindRole(_ context.Context, id string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findRoleLocked(id)
}

func (m *InMemory) findRoleLocked(id string) (*Role, error) {
	r, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	cp.Privileges = append([]Privilege(nil), r.Privileges...)
	return &cp, nil
}

func (m *InMemory) FindRoleByName(_ context.Context, name string) (*Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name {
			cp := *r
			cp.Privileges = append([]Privilege(nil), r.Privileges...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *InMemory) SetRolePrivileges(_ context.Context, roleID string, privilegeIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	next := make([]Privilege, 0, len(privilegeIDs))
	for _, id := range privilegeIDs {
		p, ok := m.privileges[id]
		if !ok {
			return ErrNotFound
		}
		next = append(next, *p)
	}
	r.Privileges = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *InMemory) CreateGroupRole(_ context.Context, gr *GroupRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[gr.GroupID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.roles[gr.RoleID]; !ok {
		return ErrNotFound
	}
	for _, other := range m.groupRoles {
		if other.GroupID == gr.GroupID && other.RoleID == gr.RoleID {
			return ErrConflict
		}
	}
	cp := *gr
	m.groupRoles[cp.ID] = &cp
	return nil
}

func (m *InMemory) FindGroupRole(_ context.Context, id string) (*GroupRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gr, ok := m.groupRoles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *gr
	return &cp, nil
}

func (m *InMemory) FindGroupRoleByName(_ context.Context, groupID, roleName string) (*GroupRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, gr := range m.groupRoles {
		if gr.GroupID != groupID {
			continue
		}
		if r, ok := m.roles[gr.RoleID]; ok && r.Name == roleName {
			cp := *gr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func assignmentKey(userID, roleID string) string { return userID + "\x00" + roleID }

func (m *InMemory) Assign(_ context.Context, a RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[a.RoleID]; !ok {
		return ErrNotFound
	}
	key := assignmentKey(a.UserID, a.RoleID)
	if _, ok := m.assignments[key]; ok {
		return ErrConflict
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.assignments[key] = a
	return nil
}

// --- ResourceStore ---

func (m *InMemory) CreateResource(_ context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[r.GroupID]; !ok {
		return ErrNotFound
	}
	for _, other := range m.resources {
		if other.GroupID == r.GroupID && other.Name == r.Name {
			return ErrConflict
		}
	}
	cp := *r
	m.resources[cp.ID] = &cp
	return nil
}

func (m *InMemory) FindResource(_ context.Context, id string) (*Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *InMemory) FindResources(_ context.Context, idList []string) ([]*Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Resource, 0, len(idList))
	for _, id := range idList {
		if r, ok := m.resources[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *InMemory) UpdateResource(_ context.Context, r *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.resources[r.ID]
	if !ok {
		return ErrNotFound
	}
	for _, other := range m.resources {
		if other.ID != r.ID && other.GroupID == cur.GroupID && other.Name == r.Name {
			return ErrConflict
		}
	}
	cp := *r
	cp.GroupID = cur.GroupID // ownership never changes
	m.resources[cp.ID] = &cp
	return nil
}

func (m *InMemory) LinkData(_ context.Context, l *DataLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[l.ResourceID]
	if !ok {
		return ErrNotFound
	}
	if l.Category != r.Category {
		return ErrInvalidInput
	}
	for _, other := range m.dataLinks {
		if other.ResourceID == l.ResourceID && other.DatasetID == l.DatasetID {
			return ErrConflict
		}
	}
	cp := *l
	m.dataLinks[cp.ID] = &cp
	return nil
}

func (m *InMemory) UnlinkData(_ context.Context, resourceID, linkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.dataLinks[linkID]
	if !ok || l.ResourceID != resourceID {
		return ErrNotFound
	}
	delete(m.dataLinks, linkID)
	return nil
}

func (m *InMemory) ListData(_ context.Context, resourceID string) ([]DataLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DataLink
	for _, l := range m.dataLinks {
		if l.ResourceID == resourceID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- GrantStore ---

func grantKey(g PrivilegeGrant) string {
	return g.UserID + "\x00" + g.GroupRoleID + "\x00" + g.ResourceID
}

func (m *InMemory) CreateGrant(_ context.Context, g PrivilegeGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gr, ok := m.groupRoles[g.GroupRoleID]
	if !ok {
		return ErrNotFound
	}
	r, ok := m.resources[g.ResourceID]
	if !ok {
		return ErrNotFound
	}
	if gr.GroupID != r.GroupID {
		return ErrInconsistency
	}
	key := grantKey(g)
	if _, ok := m.grants[key]; ok {
		return ErrConflict
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.GroupID = gr.GroupID
	m.grants[key] = g
	return nil
}

func (m *InMemory) RemoveGrant(_ context.Context, g PrivilegeGrant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := grantKey(g)
	if _, ok := m.grants[key]; !ok {
		return ErrNotFound
	}
	delete(m.grants, key)
	return nil
}

func (m *InMemory) GrantsForResource(_ context.Context, resourceID string) ([]PrivilegeGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PrivilegeGrant
	for _, g := range m.grants {
		if g.ResourceID == resourceID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *InMemory) ResourcePrivileges(_ context.Context, userID string, resourceIDs []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(resourceIDs))
	for _, id := range resourceIDs {
		wanted[id] = struct{}{}
	}
	acc := make(map[string]map[string]struct{})
	for _, g := range m.grants {
		if g.UserID != userID {
			continue
		}
		if _, ok := wanted[g.ResourceID]; !ok {
			continue
		}
		gr, ok := m.groupRoles[g.GroupRoleID]
		if !ok {
			continue
		}
		role, ok := m.roles[gr.RoleID]
		if !ok {
			continue
		}
		set := acc[g.ResourceID]
		if set == nil {
			set = make(map[string]struct{})
			acc[g.ResourceID] = set
		}
		for _, p := range role.Privileges {
			set[p.ID] = struct{}{}
		}
	}
	out := make(map[string][]string, len(acc))
	for resID, set := range acc {
		privs := make([]string, 0, len(set))
		for id := range set {
			privs = append(privs, id)
		}
		sort.Strings(privs)
		out[resID] = privs
	}
	return out, nil
}

func (m *InMemory) UserPrivileges(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{})
	for _, a := range m.assignments {
		if a.UserID != userID {
			continue
		}
		if role, ok := m.roles[a.RoleID]; ok {
			for _, p := range role.Privileges {
				set[p.ID] = struct{}{}
			}
		}
	}
	for _, g := range m.grants {
		if g.UserID != userID {
			continue
		}
		gr, ok := m.groupRoles[g.GroupRoleID]
		if !ok {
			continue
		}
		if role, ok := m.roles[gr.RoleID]; ok {
			for _, p := range role.Privileges {
				set[p.ID] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// --- JoinRequestStore ---

func (m *InMemory) CreateJoinRequest(_ context.Context, jr *JoinRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[jr.GroupID]; !ok {
		return ErrNotFound
	}
	if ms, ok := m.memberships[jr.RequesterID]; ok {
		return &MembershipError{UserID: jr.RequesterID, Groups: []string{ms.GroupID}}
	}
	for _, other := range m.requests {
		if other.RequesterID == jr.RequesterID && other.GroupID == jr.GroupID && other.Status == JoinPending {
			return ErrConflict
		}
	}
	cp := *jr
	m.requests[cp.ID] = &cp
	return nil
}

func (m *InMemory) FindJoinRequest(_ context.Context, id string) (*JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jr, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *jr
	return &cp, nil
}

func (m *InMemory) DecideJoinRequest(_ context.Context, requestID, deciderID string, status JoinRequestStatus) (*JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jr, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if jr.Status != JoinPending {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	if status == JoinAccepted {
		if existing, ok := m.memberships[jr.RequesterID]; ok {
			return nil, &MembershipError{UserID: jr.RequesterID, Groups: []string{existing.GroupID}}
		}
		m.memberships[jr.RequesterID] = &Membership{
			GroupID:   jr.GroupID,
			UserID:    jr.RequesterID,
			Leader:    false,
			CreatedAt: now,
		}
		// Joining a group forfeits the default group-creator role.
		for key, a := range m.assignments {
			if a.UserID != jr.RequesterID {
				continue
			}
			if role, ok := m.roles[a.RoleID]; ok && role.Name == RoleGroupCreator {
				delete(m.assignments, key)
			}
		}
	}
	jr.Status = status
	jr.DecidedBy = deciderID
	jr.DecidedAt = &now
	cp := *jr
	return &cp, nil
}
