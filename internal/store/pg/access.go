package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"omicsauth.org/internal/access"
)

var _ access.Store = (*Store)(nil)

// membershipGroups lists the group ids a user currently belongs to, for the
// diagnostics carried by MembershipError.
func (s *Store) membershipGroups(ctx context.Context, userID string) []string {
	rows, err := s.db.QueryContext(ctx, `
		select group_id from group_memberships where user_id = $1
	`, userID)
	if err != nil {
		return nil
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return out
		}
		out = append(out, id)
	}
	return out
}

// --- groups ---

func (s *Store) CreateGroup(ctx context.Context, g *access.Group, leaderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into groups (id, name, description, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, g.ID, g.Name, nullIfEmpty(g.Description), g.CreatedAt, g.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.ErrConflict
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into group_memberships (group_id, user_id, leader, created_at)
		values ($1, $2, true, $3)
	`, g.ID, leaderID, g.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				// the ux_group_memberships_user index is the arbiter of
				// the one-group-per-user rule
				return &access.MembershipError{UserID: leaderID, Groups: s.membershipGroups(ctx, leaderID)}
			case pgErrForeignKeyViolation:
				return access.ErrNotFound
			}
		}
		return err
	}
	// founding a group swaps the default group-creator role for group-leader
	if _, err := tx.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, created_at)
		select $1, id, $2 from roles where name = $3
		on conflict do nothing
	`, leaderID, g.CreatedAt, access.RoleGroupLeader); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		delete from user_roles ur
		using roles r
		where ur.role_id = r.id and ur.user_id = $1 and r.name = $2
	`, leaderID, access.RoleGroupCreator); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindGroup(ctx context.Context, id string) (*access.Group, error) {
	var (
		g    access.Group
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, description, created_at, updated_at
		from groups where id = $1
	`, id).Scan(&g.ID, &g.Name, &desc, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.Description = desc.String
	return &g, nil
}

func (s *Store) MembershipFor(ctx context.Context, userID string) (*access.Membership, error) {
	var m access.Membership
	err := s.db.QueryRowContext(ctx, `
		select group_id, user_id, leader, created_at
		from group_memberships where user_id = $1
	`, userID).Scan(&m.GroupID, &m.UserID, &m.Leader, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// --- privilege catalog and roles ---

func (s *Store) EnsurePrivileges(ctx context.Context, privs []access.Privilege) error {
	for _, p := range privs {
		if _, err := s.db.ExecContext(ctx, `
			insert into privileges (id, description, created_at)
			values ($1, $2, now())
			on conflict (id) do nothing
		`, p.ID, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListPrivileges(ctx context.Context) ([]access.Privilege, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(description, ''), created_at
		from privileges
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.Privilege
	for rows.Next() {
		var p access.Privilege
		if err := rows.Scan(&p.ID, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, role *access.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into roles (id, name, user_editable, created_at, updated_at)
		values ($1, $2, $3, $4, $5)
	`, role.ID, role.Name, role.UserEditable, role.CreatedAt, role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.ErrConflict
		}
		return err
	}
	for _, p := range role.Privileges {
		if _, err := tx.ExecContext(ctx, `
			insert into role_privileges (role_id, privilege_id)
			values ($1, $2)
		`, role.ID, p.ID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return access.ErrNotFound
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) FindRole(ctx context.Context, id string) (*access.Role, error) {
	return s.roleBy(ctx, `where id = $1`, id)
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*access.Role, error) {
	return s.roleBy(ctx, `where name = $1`, name)
}

func (s *Store) roleBy(ctx context.Context, where string, arg any) (*access.Role, error) {
	var r access.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, user_editable, created_at, updated_at
		from roles `+where,
		arg,
	).Scan(&r.ID, &r.Name, &r.UserEditable, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select p.id, coalesce(p.description, ''), p.created_at
		from role_privileges rp
		join privileges p on p.id = rp.privilege_id
		where rp.role_id = $1
		order by p.id
	`, r.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p access.Privilege
		if err := rows.Scan(&p.ID, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		r.Privileges = append(r.Privileges, p)
	}
	return &r, rows.Err()
}

func (s *Store) SetRolePrivileges(ctx context.Context, roleID string, privilegeIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 for update`, roleID).Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_privileges where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, id := range privilegeIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into role_privileges (role_id, privilege_id)
			values ($1, $2)
		`, roleID, id); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return access.ErrNotFound
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `update roles set updated_at = now() where id = $1`, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreateGroupRole(ctx context.Context, gr *access.GroupRole) error {
	_, err := s.db.ExecContext(ctx, `
		insert into group_roles (id, group_id, role_id, created_at)
		values ($1, $2, $3, $4)
	`, gr.ID, gr.GroupID, gr.RoleID, gr.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func (s *Store) FindGroupRole(ctx context.Context, id string) (*access.GroupRole, error) {
	var gr access.GroupRole
	err := s.db.QueryRowContext(ctx, `
		select id, group_id, role_id, created_at
		from group_roles where id = $1
	`, id).Scan(&gr.ID, &gr.GroupID, &gr.RoleID, &gr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gr, nil
}

func (s *Store) FindGroupRoleByName(ctx context.Context, groupID, roleName string) (*access.GroupRole, error) {
	var gr access.GroupRole
	err := s.db.QueryRowContext(ctx, `
		select gr.id, gr.group_id, gr.role_id, gr.created_at
		from group_roles gr
		join roles r on r.id = gr.role_id
		where gr.group_id = $1 and r.name = $2
	`, groupID, roleName).Scan(&gr.ID, &gr.GroupID, &gr.RoleID, &gr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gr, nil
}

func (s *Store) Assign(ctx context.Context, a access.RoleAssignment) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, created_at)
		values ($1, $2, $3)
	`, a.UserID, a.RoleID, created)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

// --- resources ---

func (s *Store) CreateResource(ctx context.Context, r *access.Resource) error {
	_, err := s.db.ExecContext(ctx, `
		insert into resources (id, group_id, name, category, public, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.GroupID, r.Name, string(r.Category), r.Public, r.CreatedAt, r.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func (s *Store) FindResource(ctx context.Context, id string) (*access.Resource, error) {
	var r access.Resource
	err := s.db.QueryRowContext(ctx, `
		select id, group_id, name, category, public, created_at, updated_at
		from resources where id = $1
	`, id).Scan(&r.ID, &r.GroupID, &r.Name, &r.Category, &r.Public, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) FindResources(ctx context.Context, ids []string) ([]*access.Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, group_id, name, category, public, created_at, updated_at
		from resources where id in (`+placeholders(1, len(ids))+`)
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*access.Resource
	for rows.Next() {
		var r access.Resource
		if err := rows.Scan(&r.ID, &r.GroupID, &r.Name, &r.Category, &r.Public, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateResource(ctx context.Context, r *access.Resource) error {
	// group_id is deliberately absent: ownership never moves
	res, err := s.db.ExecContext(ctx, `
		update resources set name = $2, public = $3, updated_at = $4
		where id = $1
	`, r.ID, r.Name, r.Public, r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.ErrConflict
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *Store) LinkData(ctx context.Context, l *access.DataLink) error {
	var category string
	err := s.db.QueryRowContext(ctx, `
		select category from resources where id = $1
	`, l.ResourceID).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	if err != nil {
		return err
	}
	if category != string(l.Category) {
		return access.ErrInvalidInput
	}
	_, err = s.db.ExecContext(ctx, `
		insert into resource_data (id, resource_id, dataset_id, category, created_at)
		values ($1, $2, $3, $4, $5)
	`, l.ID, l.ResourceID, l.DatasetID, string(l.Category), l.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func (s *Store) UnlinkData(ctx context.Context, resourceID, linkID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from resource_data where id = $1 and resource_id = $2
	`, linkID, resourceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *Store) ListData(ctx context.Context, resourceID string) ([]access.DataLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource_id, dataset_id, category, created_at
		from resource_data
		where resource_id = $1
		order by created_at, id
	`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.DataLink
	for rows.Next() {
		var l access.DataLink
		if err := rows.Scan(&l.ID, &l.ResourceID, &l.DatasetID, &l.Category, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- grants ---

func (s *Store) CreateGrant(ctx context.Context, g access.PrivilegeGrant) error {
	created := g.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	// Same-group invariant enforced inside the insert: the select produces
	// no row when the role and resource belong to different groups.
	res, err := s.db.ExecContext(ctx, `
		insert into privilege_grants (group_id, user_id, group_role_id, resource_id, created_at)
		select gr.group_id, $1, gr.id, r.id, $4
		from group_roles gr, resources r
		where gr.id = $2 and r.id = $3 and r.group_id = gr.group_id
	`, g.UserID, g.GroupRoleID, g.ResourceID, created)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.ErrConflict
			case pgErrForeignKeyViolation:
				return access.ErrNotFound
			}
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.grantInsertMiss(ctx, g)
	}
	return nil
}

// grantInsertMiss distinguishes a missing row from a cross-group pair.
func (s *Store) grantInsertMiss(ctx context.Context, g access.PrivilegeGrant) error {
	gr, err := s.FindGroupRole(ctx, g.GroupRoleID)
	if err != nil {
		return err
	}
	r, err := s.FindResource(ctx, g.ResourceID)
	if err != nil {
		return err
	}
	if gr.GroupID != r.GroupID {
		return access.ErrInconsistency
	}
	return access.ErrNotFound
}

func (s *Store) RemoveGrant(ctx context.Context, g access.PrivilegeGrant) error {
	res, err := s.db.ExecContext(ctx, `
		delete from privilege_grants
		where user_id = $1 and group_role_id = $2 and resource_id = $3
	`, g.UserID, g.GroupRoleID, g.ResourceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}

func (s *Store) GrantsForResource(ctx context.Context, resourceID string) ([]access.PrivilegeGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select group_id, user_id, group_role_id, resource_id, created_at
		from privilege_grants
		where resource_id = $1
		order by user_id, group_role_id
	`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []access.PrivilegeGrant
	for rows.Next() {
		var g access.PrivilegeGrant
		if err := rows.Scan(&g.GroupID, &g.UserID, &g.GroupRoleID, &g.ResourceID, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ResourcePrivileges(ctx context.Context, userID string, resourceIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(resourceIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(resourceIDs)+1)
	args = append(args, userID)
	for _, id := range resourceIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct g.resource_id, rp.privilege_id
		from privilege_grants g
		join group_roles gr on gr.id = g.group_role_id
		join role_privileges rp on rp.role_id = gr.role_id
		where g.user_id = $1 and g.resource_id in (`+placeholders(2, len(resourceIDs))+`)
		order by g.resource_id, rp.privilege_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var resourceID, privilegeID string
		if err := rows.Scan(&resourceID, &privilegeID); err != nil {
			return nil, err
		}
		out[resourceID] = append(out[resourceID], privilegeID)
	}
	return out, rows.Err()
}

func (s *Store) UserPrivileges(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select rp.privilege_id
		from user_roles ur
		join role_privileges rp on rp.role_id = ur.role_id
		where ur.user_id = $1
		union
		select rp.privilege_id
		from privilege_grants g
		join group_roles gr on gr.id = g.group_role_id
		join role_privileges rp on rp.role_id = gr.role_id
		where g.user_id = $1
		order by 1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- join requests ---

func (s *Store) CreateJoinRequest(ctx context.Context, jr *access.JoinRequest) error {
	if ms, err := s.MembershipFor(ctx, jr.RequesterID); err == nil {
		return &access.MembershipError{UserID: jr.RequesterID, Groups: []string{ms.GroupID}}
	} else if !errors.Is(err, access.ErrNotFound) {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into join_requests (id, group_id, requester_id, message, status, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, jr.ID, jr.GroupID, jr.RequesterID, nullIfEmpty(jr.Message), string(jr.Status), jr.CreatedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			// one pending request per requester and group
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func (s *Store) FindJoinRequest(ctx context.Context, id string) (*access.JoinRequest, error) {
	var (
		jr        access.JoinRequest
		message   sql.NullString
		decidedBy sql.NullString
		decidedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, group_id, requester_id, message, status, created_at, decided_by, decided_at
		from join_requests where id = $1
	`, id).Scan(&jr.ID, &jr.GroupID, &jr.RequesterID, &message, &jr.Status, &jr.CreatedAt, &decidedBy, &decidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	jr.Message = message.String
	jr.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		jr.DecidedAt = &t
	}
	return &jr, nil
}

func (s *Store) DecideJoinRequest(ctx context.Context, requestID, deciderID string, status access.JoinRequestStatus) (*access.JoinRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var jr access.JoinRequest
	var message sql.NullString
	err = tx.QueryRowContext(ctx, `
		select id, group_id, requester_id, message, status, created_at
		from join_requests where id = $1
		for update
	`, requestID).Scan(&jr.ID, &jr.GroupID, &jr.RequesterID, &message, &jr.Status, &jr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	jr.Message = message.String
	if jr.Status != access.JoinPending {
		return nil, access.ErrConflict
	}

	now := time.Now().UTC()
	if status == access.JoinAccepted {
		if _, err := tx.ExecContext(ctx, `
			insert into group_memberships (group_id, user_id, leader, created_at)
			values ($1, $2, false, $3)
		`, jr.GroupID, jr.RequesterID, now); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return nil, &access.MembershipError{UserID: jr.RequesterID, Groups: s.membershipGroups(ctx, jr.RequesterID)}
			}
			return nil, err
		}
		// joining a group forfeits the default group-creator role
		if _, err := tx.ExecContext(ctx, `
			delete from user_roles ur
			using roles r
			where ur.role_id = r.id and ur.user_id = $1 and r.name = $2
		`, jr.RequesterID, access.RoleGroupCreator); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		update join_requests
		set status = $2, decided_by = $3, decided_at = $4
		where id = $1
	`, requestID, string(status), deciderID, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	jr.Status = status
	jr.DecidedBy = deciderID
	jr.DecidedAt = &now
	return &jr, nil
}
