package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"omicsauth.org/internal/access"
	"omicsauth.org/internal/identity"
	"omicsauth.org/internal/oauth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func TestCreateUserMapsUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into users").
		WithArgs("u1", "alice@example.org", "Alice", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Create(context.Background(), &identity.User{
		ID: "u1", Email: "alice@example.org", Name: "Alice", PasswordHash: "hash",
	})
	if !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("expected identity.ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateGroupMembershipViolation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("insert into groups").
		WithArgs("g1", "lab", sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into group_memberships").
		WithArgs("g1", "alice", now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectQuery("select group_id from group_memberships").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"group_id"}).AddRow("g0"))
	mock.ExpectRollback()

	err := store.CreateGroup(context.Background(), &access.Group{
		ID: "g1", Name: "lab", CreatedAt: now, UpdatedAt: now,
	}, "alice")

	var me *access.MembershipError
	if !errors.As(err, &me) {
		t.Fatalf("expected MembershipError, got %v", err)
	}
	if len(me.Groups) != 1 || me.Groups[0] != "g0" {
		t.Fatalf("expected conflicting group g0, got %v", me.Groups)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateGroupSwapsRolesInTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec("insert into groups").
		WithArgs("g1", "lab", sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into group_memberships").
		WithArgs("g1", "alice", now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into user_roles").
		WithArgs("alice", now, access.RoleGroupLeader).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("delete from user_roles").
		WithArgs("alice", access.RoleGroupCreator).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.CreateGroup(context.Background(), &access.Group{
		ID: "g1", Name: "lab", CreatedAt: now, UpdatedAt: now,
	}, "alice")
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeCodeDeletesAtomically(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "code", "client_id", "user_id", "redirect_uri", "scope", "nonce",
		"code_challenge", "code_challenge_method", "auth_time", "expires_at",
	}).AddRow("ac1", "raw-code", "c1", "u1", "https://app/cb", "read", nil, nil, nil, now, now.Add(5*time.Minute))

	mock.ExpectQuery("delete from oauth_codes.*returning").
		WithArgs("raw-code").
		WillReturnRows(rows)

	ac, err := store.ConsumeCode(context.Background(), "raw-code")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ac.ClientID != "c1" || ac.UserID != "u1" || ac.Scope != "read" {
		t.Fatalf("unexpected code: %+v", ac)
	}

	// Second consume finds nothing.
	mock.ExpectQuery("delete from oauth_codes.*returning").
		WithArgs("raw-code").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.ConsumeCode(context.Background(), "raw-code"); !errors.Is(err, oauth.ErrNotFound) {
		t.Fatalf("expected oauth.ErrNotFound on replay, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDecideJoinRequestAccept(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select id, group_id, requester_id, message, status, created_at.*from join_requests").
		WithArgs("jr1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "requester_id", "message", "status", "created_at"}).
			AddRow("jr1", "g1", "bob", nil, "PENDING", now))
	mock.ExpectExec("insert into group_memberships").
		WithArgs("g1", "bob", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("delete from user_roles").
		WithArgs("bob", access.RoleGroupCreator).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update join_requests").
		WithArgs("jr1", "ACCEPTED", "leader", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	jr, err := store.DecideJoinRequest(context.Background(), "jr1", "leader", access.JoinAccepted)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if jr.Status != access.JoinAccepted || jr.DecidedBy != "leader" || jr.DecidedAt == nil {
		t.Fatalf("unexpected request: %+v", jr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDecideJoinRequestAlreadyDecided(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("select id, group_id, requester_id, message, status, created_at.*from join_requests").
		WithArgs("jr1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_id", "requester_id", "message", "status", "created_at"}).
			AddRow("jr1", "g1", "bob", nil, "REJECTED", now))
	mock.ExpectRollback()

	if _, err := store.DecideJoinRequest(context.Background(), "jr1", "leader", access.JoinAccepted); !errors.Is(err, access.ErrConflict) {
		t.Fatalf("expected access.ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRevokeTokenFlagsRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update oauth_tokens set revoked = true").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RevokeToken(context.Background(), "t1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	mock.ExpectExec("update oauth_tokens set revoked = true").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.RevokeToken(context.Background(), "missing"); !errors.Is(err, oauth.ErrNotFound) {
		t.Fatalf("expected oauth.ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserPrivilegesUnion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select rp.privilege_id.*from user_roles.*union").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"privilege_id"}).
			AddRow("group:resource:edit-resource").
			AddRow("group:resource:view-resource"))

	privs, err := store.UserPrivileges(context.Background(), "alice")
	if err != nil {
		t.Fatalf("user privileges: %v", err)
	}
	if len(privs) != 2 {
		t.Fatalf("expected 2 privileges, got %v", privs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
