package identity

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRegisterAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "  Ada@Example.COM ", "Ada Lovelace", "s3cret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if user.PasswordHash == "s3cret" || user.PasswordHash == "" {
		t.Fatalf("password stored in plaintext")
	}

	got, err := svc.Verify(ctx, "ada@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("verify returned wrong user: %s", got.ID)
	}

	if _, err := svc.Verify(ctx, "ada@example.com", "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if _, err := svc.Verify(ctx, "nobody@example.com", "s3cret"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("unknown user must look like bad credentials, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ada@example.com", "Ada", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "ada@example.com", "Other Ada", "pw2"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ada@example.com", "Ada", "old-pw")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := svc.ChangePassword(ctx, user.ID, "wrong", "new-pw"); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("expected ErrBadCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, user.ID, "old-pw", "new-pw"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Verify(ctx, "ada@example.com", "old-pw"); err == nil {
		t.Fatal("old password still accepted")
	}
	if _, err := svc.Verify(ctx, "ada@example.com", "new-pw"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}
