package pg

import (
	"context"
	"database/sql"
	"errors"

	"omicsauth.org/internal/identity"
)

var _ identity.Store = (*Store)(nil)

func (s *Store) Create(ctx context.Context, u *identity.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, name, password_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return identity.ErrConflict
	}
	return err
}

func (s *Store) Find(ctx context.Context, id string) (*identity.User, error) {
	return s.userBy(ctx, `where id = $1`, id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	return s.userBy(ctx, `where email = $1`, email)
}

func (s *Store) userBy(ctx context.Context, where string, arg any) (*identity.User, error) {
	var u identity.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, name, password_hash, created_at, updated_at
		from users `+where,
		arg,
	).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, updated_at = now()
		where id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return identity.ErrNotFound
	}
	return nil
}
