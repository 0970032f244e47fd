package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"omicsauth.org/internal/oauth"
)

var _ oauth.Store = (*Store)(nil)

func (s *Store) CreateClient(ctx context.Context, c *oauth.Client) error {
	redirects, err := json.Marshal(c.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect uris: %w", err)
	}
	grants, err := json.Marshal(c.GrantTypes)
	if err != nil {
		return fmt.Errorf("marshal grant types: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into oauth_clients (id, name, secret_hash, redirect_uris, grant_types, client_type, owner_user_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.Name, nullIfEmpty(c.SecretHash), redirects, grants, string(c.Type), nullIfEmpty(c.OwnerUserID), c.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return oauth.ErrConflict
	}
	return err
}

func (s *Store) FindClient(ctx context.Context, id string) (*oauth.Client, error) {
	var (
		c            oauth.Client
		secretHash   sql.NullString
		ownerUserID  sql.NullString
		rawRedirects []byte
		rawGrants    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, secret_hash, redirect_uris, grant_types, client_type, owner_user_id, created_at
		from oauth_clients where id = $1
	`, id).Scan(&c.ID, &c.Name, &secretHash, &rawRedirects, &rawGrants, &c.Type, &ownerUserID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.SecretHash = secretHash.String
	c.OwnerUserID = ownerUserID.String
	if len(rawRedirects) > 0 {
		if err := json.Unmarshal(rawRedirects, &c.RedirectURIs); err != nil {
			return nil, fmt.Errorf("decode redirect uris: %w", err)
		}
	}
	if len(rawGrants) > 0 {
		if err := json.Unmarshal(rawGrants, &c.GrantTypes); err != nil {
			return nil, fmt.Errorf("decode grant types: %w", err)
		}
	}
	return &c, nil
}

func (s *Store) CreateToken(ctx context.Context, t *oauth.Token) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_tokens (id, client_id, user_id, actor_id, grant_type, token_type,
			access_token, refresh_token, scope, revoked, issued_at, expires_in)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, t.ID, t.ClientID, t.UserID, nullIfEmpty(t.ActorID), t.GrantType, t.TokenType,
		t.AccessToken, nullIfEmpty(t.RefreshToken), nullIfEmpty(t.Scope), t.Revoked, t.IssuedAt, t.ExpiresIn)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return oauth.ErrConflict
	}
	return err
}

func (s *Store) FindTokenByID(ctx context.Context, id string) (*oauth.Token, error) {
	return s.tokenBy(ctx, `where id = $1`, id)
}

func (s *Store) FindTokenByAccess(ctx context.Context, accessToken string) (*oauth.Token, error) {
	return s.tokenBy(ctx, `where access_token = $1`, accessToken)
}

func (s *Store) FindTokenByRefresh(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	return s.tokenBy(ctx, `where refresh_token = $1`, refreshToken)
}

func (s *Store) tokenBy(ctx context.Context, where string, arg any) (*oauth.Token, error) {
	var (
		t       oauth.Token
		actorID sql.NullString
		refresh sql.NullString
		scope   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, user_id, actor_id, grant_type, token_type,
			access_token, refresh_token, scope, revoked, issued_at, expires_in
		from oauth_tokens `+where,
		arg,
	).Scan(&t.ID, &t.ClientID, &t.UserID, &actorID, &t.GrantType, &t.TokenType,
		&t.AccessToken, &refresh, &scope, &t.Revoked, &t.IssuedAt, &t.ExpiresIn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ActorID = actorID.String
	t.RefreshToken = refresh.String
	t.Scope = scope.String
	return &t, nil
}

// RevokeToken flags the row; rows are never deleted so the issuance history
// stays auditable.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update oauth_tokens set revoked = true where id = $1
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCode(ctx context.Context, c *oauth.AuthorizationCode) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_codes (id, code, client_id, user_id, redirect_uri, scope, nonce,
			code_challenge, code_challenge_method, auth_time, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.Code, c.ClientID, c.UserID, c.RedirectURI, nullIfEmpty(c.Scope), nullIfEmpty(c.Nonce),
		nullIfEmpty(c.CodeChallenge), nullIfEmpty(c.CodeChallengeMethod), c.AuthTime, c.ExpiresAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return oauth.ErrConflict
	}
	return err
}

// ConsumeCode deletes and returns the row in one statement, so concurrent
// exchanges of the same code cannot both win.
func (s *Store) ConsumeCode(ctx context.Context, code string) (*oauth.AuthorizationCode, error) {
	var (
		c         oauth.AuthorizationCode
		scope     sql.NullString
		nonce     sql.NullString
		challenge sql.NullString
		method    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		delete from oauth_codes
		where code = $1
		returning id, code, client_id, user_id, redirect_uri, scope, nonce,
			code_challenge, code_challenge_method, auth_time, expires_at
	`, code).Scan(&c.ID, &c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &scope, &nonce,
		&challenge, &method, &c.AuthTime, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Scope = scope.String
	c.Nonce = nonce.String
	c.CodeChallenge = challenge.String
	c.CodeChallengeMethod = method.String
	return &c, nil
}
