package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/ids"
)

var _ auth.Store = (*Store)(nil)

const userColumns = `id, email, name, password_hash, role, is_active, last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var (
		u         auth.User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Active, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	u.Role = auth.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where email = $1
	`, strings.ToLower(strings.TrimSpace(email)))
	return scanUser(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users
		where id = $1
	`, id)
	return scanUser(row)
}

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, email, name, password_hash, role, is_active)
		values ($1, $2, $3, $4, $5, $6)
		returning created_at, updated_at
	`, u.ID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Active).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update users
		set last_login_at = $2, updated_at = $2
		where id = $1
	`, userID, at.UTC())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
