package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crmdesk.io/internal/auth"
)

func (s *Store) SaveRefreshToken(ctx context.Context, tok auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (user_id, token, expires_at, created_at)
		values ($1, $2, $3, $4)
		on conflict (user_id, token) do update set expires_at = excluded.expires_at
	`, tok.UserID, tok.Token, tok.ExpiresAt.UTC(), tok.CreatedAt.UTC())
	return err
}

func (s *Store) FindRefreshToken(ctx context.Context, userID, token string) (*auth.RefreshToken, error) {
	var rt auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select user_id, token, expires_at, created_at
		from refresh_tokens
		where user_id = $1 and token = $2
	`, userID, token).Scan(&rt.UserID, &rt.Token, &rt.ExpiresAt, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from refresh_tokens where user_id = $1 and token = $2
	`, userID, token)
	return err
}

// RotateRefreshToken deletes the presented token and inserts its successor
// in one transaction. A zero-row delete means another request won the race.
func (s *Store) RotateRefreshToken(ctx context.Context, userID, oldToken string, next auth.RefreshToken) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		delete from refresh_tokens where user_id = $1 and token = $2
	`, userID, oldToken)
	if err != nil {
		return err
	}
	if err = requireAffected(res); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		insert into refresh_tokens (user_id, token, expires_at, created_at)
		values ($1, $2, $3, $4)
	`, next.UserID, next.Token, next.ExpiresAt.UTC(), next.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert rotated token: %w", err)
	}
	return tx.Commit()
}

// DeleteExpiredRefreshTokens purges tokens past their expiry.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) FailedAttempts(ctx context.Context, userID string) (auth.FailedAttempts, error) {
	fa := auth.FailedAttempts{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		select count, last_attempt from failed_login_attempts where user_id = $1
	`, userID).Scan(&fa.Count, &fa.LastAttempt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.FailedAttempts{UserID: userID}, nil
	}
	if err != nil {
		return auth.FailedAttempts{}, err
	}
	return fa, nil
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, userID string, at time.Time) (auth.FailedAttempts, error) {
	fa := auth.FailedAttempts{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		insert into failed_login_attempts (user_id, count, last_attempt)
		values ($1, 1, $2)
		on conflict (user_id) do update
			set count = failed_login_attempts.count + 1,
			    last_attempt = excluded.last_attempt
		returning count, last_attempt
	`, userID, at.UTC()).Scan(&fa.Count, &fa.LastAttempt)
	if err != nil {
		return auth.FailedAttempts{}, err
	}
	return fa, nil
}

func (s *Store) ClearFailedAttempts(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from failed_login_attempts where user_id = $1`, userID)
	return err
}
