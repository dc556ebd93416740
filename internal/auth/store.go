package auth

import (
	"context"
	"time"
)

// UserStore persists accounts. Lookups return ErrNotFound when absent.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// Create returns ErrConflict when the email is taken.
	Create(ctx context.Context, u *User) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RefreshTokenStore persists issued refresh tokens keyed by (user id, token).
type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, tok RefreshToken) error
	FindRefreshToken(ctx context.Context, userID, token string) (*RefreshToken, error)
	// DeleteRefreshToken is idempotent.
	DeleteRefreshToken(ctx context.Context, userID, token string) error
	// RotateRefreshToken atomically removes the old token and stores next.
	// It returns ErrNotFound if the old token was already gone, so only one
	// of several concurrent rotations can succeed.
	RotateRefreshToken(ctx context.Context, userID, oldToken string, next RefreshToken) error
}

// AttemptStore tracks failed logins per user.
type AttemptStore interface {
	// FailedAttempts returns a zero value when nothing is recorded.
	FailedAttempts(ctx context.Context, userID string) (FailedAttempts, error)
	IncrementFailedAttempts(ctx context.Context, userID string, at time.Time) (FailedAttempts, error)
	ClearFailedAttempts(ctx context.Context, userID string) error
}

// SessionStore is the volatile half of Store; Redis implements it.
type SessionStore interface {
	RefreshTokenStore
	AttemptStore
}

// Store is everything the Service needs from persistence.
type Store interface {
	UserStore
	SessionStore
}

// CompositeStore serves users from one backend and sessions from another.
type CompositeStore struct {
	UserStore
	SessionStore
}

var _ Store = CompositeStore{}
