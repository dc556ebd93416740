package auth

import (
	"strings"
	"time"
)

// User is a stored account. PasswordHash never leaves the service; use Public for responses.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         Role
	Active       bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PublicUser is a User with the password hash stripped.
type PublicUser struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Role        Role       `json:"role"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		IsActive:    u.Active,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

// RefreshToken is a persisted refresh credential, addressed by (UserID, Token).
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// FailedAttempts tracks consecutive failed logins for one user.
type FailedAttempts struct {
	UserID      string
	Count       int
	LastAttempt time.Time
}

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

// ClientMeta describes the caller for audit purposes.
type ClientMeta struct {
	IP        string
	UserAgent string
	SessionID string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User         PublicUser `json:"user"`
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	ExpiresIn    int64      `json:"expiresIn"`
}

// TokenPair is returned by a successful refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// RegisterInput is the administrator-supplied account for Register.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=120"`
	Role     Role   `json:"role" validate:"required,oneof=COMPANY_LEADER MANAGER TEAM_LEADER USER"`
}

// Assignees names the users an entity is assigned to.
type Assignees struct {
	PrimaryID   string
	SecondaryID string
}

// Includes reports whether userID is the primary or secondary assignee.
func (a Assignees) Includes(userID string) bool {
	if userID == "" {
		return false
	}
	return a.PrimaryID == userID || a.SecondaryID == userID
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
