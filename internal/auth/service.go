package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"crmdesk.io/internal/audit"
	"crmdesk.io/internal/ids"
	"crmdesk.io/internal/obs"
)

const (
	defaultAccessTTL        = 15 * time.Minute
	defaultRefreshTTL       = 7 * 24 * time.Hour
	defaultLockoutThreshold = 5
	defaultLockoutWindow    = 30 * time.Minute
	riskPerFailedAttempt    = 20
)

// Service is the authentication core: login, refresh rotation, logout,
// access-token verification and administrator registration.
type Service struct {
	store   Store
	codec   *TokenCodec
	hasher  Hasher
	auditor audit.Recorder
	now     func() time.Time
	// decoy is verified against when the email is unknown so both failure
	// paths pay for one bcrypt comparison.
	decoy string

	accessTTL        time.Duration
	refreshTTL       time.Duration
	lockoutThreshold int
	lockoutWindow    time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLockout sets how many failures lock an account and for how long.
func WithLockout(threshold int, window time.Duration) ServiceOption {
	return func(s *Service) error {
		if threshold < 1 || window <= 0 {
			return errors.New("auth: lockout threshold and window must be positive")
		}
		s.lockoutThreshold = threshold
		s.lockoutWindow = window
		return nil
	}
}

func WithHasher(h Hasher) ServiceOption {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

func WithAuditor(r audit.Recorder) ServiceOption {
	return func(s *Service) error {
		if r != nil {
			s.auditor = r
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *TokenCodec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, ErrMissingSecret
	}
	svc := &Service{
		store:            store,
		codec:            codec,
		hasher:           NewHasher(DefaultCost),
		auditor:          audit.Discard{},
		now:              time.Now,
		accessTTL:        defaultAccessTTL,
		refreshTTL:       defaultRefreshTTL,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutWindow:    defaultLockoutWindow,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.refreshTTL <= svc.accessTTL {
		return nil, fmt.Errorf("auth: refresh ttl %s must exceed access ttl %s", svc.refreshTTL, svc.accessTTL)
	}
	decoy, err := svc.hasher.Hash(ids.New())
	if err != nil {
		return nil, fmt.Errorf("auth: prepare decoy hash: %w", err)
	}
	svc.decoy = decoy
	return svc, nil
}

// Hasher exposes the configured password hasher for seeding accounts.
func (s *Service) Hasher() Hasher { return s.hasher }

// AccessTTL is the access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL is the refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Login resolves the user, checks lockout, then verifies the password.
// Unknown email and wrong password produce the same InvalidCredentials error.
func (s *Service) Login(ctx context.Context, creds Credentials, meta ClientMeta) (*LoginResult, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Password == "" {
		s.recordFailure(ctx, audit.SystemUser, email, audit.ReasonUserNotFound, 0, meta)
		return nil, s.fail("login", InvalidCredentials())
	}

	user, err := s.store.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		s.hasher.Verify(s.decoy, creds.Password)
		s.recordFailure(ctx, audit.SystemUser, email, audit.ReasonUserNotFound, 0, meta)
		return nil, s.fail("login", InvalidCredentials())
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	now := s.now()
	attempts, err := s.store.FailedAttempts(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load failed attempts: %w", err)
	}
	// Failures only count while they are within one window of each other;
	// an older streak is forgotten whatever its length.
	if attempts.Count > 0 && !now.Before(attempts.LastAttempt.Add(s.lockoutWindow)) {
		if err := s.store.ClearFailedAttempts(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("reset failed attempts: %w", err)
		}
		attempts = FailedAttempts{UserID: user.ID}
	}
	if attempts.Count >= s.lockoutThreshold {
		unlockAt := attempts.LastAttempt.Add(s.lockoutWindow)
		minutes := int(math.Ceil(unlockAt.Sub(now).Minutes()))
		s.recordFailure(ctx, user.ID, email, audit.ReasonAccountLocked, riskScore(attempts.Count), meta)
		return nil, s.fail("login", AccountLocked(minutes))
	}

	if !s.hasher.Verify(user.PasswordHash, creds.Password) {
		updated, err := s.store.IncrementFailedAttempts(ctx, user.ID, now)
		if err != nil {
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}
		s.recordFailure(ctx, user.ID, email, audit.ReasonInvalidPassword, riskScore(updated.Count), meta)
		return nil, s.fail("login", InvalidCredentials())
	}

	if !user.Active {
		s.recordFailure(ctx, user.ID, email, audit.ReasonAccountDisabled, 0, meta)
		return nil, s.fail("login", AccountDisabled())
	}

	if attempts.Count > 0 {
		if err := s.store.ClearFailedAttempts(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("clear failed attempts: %w", err)
		}
	}
	if err := s.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}
	at := now.UTC()
	user.LastLoginAt = &at

	pair, refresh, err := s.mint(user, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, fmt.Errorf("save refresh token: %w", err)
	}

	s.record(ctx, audit.Entry{
		UserID:      user.ID,
		Action:      audit.ActionLoginSuccess,
		Description: "User logged in",
		Metadata:    metadata(meta, "", 0),
	})
	obs.AuthEvent("login", "SUCCESS")

	return &LoginResult{
		User:         user.Public(),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed: a second use fails with TokenExpired.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*TokenPair, error) {
	now := s.now()
	claims, err := s.codec.VerifyAt(refreshToken, TokenRefresh, now)
	if err != nil {
		return nil, s.fail("refresh", TokenExpired())
	}

	rec, err := s.store.FindRefreshToken(ctx, claims.UserID, refreshToken)
	if errors.Is(err, ErrNotFound) {
		return nil, s.fail("refresh", TokenExpired())
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if !now.Before(rec.ExpiresAt) {
		if err := s.store.DeleteRefreshToken(ctx, claims.UserID, refreshToken); err != nil {
			obs.Ctx(ctx).Warn().Err(err).Str("user_id", claims.UserID).Msg("delete expired refresh token")
		}
		return nil, s.fail("refresh", TokenExpired())
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) || (err == nil && !user.Active) {
		return nil, s.fail("refresh", UserNotFound())
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	pair, next, err := s.mint(user, now)
	if err != nil {
		return nil, err
	}
	err = s.store.RotateRefreshToken(ctx, user.ID, refreshToken, next)
	if errors.Is(err, ErrNotFound) {
		return nil, s.fail("refresh", TokenExpired())
	}
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.record(ctx, audit.Entry{
		UserID:      user.ID,
		Action:      audit.ActionTokenRefreshed,
		Description: "Refresh token rotated",
		Metadata:    metadata(meta, "", 0),
	})
	obs.AuthEvent("refresh", "SUCCESS")
	return &pair, nil
}

// Logout deletes refreshToken when given. It never fails: the caller is
// logged out regardless of what the store reports.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string, meta ClientMeta) {
	if refreshToken != "" && userID != "" {
		if err := s.store.DeleteRefreshToken(ctx, userID, refreshToken); err != nil {
			obs.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("logout: delete refresh token")
		}
	}
	if userID == "" {
		userID = audit.SystemUser
	}
	s.record(ctx, audit.Entry{
		UserID:      userID,
		Action:      audit.ActionLogout,
		Description: "User logged out",
		Metadata:    metadata(meta, "", 0),
	})
	obs.AuthEvent("logout", "SUCCESS")
}

// VerifyToken validates an access token and confirms its user is still active.
func (s *Service) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.codec.VerifyAt(token, TokenAccess, s.now())
	if err != nil {
		return nil, s.fail("verify", TokenExpired())
	}
	user, err := s.store.FindByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) || (err == nil && !user.Active) {
		return nil, s.fail("verify", UserNotFound())
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return claims, nil
}

// PeekUserID reports the user an access token was issued to, checking only
// the signature and expiry. It suits request keying, not authorization.
func (s *Service) PeekUserID(token string) (string, bool) {
	claims, err := s.codec.VerifyAt(token, TokenAccess, s.now())
	if err != nil {
		return "", false
	}
	return claims.UserID, true
}

// Register creates an account on behalf of actorID.
func (s *Service) Register(ctx context.Context, in RegisterInput, actorID string, meta ClientMeta) (*PublicUser, error) {
	email := normalizeEmail(in.Email)
	role, ok := ParseRole(string(in.Role))
	switch {
	case email == "" || !strings.Contains(email, "@"):
		return nil, Validation("Invalid registration", map[string]any{"email": "must be a valid email address"})
	case len(in.Password) < 8:
		return nil, Validation("Invalid registration", map[string]any{"password": "must be at least 8 characters"})
	case !ok:
		return nil, Validation("Invalid registration", map[string]any{"role": "unknown role"})
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, s.fail("register", Conflict("Email is already registered"))
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if actorID == "" {
		actorID = audit.SystemUser
	}
	s.record(ctx, audit.Entry{
		UserID:      actorID,
		Action:      audit.ActionUserRegistered,
		Description: "Registered user " + user.ID,
		Changes:     &audit.Changes{After: map[string]any{"id": user.ID, "email": user.Email, "role": string(user.Role)}},
		Metadata:    metadata(meta, "", 0),
	})
	obs.AuthEvent("register", "SUCCESS")

	pub := user.Public()
	return &pub, nil
}

// Me returns the caller's account without the password hash.
func (s *Service) Me(ctx context.Context, userID string) (*PublicUser, error) {
	user, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, ErrNotFound) || (err == nil && !user.Active) {
		return nil, UserNotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	pub := user.Public()
	return &pub, nil
}

func (s *Service) mint(user *User, now time.Time) (TokenPair, RefreshToken, error) {
	sub := Subject{UserID: user.ID, Email: user.Email, Role: user.Role}
	access, _, err := s.codec.Sign(sub, TokenAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, RefreshToken{}, err
	}
	refresh, refreshExp, err := s.codec.Sign(sub, TokenRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, RefreshToken{}, err
	}
	pair := TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}
	rec := RefreshToken{
		Token:     refresh,
		UserID:    user.ID,
		ExpiresAt: refreshExp,
		CreatedAt: now.UTC(),
	}
	return pair, rec, nil
}

func (s *Service) fail(op string, e *Error) *Error {
	obs.AuthEvent(op, string(e.Code))
	return e
}

func (s *Service) recordFailure(ctx context.Context, userID, email, reason string, risk int, meta ClientMeta) {
	desc := "Login failed: " + reason
	if email != "" {
		desc += " (" + email + ")"
	}
	s.record(ctx, audit.Entry{
		UserID:      userID,
		Action:      audit.ActionLoginFailed,
		Description: desc,
		Metadata:    metadata(meta, reason, risk),
	})
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	now := s.now()
	e.ID = ids.NewAt(now)
	e.CreatedAt = now.UTC()
	s.auditor.Record(ctx, e)
}

func metadata(meta ClientMeta, reason string, risk int) audit.Metadata {
	return audit.Metadata{
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		SessionID: meta.SessionID,
		RiskScore: risk,
		Reason:    reason,
	}
}

func riskScore(failures int) int {
	score := failures * riskPerFailedAttempt
	if score > 100 {
		return 100
	}
	return score
}
