package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"crmdesk.io/internal/audit"
)

var meta = ClientMeta{IP: "203.0.113.7", UserAgent: "service-test"}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleTeamLeader, true)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, Credentials{Email: "A@B.com ", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.ExpiresIn != 900 {
		t.Fatalf("expected expiresIn 900, got %d", res.ExpiresIn)
	}
	if res.User.ID != u.ID || res.User.LastLoginAt == nil {
		t.Fatalf("unexpected user %+v", res.User)
	}
	claims, err := f.codec.VerifyAt(res.AccessToken, TokenAccess, f.clock.Now())
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.Role != RoleTeamLeader {
		t.Fatalf("expected role %s, got %s", RoleTeamLeader, claims.Role)
	}
	rec, err := f.store.FindRefreshToken(ctx, u.ID, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh token not stored: %v", err)
	}
	if want := f.clock.Now().Add(7 * 24 * time.Hour); !rec.ExpiresAt.Equal(want) {
		t.Fatalf("refresh expiry %v, want %v", rec.ExpiresAt, want)
	}

	entries := f.auditor.Entries()
	if len(entries) != 1 || entries[0].Action != audit.ActionLoginSuccess || entries[0].UserID != u.ID {
		t.Fatalf("unexpected audit trail %+v", entries)
	}
	if entries[0].Metadata.IP != meta.IP {
		t.Fatalf("audit metadata missing ip: %+v", entries[0].Metadata)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, Credentials{Email: "nobody@b.com", Password: "correct"}, meta)
	_, errWrong := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "wrong"}, meta)

	a, okA := AsError(errUnknown)
	b, okB := AsError(errWrong)
	if !okA || !okB {
		t.Fatalf("expected typed errors, got %v / %v", errUnknown, errWrong)
	}
	if a.Code != CodeInvalidCredentials || b.Code != CodeInvalidCredentials {
		t.Fatalf("expected INVALID_CREDENTIALS, got %s / %s", a.Code, b.Code)
	}
	if a.Message != b.Message || a.Status != b.Status {
		t.Fatalf("failure responses differ: %+v vs %+v", a, b)
	}

	entries := f.auditor.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected one audit entry per call, got %d", len(entries))
	}
	if entries[0].UserID != audit.SystemUser || entries[0].Metadata.Reason != audit.ReasonUserNotFound {
		t.Fatalf("unexpected unknown-user entry %+v", entries[0])
	}
	if entries[1].Metadata.Reason != audit.ReasonInvalidPassword || entries[1].Metadata.RiskScore != 20 {
		t.Fatalf("unexpected wrong-password entry %+v", entries[1])
	}
}

func TestLoginLockout(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "wrong"}, meta)
		if !HasCode(err, CodeInvalidCredentials) {
			t.Fatalf("attempt %d: expected INVALID_CREDENTIALS, got %v", i+1, err)
		}
		f.clock.Advance(time.Second)
	}
	lastFailure := f.clock.Now().Add(-time.Second)

	_, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta)
	ae, ok := AsError(err)
	if !ok || ae.Code != CodeRateLimitExceeded {
		t.Fatalf("expected RATE_LIMIT_EXCEEDED, got %v", err)
	}
	if ae.Details["retryAfterMinutes"] != 30 {
		t.Fatalf("expected 30 minutes remaining, got %v", ae.Details["retryAfterMinutes"])
	}
	if f.auditor.Last(t).Metadata.Reason != audit.ReasonAccountLocked {
		t.Fatalf("expected lockout to be audited")
	}

	// Attempts during the window do not extend it.
	f.clock.Advance(29 * time.Minute)
	_, err = f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "wrong"}, meta)
	if !HasCode(err, CodeRateLimitExceeded) {
		t.Fatalf("expected still locked, got %v", err)
	}
	fa, _ := f.store.FailedAttempts(ctx, u.ID)
	if fa.Count != 5 || !fa.LastAttempt.Equal(lastFailure) {
		t.Fatalf("lockout state changed during window: %+v", fa)
	}

	f.clock.Set(lastFailure.Add(30 * time.Minute))
	if _, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta); err != nil {
		t.Fatalf("expected login after window, got %v", err)
	}
	fa, _ = f.store.FailedAttempts(ctx, u.ID)
	if fa.Count != 0 {
		t.Fatalf("expected counter reset, got %d", fa.Count)
	}
}

func TestLoginForgetsFailuresOutsideWindow(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "wrong"}, meta)
		if !HasCode(err, CodeInvalidCredentials) {
			t.Fatalf("attempt %d: expected INVALID_CREDENTIALS, got %v", i+1, err)
		}
		if i < 4 {
			f.clock.Advance(24 * time.Hour)
		}
	}
	fa, _ := f.store.FailedAttempts(ctx, u.ID)
	if fa.Count != 1 {
		t.Fatalf("failures a day apart should not accumulate, got %d", fa.Count)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta); err != nil {
		t.Fatalf("expected login to succeed, got %v", err)
	}
}

func TestLoginSuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "wrong"}, meta)
	}
	if _, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta); err != nil {
		t.Fatalf("Login: %v", err)
	}
	fa, _ := f.store.FailedAttempts(ctx, u.ID)
	if fa.Count != 0 {
		t.Fatalf("expected counter reset, got %d", fa.Count)
	}
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "off@b.com", "correct", RoleUser, false)
	ctx := context.Background()

	_, err := f.svc.Login(ctx, Credentials{Email: "off@b.com", Password: "correct"}, meta)
	if !HasCode(err, CodeAccountDisabled) {
		t.Fatalf("expected ACCOUNT_DISABLED, got %v", err)
	}
	_, err = f.svc.Login(ctx, Credentials{Email: "off@b.com", Password: "wrong"}, meta)
	if !HasCode(err, CodeInvalidCredentials) {
		t.Fatalf("wrong password must not disclose disabled state, got %v", err)
	}
}

func TestRefreshRotatesAndIsSingleUse(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pair, err := f.svc.Refresh(ctx, res.RefreshToken, meta)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken == res.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if pair.ExpiresIn != 900 {
		t.Fatalf("unexpected expiresIn %d", pair.ExpiresIn)
	}
	if n := f.store.RefreshTokenCount(u.ID); n != 1 {
		t.Fatalf("expected exactly one live refresh token, got %d", n)
	}

	if _, err := f.svc.Refresh(ctx, res.RefreshToken, meta); !HasCode(err, CodeTokenExpired) {
		t.Fatalf("expected TOKEN_EXPIRED on reuse, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, pair.RefreshToken, meta); err != nil {
		t.Fatalf("rotated token should work once: %v", err)
	}
	if f.auditor.Last(t).Action != audit.ActionTokenRefreshed {
		t.Fatal("expected refresh to be audited")
	}
}

func TestRefreshRejections(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := f.svc.Refresh(ctx, res.AccessToken, meta); !HasCode(err, CodeTokenExpired) {
		t.Fatalf("access token must not refresh, got %v", err)
	}
	if _, err := f.svc.Refresh(ctx, "garbage", meta); !HasCode(err, CodeTokenExpired) {
		t.Fatalf("garbage must not refresh, got %v", err)
	}

	// Stored record expired before the signature did.
	rec, _ := f.store.FindRefreshToken(ctx, u.ID, res.RefreshToken)
	rec.ExpiresAt = f.clock.Now().Add(-time.Minute)
	_ = f.store.SaveRefreshToken(ctx, *rec)
	if _, err := f.svc.Refresh(ctx, res.RefreshToken, meta); !HasCode(err, CodeTokenExpired) {
		t.Fatalf("expected TOKEN_EXPIRED for expired record, got %v", err)
	}
	if _, err := f.store.FindRefreshToken(ctx, u.ID, res.RefreshToken); err == nil {
		t.Fatal("expired record should be removed")
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_ = f.store.SetActive(u.ID, false)
	if _, err := f.svc.Refresh(ctx, res.RefreshToken, meta); !HasCode(err, CodeUserNotFound) {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	f.svc.Logout(ctx, u.ID, res.RefreshToken, meta)
	f.svc.Logout(ctx, u.ID, res.RefreshToken, meta)

	if _, err := f.svc.Refresh(ctx, res.RefreshToken, meta); !HasCode(err, CodeTokenExpired) {
		t.Fatalf("expected logged-out token to fail, got %v", err)
	}
	logouts := 0
	for _, e := range f.auditor.Entries() {
		if e.Action == audit.ActionLogout {
			logouts++
		}
	}
	if logouts != 2 {
		t.Fatalf("expected 2 logout entries, got %d", logouts)
	}
}

func TestVerifyToken(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleManager, true)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, Credentials{Email: "a@b.com", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	claims, err := f.svc.VerifyToken(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.UserID != u.ID || claims.Role != RoleManager {
		t.Fatalf("unexpected claims %+v", claims)
	}

	_ = f.store.SetActive(u.ID, false)
	if _, err := f.svc.VerifyToken(ctx, res.AccessToken); !HasCode(err, CodeUserNotFound) {
		t.Fatalf("deactivated user must be rejected, got %v", err)
	}

	_ = f.store.SetActive(u.ID, true)
	f.clock.Advance(16 * time.Minute)
	if _, err := f.svc.VerifyToken(ctx, res.AccessToken); !HasCode(err, CodeTokenExpired) {
		t.Fatalf("expected TOKEN_EXPIRED, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pub, err := f.svc.Register(ctx, RegisterInput{Email: "New@B.com", Password: "long-enough", Role: RoleUser}, "admin-1", meta)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if pub.Email != "new@b.com" || pub.Role != RoleUser || !pub.IsActive {
		t.Fatalf("unexpected user %+v", pub)
	}
	stored, _ := f.store.FindByID(ctx, pub.ID)
	if stored.PasswordHash == "" || strings.Contains(stored.PasswordHash, "long-enough") {
		t.Fatal("password must be stored hashed")
	}
	last := f.auditor.Last(t)
	if last.Action != audit.ActionUserRegistered || last.UserID != "admin-1" {
		t.Fatalf("unexpected audit entry %+v", last)
	}

	_, err = f.svc.Register(ctx, RegisterInput{Email: "new@b.com", Password: "long-enough", Role: RoleUser}, "admin-1", meta)
	if !HasCode(err, CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	_, err = f.svc.Register(ctx, RegisterInput{Email: "x@b.com", Password: "long-enough", Role: "OWNER"}, "admin-1", meta)
	if !HasCode(err, CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	_, err = f.svc.Register(ctx, RegisterInput{Email: "x@b.com", Password: "short", Role: RoleUser}, "admin-1", meta)
	if !HasCode(err, CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "a@b.com", "correct", RoleUser, true)
	ctx := context.Background()

	pub, err := f.svc.Me(ctx, u.ID)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if pub.Email != "a@b.com" {
		t.Fatalf("unexpected user %+v", pub)
	}
	if _, err := f.svc.Me(ctx, "missing"); !HasCode(err, CodeUserNotFound) {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestNewServiceRejectsInvertedTTLs(t *testing.T) {
	codec, _ := NewTokenCodec(testSecret, "crmdesk", "crmdesk-web")
	_, err := NewService(NewInMemory(), codec, WithAccessTTL(time.Hour), WithRefreshTTL(time.Minute))
	if err == nil {
		t.Fatal("expected error when refresh ttl <= access ttl")
	}
	if _, err := NewService(NewInMemory(), nil); err != ErrMissingSecret {
		t.Fatalf("expected ErrMissingSecret without codec, got %v", err)
	}
}

func TestPeekUserID(t *testing.T) {
	f := newFixture(t)
	u := f.seedUser(t, "peek@b.com", "correct", RoleUser, true)
	res, err := f.svc.Login(context.Background(), Credentials{Email: "peek@b.com", Password: "correct"}, meta)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if id, ok := f.svc.PeekUserID(res.AccessToken); !ok || id != u.ID {
		t.Fatalf("expected %s, got %q (%v)", u.ID, id, ok)
	}
	if _, ok := f.svc.PeekUserID(res.RefreshToken); ok {
		t.Fatal("refresh token must not identify a request")
	}
	if _, ok := f.svc.PeekUserID("junk"); ok {
		t.Fatal("junk must not identify a request")
	}
}
