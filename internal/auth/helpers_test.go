package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"crmdesk.io/internal/audit"
)

const testSecret = "test-secret-0123456789abcdef0123"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recordingAuditor) Entries() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *recordingAuditor) Last(t *testing.T) audit.Entry {
	t.Helper()
	entries := r.Entries()
	if len(entries) == 0 {
		t.Fatal("expected at least one audit entry")
	}
	return entries[len(entries)-1]
}

type fixture struct {
	svc     *Service
	store   *InMemory
	codec   *TokenCodec
	clock   *fakeClock
	auditor *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := NewTokenCodec(testSecret, "crmdesk-test", "crmdesk-web")
	if err != nil {
		t.Fatalf("NewTokenCodec: %v", err)
	}
	f := &fixture{
		store:   NewInMemory(),
		codec:   codec,
		clock:   newFakeClock(),
		auditor: &recordingAuditor{},
	}
	f.svc, err = NewService(f.store, codec,
		WithClock(f.clock.Now),
		WithHasher(NewHasher(bcrypt.MinCost)),
		WithAuditor(f.auditor),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return f
}

func (f *fixture) seedUser(t *testing.T, email, password string, role Role, active bool) *User {
	t.Helper()
	hash, err := f.svc.Hasher().Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &User{Email: email, PasswordHash: hash, Role: role, Active: active}
	if err := f.store.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
