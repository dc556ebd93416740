package auth

import (
	"context"
	"sync"
	"time"

	"crmdesk.io/internal/ids"
)

type tokenKey struct {
	userID string
	token  string
}

// InMemory implements Store with in-process concurrency safety.
// It backs tests and single-node development runs.
type InMemory struct {
	mu       sync.RWMutex
	users    map[string]*User
	byEmail  map[string]string
	tokens   map[tokenKey]RefreshToken
	attempts map[string]FailedAttempts
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		users:    make(map[string]*User),
		byEmail:  make(map[string]string),
		tokens:   make(map[tokenKey]RefreshToken),
		attempts: make(map[string]FailedAttempts),
	}
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	u := *s.users[id]
	return &u, nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *InMemory) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(u.Email)
	if _, taken := s.byEmail[email]; taken {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	u.Email = email
	stored := *u
	s.users[u.ID] = &stored
	s.byEmail[email] = u.ID
	return nil
}

func (s *InMemory) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	u.UpdatedAt = at
	return nil
}

// SetActive toggles the active flag.
func (s *InMemory) SetActive(userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Active = active
	return nil
}

func (s *InMemory) SaveRefreshToken(ctx context.Context, tok RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey{tok.UserID, tok.Token}] = tok
	return nil
}

func (s *InMemory) FindRefreshToken(ctx context.Context, userID, token string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenKey{userID, token}]
	if !ok {
		return nil, ErrNotFound
	}
	return &tok, nil
}

func (s *InMemory) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenKey{userID, token})
	return nil
}

func (s *InMemory) RotateRefreshToken(ctx context.Context, userID, oldToken string, next RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey{userID, oldToken}
	if _, ok := s.tokens[key]; !ok {
		return ErrNotFound
	}
	delete(s.tokens, key)
	s.tokens[tokenKey{next.UserID, next.Token}] = next
	return nil
}

// RefreshTokenCount reports how many refresh tokens userID holds.
func (s *InMemory) RefreshTokenCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.tokens {
		if k.userID == userID {
			n++
		}
	}
	return n
}

func (s *InMemory) FailedAttempts(ctx context.Context, userID string) (FailedAttempts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fa, ok := s.attempts[userID]
	if !ok {
		return FailedAttempts{UserID: userID}, nil
	}
	return fa, nil
}

func (s *InMemory) IncrementFailedAttempts(ctx context.Context, userID string, at time.Time) (FailedAttempts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fa := s.attempts[userID]
	fa.UserID = userID
	fa.Count++
	fa.LastAttempt = at.UTC()
	s.attempts[userID] = fa
	return fa, nil
}

func (s *InMemory) ClearFailedAttempts(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, userID)
	return nil
}
