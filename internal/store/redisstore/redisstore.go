// Package redisstore keeps refresh tokens, failed-login counters and rate
// limit windows in Redis so several API instances share them.
package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"crmdesk.io/internal/auth"
)

// ErrUnavailable wraps transport failures.
var ErrUnavailable = errors.New("redis unavailable")

const rotateScript = `
if redis.call("DEL", KEYS[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[1], "PX", ARGV[2])
return 1
`

var rotateLua = redis.NewScript(rotateScript)

const hitScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`

var hitLua = redis.NewScript(hitScript)

// Store implements auth.SessionStore.
type Store struct {
	redis      redis.UniversalClient
	prefix     string
	attemptTTL time.Duration
	now        func() time.Time
}

var _ auth.SessionStore = (*Store)(nil)

// New wraps a client. Keys are namespaced under prefix; failed-attempt
// counters expire attemptTTL after the last failure.
func New(client redis.UniversalClient, prefix string, attemptTTL time.Duration) *Store {
	if prefix == "" {
		prefix = "crmdesk"
	}
	return &Store{redis: client, prefix: prefix, attemptTTL: attemptTTL, now: time.Now}
}

// Dial connects and pings.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return client, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

// Token keys share a hash slot per user so rotation stays single-slot on a cluster.
func (s *Store) tokenKey(userID, token string) string {
	sum := sha256.Sum256([]byte(token))
	return s.prefix + ":rt:{" + userID + "}:" + hex.EncodeToString(sum[:])
}

func (s *Store) attemptKey(userID string) string {
	return s.prefix + ":fa:" + userID
}

func (s *Store) windowKey(key string) string {
	return s.prefix + ":rl:" + key
}

type tokenRecord struct {
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Store) encodeToken(tok auth.RefreshToken) ([]byte, time.Duration, error) {
	data, err := json.Marshal(tokenRecord{ExpiresAt: tok.ExpiresAt.UTC(), CreatedAt: tok.CreatedAt.UTC()})
	if err != nil {
		return nil, 0, err
	}
	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return data, ttl, nil
}

func (s *Store) SaveRefreshToken(ctx context.Context, tok auth.RefreshToken) error {
	data, ttl, err := s.encodeToken(tok)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.tokenKey(tok.UserID, tok.Token), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) FindRefreshToken(ctx context.Context, userID, token string) (*auth.RefreshToken, error) {
	data, err := s.redis.Get(ctx, s.tokenKey(userID, token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh token: %w", err)
	}
	return &auth.RefreshToken{Token: token, UserID: userID, ExpiresAt: rec.ExpiresAt, CreatedAt: rec.CreatedAt}, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	if err := s.redis.Del(ctx, s.tokenKey(userID, token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RotateRefreshToken deletes the old key and writes the new one in a single
// script; a zero DEL count means the old token was already consumed.
func (s *Store) RotateRefreshToken(ctx context.Context, userID, oldToken string, next auth.RefreshToken) error {
	data, ttl, err := s.encodeToken(next)
	if err != nil {
		return err
	}
	keys := []string{s.tokenKey(userID, oldToken), s.tokenKey(next.UserID, next.Token)}
	rotated, err := rotateLua.Run(ctx, s.redis, keys, data, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rotated == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) FailedAttempts(ctx context.Context, userID string) (auth.FailedAttempts, error) {
	fields, err := s.redis.HGetAll(ctx, s.attemptKey(userID)).Result()
	if err != nil {
		return auth.FailedAttempts{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	fa := auth.FailedAttempts{UserID: userID}
	if len(fields) == 0 {
		return fa, nil
	}
	if fa.Count, err = strconv.Atoi(fields["count"]); err != nil {
		return auth.FailedAttempts{}, fmt.Errorf("decode attempt count: %w", err)
	}
	last, err := strconv.ParseInt(fields["last"], 10, 64)
	if err != nil {
		return auth.FailedAttempts{}, fmt.Errorf("decode last attempt: %w", err)
	}
	fa.LastAttempt = time.Unix(0, last).UTC()
	return fa, nil
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, userID string, at time.Time) (auth.FailedAttempts, error) {
	key := s.attemptKey(userID)
	var incr *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, key, "count", 1)
		pipe.HSet(ctx, key, "last", at.UnixNano())
		if s.attemptTTL > 0 {
			pipe.Expire(ctx, key, s.attemptTTL)
		}
		return nil
	})
	if err != nil {
		return auth.FailedAttempts{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return auth.FailedAttempts{UserID: userID, Count: int(incr.Val()), LastAttempt: time.Unix(0, at.UnixNano()).UTC()}, nil
}

func (s *Store) ClearFailedAttempts(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.attemptKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Hit counts one request against key's fixed window, starting the window on
// the first hit. It returns the count so far and the time left in the window.
func (s *Store) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := hitLua.Run(ctx, s.redis, []string{s.windowKey(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected window reply %v", res)
	}
	left := time.Duration(res[1]) * time.Millisecond
	if left < 0 {
		left = window
	}
	return res[0], left, nil
}
