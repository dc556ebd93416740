package httpapi

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"crmdesk.io/internal/auth"
	"crmdesk.io/internal/obs"
)

// WindowCounter is a fixed-window hit counter shared between instances,
// e.g. redisstore.Store.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

type windowState struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter admits at most max requests per key per window.
// Windows start on a key's first request and reset lazily on the first
// request after they expire; expired entries are swept at most once per
// window. With a shared counter the in-process table is bypassed.
type FixedWindowLimiter struct {
	max    int
	window time.Duration
	shared WindowCounter
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*windowState
	lastSweep time.Time
}

func NewFixedWindowLimiter(max int, window time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		max:     max,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*windowState),
	}
}

// WithShared counts hits in c instead of process memory.
func (l *FixedWindowLimiter) WithShared(c WindowCounter) *FixedWindowLimiter {
	l.shared = c
	return l
}

// Allow counts one request for key at now. When the request is refused it
// also returns the whole seconds until the window resets.
func (l *FixedWindowLimiter) Allow(key string, now time.Time) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= l.window {
		for k, w := range l.windows {
			if !now.Before(w.resetAt) {
				delete(l.windows, k)
			}
		}
		l.lastSweep = now
	}
	st, ok := l.windows[key]
	if !ok || !now.Before(st.resetAt) {
		st = &windowState{resetAt: now.Add(l.window)}
		l.windows[key] = st
	}
	st.count++
	if st.count > l.max {
		return false, retrySeconds(st.resetAt.Sub(now))
	}
	return true, 0
}

func (l *FixedWindowLimiter) allow(ctx context.Context, key string) (bool, int) {
	if l.shared == nil {
		return l.Allow(key, l.now())
	}
	count, resetIn, err := l.shared.Hit(ctx, key, l.window)
	if err != nil {
		// Shared counter outage: fall back to this process's table.
		obs.Ctx(ctx).Warn().Err(err).Msg("shared rate limit counter unavailable")
		return l.Allow(key, l.now())
	}
	if count > int64(l.max) {
		return false, retrySeconds(resetIn)
	}
	return true, 0
}

// Middleware keys requests by identify(r) when it returns a user id, else by
// client IP.
func (l *FixedWindowLimiter) Middleware(identify func(*http.Request) (string, bool)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if identify != nil {
				if id, ok := identify(r); ok {
					key = "user:" + id
				}
			}
			ok, retryAfter := l.allow(r.Context(), key)
			if !ok {
				obs.RateLimited("fixed_window")
				writeError(w, r, auth.RateLimited(retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
