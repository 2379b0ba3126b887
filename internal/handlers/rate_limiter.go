package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/storefront/internal/platform/auth"
	"github.com/hanko-field/storefront/internal/platform/httpx"
)

// windowLimiter caps requests per caller in fixed windows. State is per process.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	callers map[string]windowCount
}

type windowCount struct {
	count int
	reset time.Time
}

func newWindowLimiter(limit int, window time.Duration, clock func() time.Time) *windowLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		callers: make(map[string]windowCount),
	}
}

func (l *windowLimiter) allow(key string) bool {
	if l == nil {
		return true
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.callers[key]
	if !ok || !now.Before(current.reset) {
		l.evictLocked(now)
		l.callers[key] = windowCount{count: 1, reset: now.Add(l.window)}
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.callers[key] = current
	return true
}

func (l *windowLimiter) evictLocked(now time.Time) {
	for key, entry := range l.callers {
		if !now.Before(entry.reset) {
			delete(l.callers, key)
		}
	}
}

// middleware rejects callers over the limit with 429. Signed-in callers are keyed by uid, others by address.
func (l *windowLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(callerKey(r)) {
			w.Header().Set("Retry-After", retryAfterSeconds(l.window))
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many checkout attempts", http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity != nil && strings.TrimSpace(identity.UID) != "" {
		return "uid:" + strings.TrimSpace(identity.UID)
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		host = "anonymous"
	}
	return "ip:" + host
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
