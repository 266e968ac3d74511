package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// AttemptLimiter tracks consecutive failed logins per principal and enforces
// a temporary lockout. It is a pure gate: it never talks to the credential
// store and never errors.
type AttemptLimiter struct {
	mu          sync.Mutex
	maxFailures int
	window      time.Duration
	byPrincipal map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastAttempt time.Time
}

func NewAttemptLimiter(maxFailures int, window time.Duration) *AttemptLimiter {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}

	return &AttemptLimiter{
		maxFailures: maxFailures,
		window:      window,
		byPrincipal: make(map[string]*attemptRecord),
	}
}

// Check reports whether the principal may attempt a login, and if not, how
// long until the lockout window lapses. A record older than the window is
// treated as absent.
func (l *AttemptLimiter) Check(username string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.byPrincipal[username]
	if !ok || now.Sub(rec.lastAttempt) >= l.window {
		return true, 0
	}
	if rec.failures < l.maxFailures {
		return true, 0
	}

	retryAfter := rec.lastAttempt.Add(l.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter
}

// Record updates the counter after an attempt. Success clears the record.
// Failure increments within the live window (capped at the threshold) or
// starts a fresh window. Callers invoke Record even for attempts rejected by
// Check, so flooding a locked account extends the lockout rather than
// resetting it.
func (l *AttemptLimiter) Record(username string, success bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		delete(l.byPrincipal, username)
		return
	}

	rec, ok := l.byPrincipal[username]
	if !ok || now.Sub(rec.lastAttempt) >= l.window {
		l.byPrincipal[username] = &attemptRecord{failures: 1, lastAttempt: now}
		return
	}

	if rec.failures < l.maxFailures {
		rec.failures++
	}
	rec.lastAttempt = now
}

// Sweep drops records whose window lapsed. Returns the number removed.
func (l *AttemptLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for username, rec := range l.byPrincipal {
		if now.Sub(rec.lastAttempt) >= l.window {
			delete(l.byPrincipal, username)
			removed++
		}
	}

	return removed
}

// LoginRateLimiter is an outer, IP-scoped throttle in front of the login
// endpoint. It is independent of the per-principal lockout: it bounds raw
// request volume from one address.
type LoginRateLimiter struct {
	mu      sync.Mutex
	maxHits int
	window  time.Duration
	byIP    map[string]*ipWindow
	maxKeys int
}

type ipWindow struct {
	hits      int
	startedAt time.Time
}

func NewLoginRateLimiter(maxHits int, window time.Duration) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginRateLimiter{
		maxHits: maxHits,
		window:  window,
		byIP:    make(map[string]*ipWindow),
		maxKeys: 5000,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(clientIP(r), time.Now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many login attempts")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *LoginRateLimiter) allow(ip string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.byIP[ip]
	if !ok || now.Sub(win.startedAt) >= l.window {
		l.byIP[ip] = &ipWindow{hits: 1, startedAt: now}
		l.evictStaleLocked(now)
		return true, 0
	}

	win.hits++
	if win.hits <= l.maxHits {
		return true, 0
	}

	retryAfter := win.startedAt.Add(l.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}

	return false, retryAfter
}

func (l *LoginRateLimiter) evictStaleLocked(now time.Time) {
	if len(l.byIP) <= l.maxKeys {
		return
	}
	for ip, win := range l.byIP {
		if now.Sub(win.startedAt) >= l.window {
			delete(l.byIP, ip)
		}
	}
}

func clientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}

	return "unknown"
}
