package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RevocationList is the set of tokens invalidated before their natural
// expiry. Each entry keeps the token's expiry so the sweep can evict entries
// that would fail validation on freshness alone; without the sweep the set
// grows for the life of the process.
type RevocationList struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewRevocationList() *RevocationList {
	return &RevocationList{entries: make(map[string]time.Time)}
}

// Revoke marks the token revoked. Idempotent.
func (r *RevocationList) Revoke(token string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[token] = expiresAt
}

// RevokeOnce marks the token revoked and reports whether this call was the
// first to do so. Refresh rotation uses it to admit exactly one winner when
// the same token is replayed concurrently.
func (r *RevocationList) RevokeOnce(token string, expiresAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[token]; ok {
		return false
	}
	r.entries[token] = expiresAt
	return true
}

func (r *RevocationList) IsRevoked(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[token]
	return ok
}

// Sweep evicts entries whose token has expired naturally. Returns the number
// removed.
func (r *RevocationList) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for token, expiresAt := range r.entries {
		if !now.Before(expiresAt) {
			delete(r.entries, token)
			removed++
		}
	}

	return removed
}

func (r *RevocationList) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SessionRegistry maps session IDs to the token pair and principal that
// created them, so logout can sweep every session of a principal at once.
// It never touches the revocation list itself; the login/logout flows own
// that coupling.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]Session)}
}

// Create registers a session and returns its generated ID.
func (s *SessionRegistry) Create(sess Session) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	sess.ID = id.String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess

	return sess.ID, nil
}

func (s *SessionRegistry) Lookup(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// List returns a snapshot of all live sessions, for operational visibility.
func (s *SessionRegistry) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// InvalidateAllFor removes every session belonging to the principal and
// returns the removed sessions so the caller can revoke their tokens.
func (s *SessionRegistry) InvalidateAllFor(username string) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Session
	for id, sess := range s.sessions {
		if sess.Username == username {
			removed = append(removed, sess)
			delete(s.sessions, id)
		}
	}

	return removed
}

// RotateByJTI replaces the token pair of the principal's session that was
// created with oldJTI. Reports whether a session was found; refresh of a
// token whose session was already swept still succeeds upstream, it just has
// no registry entry left to update.
func (s *SessionRegistry) RotateByJTI(username, oldJTI string, pair IssuedPair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.Username != username || sess.JTI != oldJTI {
			continue
		}
		sess.JTI = pair.JTI
		sess.AccessToken = pair.AccessToken
		sess.RefreshToken = pair.RefreshToken
		sess.AccessExpiry = pair.AccessExpiry
		sess.RefreshExpiry = pair.RefreshExpiry
		s.sessions[id] = sess
		return true
	}

	return false
}

// Sweep removes sessions whose refresh token has expired; nothing minted
// from them can still validate. Returns the number removed.
func (s *SessionRegistry) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.RefreshExpiry) {
			delete(s.sessions, id)
			removed++
		}
	}

	return removed
}

func (s *SessionRegistry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
