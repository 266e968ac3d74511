package auth

import (
	"strings"
	"time"
)

const (
	defaultAccessTTL   = 15 * time.Minute
	defaultRefreshTTL  = 7 * 24 * time.Hour
	defaultMaxAttempts = 5
	defaultLockWindow  = 300 * time.Second
)

// Config carries the token and lockout policy. Zero fields fall back to the
// defaults above.
type Config struct {
	Secret           []byte
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// Service orchestrates the login, refresh, and logout flows across the
// credential store, limiter, issuer, validator, session registry, and
// revocation list. All state lives in owned objects built here; nothing is
// package-global.
type Service struct {
	creds     *CredentialStore
	limiter   *AttemptLimiter
	issuer    *TokenIssuer
	validator *TokenValidator
	sessions  *SessionRegistry
	revoked   *RevocationList

	accessTTL   time.Duration
	refreshTTL  time.Duration
	maxAttempts int
	lockWindow  time.Duration

	now func() time.Time
}

func NewService(creds *CredentialStore, cfg Config) *Service {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = defaultMaxAttempts
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockWindow
	}

	revoked := NewRevocationList()

	return &Service{
		creds:       creds,
		limiter:     NewAttemptLimiter(cfg.MaxLoginAttempts, cfg.LockoutDuration),
		issuer:      NewTokenIssuer(cfg.Secret, cfg.AccessTTL, cfg.RefreshTTL),
		validator:   NewTokenValidator(cfg.Secret, revoked),
		sessions:    NewSessionRegistry(),
		revoked:     revoked,
		accessTTL:   cfg.AccessTTL,
		refreshTTL:  cfg.RefreshTTL,
		maxAttempts: cfg.MaxLoginAttempts,
		lockWindow:  cfg.LockoutDuration,
		now:         time.Now,
	}
}

// Login runs the gate order the login path requires: limiter first, then
// credentials, then issuance and session registration. The limiter is
// updated on every attempt, including ones it rejected itself.
func (s *Service) Login(username, password string) (TokenPair, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if allowed, _ := s.limiter.Check(username, now); !allowed {
		// Fail closed: the rejected attempt still counts, so flooding a
		// locked account keeps the window open.
		s.limiter.Record(username, false, now)
		return TokenPair{}, ErrLoginLocked{Until: now.Add(s.lockWindow)}
	}

	ok := s.creds.Verify(username, password)
	s.limiter.Record(username, ok, now)
	if !ok {
		return TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issuer.IssuePair(s.creds.Principal(), now)
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := s.sessions.Create(Session{
		Username:      username,
		JTI:           pair.JTI,
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		CreatedAt:     now,
		AccessExpiry:  pair.AccessExpiry,
		RefreshExpiry: pair.RefreshExpiry,
	}); err != nil {
		return TokenPair{}, err
	}

	return s.wirePair(pair), nil
}

// Refresh rotates a refresh token: validate, retire the old token, mint a
// new pair, and update the session in place. The old token is revoked before
// the new pair exists, so a replay can never observe it as valid again.
func (s *Service) Refresh(refreshToken string) (TokenPair, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	claims, err := s.validator.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	now := s.now().UTC()
	if !s.revoked.RevokeOnce(refreshToken, claims.ExpiresAt.Time) {
		// Lost a race with a concurrent rotation of the same token.
		return TokenPair{}, &TokenError{Reason: ReasonRevoked}
	}

	pair, err := s.issuer.IssuePair(claims.Principal(), now)
	if err != nil {
		return TokenPair{}, err
	}

	s.sessions.RotateByJTI(claims.Subject, claims.ID, pair)

	return s.wirePair(pair), nil
}

// Logout revokes the presented access token and sweeps every registered
// session of the principal, revoking their token pairs as well.
func (s *Service) Logout(accessToken string) error {
	accessToken = strings.TrimSpace(accessToken)
	claims, err := s.validator.Validate(accessToken, TokenTypeAccess)
	if err != nil {
		return err
	}

	s.revoked.Revoke(accessToken, claims.ExpiresAt.Time)
	for _, sess := range s.sessions.InvalidateAllFor(claims.Subject) {
		s.revoked.Revoke(sess.AccessToken, sess.AccessExpiry)
		s.revoked.Revoke(sess.RefreshToken, sess.RefreshExpiry)
	}

	return nil
}

// Validate exposes access-token validation for the HTTP middleware.
func (s *Service) Validate(tokenString, expectedType string) (*Claims, error) {
	return s.validator.Validate(tokenString, expectedType)
}

// SecurityInfo describes the active policy. Public by design; none of it is
// secret.
func (s *Service) SecurityInfo() SecurityInfo {
	return SecurityInfo{
		TokenExpiryMinutes:     int(s.accessTTL.Minutes()),
		RefreshTokenExpiryDays: int(s.refreshTTL.Hours() / 24),
		MaxLoginAttempts:       s.maxAttempts,
		LockoutDurationSeconds: int(s.lockWindow.Seconds()),
		Algorithm:              SigningAlgorithm,
	}
}

// Sessions exposes the registry for operational enumeration.
func (s *Service) Sessions() []Session {
	return s.sessions.List()
}

// SweepExpired evicts expired sessions, dead revocation entries, and stale
// attempt records. Called from the maintenance endpoint.
func (s *Service) SweepExpired(now time.Time) (sessions, revocations, attempts int) {
	now = now.UTC()
	return s.sessions.Sweep(now), s.revoked.Sweep(now), s.limiter.Sweep(now)
}

func (s *Service) wirePair(pair IssuedPair) TokenPair {
	return TokenPair{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "bearer",
		ExpiresIn:        int64(s.accessTTL.Seconds()),
		RefreshExpiresIn: int64(s.refreshTTL.Seconds()),
	}
}
