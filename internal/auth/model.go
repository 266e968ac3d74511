package auth

import "time"

// Principal is the identity embedded in issued tokens. The service is
// provisioned with a single principal at startup; it never changes while the
// process runs.
type Principal struct {
	Username    string
	Roles       []string
	Permissions []string
}

// Session ties a session ID to the token pair that created it. Many sessions
// may exist per principal at once (one per login).
type Session struct {
	ID            string
	Username      string
	JTI           string
	AccessToken   string
	RefreshToken  string
	CreatedAt     time.Time
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// TokenPair is the wire shape returned by login and refresh.
type TokenPair struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
}

// SecurityInfo is the public description of the token and lockout policy.
type SecurityInfo struct {
	TokenExpiryMinutes     int    `json:"token_expiry_minutes"`
	RefreshTokenExpiryDays int    `json:"refresh_token_expiry_days"`
	MaxLoginAttempts       int    `json:"max_login_attempts"`
	LockoutDurationSeconds int    `json:"lockout_duration_seconds"`
	Algorithm              string `json:"algorithm"`
}
