package auth

import (
	"errors"
	"time"
)

// ErrInvalidCredentials covers both unknown username and wrong password so
// the caller cannot tell which one it was.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrLoginLocked is returned while a principal's lockout window is active.
type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// Token failure reasons. They are logged server-side; callers only ever see
// a generic 401.
const (
	ReasonMalformed    = "malformed"
	ReasonBadSignature = "bad signature"
	ReasonExpired      = "expired"
	ReasonWrongType    = "wrong type"
	ReasonRevoked      = "revoked"
)

// TokenError is any token validation failure, carrying the internal reason.
type TokenError struct {
	Reason string
}

func (e *TokenError) Error() string {
	return "invalid token: " + e.Reason
}
