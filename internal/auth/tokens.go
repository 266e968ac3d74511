package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	// SigningAlgorithm is reported by the security-info endpoint.
	SigningAlgorithm = "HS256"
)

// Claims is the signed payload shared by access and refresh tokens. The two
// tokens of a pair carry the same jti and differ only in type and expiry.
type Claims struct {
	TokenType   string   `json:"type"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Principal rebuilds the identity from the embedded claims. Validation
// trusts the snapshot taken at issuance rather than re-querying the
// credential store.
func (c *Claims) Principal() Principal {
	return Principal{
		Username:    c.Subject,
		Roles:       c.Roles,
		Permissions: c.Permissions,
	}
}

// IssuedPair is a freshly minted access/refresh pair.
type IssuedPair struct {
	JTI           string
	AccessToken   string
	RefreshToken  string
	IssuedAt      time.Time
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// TokenIssuer mints signed pairs. Pure apart from randomness; no shared
// state.
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenIssuer(secret []byte, accessTTL, refreshTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssuePair builds and signs both tokens of a pair at the given instant.
func (i *TokenIssuer) IssuePair(p Principal, now time.Time) (IssuedPair, error) {
	jti, err := newJTI()
	if err != nil {
		return IssuedPair{}, fmt.Errorf("generate jti: %w", err)
	}

	accessExpiry := now.Add(i.accessTTL)
	refreshExpiry := now.Add(i.refreshTTL)

	access, err := i.sign(p, jti, TokenTypeAccess, now, accessExpiry)
	if err != nil {
		return IssuedPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := i.sign(p, jti, TokenTypeRefresh, now, refreshExpiry)
	if err != nil {
		return IssuedPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return IssuedPair{
		JTI:           jti,
		AccessToken:   access,
		RefreshToken:  refresh,
		IssuedAt:      now,
		AccessExpiry:  accessExpiry,
		RefreshExpiry: refreshExpiry,
	}, nil
}

func (i *TokenIssuer) sign(p Principal, jti, tokenType string, now, expiry time.Time) (string, error) {
	claims := Claims{
		TokenType:   tokenType,
		Roles:       p.Roles,
		Permissions: p.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// newJTI returns 128 bits of hex-encoded randomness.
func newJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// TokenValidator verifies signature, freshness, shape, type, and revocation
// status, in that order. Every failure is a *TokenError.
type TokenValidator struct {
	secret  []byte
	revoked *RevocationList
	now     func() time.Time
}

func NewTokenValidator(secret []byte, revoked *RevocationList) *TokenValidator {
	return &TokenValidator{secret: secret, revoked: revoked, now: time.Now}
}

// Validate checks tokenString and returns its claims when the token is live,
// well-formed, of the expected type, and not revoked.
func (v *TokenValidator) Validate(tokenString, expectedType string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, &TokenError{Reason: ReasonBadSignature}
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, &TokenError{Reason: ReasonExpired}
		default:
			return nil, &TokenError{Reason: ReasonMalformed}
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, &TokenError{Reason: ReasonMalformed}
	}
	if claims.Subject == "" || claims.ID == "" || claims.TokenType == "" {
		return nil, &TokenError{Reason: ReasonMalformed}
	}
	if claims.TokenType != expectedType {
		return nil, &TokenError{Reason: ReasonWrongType}
	}
	if v.revoked.IsRevoked(tokenString) {
		return nil, &TokenError{Reason: ReasonRevoked}
	}

	return claims, nil
}
