package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore holds the one provisioned principal and its bcrypt hash.
// There is no default credential: provisioning happens explicitly at startup
// from configuration.
type CredentialStore struct {
	username     string
	passwordHash []byte
	roles        []string
	permissions  []string
}

func NewCredentialStore(username, plainPassword string, roles, permissions []string) (*CredentialStore, error) {
	username = strings.TrimSpace(strings.ToLower(username))
	plainPassword = strings.TrimSpace(plainPassword)
	if username == "" || plainPassword == "" {
		return nil, errors.New("credential store requires a username and password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	return &CredentialStore{
		username:     username,
		passwordHash: hash,
		roles:        roles,
		permissions:  permissions,
	}, nil
}

// Verify reports whether the supplied credentials match the provisioned
// principal. Unknown usernames still pay for a hash comparison so the two
// failure modes cost the same.
func (s *CredentialStore) Verify(username, password string) bool {
	username = strings.TrimSpace(strings.ToLower(username))
	if username != s.username {
		_ = bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password))
		return false
	}

	return bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) == nil
}

// Principal returns the provisioned identity with its role and permission
// snapshot.
func (s *CredentialStore) Principal() Principal {
	return Principal{
		Username:    s.username,
		Roles:       append([]string(nil), s.roles...),
		Permissions: append([]string(nil), s.permissions...),
	}
}
