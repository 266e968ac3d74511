package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	creds, err := NewCredentialStore("admin", "correct-horse-battery",
		[]string{"admin"}, []string{"reports:read", "reports:submit"})
	require.NoError(t, err)

	return NewService(creds, Config{
		Secret:           testSecret(),
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		MaxLoginAttempts: 5,
		LockoutDuration:  300 * time.Second,
	})
}

func TestServiceLoginSuccess(t *testing.T) {
	service := newTestService(t)

	pair, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)
	require.Equal(t, "bearer", pair.TokenType)
	require.Equal(t, int64(900), pair.ExpiresIn)
	require.Equal(t, int64(7*24*3600), pair.RefreshExpiresIn)

	claims, err := service.Validate(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Subject)
	require.Equal(t, []string{"admin"}, claims.Roles)

	require.Len(t, service.Sessions(), 1)
}

func TestServiceLoginBadCredentials(t *testing.T) {
	service := newTestService(t)

	_, err := service.Login("admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = service.Login("nobody", "correct-horse-battery")
	require.ErrorIs(t, err, ErrInvalidCredentials, "unknown user and wrong password are indistinguishable")

	_, err = service.Login("", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestServiceLockoutAfterMaxAttempts(t *testing.T) {
	service := newTestService(t)

	for i := 0; i < 5; i++ {
		_, err := service.Login("admin", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Even the correct password is rejected while locked out, and the
	// credential store is never consulted.
	_, err := service.Login("admin", "correct-horse-battery")
	var locked ErrLoginLocked
	require.ErrorAs(t, err, &locked)
	require.True(t, locked.Until.After(time.Now().UTC()))
}

func TestServiceSuccessResetsCounter(t *testing.T) {
	service := newTestService(t)

	for i := 0; i < 4; i++ {
		_, err := service.Login("admin", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)

	// Four more failures fit before the threshold again.
	for i := 0; i < 4; i++ {
		_, err := service.Login("admin", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)
}

func TestServiceRefreshRotation(t *testing.T) {
	service := newTestService(t)

	pair, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)

	rotated, err := service.Refresh(pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	require.NotEqual(t, pair.AccessToken, rotated.AccessToken)

	// Replaying the rotated token must fail as revoked, never as valid.
	_, err = service.Refresh(pair.RefreshToken)
	requireTokenError(t, err, ReasonRevoked)

	// The new pair works, and the registry still holds a single session.
	_, err = service.Validate(rotated.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	require.Len(t, service.Sessions(), 1)
}

func TestServiceRefreshRejectsAccessToken(t *testing.T) {
	service := newTestService(t)

	pair, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)

	_, err = service.Refresh(pair.AccessToken)
	requireTokenError(t, err, ReasonWrongType)
}

func TestServiceRefreshConcurrentSingleWinner(t *testing.T) {
	service := newTestService(t)

	pair, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Refresh(pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, revoked := 0, 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		var tokenErr *TokenError
		require.ErrorAs(t, err, &tokenErr)
		require.Equal(t, ReasonRevoked, tokenErr.Reason)
		revoked++
	}

	require.Equal(t, 1, success, "exactly one rotation may win")
	require.Equal(t, n-1, revoked)
}

func TestServiceLogoutRevokesEverything(t *testing.T) {
	service := newTestService(t)

	first, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)
	second, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)

	require.NoError(t, service.Logout(first.AccessToken))

	// The presented token and both sessions' pairs are all dead, well
	// before natural expiry.
	_, err = service.Validate(first.AccessToken, TokenTypeAccess)
	requireTokenError(t, err, ReasonRevoked)
	_, err = service.Refresh(first.RefreshToken)
	requireTokenError(t, err, ReasonRevoked)
	_, err = service.Validate(second.AccessToken, TokenTypeAccess)
	requireTokenError(t, err, ReasonRevoked)
	_, err = service.Refresh(second.RefreshToken)
	requireTokenError(t, err, ReasonRevoked)

	require.Empty(t, service.Sessions())

	// Logging out again with the revoked token fails.
	err = service.Logout(first.AccessToken)
	requireTokenError(t, err, ReasonRevoked)
}

func TestServiceSecurityInfo(t *testing.T) {
	service := newTestService(t)

	info := service.SecurityInfo()
	require.Equal(t, 15, info.TokenExpiryMinutes)
	require.Equal(t, 7, info.RefreshTokenExpiryDays)
	require.Equal(t, 5, info.MaxLoginAttempts)
	require.Equal(t, 300, info.LockoutDurationSeconds)
	require.Equal(t, "HS256", info.Algorithm)
}

func TestServiceSweepExpired(t *testing.T) {
	service := newTestService(t)

	pair, err := service.Login("admin", "correct-horse-battery")
	require.NoError(t, err)
	require.NoError(t, service.Logout(pair.AccessToken))

	_, err = service.Login("admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// Nothing has expired yet.
	sessions, revocations, attempts := service.SweepExpired(time.Now().UTC())
	require.Zero(t, sessions)
	require.Zero(t, revocations)
	require.Zero(t, attempts)

	// Far enough in the future everything is gone.
	future := time.Now().UTC().Add(8 * 24 * time.Hour)
	_, revocations, attempts = service.SweepExpired(future)
	require.Equal(t, 2, revocations, "logout revoked the pair; both entries expire")
	require.Equal(t, 1, attempts)
	require.Zero(t, service.revoked.Len())
}

func TestServiceLockoutErrorShape(t *testing.T) {
	service := newTestService(t)

	for i := 0; i < 5; i++ {
		_, _ = service.Login("admin", "wrong")
	}

	_, err := service.Login("admin", "wrong")
	var locked ErrLoginLocked
	require.True(t, errors.As(err, &locked))
	require.NotEmpty(t, locked.Error())
}
