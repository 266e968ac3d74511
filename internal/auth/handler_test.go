package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"compliance-monitor/internal/observability"
)

// newTestRouter mirrors the auth routes the app wires up, without the
// database-backed parts.
func newTestRouter(t *testing.T) (*Service, http.Handler) {
	t.Helper()

	service := newTestService(t)
	logger := observability.NewLogger()
	handler := NewHandler(service, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login", handler.Login)
	mux.HandleFunc("POST /refresh", handler.Refresh)
	mux.HandleFunc("POST /logout", handler.Logout)
	mux.Handle("GET /auth/check", Middleware(service, logger, http.HandlerFunc(handler.Check)))
	mux.HandleFunc("GET /auth/security-info", handler.SecurityInfo)

	return service, mux
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func loginBody(username, password string) map[string]string {
	return map[string]string{"username": username, "password": password}
}

func decodePair(t *testing.T, rec *httptest.ResponseRecorder) TokenPair {
	t.Helper()
	var pair TokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	return pair
}

func TestLoginThenCheck(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "correct-horse-battery"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	pair := decodePair(t, rec)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "bearer", pair.TokenType)

	rec = doJSON(t, router, http.MethodGet, "/auth/check", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var check struct {
		Authenticated bool     `json:"authenticated"`
		Username      string   `json:"username"`
		Roles         []string `json:"roles"`
		Permissions   []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	require.True(t, check.Authenticated)
	require.Equal(t, "admin", check.Username)
	require.Equal(t, []string{"admin"}, check.Roles)
}

func TestLoginWrongPassword(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "wrong"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/login", loginBody("nobody", "whatever"), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "unknown user looks identical to wrong password")
}

func TestLoginValidation(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/login", loginBody("", ""), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/login", map[string]string{"username": "admin", "password": "x", "extra": "field"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	_, router := newTestRouter(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "wrong"), nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	// Sixth attempt is rejected even with the correct password.
	rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "correct-horse-battery"), nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRefreshRotationOverHTTP(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "correct-horse-battery"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodePair(t, rec)

	rec = doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refresh_token": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := decodePair(t, rec)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// Replay of the old refresh token is a generic 401.
	rec = doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refresh_token": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid or expired token")
	require.NotContains(t, rec.Body.String(), "revoked", "the sub-reason never reaches the caller")

	// The rotated pair still works.
	rec = doJSON(t, router, http.MethodGet, "/auth/check", nil, map[string]string{
		"Authorization": "Bearer " + rotated.AccessToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshValidation(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refresh_token": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/refresh", map[string]string{"refresh_token": "garbage"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutThenCheckFails(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "correct-horse-battery"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodePair(t, rec)

	authHeader := map[string]string{"Authorization": "Bearer " + pair.AccessToken}

	rec = doJSON(t, router, http.MethodPost, "/logout", nil, authHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "message")

	rec = doJSON(t, router, http.MethodGet, "/auth/check", nil, authHeader)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRequiresBearerToken(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/logout", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/logout", nil, map[string]string{"Authorization": "Basic abc"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCheckRejectsRefreshToken(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/login", loginBody("admin", "correct-horse-battery"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pair := decodePair(t, rec)

	// A refresh token presented where an access token is required.
	rec = doJSON(t, router, http.MethodGet, "/auth/check", nil, map[string]string{
		"Authorization": "Bearer " + pair.RefreshToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSecurityInfoIsPublic(t *testing.T) {
	_, router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/auth/security-info", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info SecurityInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, 15, info.TokenExpiryMinutes)
	require.Equal(t, "HS256", info.Algorithm)
}

func TestExpiredAccessTokenOverHTTP(t *testing.T) {
	service, router := newTestRouter(t)

	// Issue a pair that is already expired.
	issuer := NewTokenIssuer(testSecret(), -time.Minute, time.Hour)
	pair, err := issuer.IssuePair(service.creds.Principal(), time.Now().UTC())
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/auth/check", nil, map[string]string{
		"Authorization": "Bearer " + pair.AccessToken,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid or expired token")
}
