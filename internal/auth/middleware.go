package auth

import (
	"context"
	"net/http"

	"compliance-monitor/internal/observability"
)

type contextKey int

const claimsContextKey contextKey = iota

// ClaimsFromContext returns the validated access-token claims stored by
// Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

// Middleware guards a handler behind a valid, unrevoked access token and
// makes the claims available downstream. Rejections share one generic body;
// the concrete reason is only logged.
func Middleware(service *Service, logger *observability.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := service.Validate(token, TokenTypeAccess)
		if err != nil {
			reason := "unknown"
			if tokenErr, ok := err.(*TokenError); ok {
				reason = tokenErr.Reason
			}
			logger.Info("token_rejected", map[string]any{
				"path":   r.URL.Path,
				"reason": reason,
			})
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
	})
}
