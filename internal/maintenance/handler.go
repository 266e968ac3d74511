package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"compliance-monitor/internal/auth"
	"compliance-monitor/internal/observability"
	"compliance-monitor/internal/report"
)

// CleanupHandler sweeps the in-memory auth stores (expired sessions, dead
// revocation entries, lapsed login-attempt records) and trims aged
// compliance reports. It is meant to be hit by an external scheduler and is
// hidden unless a cron secret is configured.
type CleanupHandler struct {
	authService     *auth.Service
	reports         *report.Repository
	logger          *observability.Logger
	cronSecret      string
	reportRetention time.Duration
	batchSize       int
}

func NewCleanupHandler(
	authService *auth.Service,
	reports *report.Repository,
	logger *observability.Logger,
	cronSecret string,
	reportRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		authService:     authService,
		reports:         reports,
		logger:          logger,
		cronSecret:      strings.TrimSpace(cronSecret),
		reportRetention: reportRetention,
		batchSize:       batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now().UTC()
	sessions, revocations, attempts := h.authService.SweepExpired(now)

	retention := h.reportRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	deletedReports, err := h.reports.DeleteOldReports(r.Context(), now.Add(-retention), h.batchSize)
	if err != nil {
		h.logger.Error("maintenance_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("maintenance_cleanup_completed", map[string]any{
		"swept_sessions":       sessions,
		"swept_revocations":    revocations,
		"swept_login_attempts": attempts,
		"deleted_old_reports":  deletedReports,
		"live_sessions":        len(h.authService.Sessions()),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": map[string]any{
			"swept_sessions":       sessions,
			"swept_revocations":    revocations,
			"swept_login_attempts": attempts,
			"deleted_old_reports":  deletedReports,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
