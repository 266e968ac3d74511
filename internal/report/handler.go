package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"compliance-monitor/internal/compliance"
	"compliance-monitor/internal/observability"
)

const (
	maxJSONBodyBytes   = 1 << 20
	defaultReportLimit = 50
	maxReportLimit     = 100
)

// Store is what the handler needs from the report repository.
type Store interface {
	Insert(ctx context.Context, rep Report) (string, error)
	Summary(ctx context.Context) (Summary, error)
	Recent(ctx context.Context, limit int) ([]Report, error)
	DeviceHistory(ctx context.Context, deviceID string) ([]Report, error)
	Devices(ctx context.Context) ([]Device, error)
	ImposeCertificate(ctx context.Context, certID string) error
	ImposedCertificates(ctx context.Context) ([]string, error)
}

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

type submitRequest struct {
	DeviceID             string   `json:"device_id"`
	Hostname             string   `json:"hostname"`
	DiskEncryptionStatus string   `json:"disk_encryption_status"`
	OSUpdatesStatus      string   `json:"os_updates_status"`
	RunningProcesses     string   `json:"running_processes"`
	ComplianceScore      *float64 `json:"compliance_score"`
	IsCompliant          bool     `json:"is_compliant"`
	Details              string   `json:"details"`
}

// Submit accepts an agent's compliance report, evaluates every imposed
// certificate against it, and stores the result.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body submitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.DeviceID = strings.TrimSpace(body.DeviceID)
	body.Hostname = strings.TrimSpace(body.Hostname)
	if body.DeviceID == "" || body.Hostname == "" {
		writeError(w, http.StatusBadRequest, "device_id and hostname are required")
		return
	}

	score := 0.0
	if body.ComplianceScore != nil {
		score = *body.ComplianceScore
	}
	if score < 0 || score > 100 {
		writeError(w, http.StatusBadRequest, "compliance_score must be between 0 and 100")
		return
	}

	imposed, err := h.store.ImposedCertificates(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to store compliance report")
		return
	}

	certResults := compliance.EvaluateAll(imposed, compliance.ReportData{
		DiskEncryptionStatus: body.DiskEncryptionStatus,
		OSUpdatesStatus:      body.OSUpdatesStatus,
		RunningProcesses:     body.RunningProcesses,
		ComplianceScore:      score,
	})
	details, err := json.Marshal(certResults)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to store compliance report")
		return
	}

	rep := Report{
		DeviceID:             body.DeviceID,
		Hostname:             body.Hostname,
		ReportedAt:           time.Now().UTC(),
		DiskEncryptionStatus: orUnknown(body.DiskEncryptionStatus),
		OSUpdatesStatus:      orUnknown(body.OSUpdatesStatus),
		RunningProcesses:     body.RunningProcesses,
		ComplianceScore:      score,
		IsCompliant:          body.IsCompliant,
		Details:              string(details),
	}

	if _, err := h.store.Insert(r.Context(), rep); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to store compliance report")
		return
	}

	h.logger.Info("compliance_report_received", map[string]any{
		"device_id": rep.DeviceID,
		"compliant": rep.IsCompliant,
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"message":   fmt.Sprintf("Compliance report submitted for device %s", rep.DeviceID),
		"device_id": rep.DeviceID,
	})
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.store.Summary(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve compliance summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultReportLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxReportLimit {
		limit = maxReportLimit
	}

	reports, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve reports")
		return
	}

	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) DeviceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.PathValue("id"))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device id is required")
		return
	}

	history, err := h.store.DeviceHistory(r.Context(), deviceID)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve device history")
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.Devices(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve devices")
		return
	}

	writeJSON(w, http.StatusOK, devices)
}

func (h *Handler) ListCertificates(w http.ResponseWriter, r *http.Request) {
	imposed, err := h.store.ImposedCertificates(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to retrieve imposed certificates")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"imposed":   imposed,
		"available": compliance.Known(),
	})
}

func (h *Handler) ImposeCertificate(w http.ResponseWriter, r *http.Request) {
	certID := strings.ToLower(strings.TrimSpace(r.PathValue("cert_id")))
	if !compliance.IsKnown(certID) {
		writeError(w, http.StatusBadRequest, "unknown certificate")
		return
	}

	if err := h.store.ImposeCertificate(r.Context(), certID); err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to impose certificate")
		return
	}

	h.logger.Info("certificate_imposed", map[string]any{"cert_id": certID})
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "cert_id": certID})
}

func orUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "Unknown"
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
