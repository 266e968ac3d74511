package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a report and bumps the device record in one transaction.
func (r *Repository) Insert(ctx context.Context, rep Report) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate report id: %w", err)
	}

	now := time.Now().UTC()
	if rep.ReportedAt.IsZero() {
		rep.ReportedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin report tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO devices (device_id, hostname, first_seen, last_seen, total_reports)
		VALUES ($1, $2, $3, $3, 1)
		ON CONFLICT (device_id)
		DO UPDATE SET
			hostname = EXCLUDED.hostname,
			last_seen = EXCLUDED.last_seen,
			total_reports = devices.total_reports + 1
	`, rep.DeviceID, rep.Hostname, now); err != nil {
		return "", fmt.Errorf("upsert device: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO compliance_reports
			(id, device_id, hostname, reported_at, disk_encryption_status,
			 os_updates_status, running_processes, compliance_score, is_compliant, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, id.String(), rep.DeviceID, rep.Hostname, rep.ReportedAt.UTC(),
		rep.DiskEncryptionStatus, rep.OSUpdatesStatus, rep.RunningProcesses,
		rep.ComplianceScore, rep.IsCompliant, rep.Details); err != nil {
		return "", fmt.Errorf("insert compliance report: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit report tx: %w", err)
	}

	return id.String(), nil
}

// Summary computes the fleet rollup: distinct devices, compliant share, and
// the ten most recent non-compliant reports.
func (r *Repository) Summary(ctx context.Context) (Summary, error) {
	var summary Summary

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT device_id),
			COUNT(DISTINCT device_id) FILTER (WHERE is_compliant)
		FROM compliance_reports
	`).Scan(&summary.TotalDevices, &summary.CompliantDevices)
	if err != nil {
		return Summary{}, fmt.Errorf("query compliance totals: %w", err)
	}

	if summary.TotalDevices > 0 {
		rate := float64(summary.CompliantDevices) / float64(summary.TotalDevices) * 100
		summary.ComplianceRate = math.Round(rate*100) / 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, hostname, reported_at, compliance_score, details
		FROM compliance_reports
		WHERE NOT is_compliant
		ORDER BY reported_at DESC
		LIMIT 10
	`)
	if err != nil {
		return Summary{}, fmt.Errorf("query non-compliant devices: %w", err)
	}
	defer rows.Close()

	summary.NonCompliantDevices = []NonCompliantDevice{}
	for rows.Next() {
		var d NonCompliantDevice
		if err := rows.Scan(&d.DeviceID, &d.Hostname, &d.ReportedAt, &d.ComplianceScore, &d.Details); err != nil {
			return Summary{}, fmt.Errorf("scan non-compliant device: %w", err)
		}
		summary.NonCompliantDevices = append(summary.NonCompliantDevices, d)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate non-compliant devices: %w", err)
	}

	return summary, nil
}

// Recent returns the newest reports, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, hostname, reported_at, disk_encryption_status,
		       os_updates_status, running_processes, compliance_score, is_compliant, details
		FROM compliance_reports
		ORDER BY reported_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent reports: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// DeviceHistory returns every report for one device, newest first.
func (r *Repository) DeviceHistory(ctx context.Context, deviceID string) ([]Report, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, hostname, reported_at, disk_encryption_status,
		       os_updates_status, running_processes, compliance_score, is_compliant, details
		FROM compliance_reports
		WHERE device_id = $1
		ORDER BY reported_at DESC
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("query device history: %w", err)
	}
	defer rows.Close()

	return scanReports(rows)
}

// Devices lists every known device, most recently seen first.
func (r *Repository) Devices(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, hostname, first_seen, last_seen, total_reports
		FROM devices
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.Hostname, &d.FirstSeen, &d.LastSeen, &d.TotalReports); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}

	return devices, nil
}

// ImposeCertificate records a certificate as imposed. Idempotent.
func (r *Repository) ImposeCertificate(ctx context.Context, certID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO imposed_certificates (cert_id, imposed_at)
		VALUES ($1, $2)
		ON CONFLICT (cert_id) DO NOTHING
	`, certID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("impose certificate: %w", err)
	}

	return nil
}

// ImposedCertificates returns the IDs of every imposed certificate.
func (r *Repository) ImposedCertificates(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT cert_id FROM imposed_certificates ORDER BY cert_id`)
	if err != nil {
		return nil, fmt.Errorf("query imposed certificates: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan imposed certificate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate imposed certificates: %w", err)
	}

	return ids, nil
}

// DeleteOldReports removes reports older than cutoff in batches, returning
// the number deleted.
func (r *Repository) DeleteOldReports(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM compliance_reports
			WHERE reported_at < $1
			ORDER BY reported_at ASC
			LIMIT $2
		)
		DELETE FROM compliance_reports t
		USING stale
		WHERE t.id = stale.id
	`, cutoff.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old reports: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("old reports rows affected: %w", err)
	}

	return affected, nil
}

func scanReports(rows *sql.Rows) ([]Report, error) {
	reports := []Report{}
	for rows.Next() {
		var rep Report
		if err := rows.Scan(&rep.ID, &rep.DeviceID, &rep.Hostname, &rep.ReportedAt,
			&rep.DiskEncryptionStatus, &rep.OSUpdatesStatus, &rep.RunningProcesses,
			&rep.ComplianceScore, &rep.IsCompliant, &rep.Details); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}

	return reports, nil
}
