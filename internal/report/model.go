package report

import "time"

// Report is one compliance snapshot submitted by an agent for a device.
type Report struct {
	ID                   string    `json:"id"`
	DeviceID             string    `json:"device_id"`
	Hostname             string    `json:"hostname"`
	ReportedAt           time.Time `json:"reported_at"`
	DiskEncryptionStatus string    `json:"disk_encryption_status"`
	OSUpdatesStatus      string    `json:"os_updates_status"`
	RunningProcesses     string    `json:"running_processes"`
	ComplianceScore      float64   `json:"compliance_score"`
	IsCompliant          bool      `json:"is_compliant"`
	Details              string    `json:"details"`
}

// Device aggregates what the store knows about one reporting endpoint.
type Device struct {
	DeviceID     string    `json:"device_id"`
	Hostname     string    `json:"hostname"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	TotalReports int       `json:"total_reports"`
}

// Summary is the fleet-wide compliance rollup.
type Summary struct {
	TotalDevices        int                  `json:"total_devices"`
	CompliantDevices    int                  `json:"compliant_devices"`
	ComplianceRate      float64              `json:"compliance_rate"`
	NonCompliantDevices []NonCompliantDevice `json:"non_compliant_devices"`
}

// NonCompliantDevice is one row of the summary's recent-failure list.
type NonCompliantDevice struct {
	DeviceID        string    `json:"device_id"`
	Hostname        string    `json:"hostname"`
	ReportedAt      time.Time `json:"reported_at"`
	ComplianceScore float64   `json:"compliance_score"`
	Details         string    `json:"details"`
}
