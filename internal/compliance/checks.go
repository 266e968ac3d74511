// Package compliance maps imposed certificate IDs to the requirements they
// impose on a submitted report. Requirements are evaluated against the data
// the agent reported, never against the API host itself.
package compliance

import (
	"sort"
	"strings"
)

// ReportData is the slice of a compliance report the requirement checks
// read.
type ReportData struct {
	DiskEncryptionStatus string
	OSUpdatesStatus      string
	RunningProcesses     string
	ComplianceScore      float64
}

// Requirement is one named check a certificate imposes.
type Requirement struct {
	Name  string
	Check func(ReportData) bool
}

var certificates = map[string][]Requirement{
	"cis": {
		{Name: "os_updates_current", Check: osUpdatesCurrent},
		{Name: "baseline_score", Check: scoreAtLeast(70)},
	},
	"iso27001": {
		{Name: "disk_encryption", Check: diskEncrypted},
		{Name: "os_updates_current", Check: osUpdatesCurrent},
	},
	"soc2": {
		{Name: "baseline_score", Check: scoreAtLeast(70)},
		{Name: "os_updates_current", Check: osUpdatesCurrent},
	},
	"hipaa": {
		{Name: "disk_encryption", Check: diskEncrypted},
		{Name: "baseline_score", Check: scoreAtLeast(70)},
	},
	"pci": {
		{Name: "disk_encryption", Check: diskEncrypted},
		{Name: "antivirus_running", Check: antivirusRunning},
	},
	"nist": {
		{Name: "os_updates_current", Check: osUpdatesCurrent},
		{Name: "baseline_score", Check: scoreAtLeast(70)},
	},
	"gdpr": {
		{Name: "disk_encryption", Check: diskEncrypted},
	},
	"fedramp": {
		{Name: "disk_encryption", Check: diskEncrypted},
		{Name: "os_updates_current", Check: osUpdatesCurrent},
		{Name: "hardened_score", Check: scoreAtLeast(90)},
	},
}

// IsKnown reports whether certID names a supported certificate.
func IsKnown(certID string) bool {
	_, ok := certificates[strings.ToLower(strings.TrimSpace(certID))]
	return ok
}

// Known returns the supported certificate IDs, sorted.
func Known() []string {
	ids := make([]string, 0, len(certificates))
	for id := range certificates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evaluate runs one certificate's requirements against the report data.
// The second return is false for unknown certificates.
func Evaluate(certID string, data ReportData) (map[string]bool, bool) {
	reqs, ok := certificates[strings.ToLower(strings.TrimSpace(certID))]
	if !ok {
		return nil, false
	}

	results := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		results[req.Name] = req.Check(data)
	}
	return results, true
}

// EvaluateAll runs every imposed certificate against the report data,
// skipping IDs it does not know.
func EvaluateAll(certIDs []string, data ReportData) map[string]map[string]bool {
	results := make(map[string]map[string]bool, len(certIDs))
	for _, id := range certIDs {
		if res, ok := Evaluate(id, data); ok {
			results[strings.ToLower(strings.TrimSpace(id))] = res
		}
	}
	return results
}

func diskEncrypted(data ReportData) bool {
	switch strings.ToLower(strings.TrimSpace(data.DiskEncryptionStatus)) {
	case "enabled", "encrypted", "on", "active":
		return true
	}
	return false
}

func osUpdatesCurrent(data ReportData) bool {
	switch strings.ToLower(strings.TrimSpace(data.OSUpdatesStatus)) {
	case "up_to_date", "up-to-date", "current", "updated":
		return true
	}
	return false
}

// antivirusRunning scans the reported process list for known AV daemons.
func antivirusRunning(data ReportData) bool {
	processes := strings.ToLower(data.RunningProcesses)
	for _, av := range []string{"clamd", "avast", "sophos", "mcafee", "symantec", "bitdefender"} {
		if strings.Contains(processes, av) {
			return true
		}
	}
	return false
}

func scoreAtLeast(min float64) func(ReportData) bool {
	return func(data ReportData) bool {
		return data.ComplianceScore >= min
	}
}
