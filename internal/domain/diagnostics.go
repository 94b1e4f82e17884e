package domain

import "time"

// DiagnosticStatus indicates whether a single dependency check passed.
type DiagnosticStatus string

const (
	DiagnosticStatusPass DiagnosticStatus = "pass"
	DiagnosticStatusFail DiagnosticStatus = "fail"
)

// DiagnosticItem is one dependency check result with optional hint.
type DiagnosticItem struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Status  DiagnosticStatus `json:"status"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
}

// DiagnosticReport aggregates dependency checks for UI and API responses.
type DiagnosticReport struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	HasFailures bool             `json:"hasFailures"`
	Items       []DiagnosticItem `json:"items"`
}

// Passed reports whether the item with the given ID exists and passed.
func (r DiagnosticReport) Passed(id string) bool {
	for _, item := range r.Items {
		if item.ID == id {
			return item.Status == DiagnosticStatusPass
		}
	}
	return false
}
