package models

import "time"

// ProbeResult describes the outcome of pinging one backend's health endpoint.
// Probes are observability-only; they never feed routing decisions.
type ProbeResult struct {
	Service    string        `json:"service"`
	TargetURL  string        `json:"target_url"`
	Reachable  bool          `json:"reachable"`
	StatusCode int           `json:"status_code"`
	Duration   time.Duration `json:"duration"`
	ObservedAt time.Time     `json:"observed_at"`
	Error      string        `json:"error,omitempty"`
}
