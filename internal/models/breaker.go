package models

import "time"

// BreakerState enumerates the circuit breaker states.
type BreakerState string

const (
	// BreakerClosed admits all traffic; failures are counted.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects all traffic until the reset timeout elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen admits trial traffic to probe backend recovery.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot is a point-in-time view of one breaker for the admin API.
type BreakerSnapshot struct {
	Service          string       `json:"service"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	SuccessCount     int          `json:"success_count"`
	LastFailureAt    *time.Time   `json:"last_failure_at,omitempty"`
	FailureThreshold int          `json:"failure_threshold"`
	SuccessThreshold int          `json:"success_threshold"`
	ResetTimeout     string       `json:"reset_timeout"`
}
