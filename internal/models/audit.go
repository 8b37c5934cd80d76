package models

import (
	"encoding/json"
	"time"
)

// AuditLog records one administrative mutation (canary config replacement,
// breaker reset).
type AuditLog struct {
	ID        string          `db:"id" json:"id"`
	UserID    *string         `db:"user_id" json:"user_id,omitempty"`
	Action    string          `db:"action" json:"action"`
	Resource  string          `db:"resource" json:"resource"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	IPAddress string          `db:"ip_address" json:"ip_address"`
	UserAgent string          `db:"user_agent" json:"user_agent"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}
