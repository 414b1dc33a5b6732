package domain

import "time"

// AuditLog represents an authentication audit event.
type AuditLog struct {
	ID        string
	AccountID string
	Action    string
	IP        string
	Metadata  string
	CreatedAt time.Time
}
