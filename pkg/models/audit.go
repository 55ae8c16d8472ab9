package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction identifies what happened to a connection.
type AuditAction string

const (
	AuditCreated AuditAction = "created"
	AuditUpdated AuditAction = "updated"
	AuditDeleted AuditAction = "deleted"
	AuditTested  AuditAction = "tested"
)

// AuditEvent is one row of the connection audit trail.
type AuditEvent struct {
	ID           uuid.UUID      `json:"id"`
	ConnectionID uuid.UUID      `json:"connection_id"`
	Action       AuditAction    `json:"action"`
	UserID       string         `json:"user_id"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
