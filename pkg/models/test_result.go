package models

import (
	"time"

	"github.com/google/uuid"
)

// TestErrorCode is the closed classification of probe failures.
type TestErrorCode string

const (
	TestErrNone             TestErrorCode = ""
	TestErrConnectionRefused TestErrorCode = "connection_refused"
	TestErrHostNotFound     TestErrorCode = "host_not_found"
	TestErrTimeout          TestErrorCode = "timeout"
	TestErrAuthFailed       TestErrorCode = "auth_failed"
	TestErrDatabaseMissing  TestErrorCode = "database_missing"
	TestErrPermissionDenied TestErrorCode = "permission_denied"
	TestErrTLS              TestErrorCode = "tls_error"
	TestErrUnknown          TestErrorCode = "unknown"
)

// ServerInfo carries the small fixed set of attributes a probe reads back.
type ServerInfo struct {
	Schemas   []string `json:"schemas,omitempty"`
	SizeBytes *int64   `json:"size_bytes,omitempty"`
}

// TestResult is the structured outcome of a connection probe.
type TestResult struct {
	ID             uuid.UUID     `json:"id"`
	ConnectionID   *uuid.UUID    `json:"connection_id,omitempty"`
	Success        bool          `json:"success"`
	Elapsed        time.Duration `json:"elapsed"`
	DialectVersion *string       `json:"dialect_version,omitempty"`
	ServerInfo     *ServerInfo   `json:"server_info,omitempty"`
	ErrorCode      TestErrorCode `json:"error_code,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	TestedAt       time.Time     `json:"tested_at"`
}

// HealthCheck is one persisted probe outcome for the monitoring surface.
type HealthCheck struct {
	ID           uuid.UUID     `json:"id"`
	ConnectionID uuid.UUID     `json:"connection_id"`
	Healthy      bool          `json:"healthy"`
	Elapsed      time.Duration `json:"elapsed"`
	ErrorCode    TestErrorCode `json:"error_code,omitempty"`
	CheckedAt    time.Time     `json:"checked_at"`
}
