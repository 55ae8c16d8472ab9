package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect identifies the kind of database a connection targets.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
	DialectMSSQL    Dialect = "mssql"
	DialectMongo    Dialect = "mongo"
)

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	switch d {
	case DialectPostgres, DialectMySQL, DialectSQLite, DialectMSSQL, DialectMongo:
		return true
	}
	return false
}

// ConnectionStatus is the lifecycle state of a connection config.
type ConnectionStatus string

const (
	StatusActive   ConnectionStatus = "active"
	StatusInactive ConnectionStatus = "inactive"
	StatusTesting  ConnectionStatus = "testing"
	StatusError    ConnectionStatus = "error"
)

// Pool hint bounds. Timeouts outside [1s, 5m] are rejected at validation.
const (
	PoolMaxUpperBound  = 100
	PoolTimeoutMin     = 1 * time.Second
	PoolTimeoutMax     = 5 * time.Minute
	DefaultPoolMin     = 1
	DefaultPoolMax     = 10
	DefaultIdleTimeout = 5 * time.Minute
	DefaultAcquireTime = 10 * time.Second
)

// PoolHints carries user-tunable sizing for the outbound pool backing a
// connection.
type PoolHints struct {
	Min            int           `json:"min"`
	Max            int           `json:"max"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	AcquireTimeout time.Duration `json:"acquire_timeout"`
}

// ApplyDefaults fills zero-valued hints with the platform defaults.
func (p *PoolHints) ApplyDefaults() {
	if p.Max == 0 {
		p.Min = DefaultPoolMin
		p.Max = DefaultPoolMax
	}
	if p.IdleTimeout == 0 {
		p.IdleTimeout = DefaultIdleTimeout
	}
	if p.AcquireTimeout == 0 {
		p.AcquireTimeout = DefaultAcquireTime
	}
}

// Validate enforces 0 <= min < max <= 100 and timeout bounds.
func (p *PoolHints) Validate() error {
	if p.Min < 0 {
		return fmt.Errorf("pool min must not be negative, got %d", p.Min)
	}
	if p.Max <= p.Min {
		return fmt.Errorf("pool max (%d) must be greater than min (%d)", p.Max, p.Min)
	}
	if p.Max > PoolMaxUpperBound {
		return fmt.Errorf("pool max must not exceed %d, got %d", PoolMaxUpperBound, p.Max)
	}
	for name, d := range map[string]time.Duration{
		"idle_timeout":    p.IdleTimeout,
		"acquire_timeout": p.AcquireTimeout,
	} {
		if d < PoolTimeoutMin || d > PoolTimeoutMax {
			return fmt.Errorf("%s must be between %s and %s, got %s", name, PoolTimeoutMin, PoolTimeoutMax, d)
		}
	}
	return nil
}

// ConnectionConfig describes a user-configured database connection.
// SecretBlob is always vault ciphertext at rest; the plaintext credential
// only exists transiently inside the tester and discoverer.
type ConnectionConfig struct {
	ID           uuid.UUID         `json:"id"`
	OwnerUserID  string            `json:"owner_user_id"`
	TeamID       *string           `json:"team_id,omitempty"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Dialect      Dialect           `json:"dialect"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	Database     string            `json:"database"`
	Username     string            `json:"username"`
	SecretBlob   string            `json:"-"`
	TLSEnabled   bool              `json:"tls_enabled"`
	TLSMaterial  *string           `json:"tls_material,omitempty"`
	Options      map[string]string `json:"options,omitempty"`
	Pool         PoolHints         `json:"pool"`
	Status       ConnectionStatus  `json:"status"`
	LastTestedAt *time.Time        `json:"last_tested_at,omitempty"`
	LastUsedAt   *time.Time        `json:"last_used_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Validate checks the config invariants. Pool hints get defaults applied
// before validation so a zero-valued Pool is accepted.
func (c *ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !c.Dialect.Valid() {
		return fmt.Errorf("unsupported dialect %q", c.Dialect)
	}
	// sqlite targets a file path carried in Database; host/port are unused
	if c.Dialect != DialectSQLite {
		if c.Host == "" {
			return fmt.Errorf("host is required")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
		}
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	c.Pool.ApplyDefaults()
	return c.Pool.Validate()
}

// TargetEquals reports whether two configs point at the same database
// endpoint. A target change invalidates the owning pool.
func (c *ConnectionConfig) TargetEquals(other *ConnectionConfig) bool {
	return c.Dialect == other.Dialect &&
		c.Host == other.Host &&
		c.Port == other.Port &&
		c.Database == other.Database &&
		c.Username == other.Username &&
		c.TLSEnabled == other.TLSEnabled
}
