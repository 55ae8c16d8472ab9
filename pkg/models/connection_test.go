package models

import (
	"testing"
	"time"
)

func validConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Name:     "analytics",
		Dialect:  DialectPostgres,
		Host:     "db.internal",
		Port:     5432,
		Database: "analytics",
		Username: "reader",
	}
}

func TestConnectionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ConnectionConfig)
		wantErr bool
	}{
		{"valid with defaults", func(c *ConnectionConfig) {}, false},
		{"empty name", func(c *ConnectionConfig) { c.Name = "  " }, true},
		{"bad dialect", func(c *ConnectionConfig) { c.Dialect = "oracle" }, true},
		{"missing host", func(c *ConnectionConfig) { c.Host = "" }, true},
		{"port out of range", func(c *ConnectionConfig) { c.Port = 70000 }, true},
		{"missing database", func(c *ConnectionConfig) { c.Database = "" }, true},
		{"sqlite needs no host", func(c *ConnectionConfig) {
			c.Dialect = DialectSQLite
			c.Host = ""
			c.Port = 0
			c.Database = "/var/data/app.db"
		}, false},
		{"pool max above cap", func(c *ConnectionConfig) { c.Pool = PoolHints{Min: 0, Max: 101, IdleTimeout: time.Minute, AcquireTimeout: time.Second} }, true},
		{"pool min >= max", func(c *ConnectionConfig) { c.Pool = PoolHints{Min: 5, Max: 5, IdleTimeout: time.Minute, AcquireTimeout: time.Second} }, true},
		{"idle timeout too short", func(c *ConnectionConfig) { c.Pool = PoolHints{Min: 1, Max: 10, IdleTimeout: 500 * time.Millisecond, AcquireTimeout: time.Second} }, true},
		{"acquire timeout too long", func(c *ConnectionConfig) { c.Pool = PoolHints{Min: 1, Max: 10, IdleTimeout: time.Minute, AcquireTimeout: 10 * time.Minute} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPoolHints_ApplyDefaults(t *testing.T) {
	var p PoolHints
	p.ApplyDefaults()
	if p.Min != DefaultPoolMin || p.Max != DefaultPoolMax {
		t.Errorf("unexpected sizing defaults: %+v", p)
	}
	if p.IdleTimeout != DefaultIdleTimeout || p.AcquireTimeout != DefaultAcquireTime {
		t.Errorf("unexpected timeout defaults: %+v", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestRole_Hierarchy(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleUser) {
		t.Error("admin should outrank user")
	}
	if RoleViewer.AtLeast(RoleUser) {
		t.Error("viewer should not outrank user")
	}
	if !RoleSuperAdmin.AtLeast(RoleAdmin) {
		t.Error("super_admin should outrank admin")
	}
	if Role("intruder").AtLeast(RoleViewer) {
		t.Error("unknown role should rank below viewer")
	}
}

func TestAuthContext_CanAccess(t *testing.T) {
	team := "team-1"
	otherTeam := "team-2"

	tests := []struct {
		name  string
		auth  AuthContext
		owner string
		team  *string
		want  bool
	}{
		{"owner", AuthContext{UserID: "u1", Role: RoleUser}, "u1", nil, true},
		{"stranger", AuthContext{UserID: "u2", Role: RoleUser}, "u1", nil, false},
		{"admin override", AuthContext{UserID: "u2", Role: RoleAdmin}, "u1", nil, true},
		{"team member", AuthContext{UserID: "u2", Role: RoleUser, TeamID: &team}, "u1", &team, true},
		{"wrong team", AuthContext{UserID: "u2", Role: RoleUser, TeamID: &otherTeam}, "u1", &team, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.auth.CanAccess(tt.owner, tt.team); got != tt.want {
				t.Errorf("CanAccess() = %v, want %v", got, tt.want)
			}
		})
	}
}
