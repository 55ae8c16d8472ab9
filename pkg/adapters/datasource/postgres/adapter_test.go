package postgres

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

func TestClassify(t *testing.T) {
	a := &Adapter{}
	tests := []struct {
		name string
		err  error
		want models.TestErrorCode
	}{
		{"nil", nil, models.TestErrNone},
		{"bad password", &pgconn.PgError{Code: "28P01"}, models.TestErrAuthFailed},
		{"bad auth spec", &pgconn.PgError{Code: "28000"}, models.TestErrAuthFailed},
		{"missing database", &pgconn.PgError{Code: "3D000"}, models.TestErrDatabaseMissing},
		{"insufficient privilege", &pgconn.PgError{Code: "42501"}, models.TestErrPermissionDenied},
		{"refused", syscall.ECONNREFUSED, models.TestErrConnectionRefused},
		{"deadline", context.DeadlineExceeded, models.TestErrTimeout},
		{"scram text", errors.New("failed SASL auth: password authentication failed for user \"app\""), models.TestErrAuthFailed},
		{"unknown", errors.New("weird"), models.TestErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestBuildDSN(t *testing.T) {
	cfg := &models.ConnectionConfig{
		Host:     "db.internal",
		Port:     5432,
		Database: "orders",
		Username: "app",
	}
	got := buildDSN(cfg, "p w'd")
	want := `host=db.internal port=5432 dbname=orders user=app password='p w\'d' sslmode=disable`
	if got != want {
		t.Errorf("buildDSN = %q, want %q", got, want)
	}

	cfg.TLSEnabled = true
	if dsn := buildDSN(cfg, ""); dsn != "host=db.internal port=5432 dbname=orders user=app sslmode=require" {
		t.Errorf("tls dsn = %q", dsn)
	}
}
