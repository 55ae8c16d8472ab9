// Package postgres implements the PostgreSQL dialect adapter: probing,
// pooling via pgxpool, and full catalog discovery.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/retry"
)

func init() {
	datasource.Register(datasource.AdapterInfo{
		Dialect:     models.DialectPostgres,
		DisplayName: "PostgreSQL",
		Description: "Connect to PostgreSQL 12+",
	}, &Adapter{})
}

// Adapter is the PostgreSQL implementation of datasource.Adapter.
type Adapter struct{}

func (a *Adapter) Dialect() models.Dialect { return models.DialectPostgres }

// buildDSN renders a key=value DSN. The password is escaped per libpq
// quoting rules since credentials may contain spaces or quotes.
func buildDSN(cfg *models.ConnectionConfig, secret string) string {
	parts := []string{
		fmt.Sprintf("host=%s", cfg.Host),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("dbname=%s", quoteDSNValue(cfg.Database)),
		fmt.Sprintf("user=%s", quoteDSNValue(cfg.Username)),
	}
	if secret != "" {
		parts = append(parts, fmt.Sprintf("password=%s", quoteDSNValue(secret)))
	}
	if cfg.TLSEnabled {
		parts = append(parts, "sslmode=require")
	} else {
		parts = append(parts, "sslmode=disable")
	}

	keys := make([]string, 0, len(cfg.Options))
	for k := range cfg.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, quoteDSNValue(cfg.Options[k])))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v == "" || strings.ContainsAny(v, " '\\") {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		return "'" + v + "'"
	}
	return v
}

// Probe opens one short-lived connection and reads version, visible
// schemas, and database size.
func (a *Adapter) Probe(ctx context.Context, cfg *models.ConnectionConfig, secret string) (*datasource.ProbeInfo, error) {
	conn, err := pgx.Connect(ctx, buildDSN(cfg, secret))
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	info := &datasource.ProbeInfo{}
	if err := conn.QueryRow(ctx, "SELECT version()").Scan(&info.Version); err != nil {
		return nil, fmt.Errorf("query version: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT nspname FROM pg_namespace
		WHERE nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND nspname NOT LIKE 'pg_%'
		ORDER BY nspname`)
	if err != nil {
		return nil, fmt.Errorf("query schemas: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		info.Schemas = append(info.Schemas, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schemas: %w", err)
	}

	var size int64
	if err := conn.QueryRow(ctx, "SELECT pg_database_size(current_database())").Scan(&size); err == nil {
		info.SizeBytes = &size
	}
	return info, nil
}

// OpenPool opens a pgx pool sized by the connection's pool hints and
// verifies it with a retried ping.
func (a *Adapter) OpenPool(ctx context.Context, cfg *models.ConnectionConfig, secret string) (datasource.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(buildDSN(cfg, secret))
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	hints := cfg.Pool
	hints.ApplyDefaults()
	poolCfg.MinConns = int32(hints.Min)
	poolCfg.MaxConns = int32(hints.Max)
	poolCfg.MaxConnIdleTime = hints.IdleTimeout

	acquireCtx, cancel := context.WithTimeout(ctx, hints.AcquireTimeout)
	defer cancel()

	pool, err := retry.DoWithResult(acquireCtx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(acquireCtx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(acquireCtx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return &datasource.PgxPool{Inner: pool}, nil
}

// Classify maps pgconn SQLSTATEs onto the probe error enum, falling back
// to transport classification.
func (a *Adapter) Classify(err error) models.TestErrorCode {
	if err == nil {
		return models.TestErrNone
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			return models.TestErrAuthFailed
		case "3D000": // invalid_catalog_name
			return models.TestErrDatabaseMissing
		case "42501": // insufficient_privilege
			return models.TestErrPermissionDenied
		}
	}
	if code := datasource.ClassifyNetError(err); code != models.TestErrUnknown {
		return code
	}
	// pgx surfaces SCRAM failures without a SQLSTATE in some paths.
	if strings.Contains(strings.ToLower(err.Error()), "password authentication failed") {
		return models.TestErrAuthFailed
	}
	return models.TestErrUnknown
}

// discoverTimeout caps a full catalog walk independent of the request
// context.
const discoverTimeout = 2 * time.Minute
