// Package mssql implements the SQL Server dialect adapter over
// database/sql with the go-mssqldb driver.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gomssql "github.com/microsoft/go-mssqldb"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/retry"
)

func init() {
	datasource.Register(datasource.AdapterInfo{
		Dialect:     models.DialectMSSQL,
		DisplayName: "SQL Server",
		Description: "Connect to SQL Server 2016+ and Azure SQL",
	}, &Adapter{})
}

// Adapter is the SQL Server implementation of datasource.Adapter.
type Adapter struct{}

func (a *Adapter) Dialect() models.Dialect { return models.DialectMSSQL }

func buildDSN(cfg *models.ConnectionConfig, secret string) string {
	query := url.Values{}
	query.Set("database", cfg.Database)
	if cfg.TLSEnabled {
		query.Set("encrypt", "true")
	} else {
		query.Set("encrypt", "disable")
	}
	for k, v := range cfg.Options {
		query.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.Username, secret),
		Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// Probe opens a short-lived connection and reads version, schemas, and
// database size.
func (a *Adapter) Probe(ctx context.Context, cfg *models.ConnectionConfig, secret string) (*datasource.ProbeInfo, error) {
	db, err := sql.Open("sqlserver", buildDSN(cfg, secret))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	info := &datasource.ProbeInfo{}
	if err := db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&info.Version); err != nil {
		return nil, err
	}
	if i := strings.IndexByte(info.Version, '\n'); i > 0 {
		info.Version = strings.TrimSpace(info.Version[:i])
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sys.schemas
		WHERE name NOT IN ('sys', 'INFORMATION_SCHEMA', 'guest')
		  AND name NOT LIKE 'db[_]%'
		ORDER BY name`)
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

	var size sql.NullInt64
	err = db.QueryRowContext(ctx, `
		SELECT CAST(SUM(CAST(size AS BIGINT)) * 8192 AS BIGINT)
		FROM sys.database_files`).Scan(&size)
	if err == nil && size.Valid {
		info.SizeBytes = &size.Int64
	}
	return info, nil
}

// OpenPool opens a database/sql pool sized by the connection's pool hints
// and verifies it with a retried ping.
func (a *Adapter) OpenPool(ctx context.Context, cfg *models.ConnectionConfig, secret string) (datasource.Pool, error) {
	hints := cfg.Pool
	hints.ApplyDefaults()

	db, err := sql.Open("sqlserver", buildDSN(cfg, secret))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(hints.Max)
	db.SetMaxIdleConns(hints.Min)
	db.SetConnMaxIdleTime(hints.IdleTimeout)

	acquireCtx, cancel := context.WithTimeout(ctx, hints.AcquireTimeout)
	defer cancel()
	if err := retry.Do(acquireCtx, retry.DefaultConfig(), func() error {
		return db.PingContext(acquireCtx)
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &datasource.SQLPool{Inner: db}, nil
}

// Classify maps server error numbers onto the probe error enum, falling
// back to transport classification.
func (a *Adapter) Classify(err error) models.TestErrorCode {
	if err == nil {
		return models.TestErrNone
	}

	var msErr gomssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 18456, 18452: // login failed
			return models.TestErrAuthFailed
		case 4060: // cannot open database
			return models.TestErrDatabaseMissing
		case 229, 230, 300: // permission denied on object / column / database
			return models.TestErrPermissionDenied
		}
	}
	if code := datasource.ClassifyNetError(err); code != models.TestErrUnknown {
		return code
	}
	if strings.Contains(strings.ToLower(err.Error()), "login failed") {
		return models.TestErrAuthFailed
	}
	return models.TestErrUnknown
}

const discoverTimeout = 2 * time.Minute
