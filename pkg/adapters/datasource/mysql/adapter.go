// Package mysql implements the MySQL dialect adapter over
// database/sql with the go-sql-driver driver.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/retry"
)

func init() {
	datasource.Register(datasource.AdapterInfo{
		Dialect:     models.DialectMySQL,
		DisplayName: "MySQL",
		Description: "Connect to MySQL 5.7+ and MariaDB",
	}, &Adapter{})
}

// Adapter is the MySQL implementation of datasource.Adapter.
type Adapter struct{}

func (a *Adapter) Dialect() models.Dialect { return models.DialectMySQL }

func buildDSN(cfg *models.ConnectionConfig, secret string) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.Username
	mc.Passwd = secret
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc.DBName = cfg.Database
	mc.ParseTime = true
	if cfg.TLSEnabled {
		mc.TLSConfig = "true"
	}
	if mc.Params == nil {
		mc.Params = make(map[string]string)
	}
	for k, v := range cfg.Options {
		mc.Params[k] = v
	}
	return mc.FormatDSN()
}

func open(cfg *models.ConnectionConfig, secret string) (*sql.DB, error) {
	db, err := sql.Open("mysql", buildDSN(cfg, secret))
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return db, nil
}

// Probe opens a short-lived connection and reads version, visible schemas,
// and the current database's size.
func (a *Adapter) Probe(ctx context.Context, cfg *models.ConnectionConfig, secret string) (*datasource.ProbeInfo, error) {
	db, err := open(cfg, secret)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	info := &datasource.ProbeInfo{}
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&info.Version); err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name NOT IN ('information_schema', 'mysql', 'performance_schema', 'sys')
		ORDER BY schema_name`)
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
		SELECT SUM(data_length + index_length)
		FROM information_schema.tables
		WHERE table_schema = DATABASE()`).Scan(&size)
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

	db, err := open(cfg, secret)
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

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1045: // ER_ACCESS_DENIED_ERROR
			return models.TestErrAuthFailed
		case 1049: // ER_BAD_DB_ERROR
			return models.TestErrDatabaseMissing
		case 1044, 1142: // ER_DBACCESS_DENIED_ERROR, ER_TABLEACCESS_DENIED_ERROR
			return models.TestErrPermissionDenied
		}
	}
	if code := datasource.ClassifyNetError(err); code != models.TestErrUnknown {
		return code
	}
	if strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return models.TestErrAuthFailed
	}
	return models.TestErrUnknown
}

const discoverTimeout = 2 * time.Minute
