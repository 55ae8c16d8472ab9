// Package sqlite implements the SQLite dialect adapter. The Database
// field of the connection holds the file path; host and port are unused.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterInfo{
		Dialect:     models.DialectSQLite,
		DisplayName: "SQLite",
		Description: "Connect to a SQLite database file",
	}, &Adapter{})
}

// Adapter is the SQLite implementation of datasource.Adapter.
type Adapter struct{}

func (a *Adapter) Dialect() models.Dialect { return models.DialectSQLite }

func buildDSN(cfg *models.ConnectionConfig) string {
	params := url.Values{}
	// Refuse to create a new file for a typoed path.
	params.Set("mode", "rw")
	params.Set("_busy_timeout", "5000")
	for k, v := range cfg.Options {
		params.Set(k, v)
	}
	return "file:" + cfg.Database + "?" + params.Encode()
}

// Probe opens the file and reads the library version and page-derived size.
func (a *Adapter) Probe(ctx context.Context, cfg *models.ConnectionConfig, _ string) (*datasource.ProbeInfo, error) {
	db, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	info := &datasource.ProbeInfo{Schemas: []string{"main"}}
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&info.Version); err != nil {
		return nil, err
	}
	info.Version = "SQLite " + info.Version

	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			size := pageCount * pageSize
			info.SizeBytes = &size
		}
	}
	return info, nil
}

// OpenPool opens the file. SQLite serializes writers, so the pool is
// capped at one open connection regardless of hints.
func (a *Adapter) OpenPool(ctx context.Context, cfg *models.ConnectionConfig, _ string) (datasource.Pool, error) {
	db, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	hints := cfg.Pool
	hints.ApplyDefaults()
	acquireCtx, cancel := context.WithTimeout(ctx, hints.AcquireTimeout)
	defer cancel()
	if err := db.PingContext(acquireCtx); err != nil {
		db.Close()
		return nil, err
	}
	return &datasource.SQLPool{Inner: db}, nil
}

// Classify maps driver errors onto the probe error enum. There is no
// network leg, so most faults are file-level.
func (a *Adapter) Classify(err error) models.TestErrorCode {
	if err == nil {
		return models.TestErrNone
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotFound:
			return models.TestErrDatabaseMissing
		case sqlite3.ErrAuth, sqlite3.ErrPerm, sqlite3.ErrReadonly:
			return models.TestErrPermissionDenied
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return models.TestErrTimeout
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to open database"), strings.Contains(msg, "no such file"):
		return models.TestErrDatabaseMissing
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "readonly"):
		return models.TestErrPermissionDenied
	}
	return datasource.ClassifyNetError(err)
}

const discoverTimeout = 2 * time.Minute
