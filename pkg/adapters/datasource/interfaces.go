// Package datasource defines the dialect adapter contract and the pool
// manager that multiplexes user database connections. Dialect packages
// register themselves at init time; the services layer only ever talks to
// the registry and the Pool interface.
package datasource

import (
	"context"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// PoolStats is a point-in-time view of one backend pool.
type PoolStats struct {
	Total   int32 `json:"total"`
	Active  int32 `json:"active"`
	Idle    int32 `json:"idle"`
	Waiters int32 `json:"waiters"`
}

// Pool is an open backend connection pool. Concrete types are owned by the
// adapter that created them; callers treat pools as opaque handles.
type Pool interface {
	// Ping verifies the pool can reach the database.
	Ping(ctx context.Context) error
	// Stats reports pool occupancy for monitoring.
	Stats() PoolStats
	// Close tears the pool down. Safe to call more than once.
	Close()
}

// ProbeInfo is what a connection test reads back from a live server.
type ProbeInfo struct {
	Version   string
	Schemas   []string
	SizeBytes *int64
}

// DiscoverOptions shapes a schema discovery run.
type DiscoverOptions struct {
	IncludeSystem    bool
	IncludeFunctions bool
	IncludeTypes     bool
	// TableParallel bounds the per-table detail queries. Zero means the
	// adapter default.
	TableParallel int
}

// Adapter is one database dialect's implementation of probing, pooling,
// and discovery. The secret is the decrypted credential; it must never be
// stored or logged by the adapter.
type Adapter interface {
	Dialect() models.Dialect

	// Probe opens one short-lived connection, reads the server version and
	// basic metadata, and closes. The context carries the test deadline.
	Probe(ctx context.Context, cfg *models.ConnectionConfig, secret string) (*ProbeInfo, error)

	// OpenPool opens a backend pool sized by cfg.Pool and verifies it.
	OpenPool(ctx context.Context, cfg *models.ConnectionConfig, secret string) (Pool, error)

	// Discover walks the database's catalog through a pool previously
	// returned by this adapter's OpenPool.
	Discover(ctx context.Context, pool Pool, opts DiscoverOptions) (*models.DatabaseSchema, error)

	// Classify maps a driver error onto the closed TestErrorCode enum.
	Classify(err error) models.TestErrorCode
}
