package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/logging"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
)

// DiscoverRequest is the input to a schema discovery.
type DiscoverRequest struct {
	ConnectionID     uuid.UUID `json:"connection_id"`
	ForceRefresh     bool      `json:"force_refresh"`
	IncludeSystem    bool      `json:"include_system"`
	IncludeFunctions bool      `json:"include_functions"`
	IncludeTypes     bool      `json:"include_types"`
}

// Discoverer walks database catalogs into canonical schema snapshots.
// Concurrent requests for the same connection coalesce onto one in-flight
// discovery; a weighted semaphore caps platform-wide concurrency.
type Discoverer struct {
	registry  *Registry
	pools     *datasource.PoolManager
	cache     *SchemaCache
	snapshots repositories.SnapshotRepository
	sem       *semaphore.Weighted
	flight    singleflight.Group
	cfg       config.DiscoveryConfig
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDiscoverer creates the discoverer. snapshots and metrics may be nil.
func NewDiscoverer(registry *Registry, pools *datasource.PoolManager, cache *SchemaCache, snapshots repositories.SnapshotRepository, cfg config.DiscoveryConfig, m *metrics.Metrics, logger *zap.Logger) *Discoverer {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Discoverer{
		registry:  registry,
		pools:     pools,
		cache:     cache,
		snapshots: snapshots,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:       cfg,
		logger:    logger.Named("discovery"),
		metrics:   m,
	}
}

// Discover returns the schema for a connection, cache-first unless the
// request forces a refresh. The boolean reports whether the cache served.
func (d *Discoverer) Discover(ctx context.Context, ac *models.AuthContext, req DiscoverRequest) (*models.DatabaseSchema, bool, error) {
	if !req.ForceRefresh {
		if cached := d.cache.Get(req.ConnectionID); cached != nil {
			return cached, true, nil
		}
	}

	// Coalesce concurrent misses for the same connection onto one walk.
	v, err, _ := d.flight.Do(req.ConnectionID.String(), func() (any, error) {
		return d.discover(ctx, ac, req)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*models.DatabaseSchema), false, nil
}

// Cached returns the cached schema without triggering discovery.
func (d *Discoverer) Cached(id uuid.UUID) *models.DatabaseSchema {
	return d.cache.Get(id)
}

func (d *Discoverer) discover(ctx context.Context, ac *models.AuthContext, req DiscoverRequest) (*models.DatabaseSchema, error) {
	cfg, secret, err := d.registry.ResolveDecrypted(ctx, ac, req.ConnectionID)
	if err != nil {
		return nil, err
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "discovery queue full", err)
	}
	defer d.sem.Release(1)

	adapter, err := datasource.Get(cfg.Dialect)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "unsupported dialect", err)
	}

	lease, err := d.pools.Acquire(ctx, cfg, secret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDiscovery, "failed to open connection for discovery", err)
	}
	defer lease.Release()

	start := time.Now()
	schema, err := adapter.Discover(ctx, lease.Pool(), datasource.DiscoverOptions{
		IncludeSystem:    req.IncludeSystem,
		IncludeFunctions: req.IncludeFunctions,
		IncludeTypes:     req.IncludeTypes,
		TableParallel:    d.cfg.TableParallel,
	})
	elapsed := time.Since(start)
	if err != nil {
		d.logger.Warn("schema discovery failed",
			zap.String("connection_id", req.ConnectionID.String()),
			zap.String("dialect", string(cfg.Dialect)),
			zap.String("error", logging.SanitizeError(err)),
			zap.Duration("elapsed", elapsed),
		)
		return nil, apperrors.Wrap(apperrors.KindDiscovery, "schema discovery failed", err)
	}

	schema.ConnectionID = req.ConnectionID
	schema.DiscoveredAt = time.Now().UTC()
	schema.Duration = elapsed
	schema.VersionHash = schema.ComputeVersionHash()

	d.cache.Set(req.ConnectionID, schema)
	if d.snapshots != nil {
		if err := d.snapshots.Insert(ctx, schema); err != nil {
			d.logger.Warn("failed to persist schema snapshot",
				zap.String("connection_id", req.ConnectionID.String()),
				zap.Error(err),
			)
		}
	}
	if d.metrics != nil {
		d.metrics.DiscoveryDuration.WithLabelValues(string(cfg.Dialect)).Observe(elapsed.Seconds())
	}

	d.logger.Info("schema discovered",
		zap.String("connection_id", req.ConnectionID.String()),
		zap.String("dialect", string(cfg.Dialect)),
		zap.Int("tables", schema.Counts.Tables),
		zap.Int("views", schema.Counts.Views),
		zap.String("version_hash", schema.VersionHash[:12]),
		zap.Duration("elapsed", elapsed),
	)
	return schema, nil
}
