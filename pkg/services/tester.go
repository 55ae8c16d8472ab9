package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/logging"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/tunnel"
)

// Tester probes database connections and records the outcomes.
type Tester struct {
	registry *Registry
	healths  repositories.HealthCheckRepository
	results  ResultStore
	cfg      config.TestingConfig
	tunnels  config.TunnelConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewTester creates the tester. healths and metrics may be nil.
func NewTester(registry *Registry, healths repositories.HealthCheckRepository, results ResultStore, cfg config.TestingConfig, tunnels config.TunnelConfig, m *metrics.Metrics, logger *zap.Logger) *Tester {
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = 10 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 10
	}
	if cfg.BatchParallel <= 0 {
		cfg.BatchParallel = 5
	}
	return &Tester{
		registry: registry,
		healths:  healths,
		results:  results,
		cfg:      cfg,
		tunnels:  tunnels,
		logger:   logger.Named("tester"),
		metrics:  m,
	}
}

// TestConfig probes an unsaved config carrying its own plaintext secret.
func (t *Tester) TestConfig(ctx context.Context, cfg *models.ConnectionConfig, secret string) *models.TestResult {
	if err := cfg.Validate(); err != nil {
		return t.failure(nil, models.TestErrUnknown, err.Error(), 0)
	}
	return t.probe(ctx, cfg, secret, nil)
}

// TestByID resolves a stored connection (owner-checked), probes it, and
// records status, a health-check row, and a tested audit event.
func (t *Tester) TestByID(ctx context.Context, ac *models.AuthContext, id uuid.UUID, meta RequestMeta) (*models.TestResult, error) {
	cfg, secret, err := t.registry.ResolveDecrypted(ctx, ac, id)
	if err != nil {
		return nil, err
	}

	result := t.probe(ctx, cfg, secret, &id)

	if err := t.registry.MarkTested(ctx, id, result.Success, result.TestedAt); err != nil {
		t.logger.Warn("failed to record test status",
			zap.String("connection_id", id.String()),
			zap.Error(err),
		)
	}
	t.recordHealth(ctx, id, result)
	t.registry.record(ctx, id, models.AuditTested, ac.UserID, meta, map[string]any{
		"success":    result.Success,
		"error_code": string(result.ErrorCode),
	})
	return result, nil
}

// BatchItem is one entry of a batch test request: either a stored id or an
// inline config with its secret.
type BatchItem struct {
	ConnectionID *uuid.UUID               `json:"connection_id,omitempty"`
	Config       *models.ConnectionConfig `json:"config,omitempty"`
	Secret       string                   `json:"secret,omitempty"`
}

// Batch probes up to MaxBatch items with bounded parallelism. Per-item
// failures are isolated; the error return is only for invalid batches.
func (t *Tester) Batch(ctx context.Context, ac *models.AuthContext, items []BatchItem, meta RequestMeta) ([]*models.TestResult, error) {
	if len(items) == 0 {
		return nil, apperrors.New(apperrors.KindValidation, "batch is empty")
	}
	if len(items) > t.cfg.MaxBatch {
		return nil, apperrors.New(apperrors.KindValidation,
			fmt.Sprintf("batch exceeds the maximum of %d items", t.cfg.MaxBatch))
	}

	results := make([]*models.TestResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.BatchParallel)
	for i, item := range items {
		g.Go(func() error {
			switch {
			case item.ConnectionID != nil:
				res, err := t.TestByID(gctx, ac, *item.ConnectionID, meta)
				if err != nil {
					res = t.failure(item.ConnectionID, models.TestErrUnknown, err.Error(), 0)
					t.store(gctx, res)
				}
				results[i] = res
			case item.Config != nil:
				results[i] = t.TestConfig(gctx, item.Config, item.Secret)
			default:
				results[i] = t.failure(nil, models.TestErrUnknown, "item has neither connection_id nor config", 0)
			}
			return nil
		})
	}
	g.Wait()
	return results, nil
}

// TestViaTunnel probes a config through an SSH local-forward. When tunnel
// support is disabled the deterministic error result is returned without
// touching the network.
func (t *Tester) TestViaTunnel(ctx context.Context, cfg *models.ConnectionConfig, secret string, spec *tunnel.Spec) (*models.TestResult, error) {
	if !t.tunnels.Enabled {
		return nil, apperrors.Wrap(apperrors.KindTestFailed,
			apperrors.ErrTunnelDisabled.Error(), apperrors.ErrTunnelDisabled)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, err.Error(), err)
	}
	spec.TargetHost = cfg.Host
	spec.TargetPort = cfg.Port

	start := time.Now()
	fwd, err := tunnel.Forward(ctx, spec)
	if err != nil {
		result := t.failure(nil, models.TestErrConnectionRefused, logging.SanitizeError(err), time.Since(start))
		t.store(ctx, result)
		return result, nil
	}
	defer fwd.Close()

	local := *cfg
	local.Host, local.Port = fwd.Addr()
	return t.probe(ctx, &local, secret, nil), nil
}

// Result fetches a stored test result by id.
func (t *Tester) Result(ctx context.Context, id uuid.UUID) (*models.TestResult, error) {
	return t.results.Get(ctx, id)
}

// probe runs one dialect probe within TestTimeout and stores the result.
func (t *Tester) probe(ctx context.Context, cfg *models.ConnectionConfig, secret string, connID *uuid.UUID) *models.TestResult {
	adapter, err := datasource.Get(cfg.Dialect)
	if err != nil {
		result := t.failure(connID, models.TestErrUnknown, err.Error(), 0)
		t.store(ctx, result)
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, t.cfg.TestTimeout)
	defer cancel()

	start := time.Now()
	info, err := adapter.Probe(probeCtx, cfg, secret)
	elapsed := time.Since(start)

	var result *models.TestResult
	if err != nil {
		code := adapter.Classify(err)
		result = t.failure(connID, code, logging.SanitizeError(err), elapsed)
		t.logger.Info("connection test failed",
			zap.String("dialect", string(cfg.Dialect)),
			zap.String("error_code", string(code)),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		result = &models.TestResult{
			ID:             uuid.New(),
			ConnectionID:   connID,
			Success:        true,
			Elapsed:        elapsed,
			DialectVersion: &info.Version,
			ServerInfo:     &models.ServerInfo{Schemas: info.Schemas, SizeBytes: info.SizeBytes},
			TestedAt:       time.Now().UTC(),
		}
		t.logger.Info("connection test succeeded",
			zap.String("dialect", string(cfg.Dialect)),
			zap.Duration("elapsed", elapsed),
		)
	}

	if t.metrics != nil {
		outcome := "success"
		if !result.Success {
			outcome = string(result.ErrorCode)
		}
		t.metrics.ConnectionTests.WithLabelValues(string(cfg.Dialect), outcome).Inc()
		t.metrics.TestDuration.WithLabelValues(string(cfg.Dialect)).Observe(elapsed.Seconds())
	}
	t.store(ctx, result)
	return result
}

func (t *Tester) failure(connID *uuid.UUID, code models.TestErrorCode, message string, elapsed time.Duration) *models.TestResult {
	return &models.TestResult{
		ID:           uuid.New(),
		ConnectionID: connID,
		Success:      false,
		Elapsed:      elapsed,
		ErrorCode:    code,
		ErrorMessage: message,
		TestedAt:     time.Now().UTC(),
	}
}

func (t *Tester) store(ctx context.Context, result *models.TestResult) {
	if t.results == nil {
		return
	}
	if err := t.results.Put(ctx, result); err != nil {
		t.logger.Warn("failed to store test result",
			zap.String("result_id", result.ID.String()),
			zap.Error(err),
		)
	}
}

func (t *Tester) recordHealth(ctx context.Context, id uuid.UUID, result *models.TestResult) {
	if t.healths == nil {
		return
	}
	check := &models.HealthCheck{
		ID:           uuid.New(),
		ConnectionID: id,
		Healthy:      result.Success,
		Elapsed:      result.Elapsed,
		ErrorCode:    result.ErrorCode,
		CheckedAt:    result.TestedAt,
	}
	if err := t.healths.Insert(ctx, check); err != nil {
		t.logger.Warn("failed to persist health check",
			zap.String("connection_id", id.String()),
			zap.Error(err),
		)
	}
}
