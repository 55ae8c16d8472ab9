package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/database"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// HealthCheckRepository persists per-connection probe outcomes for the
// monitoring surface.
type HealthCheckRepository interface {
	Insert(ctx context.Context, check *models.HealthCheck) error
	ListRecent(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.HealthCheck, error)
	ListSince(ctx context.Context, since time.Time, limit int) ([]*models.HealthCheck, error)
}

type healthCheckRepository struct {
	db *database.DB
}

// NewHealthCheckRepository creates the pgx-backed health check repository.
func NewHealthCheckRepository(db *database.DB) HealthCheckRepository {
	return &healthCheckRepository{db: db}
}

func (r *healthCheckRepository) Insert(ctx context.Context, check *models.HealthCheck) error {
	if check.ID == uuid.Nil {
		check.ID = uuid.New()
	}
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO connection_health_checks (id, connection_id, healthy, elapsed_ms, error_code, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		check.ID, check.ConnectionID, check.Healthy,
		check.Elapsed.Milliseconds(), check.ErrorCode, check.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert health check: %w", err)
	}
	return nil
}

func (r *healthCheckRepository) ListRecent(ctx context.Context, connectionID uuid.UUID, limit int) ([]*models.HealthCheck, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.query(ctx, `
		SELECT id, connection_id, healthy, elapsed_ms, error_code, checked_at
		FROM connection_health_checks
		WHERE connection_id = $1
		ORDER BY checked_at DESC
		LIMIT $2`, connectionID, limit)
}

func (r *healthCheckRepository) ListSince(ctx context.Context, since time.Time, limit int) ([]*models.HealthCheck, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.query(ctx, `
		SELECT id, connection_id, healthy, elapsed_ms, error_code, checked_at
		FROM connection_health_checks
		WHERE checked_at >= $1
		ORDER BY checked_at DESC
		LIMIT $2`, since, limit)
}

func (r *healthCheckRepository) query(ctx context.Context, sql string, args ...any) ([]*models.HealthCheck, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query health checks: %w", err)
	}
	defer rows.Close()

	var out []*models.HealthCheck
	for rows.Next() {
		var check models.HealthCheck
		var elapsedMS int64
		if err := rows.Scan(&check.ID, &check.ConnectionID, &check.Healthy,
			&elapsedMS, &check.ErrorCode, &check.CheckedAt); err != nil {
			return nil, fmt.Errorf("failed to scan health check: %w", err)
		}
		check.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, &check)
	}
	return out, rows.Err()
}
