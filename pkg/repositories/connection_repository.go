// Package repositories implements data access for the platform's own
// PostgreSQL store. Each repository has a pgx implementation and an
// in-memory twin used by unit tests.
package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/database"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// uniqueViolation is the PostgreSQL error code for unique constraint hits.
const uniqueViolation = "23505"

// ConnectionFilter narrows List results. Search matches name and
// description case-insensitively.
type ConnectionFilter struct {
	OwnerUserID string
	TeamID      string
	Dialect     models.Dialect
	Status      models.ConnectionStatus
	Search      string
	Limit       int
	Offset      int
}

// ConnectionRepository persists connection configs. The secret blob lives
// in its own table and is only loaded by GetByID; List never returns it.
type ConnectionRepository interface {
	Create(ctx context.Context, conn *models.ConnectionConfig) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ConnectionConfig, error)
	List(ctx context.Context, filter ConnectionFilter) ([]*models.ConnectionConfig, error)
	CountByOwner(ctx context.Context, ownerUserID string) (int, error)
	Update(ctx context.Context, conn *models.ConnectionConfig) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, testedAt *time.Time) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type connectionRepository struct {
	db *database.DB
}

// NewConnectionRepository creates the pgx-backed connection repository.
func NewConnectionRepository(db *database.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `
	c.id, c.owner_user_id, c.team_id, c.name, c.description, c.dialect,
	c.host, c.port, c.database_name, c.username, c.tls_enabled, c.tls_material,
	c.options, c.pool, c.status, c.last_tested_at, c.last_used_at,
	c.created_at, c.updated_at`

func (r *connectionRepository) Create(ctx context.Context, conn *models.ConnectionConfig) error {
	now := time.Now().UTC()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.Status == "" {
		conn.Status = models.StatusInactive
	}

	options, pool, err := marshalConnectionJSON(conn)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO connections (
			id, owner_user_id, team_id, name, description, dialect,
			host, port, database_name, username, tls_enabled, tls_material,
			options, pool, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		conn.ID, conn.OwnerUserID, conn.TeamID, conn.Name, conn.Description, conn.Dialect,
		conn.Host, conn.Port, conn.Database, conn.Username, conn.TLSEnabled, conn.TLSMaterial,
		options, pool, conn.Status, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create connection: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO connection_secrets (connection_id, secret_blob, updated_at)
		VALUES ($1, $2, $3)`,
		conn.ID, conn.SecretBlob, now,
	)
	if err != nil {
		return fmt.Errorf("failed to store connection secret: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ConnectionConfig, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+connectionColumns+`, s.secret_blob
		FROM connections c
		JOIN connection_secrets s ON s.connection_id = c.id
		WHERE c.id = $1`, id)

	conn, err := scanConnection(row, true)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (r *connectionRepository) List(ctx context.Context, filter ConnectionFilter) ([]*models.ConnectionConfig, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections c WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, value any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, value)
	}
	if filter.OwnerUserID != "" {
		add("c.owner_user_id", filter.OwnerUserID)
	}
	if filter.Dialect != "" {
		add("c.dialect", filter.Dialect)
	}
	if filter.Status != "" {
		add("c.status", filter.Status)
	}
	if filter.TeamID != "" {
		add("c.team_id", filter.TeamID)
	}
	if filter.Search != "" {
		n++
		query += fmt.Sprintf(" AND (c.name ILIKE $%d OR c.description ILIKE $%d)", n, n)
		args = append(args, "%"+filter.Search+"%")
	}
	query += " ORDER BY c.created_at DESC"
	if filter.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.ConnectionConfig
	for rows.Next() {
		conn, err := scanConnection(rows, false)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

func (r *connectionRepository) CountByOwner(ctx context.Context, ownerUserID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM connections WHERE owner_user_id = $1`, ownerUserID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count connections: %w", err)
	}
	return count, nil
}

func (r *connectionRepository) Update(ctx context.Context, conn *models.ConnectionConfig) error {
	conn.UpdatedAt = time.Now().UTC()

	options, pool, err := marshalConnectionJSON(conn)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE connections SET
			name = $2, description = $3, dialect = $4, host = $5, port = $6,
			database_name = $7, username = $8, tls_enabled = $9, tls_material = $10,
			options = $11, pool = $12, status = $13, updated_at = $14
		WHERE id = $1`,
		conn.ID, conn.Name, conn.Description, conn.Dialect, conn.Host, conn.Port,
		conn.Database, conn.Username, conn.TLSEnabled, conn.TLSMaterial,
		options, pool, conn.Status, conn.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	if conn.SecretBlob != "" {
		_, err = tx.Exec(ctx, `
			UPDATE connection_secrets SET secret_blob = $2, updated_at = $3
			WHERE connection_id = $1`,
			conn.ID, conn.SecretBlob, conn.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update connection secret: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, testedAt *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE connections SET status = $2, last_tested_at = COALESCE($3, last_tested_at), updated_at = $4
		WHERE id = $1`,
		id, status, testedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *connectionRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE connections SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to touch connection: %w", err)
	}
	return nil
}

func (r *connectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func marshalConnectionJSON(conn *models.ConnectionConfig) (options, pool []byte, err error) {
	options, err = json.Marshal(conn.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal options: %w", err)
	}
	pool, err = json.Marshal(conn.Pool)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal pool hints: %w", err)
	}
	return options, pool, nil
}

func scanConnection(row pgx.Row, withSecret bool) (*models.ConnectionConfig, error) {
	var conn models.ConnectionConfig
	var options, pool []byte

	dest := []any{
		&conn.ID, &conn.OwnerUserID, &conn.TeamID, &conn.Name, &conn.Description, &conn.Dialect,
		&conn.Host, &conn.Port, &conn.Database, &conn.Username, &conn.TLSEnabled, &conn.TLSMaterial,
		&options, &pool, &conn.Status, &conn.LastTestedAt, &conn.LastUsedAt,
		&conn.CreatedAt, &conn.UpdatedAt,
	}
	if withSecret {
		dest = append(dest, &conn.SecretBlob)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &conn.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if len(pool) > 0 {
		if err := json.Unmarshal(pool, &conn.Pool); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pool hints: %w", err)
		}
	}
	return &conn, nil
}
