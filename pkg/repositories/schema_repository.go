package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/database"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// SnapshotSummary is one row of a connection's discovery history.
type SnapshotSummary struct {
	ID           uuid.UUID           `json:"id"`
	ConnectionID uuid.UUID           `json:"connection_id"`
	VersionHash  string              `json:"version_hash"`
	Counts       models.SchemaCounts `json:"counts"`
	DiscoveredAt time.Time           `json:"discovered_at"`
}

// SnapshotRepository persists discovered schemas. The latest snapshot per
// connection is what change detection diffs against.
type SnapshotRepository interface {
	Insert(ctx context.Context, schema *models.DatabaseSchema) error
	GetLatest(ctx context.Context, connectionID uuid.UUID) (*models.DatabaseSchema, error)
	History(ctx context.Context, connectionID uuid.UUID, limit int) ([]*SnapshotSummary, error)
	DeleteByConnection(ctx context.Context, connectionID uuid.UUID) error
}

type snapshotRepository struct {
	db *database.DB
}

// NewSnapshotRepository creates the pgx-backed snapshot repository.
func NewSnapshotRepository(db *database.DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) Insert(ctx context.Context, schema *models.DatabaseSchema) error {
	payload, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema snapshot: %w", err)
	}
	counts, err := json.Marshal(schema.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal schema counts: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO schema_snapshots (id, connection_id, version_hash, counts, snapshot, discovered_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.New(), schema.ConnectionID, schema.VersionHash, counts, payload, schema.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schema snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepository) GetLatest(ctx context.Context, connectionID uuid.UUID) (*models.DatabaseSchema, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `
		SELECT snapshot FROM schema_snapshots
		WHERE connection_id = $1
		ORDER BY discovered_at DESC
		LIMIT 1`, connectionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	var schema models.DatabaseSchema
	if err := json.Unmarshal(payload, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema snapshot: %w", err)
	}
	return &schema, nil
}

func (r *snapshotRepository) History(ctx context.Context, connectionID uuid.UUID, limit int) ([]*SnapshotSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, connection_id, version_hash, counts, discovered_at
		FROM schema_snapshots
		WHERE connection_id = $1
		ORDER BY discovered_at DESC
		LIMIT $2`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	defer rows.Close()

	var out []*SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var counts []byte
		if err := rows.Scan(&s.ID, &s.ConnectionID, &s.VersionHash, &counts, &s.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot summary: %w", err)
		}
		if len(counts) > 0 {
			if err := json.Unmarshal(counts, &s.Counts); err != nil {
				return nil, fmt.Errorf("failed to unmarshal snapshot counts: %w", err)
			}
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *snapshotRepository) DeleteByConnection(ctx context.Context, connectionID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM schema_snapshots WHERE connection_id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// ChangeFilter narrows change listings.
type ChangeFilter struct {
	ConnectionID uuid.UUID
	Kind         models.ChangeKind
	Impact       models.ChangeImpact
	Since        time.Time
	Limit        int
}

// ChangeAnalytics aggregates a connection's change history.
type ChangeAnalytics struct {
	ConnectionID uuid.UUID      `json:"connection_id"`
	Total        int            `json:"total"`
	ByKind       map[string]int `json:"by_kind"`
	ByImpact     map[string]int `json:"by_impact"`
	FirstSeen    *time.Time     `json:"first_seen,omitempty"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
}

// ChangeRepository persists detected schema changes.
type ChangeRepository interface {
	InsertBatch(ctx context.Context, changes []*models.SchemaChange) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SchemaChange, error)
	List(ctx context.Context, filter ChangeFilter) ([]*models.SchemaChange, error)
	MarkReviewed(ctx context.Context, id uuid.UUID) error
	Analytics(ctx context.Context, connectionID uuid.UUID) (*ChangeAnalytics, error)
}

type changeRepository struct {
	db *database.DB
}

// NewChangeRepository creates the pgx-backed change repository.
func NewChangeRepository(db *database.DB) ChangeRepository {
	return &changeRepository{db: db}
}

func (r *changeRepository) InsertBatch(ctx context.Context, changes []*models.SchemaChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, change := range changes {
		if change.ID == uuid.Nil {
			change.ID = uuid.New()
		}
		oldObj, newObj, details, err := marshalChangeJSON(change)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO schema_changes (
				id, connection_id, kind, target_kind, identifier,
				old_object, new_object, impact, details, detected_at, reviewed
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			change.ID, change.ConnectionID, change.Kind, change.TargetKind, change.Identifier,
			oldObj, newObj, change.Impact, details, change.DetectedAt, change.Reviewed,
		)
		if err != nil {
			return fmt.Errorf("failed to insert schema change: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *changeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SchemaChange, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, connection_id, kind, target_kind, identifier,
		       old_object, new_object, impact, details, detected_at, reviewed
		FROM schema_changes WHERE id = $1`, id)

	change, err := scanChange(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schema change: %w", err)
	}
	return change, nil
}

func (r *changeRepository) List(ctx context.Context, filter ChangeFilter) ([]*models.SchemaChange, error) {
	query := `
		SELECT id, connection_id, kind, target_kind, identifier,
		       old_object, new_object, impact, details, detected_at, reviewed
		FROM schema_changes WHERE connection_id = $1`
	args := []any{filter.ConnectionID}
	n := 1
	if filter.Kind != "" {
		n++
		query += fmt.Sprintf(" AND kind = $%d", n)
		args = append(args, filter.Kind)
	}
	if filter.Impact != "" {
		n++
		query += fmt.Sprintf(" AND impact = $%d", n)
		args = append(args, filter.Impact)
	}
	if !filter.Since.IsZero() {
		n++
		query += fmt.Sprintf(" AND detected_at >= $%d", n)
		args = append(args, filter.Since)
	}
	query += " ORDER BY detected_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema changes: %w", err)
	}
	defer rows.Close()

	var out []*models.SchemaChange
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema change: %w", err)
		}
		out = append(out, change)
	}
	return out, rows.Err()
}

func (r *changeRepository) MarkReviewed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE schema_changes SET reviewed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark change reviewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *changeRepository) Analytics(ctx context.Context, connectionID uuid.UUID) (*ChangeAnalytics, error) {
	rows, err := r.db.Query(ctx, `
		SELECT kind, impact, COUNT(*), MIN(detected_at), MAX(detected_at)
		FROM schema_changes
		WHERE connection_id = $1
		GROUP BY kind, impact`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate schema changes: %w", err)
	}
	defer rows.Close()

	out := &ChangeAnalytics{
		ConnectionID: connectionID,
		ByKind:       map[string]int{},
		ByImpact:     map[string]int{},
	}
	for rows.Next() {
		var kind, impact string
		var count int
		var first, last time.Time
		if err := rows.Scan(&kind, &impact, &count, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan change aggregate: %w", err)
		}
		out.Total += count
		out.ByKind[kind] += count
		out.ByImpact[impact] += count
		if out.FirstSeen == nil || first.Before(*out.FirstSeen) {
			out.FirstSeen = &first
		}
		if out.LastSeen == nil || last.After(*out.LastSeen) {
			out.LastSeen = &last
		}
	}
	return out, rows.Err()
}

func marshalChangeJSON(change *models.SchemaChange) (oldObj, newObj, details []byte, err error) {
	if change.Old != nil {
		oldObj, err = json.Marshal(change.Old)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal old object: %w", err)
		}
	}
	if change.New != nil {
		newObj, err = json.Marshal(change.New)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal new object: %w", err)
		}
	}
	details, err = json.Marshal(change.Details)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal details: %w", err)
	}
	return oldObj, newObj, details, nil
}

func scanChange(row pgx.Row) (*models.SchemaChange, error) {
	var change models.SchemaChange
	var oldObj, newObj, details []byte
	if err := row.Scan(&change.ID, &change.ConnectionID, &change.Kind, &change.TargetKind,
		&change.Identifier, &oldObj, &newObj, &change.Impact, &details,
		&change.DetectedAt, &change.Reviewed); err != nil {
		return nil, err
	}
	if len(oldObj) > 0 {
		if err := json.Unmarshal(oldObj, &change.Old); err != nil {
			return nil, fmt.Errorf("failed to unmarshal old object: %w", err)
		}
	}
	if len(newObj) > 0 {
		if err := json.Unmarshal(newObj, &change.New); err != nil {
			return nil, fmt.Errorf("failed to unmarshal new object: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &change.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	return &change, nil
}
