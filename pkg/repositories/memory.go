package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// In-memory twins of the pgx repositories. They hold the same invariants
// (name uniqueness per owner, not-found sentinels) and back the unit tests
// and local runs without a database.

type MemoryConnectionRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*models.ConnectionConfig
}

func NewMemoryConnectionRepository() *MemoryConnectionRepository {
	return &MemoryConnectionRepository{items: make(map[uuid.UUID]*models.ConnectionConfig)}
}

func (r *MemoryConnectionRepository) Create(_ context.Context, conn *models.ConnectionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.items {
		if existing.OwnerUserID == conn.OwnerUserID && existing.Name == conn.Name {
			return apperrors.ErrConflict
		}
	}
	now := time.Now().UTC()
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	conn.CreatedAt = now
	conn.UpdatedAt = now
	if conn.Status == "" {
		conn.Status = models.StatusInactive
	}
	clone := *conn
	r.items[conn.ID] = &clone
	return nil
}

func (r *MemoryConnectionRepository) GetByID(_ context.Context, id uuid.UUID) (*models.ConnectionConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.items[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *conn
	return &clone, nil
}

func (r *MemoryConnectionRepository) List(_ context.Context, filter ConnectionFilter) ([]*models.ConnectionConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.ConnectionConfig
	for _, conn := range r.items {
		if filter.OwnerUserID != "" && conn.OwnerUserID != filter.OwnerUserID {
			continue
		}
		if filter.Dialect != "" && conn.Dialect != filter.Dialect {
			continue
		}
		if filter.Status != "" && conn.Status != filter.Status {
			continue
		}
		if filter.TeamID != "" && (conn.TeamID == nil || *conn.TeamID != filter.TeamID) {
			continue
		}
		if filter.Search != "" {
			needle := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(conn.Name), needle) &&
				!strings.Contains(strings.ToLower(conn.Description), needle) {
				continue
			}
		}
		clone := *conn
		clone.SecretBlob = ""
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryConnectionRepository) CountByOwner(_ context.Context, ownerUserID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, conn := range r.items {
		if conn.OwnerUserID == ownerUserID {
			count++
		}
	}
	return count, nil
}

func (r *MemoryConnectionRepository) Update(_ context.Context, conn *models.ConnectionConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.items[conn.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	for _, other := range r.items {
		if other.ID != conn.ID && other.OwnerUserID == conn.OwnerUserID && other.Name == conn.Name {
			return apperrors.ErrConflict
		}
	}
	conn.CreatedAt = existing.CreatedAt
	conn.UpdatedAt = time.Now().UTC()
	if conn.SecretBlob == "" {
		conn.SecretBlob = existing.SecretBlob
	}
	clone := *conn
	r.items[conn.ID] = &clone
	return nil
}

func (r *MemoryConnectionRepository) UpdateStatus(_ context.Context, id uuid.UUID, status models.ConnectionStatus, testedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.items[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	conn.Status = status
	if testedAt != nil {
		conn.LastTestedAt = testedAt
	}
	conn.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryConnectionRepository) TouchLastUsed(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.items[id]; ok {
		conn.LastUsedAt = &usedAt
	}
	return nil
}

func (r *MemoryConnectionRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.items, id)
	return nil
}

type MemoryEventRepository struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
}

func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{}
}

func (r *MemoryEventRepository) Insert(_ context.Context, event *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	clone := *event
	r.events = append(r.events, &clone)
	return nil
}

func (r *MemoryEventRepository) ListByConnection(_ context.Context, connectionID uuid.UUID, limit int) ([]*models.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var out []*models.AuditEvent
	for i := len(r.events) - 1; i >= 0 && len(out) < limit; i-- {
		if r.events[i].ConnectionID == connectionID {
			clone := *r.events[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

type MemoryHealthCheckRepository struct {
	mu     sync.RWMutex
	checks []*models.HealthCheck
}

func NewMemoryHealthCheckRepository() *MemoryHealthCheckRepository {
	return &MemoryHealthCheckRepository{}
}

func (r *MemoryHealthCheckRepository) Insert(_ context.Context, check *models.HealthCheck) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if check.ID == uuid.Nil {
		check.ID = uuid.New()
	}
	if check.CheckedAt.IsZero() {
		check.CheckedAt = time.Now().UTC()
	}
	clone := *check
	r.checks = append(r.checks, &clone)
	return nil
}

func (r *MemoryHealthCheckRepository) ListRecent(_ context.Context, connectionID uuid.UUID, limit int) ([]*models.HealthCheck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []*models.HealthCheck
	for i := len(r.checks) - 1; i >= 0 && len(out) < limit; i-- {
		if r.checks[i].ConnectionID == connectionID {
			clone := *r.checks[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *MemoryHealthCheckRepository) ListSince(_ context.Context, since time.Time, limit int) ([]*models.HealthCheck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 500
	}
	var out []*models.HealthCheck
	for i := len(r.checks) - 1; i >= 0 && len(out) < limit; i-- {
		if !r.checks[i].CheckedAt.Before(since) {
			clone := *r.checks[i]
			out = append(out, &clone)
		}
	}
	return out, nil
}

type snapshotRecord struct {
	summary SnapshotSummary
	schema  models.DatabaseSchema
}

type MemorySnapshotRepository struct {
	mu        sync.RWMutex
	snapshots []snapshotRecord
}

func NewMemorySnapshotRepository() *MemorySnapshotRepository {
	return &MemorySnapshotRepository{}
}

func (r *MemorySnapshotRepository) Insert(_ context.Context, schema *models.DatabaseSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshots = append(r.snapshots, snapshotRecord{
		summary: SnapshotSummary{
			ID:           uuid.New(),
			ConnectionID: schema.ConnectionID,
			VersionHash:  schema.VersionHash,
			Counts:       schema.Counts,
			DiscoveredAt: schema.DiscoveredAt,
		},
		schema: *schema,
	})
	return nil
}

func (r *MemorySnapshotRepository) GetLatest(_ context.Context, connectionID uuid.UUID) (*models.DatabaseSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.snapshots) - 1; i >= 0; i-- {
		if r.snapshots[i].summary.ConnectionID == connectionID {
			clone := r.snapshots[i].schema
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *MemorySnapshotRepository) History(_ context.Context, connectionID uuid.UUID, limit int) ([]*SnapshotSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []*SnapshotSummary
	for i := len(r.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if r.snapshots[i].summary.ConnectionID == connectionID {
			clone := r.snapshots[i].summary
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *MemorySnapshotRepository) DeleteByConnection(_ context.Context, connectionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.snapshots[:0]
	for _, rec := range r.snapshots {
		if rec.summary.ConnectionID != connectionID {
			kept = append(kept, rec)
		}
	}
	r.snapshots = kept
	return nil
}

type MemoryChangeRepository struct {
	mu      sync.RWMutex
	changes map[uuid.UUID]*models.SchemaChange
	order   []uuid.UUID
}

func NewMemoryChangeRepository() *MemoryChangeRepository {
	return &MemoryChangeRepository{changes: make(map[uuid.UUID]*models.SchemaChange)}
}

func (r *MemoryChangeRepository) InsertBatch(_ context.Context, changes []*models.SchemaChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, change := range changes {
		if change.ID == uuid.Nil {
			change.ID = uuid.New()
		}
		clone := *change
		r.changes[change.ID] = &clone
		r.order = append(r.order, change.ID)
	}
	return nil
}

func (r *MemoryChangeRepository) GetByID(_ context.Context, id uuid.UUID) (*models.SchemaChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	change, ok := r.changes[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *change
	return &clone, nil
}

func (r *MemoryChangeRepository) List(_ context.Context, filter ChangeFilter) ([]*models.SchemaChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []*models.SchemaChange
	for i := len(r.order) - 1; i >= 0 && len(out) < limit; i-- {
		change := r.changes[r.order[i]]
		if change.ConnectionID != filter.ConnectionID {
			continue
		}
		if filter.Kind != "" && change.Kind != filter.Kind {
			continue
		}
		if filter.Impact != "" && change.Impact != filter.Impact {
			continue
		}
		if !filter.Since.IsZero() && change.DetectedAt.Before(filter.Since) {
			continue
		}
		clone := *change
		out = append(out, &clone)
	}
	return out, nil
}

func (r *MemoryChangeRepository) MarkReviewed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	change, ok := r.changes[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	change.Reviewed = true
	return nil
}

func (r *MemoryChangeRepository) Analytics(_ context.Context, connectionID uuid.UUID) (*ChangeAnalytics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := &ChangeAnalytics{
		ConnectionID: connectionID,
		ByKind:       map[string]int{},
		ByImpact:     map[string]int{},
	}
	for _, change := range r.changes {
		if change.ConnectionID != connectionID {
			continue
		}
		out.Total++
		out.ByKind[string(change.Kind)]++
		out.ByImpact[string(change.Impact)]++
		detected := change.DetectedAt
		if out.FirstSeen == nil || detected.Before(*out.FirstSeen) {
			first := detected
			out.FirstSeen = &first
		}
		if out.LastSeen == nil || detected.After(*out.LastSeen) {
			last := detected
			out.LastSeen = &last
		}
	}
	return out, nil
}
