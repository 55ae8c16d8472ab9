package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
)

// Publisher fans events out to subscribed websocket sessions. Implemented
// by realtime.Hub; nil disables publishing.
type Publisher interface {
	Publish(topic string, connectionID uuid.UUID, payload any)
}

// Fan-out topics.
const (
	TopicSchemaChange     = "schema:change"
	TopicSchemaDiscovered = "schema:discovered"
	TopicCacheInvalidated = "schema:cache_invalidated"
)

// JobStatus is the monitoring view of one change detection job.
type JobStatus struct {
	ConnectionID      uuid.UUID `json:"connection_id"`
	LastChecked       time.Time `json:"last_checked"`
	LastHash          string    `json:"last_hash,omitempty"`
	Checks            int       `json:"checks"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Running           bool      `json:"running"`
}

// jobState wraps the model job with its run guard.
type jobState struct {
	mu      sync.Mutex
	running bool
	job     models.ChangeDetectionJob
	auth    *models.AuthContext
}

// ChangeDetector periodically re-discovers registered connections and
// diffs consecutive snapshots. Jobs are processed in small batches; a job
// never runs two checks concurrently; after MaxConsecutiveJobErrors
// failures a job is unregistered.
type ChangeDetector struct {
	discoverer *Discoverer
	changes    repositories.ChangeRepository
	publisher  Publisher
	cfg        config.ChangesConfig
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu   sync.Mutex
	jobs map[uuid.UUID]*jobState

	done     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
}

// NewChangeDetector creates the detector; Start launches the scheduler.
func NewChangeDetector(discoverer *Discoverer, changes repositories.ChangeRepository, publisher Publisher, cfg config.ChangesConfig, m *metrics.Metrics, logger *zap.Logger) *ChangeDetector {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	return &ChangeDetector{
		discoverer: discoverer,
		changes:    changes,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("change-detection"),
		metrics:    m,
		jobs:       make(map[uuid.UUID]*jobState),
		done:       make(chan struct{}),
	}
}

// Start launches the scheduler loop.
func (d *ChangeDetector) Start() {
	d.loop.Add(1)
	go func() {
		defer d.loop.Done()
		ticker := time.NewTicker(d.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.done:
				return
			case <-ticker.C:
				d.tick(context.Background())
			}
		}
	}()
	d.logger.Info("change detection scheduler started",
		zap.Duration("interval", d.cfg.RefreshInterval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)
}

// Stop halts the scheduler and waits for the loop to exit.
func (d *ChangeDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.loop.Wait()
}

// Register starts monitoring a connection on behalf of its owner.
func (d *ChangeDetector) Register(ctx context.Context, ac *models.AuthContext, connectionID uuid.UUID) error {
	// Verify access before registering.
	if _, err := d.discoverer.registry.Get(ctx, ac, connectionID); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.jobs[connectionID]; exists {
		return apperrors.New(apperrors.KindConflict, "change detection already running for this connection")
	}
	d.jobs[connectionID] = &jobState{
		job: models.ChangeDetectionJob{
			ConnectionID: connectionID,
			OwnerUserID:  ac.UserID,
		},
		auth: ac,
	}
	d.logger.Info("change detection registered",
		zap.String("connection_id", connectionID.String()),
	)
	return nil
}

// Unregister stops monitoring a connection.
func (d *ChangeDetector) Unregister(connectionID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.jobs[connectionID]
	delete(d.jobs, connectionID)
	return ok
}

// TriggerNow runs one check immediately, outside the scheduler cadence.
func (d *ChangeDetector) TriggerNow(ctx context.Context, connectionID uuid.UUID) error {
	d.mu.Lock()
	state, ok := d.jobs[connectionID]
	d.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "no change detection job for this connection")
	}
	d.check(ctx, state)
	return nil
}

// Status lists all registered jobs.
func (d *ChangeDetector) Status() []JobStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]JobStatus, 0, len(d.jobs))
	for _, state := range d.jobs {
		state.mu.Lock()
		out = append(out, JobStatus{
			ConnectionID:      state.job.ConnectionID,
			LastChecked:       state.job.LastChecked,
			LastHash:          state.job.LastHash,
			Checks:            state.job.Checks,
			ConsecutiveErrors: state.job.ConsecutiveErrors,
			Running:           state.running,
		})
		state.mu.Unlock()
	}
	return out
}

// tick processes all jobs in batches of BatchSize.
func (d *ChangeDetector) tick(ctx context.Context) {
	d.mu.Lock()
	states := make([]*jobState, 0, len(d.jobs))
	for _, state := range d.jobs {
		states = append(states, state)
	}
	d.mu.Unlock()

	sem := make(chan struct{}, d.cfg.BatchSize)
	var wg sync.WaitGroup
	for _, state := range states {
		wg.Add(1)
		sem <- struct{}{}
		go func(state *jobState) {
			defer wg.Done()
			defer func() { <-sem }()
			d.check(ctx, state)
		}(state)
	}
	wg.Wait()
}

// check runs one discovery + diff for a job. Re-entrant calls while a
// check is in flight are dropped.
func (d *ChangeDetector) check(ctx context.Context, state *jobState) {
	state.mu.Lock()
	if state.running {
		state.mu.Unlock()
		return
	}
	state.running = true
	connectionID := state.job.ConnectionID
	lastHash := state.job.LastHash
	auth := state.auth
	state.mu.Unlock()

	defer func() {
		state.mu.Lock()
		state.running = false
		state.mu.Unlock()
	}()

	// Keep the previous snapshot for diffing before discovery replaces it.
	previous := d.discoverer.Cached(connectionID)

	schema, _, err := d.discoverer.Discover(ctx, auth, DiscoverRequest{
		ConnectionID: connectionID,
		ForceRefresh: true,
	})

	state.mu.Lock()
	state.job.LastChecked = time.Now().UTC()
	state.job.Checks++

	if err != nil {
		state.job.ConsecutiveErrors++
		errs := state.job.ConsecutiveErrors
		state.mu.Unlock()
		d.logger.Warn("change detection check failed",
			zap.String("connection_id", connectionID.String()),
			zap.Int("consecutive_errors", errs),
			zap.Error(err),
		)
		// d.mu and state.mu are never held together: Status takes d.mu
		// then state.mu, so ejecting under state.mu would invert the order.
		if errs >= models.MaxConsecutiveJobErrors {
			d.mu.Lock()
			delete(d.jobs, connectionID)
			d.mu.Unlock()
			d.logger.Warn("change detection job unregistered after repeated failures",
				zap.String("connection_id", connectionID.String()),
			)
		}
		return
	}
	state.job.ConsecutiveErrors = 0

	if lastHash == "" {
		// First observation establishes the baseline without events.
		state.job.LastHash = schema.VersionHash
		state.mu.Unlock()
		return
	}
	if lastHash == schema.VersionHash {
		state.mu.Unlock()
		return
	}
	state.job.LastHash = schema.VersionHash
	state.mu.Unlock()

	changes := DiffSchemas(previous, schema)
	if len(changes) == 0 {
		return
	}

	if d.changes != nil {
		if err := d.changes.InsertBatch(ctx, changes); err != nil {
			d.logger.Warn("failed to persist schema changes",
				zap.String("connection_id", connectionID.String()),
				zap.Error(err),
			)
		}
	}
	for _, change := range changes {
		if d.metrics != nil {
			d.metrics.SchemaChanges.WithLabelValues(string(change.Impact)).Inc()
		}
		if d.publisher != nil {
			d.publisher.Publish(TopicSchemaChange, connectionID, change)
		}
	}
	if d.publisher != nil {
		d.publisher.Publish(TopicSchemaDiscovered, connectionID, map[string]any{
			"version_hash": schema.VersionHash,
			"changes":      len(changes),
			"counts":       schema.Counts,
		})
	}
	d.logger.Info("schema changes detected",
		zap.String("connection_id", connectionID.String()),
		zap.Int("changes", len(changes)),
	)
}

// DiffSchemas compares two snapshots by object identifier. Removals are
// breaking; additions and modifications are potentially breaking until
// reviewed, with human-readable detail lines on modifications.
func DiffSchemas(prev, next *models.DatabaseSchema) []*models.SchemaChange {
	if prev == nil || next == nil {
		return nil
	}
	now := time.Now().UTC()
	connectionID := next.ConnectionID

	oldByID := make(map[string]*models.SchemaObject, len(prev.Objects))
	for i := range prev.Objects {
		oldByID[prev.Objects[i].Identifier()] = &prev.Objects[i]
	}
	newByID := make(map[string]*models.SchemaObject, len(next.Objects))
	for i := range next.Objects {
		newByID[next.Objects[i].Identifier()] = &next.Objects[i]
	}

	var changes []*models.SchemaChange
	for i := range next.Objects {
		obj := &next.Objects[i]
		id := obj.Identifier()
		oldObj, existed := oldByID[id]
		if !existed {
			changes = append(changes, &models.SchemaChange{
				ID:           uuid.New(),
				ConnectionID: connectionID,
				Kind:         models.ChangeAddition,
				TargetKind:   obj.Kind,
				Identifier:   id,
				New:          obj,
				Impact:       models.ImpactPotentiallyBreaking,
				DetectedAt:   now,
			})
			continue
		}
		if details := diffObjects(oldObj, obj); len(details) > 0 {
			changes = append(changes, &models.SchemaChange{
				ID:           uuid.New(),
				ConnectionID: connectionID,
				Kind:         models.ChangeModification,
				TargetKind:   obj.Kind,
				Identifier:   id,
				Old:          oldObj,
				New:          obj,
				Impact:       models.ImpactPotentiallyBreaking,
				Details:      details,
				DetectedAt:   now,
			})
		}
	}
	for i := range prev.Objects {
		obj := &prev.Objects[i]
		if _, kept := newByID[obj.Identifier()]; !kept {
			changes = append(changes, &models.SchemaChange{
				ID:           uuid.New(),
				ConnectionID: connectionID,
				Kind:         models.ChangeRemoval,
				TargetKind:   obj.Kind,
				Identifier:   obj.Identifier(),
				Old:          obj,
				Impact:       models.ImpactBreaking,
				DetectedAt:   now,
			})
		}
	}
	return changes
}

// diffObjects returns human-readable detail lines for column, constraint,
// and index differences. Empty means no structural change.
func diffObjects(prev, next *models.SchemaObject) []string {
	var details []string

	oldCols := make(map[string]*models.Column, len(prev.Columns))
	for i := range prev.Columns {
		oldCols[prev.Columns[i].Name] = &prev.Columns[i]
	}
	newCols := make(map[string]*models.Column, len(next.Columns))
	for i := range next.Columns {
		newCols[next.Columns[i].Name] = &next.Columns[i]
	}

	for i := range next.Columns {
		col := &next.Columns[i]
		oldCol, existed := oldCols[col.Name]
		if !existed {
			details = append(details, fmt.Sprintf("Added column: %s (%s)", col.Name, col.Type))
			continue
		}
		if oldCol.Type != col.Type {
			details = append(details, fmt.Sprintf("Changed type of %s: %s -> %s", col.Name, oldCol.Type, col.Type))
		}
		if oldCol.Nullable != col.Nullable {
			if col.Nullable {
				details = append(details, fmt.Sprintf("Column %s became nullable", col.Name))
			} else {
				details = append(details, fmt.Sprintf("Column %s became not null", col.Name))
			}
		}
		if !equalStringPtr(oldCol.Default, col.Default) {
			details = append(details, fmt.Sprintf("Changed default of %s", col.Name))
		}
	}
	for i := range prev.Columns {
		if _, kept := newCols[prev.Columns[i].Name]; !kept {
			details = append(details, fmt.Sprintf("Removed column: %s", prev.Columns[i].Name))
		}
	}

	if !jsonEqual(prev.Constraints, next.Constraints) {
		details = append(details, "Constraints changed")
	}
	if !jsonEqual(prev.Indexes, next.Indexes) {
		details = append(details, "Indexes changed")
	}
	return details
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}
