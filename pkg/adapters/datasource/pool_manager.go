package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/logging"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// managedPool is one registered backend pool and its bookkeeping.
type managedPool struct {
	key          string
	connectionID uuid.UUID
	owner        string
	dialect      models.Dialect
	pool         Pool

	mu           sync.Mutex
	inUse        int
	lastActivity time.Time
}

func (mp *managedPool) touch() {
	mp.mu.Lock()
	mp.lastActivity = time.Now()
	mp.mu.Unlock()
}

// idleSince returns the last activity time if the pool is idle, or false.
func (mp *managedPool) idleSince() (time.Time, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.inUse > 0 {
		return time.Time{}, false
	}
	return mp.lastActivity, true
}

// Lease is a borrowed pool. Callers must Release when done; Release is
// idempotent.
type Lease struct {
	managed *managedPool
	once    sync.Once
}

// Pool returns the borrowed backend pool.
func (l *Lease) Pool() Pool { return l.managed.pool }

// Release returns the pool to the manager.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.managed.mu.Lock()
		l.managed.inUse--
		l.managed.lastActivity = time.Now()
		l.managed.mu.Unlock()
	})
}

// PoolEntryStats is the monitoring view of one managed pool.
type PoolEntryStats struct {
	ConnectionID uuid.UUID      `json:"connection_id"`
	Owner        string         `json:"owner"`
	Dialect      models.Dialect `json:"dialect"`
	InUse        int            `json:"in_use"`
	LastActivity time.Time      `json:"last_activity"`
	Backend      PoolStats      `json:"backend"`
}

// PoolManager multiplexes backend pools across owners and connections with
// global and per-owner caps. Key = "{owner}:{connection_id}"; at most one
// pool per key at all times.
type PoolManager struct {
	mu    sync.RWMutex
	pools map[string]*managedPool

	cfg      config.PoolsConfig
	logger   *zap.Logger
	stopped  bool
	stopChan chan struct{}
	stopOnce sync.Once
	sweeps   sync.WaitGroup

	// onEvict is invoked after the sweeper closes a pool. Used for metrics.
	onEvict func()
}

// NewPoolManager creates a pool manager and starts its idle sweeper.
func NewPoolManager(cfg config.PoolsConfig, logger *zap.Logger) *PoolManager {
	if cfg.GlobalMax <= 0 {
		cfg.GlobalMax = 50
	}
	if cfg.PerUserMax <= 0 {
		cfg.PerUserMax = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	m := &PoolManager{
		pools:    make(map[string]*managedPool),
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
	m.sweeps.Add(1)
	go m.sweepLoop()
	return m
}

// SetEvictionHook installs a callback fired when the sweeper evicts a pool.
func (m *PoolManager) SetEvictionHook(fn func()) { m.onEvict = fn }

func poolKey(owner string, connectionID uuid.UUID) string {
	return owner + ":" + connectionID.String()
}

// Acquire borrows the pool for (owner, connection), opening it on first
// use. The secret is the decrypted credential passed straight to the
// dialect adapter.
func (m *PoolManager) Acquire(ctx context.Context, cfg *models.ConnectionConfig, secret string) (*Lease, error) {
	key := poolKey(cfg.OwnerUserID, cfg.ID)

	// Fast path: pool already open.
	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return nil, apperrors.ErrShutdown
	}
	mp, exists := m.pools[key]
	m.mu.RUnlock()
	if exists && mp != nil {
		mp.mu.Lock()
		mp.inUse++
		mp.lastActivity = time.Now()
		mp.mu.Unlock()
		return &Lease{managed: mp}, nil
	}

	adapter, err := Get(cfg.Dialect)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindValidation, "unsupported dialect", err)
	}

	// Reserve the slot before opening so concurrent acquires for the same
	// key converge on one pool.
	if err := m.reserve(cfg.OwnerUserID, key); err != nil {
		return nil, err
	}

	pool, err := adapter.OpenPool(ctx, cfg, secret)
	if err != nil {
		m.unreserve(key)
		m.logger.Warn("failed to open backend pool",
			zap.String("connection_id", cfg.ID.String()),
			zap.String("dialect", string(cfg.Dialect)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	mp = &managedPool{
		key:          key,
		connectionID: cfg.ID,
		owner:        cfg.OwnerUserID,
		dialect:      cfg.Dialect,
		pool:         pool,
		inUse:        1,
		lastActivity: time.Now(),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		pool.Close()
		return nil, apperrors.ErrShutdown
	}
	// Another goroutine may have filled the reservation through a racing
	// Drop + Acquire; keep the registered pool and discard ours.
	if existing, ok := m.pools[key]; ok && existing != nil {
		m.mu.Unlock()
		pool.Close()
		existing.mu.Lock()
		existing.inUse++
		existing.lastActivity = time.Now()
		existing.mu.Unlock()
		return &Lease{managed: existing}, nil
	}
	m.pools[key] = mp
	m.mu.Unlock()

	m.logger.Debug("opened backend pool",
		zap.String("connection_id", cfg.ID.String()),
		zap.String("dialect", string(cfg.Dialect)),
	)
	return &Lease{managed: mp}, nil
}

// reserve enforces the caps, evicting idle pools to make room. A nil
// placeholder marks the slot while the backend pool opens.
func (m *PoolManager) reserve(owner, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return apperrors.ErrShutdown
	}
	if _, ok := m.pools[key]; ok {
		// Raced with another acquire; the caller will find the pool on its
		// double-check.
		return nil
	}

	if len(m.pools) >= m.cfg.GlobalMax {
		if !m.evictIdleLocked("") {
			return apperrors.New(apperrors.KindPoolExhausted,
				fmt.Sprintf("global pool limit of %d reached", m.cfg.GlobalMax))
		}
	}

	ownerCount := 0
	for _, mp := range m.pools {
		if mp != nil && mp.owner == owner {
			ownerCount++
		}
	}
	if ownerCount >= m.cfg.PerUserMax {
		if !m.evictIdleLocked(owner) {
			return apperrors.New(apperrors.KindPoolExhausted,
				fmt.Sprintf("per-user pool limit of %d reached", m.cfg.PerUserMax))
		}
	}

	m.pools[key] = nil
	return nil
}

func (m *PoolManager) unreserve(key string) {
	m.mu.Lock()
	if mp, ok := m.pools[key]; ok && mp == nil {
		delete(m.pools, key)
	}
	m.mu.Unlock()
}

// evictIdleLocked closes the least-recently-active idle pool, scoped to one
// owner when owner is non-empty. Busy pools are never evicted. Caller holds
// the write lock; the pool is closed inline since no I/O waits on it.
func (m *PoolManager) evictIdleLocked(owner string) bool {
	var victim *managedPool
	var victimIdle time.Time
	for _, mp := range m.pools {
		if mp == nil {
			continue
		}
		if owner != "" && mp.owner != owner {
			continue
		}
		idle, ok := mp.idleSince()
		if !ok {
			continue
		}
		if victim == nil || idle.Before(victimIdle) {
			victim, victimIdle = mp, idle
		}
	}
	if victim == nil {
		return false
	}
	delete(m.pools, victim.key)
	victim.pool.Close()
	m.logger.Debug("evicted idle pool to make room",
		zap.String("connection_id", victim.connectionID.String()),
		zap.String("owner", victim.owner),
	)
	return true
}

// Drop closes and removes every pool for a connection, regardless of
// owner. Used when a connection's target or credentials change.
func (m *PoolManager) Drop(connectionID uuid.UUID) {
	var victims []*managedPool

	m.mu.Lock()
	for key, mp := range m.pools {
		if mp != nil && mp.connectionID == connectionID {
			delete(m.pools, key)
			victims = append(victims, mp)
		}
	}
	m.mu.Unlock()

	for _, mp := range victims {
		mp.pool.Close()
	}
	if len(victims) > 0 {
		m.logger.Info("dropped pools for connection",
			zap.String("connection_id", connectionID.String()),
			zap.Int("count", len(victims)),
		)
	}
}

// Stats returns the monitoring view of every open pool, keyed by
// "{owner}:{connection_id}".
func (m *PoolManager) Stats() map[string]PoolEntryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]PoolEntryStats, len(m.pools))
	for key, mp := range m.pools {
		if mp == nil {
			continue
		}
		mp.mu.Lock()
		entry := PoolEntryStats{
			ConnectionID: mp.connectionID,
			Owner:        mp.owner,
			Dialect:      mp.dialect,
			InUse:        mp.inUse,
			LastActivity: mp.lastActivity,
		}
		mp.mu.Unlock()
		entry.Backend = mp.pool.Stats()
		out[key] = entry
	}
	return out
}

// Size returns the number of open pools.
func (m *PoolManager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

func (m *PoolManager) sweepLoop() {
	defer m.sweeps.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

// sweepIdle collects expired idle pools under the lock and closes them
// after dropping it, so a slow Close never blocks acquires.
func (m *PoolManager) sweepIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)
	var drained []*managedPool

	m.mu.Lock()
	for key, mp := range m.pools {
		if mp == nil {
			continue
		}
		if idle, ok := mp.idleSince(); ok && idle.Before(cutoff) {
			delete(m.pools, key)
			drained = append(drained, mp)
		}
	}
	m.mu.Unlock()

	for _, mp := range drained {
		mp.pool.Close()
		if m.onEvict != nil {
			m.onEvict()
		}
		m.logger.Debug("closed idle pool",
			zap.String("connection_id", mp.connectionID.String()),
			zap.String("owner", mp.owner),
		)
	}
}

// Shutdown stops the sweeper, fails new acquires fast, and closes all
// pools concurrently, bounded by ctx.
func (m *PoolManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	pools := make([]*managedPool, 0, len(m.pools))
	for _, mp := range m.pools {
		if mp != nil {
			pools = append(pools, mp)
		}
	}
	m.pools = make(map[string]*managedPool)
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopChan) })
	m.sweeps.Wait()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, mp := range pools {
			wg.Add(1)
			go func(mp *managedPool) {
				defer wg.Done()
				mp.pool.Close()
			}(mp)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
