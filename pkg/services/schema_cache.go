package services

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// cacheEntry is one cached schema with its hit bookkeeping.
type cacheEntry struct {
	schema      *models.DatabaseSchema
	approxBytes int
	storedAt    time.Time
	expiresAt   time.Time
	hits        int64
	lastHitAt   time.Time
}

// CacheStats is the monitoring view of the cache.
type CacheStats struct {
	Entries     int       `json:"entries"`
	ApproxBytes int64     `json:"approx_bytes"`
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	Oldest      time.Time `json:"oldest,omitempty"`
	Newest      time.Time `json:"newest,omitempty"`
}

// SchemaCache is the in-process TTL cache for discovered schemas. When a
// Set would exceed MaxEntries it evicts the least-recently-hit fifth of
// the cache in one pass.
type SchemaCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*cacheEntry

	ttl        time.Duration
	maxEntries int
	hits       int64
	misses     int64

	logger  *zap.Logger
	metrics *metrics.Metrics

	done     chan struct{}
	stopOnce sync.Once
}

// NewSchemaCache creates the cache and starts its expiry sweeper.
func NewSchemaCache(cfg config.CacheConfig, m *metrics.Metrics, logger *zap.Logger) *SchemaCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	c := &SchemaCache{
		entries:    make(map[uuid.UUID]*cacheEntry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		logger:     logger.Named("schema-cache"),
		metrics:    m,
		done:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Get returns the cached schema or nil on miss. Expired entries are
// dropped lazily.
func (c *SchemaCache) Get(id uuid.UUID) *models.DatabaseSchema {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if ok && entry.expiresAt.Before(now) {
		delete(c.entries, id)
		ok = false
	}
	if !ok {
		c.misses++
		if c.metrics != nil {
			c.metrics.CacheMisses.Inc()
		}
		return nil
	}
	entry.hits++
	entry.lastHitAt = now
	c.hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return entry.schema
}

// Set stores a schema under its connection id with the configured TTL.
func (c *SchemaCache) Set(id uuid.UUID, schema *models.DatabaseSchema) {
	now := time.Now()
	entry := &cacheEntry{
		schema:      schema,
		approxBytes: approxSize(schema),
		storedAt:    now,
		expiresAt:   now.Add(c.ttl),
		lastHitAt:   now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[id]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[id] = entry
}

// Invalidate drops the entry for a connection. Returns whether one existed.
func (c *SchemaCache) Invalidate(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	delete(c.entries, id)
	return ok
}

// Stats returns the monitoring view.
func (c *SchemaCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	for _, entry := range c.entries {
		stats.ApproxBytes += int64(entry.approxBytes)
		if stats.Oldest.IsZero() || entry.storedAt.Before(stats.Oldest) {
			stats.Oldest = entry.storedAt
		}
		if entry.storedAt.After(stats.Newest) {
			stats.Newest = entry.storedAt
		}
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// Close stops the sweeper.
func (c *SchemaCache) Close() {
	c.stopOnce.Do(func() { close(c.done) })
}

// evictLocked removes ceil(0.2 * N) least-recently-hit entries in one
// pass. Caller holds the write lock.
func (c *SchemaCache) evictLocked() {
	n := int(math.Ceil(0.2 * float64(len(c.entries))))
	if n <= 0 {
		n = 1
	}

	type victim struct {
		id        uuid.UUID
		lastHitAt time.Time
	}
	victims := make([]victim, 0, len(c.entries))
	for id, entry := range c.entries {
		victims = append(victims, victim{id: id, lastHitAt: entry.lastHitAt})
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].lastHitAt.Before(victims[j].lastHitAt) })
	if n > len(victims) {
		n = len(victims)
	}
	for _, v := range victims[:n] {
		delete(c.entries, v.id)
	}
	if c.metrics != nil {
		c.metrics.CacheEvictions.Add(float64(n))
	}
	c.logger.Debug("evicted cache entries", zap.Int("count", n))
}

func (c *SchemaCache) sweepLoop() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, entry := range c.entries {
				if entry.expiresAt.Before(now) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}

// approxSize estimates an entry's footprint by its JSON length.
func approxSize(schema *models.DatabaseSchema) int {
	data, err := json.Marshal(schema)
	if err != nil {
		return 0
	}
	return len(data)
}
