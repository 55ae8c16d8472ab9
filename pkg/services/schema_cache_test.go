package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

func testCache(t *testing.T, cfg config.CacheConfig) *SchemaCache {
	t.Helper()
	c := NewSchemaCache(cfg, nil, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func cachedSchema(name string) *models.DatabaseSchema {
	return &models.DatabaseSchema{
		Objects: []models.SchemaObject{{Kind: models.ObjectTable, Schema: "public", Name: name}},
	}
}

func TestSchemaCache_GetSet(t *testing.T) {
	c := testCache(t, config.CacheConfig{TTL: time.Minute, MaxEntries: 10})
	id := uuid.New()

	require.Nil(t, c.Get(id))
	c.Set(id, cachedSchema("orders"))

	got := c.Get(id)
	require.NotNil(t, got)
	assert.Equal(t, "orders", got.Objects[0].Name)
}

func TestSchemaCache_TTLExpiry(t *testing.T) {
	c := testCache(t, config.CacheConfig{TTL: 10 * time.Millisecond, MaxEntries: 10})
	id := uuid.New()
	c.Set(id, cachedSchema("orders"))

	require.NotNil(t, c.Get(id))
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, c.Get(id), "expired entry must not be served")
}

func TestSchemaCache_EvictsLeastRecentlyHitFifth(t *testing.T) {
	c := testCache(t, config.CacheConfig{TTL: time.Minute, MaxEntries: 10})

	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
		c.Set(ids[i], cachedSchema(fmt.Sprintf("t%d", i)))
		// Distinct lastHitAt ordering: earlier entries are colder.
		time.Sleep(time.Millisecond)
	}

	// Warm everything except the first two.
	for _, id := range ids[2:] {
		require.NotNil(t, c.Get(id))
	}

	// Inserting at capacity evicts ceil(0.2*10) = 2 coldest entries.
	c.Set(uuid.New(), cachedSchema("fresh"))

	assert.Nil(t, c.Get(ids[0]))
	assert.Nil(t, c.Get(ids[1]))
	for _, id := range ids[2:] {
		assert.NotNil(t, c.Get(id))
	}
	assert.Equal(t, 9, c.Stats().Entries)
}

func TestSchemaCache_Invalidate(t *testing.T) {
	c := testCache(t, config.CacheConfig{TTL: time.Minute, MaxEntries: 10})
	id := uuid.New()
	c.Set(id, cachedSchema("orders"))

	assert.True(t, c.Invalidate(id))
	assert.False(t, c.Invalidate(id), "second invalidate finds nothing")
	assert.Nil(t, c.Get(id))
}

func TestSchemaCache_Stats(t *testing.T) {
	c := testCache(t, config.CacheConfig{TTL: time.Minute, MaxEntries: 10})
	id := uuid.New()

	c.Get(id) // miss
	c.Set(id, cachedSchema("orders"))
	c.Get(id) // hit
	c.Get(id) // hit

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
	assert.Greater(t, stats.ApproxBytes, int64(0))
	assert.False(t, stats.Oldest.IsZero())
}

func TestSchemaCache_SetOverwriteDoesNotEvict(t *testing.T) {
	c := testCache(t, config.CacheConfig{TTL: time.Minute, MaxEntries: 2})
	a, b := uuid.New(), uuid.New()
	c.Set(a, cachedSchema("a"))
	c.Set(b, cachedSchema("b"))

	// Overwriting an existing key at capacity must not evict anything.
	c.Set(a, cachedSchema("a2"))

	assert.NotNil(t, c.Get(a))
	assert.NotNil(t, c.Get(b))
}
