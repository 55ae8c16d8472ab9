package datasource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

// fakePool counts closes so tests can assert eviction behavior.
type fakePool struct {
	closed atomic.Bool
}

func (p *fakePool) Ping(context.Context) error { return nil }
func (p *fakePool) Stats() PoolStats           { return PoolStats{Total: 1, Idle: 1} }
func (p *fakePool) Close()                     { p.closed.Store(true) }

// fakeAdapter opens fakePools and records how many were opened.
type fakeAdapter struct {
	mu     sync.Mutex
	opened []*fakePool
	fail   error
}

func (a *fakeAdapter) Dialect() models.Dialect { return models.DialectPostgres }

func (a *fakeAdapter) Probe(context.Context, *models.ConnectionConfig, string) (*ProbeInfo, error) {
	return &ProbeInfo{Version: "fake"}, nil
}

func (a *fakeAdapter) OpenPool(context.Context, *models.ConnectionConfig, string) (Pool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return nil, a.fail
	}
	p := &fakePool{}
	a.opened = append(a.opened, p)
	return p, nil
}

func (a *fakeAdapter) Discover(context.Context, Pool, DiscoverOptions) (*models.DatabaseSchema, error) {
	return &models.DatabaseSchema{}, nil
}

func (a *fakeAdapter) Classify(error) models.TestErrorCode { return models.TestErrUnknown }

func (a *fakeAdapter) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.opened)
}

func installFakeAdapter(t *testing.T) *fakeAdapter {
	t.Helper()
	adapter := &fakeAdapter{}
	Register(AdapterInfo{Dialect: models.DialectPostgres, DisplayName: "Fake"}, adapter)
	return adapter
}

func poolConfig() config.PoolsConfig {
	return config.PoolsConfig{
		GlobalMax:       50,
		PerUserMax:      10,
		IdleTimeout:     5 * time.Minute,
		CleanupInterval: time.Hour, // sweeps are triggered manually in tests
	}
}

func testConn(owner string) *models.ConnectionConfig {
	return &models.ConnectionConfig{
		ID:          uuid.New(),
		OwnerUserID: owner,
		Name:        "test",
		Dialect:     models.DialectPostgres,
		Host:        "db.internal",
		Port:        5432,
		Database:    "orders",
	}
}

func TestPoolManager_AcquireReusesPool(t *testing.T) {
	adapter := installFakeAdapter(t)
	m := NewPoolManager(poolConfig(), zap.NewNop())
	defer m.Shutdown(context.Background())

	cfg := testConn("u1")
	lease1, err := m.Acquire(context.Background(), cfg, "secret")
	require.NoError(t, err)
	lease2, err := m.Acquire(context.Background(), cfg, "secret")
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.openCount(), "same key must share one pool")
	assert.Same(t, lease1.Pool(), lease2.Pool())
	assert.Equal(t, 1, m.Size())

	lease1.Release()
	lease2.Release()
	lease2.Release() // idempotent

	stats := m.Stats()
	require.Len(t, stats, 1)
	for _, entry := range stats {
		assert.Equal(t, 0, entry.InUse)
	}
}

func TestPoolManager_PerUserCapEvictsIdle(t *testing.T) {
	adapter := installFakeAdapter(t)
	cfg := poolConfig()
	cfg.PerUserMax = 2
	m := NewPoolManager(cfg, zap.NewNop())
	defer m.Shutdown(context.Background())

	first, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	first.Release() // idle, evictable

	second, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	defer second.Release()

	// Third acquire for the same owner evicts the idle first pool.
	third, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	defer third.Release()

	assert.Equal(t, 3, adapter.openCount())
	assert.Equal(t, 2, m.Size())
	assert.True(t, adapter.opened[0].closed.Load(), "idle pool should be closed on eviction")
	assert.False(t, adapter.opened[1].closed.Load(), "busy pool must never be evicted")
}

func TestPoolManager_ExhaustedWhenAllBusy(t *testing.T) {
	installFakeAdapter(t)
	cfg := poolConfig()
	cfg.PerUserMax = 1
	m := NewPoolManager(cfg, zap.NewNop())
	defer m.Shutdown(context.Background())

	lease, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	defer lease.Release()

	_, err = m.Acquire(context.Background(), testConn("u1"), "s")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPoolExhausted, apperrors.KindOf(err))
}

func TestPoolManager_GlobalCap(t *testing.T) {
	installFakeAdapter(t)
	cfg := poolConfig()
	cfg.GlobalMax = 2
	m := NewPoolManager(cfg, zap.NewNop())
	defer m.Shutdown(context.Background())

	a, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	defer a.Release()
	b, err := m.Acquire(context.Background(), testConn("u2"), "s")
	require.NoError(t, err)
	defer b.Release()

	_, err = m.Acquire(context.Background(), testConn("u3"), "s")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindPoolExhausted, apperrors.KindOf(err))
}

func TestPoolManager_DropClosesPool(t *testing.T) {
	adapter := installFakeAdapter(t)
	m := NewPoolManager(poolConfig(), zap.NewNop())
	defer m.Shutdown(context.Background())

	cfg := testConn("u1")
	lease, err := m.Acquire(context.Background(), cfg, "s")
	require.NoError(t, err)
	lease.Release()

	m.Drop(cfg.ID)
	assert.Equal(t, 0, m.Size())
	assert.True(t, adapter.opened[0].closed.Load())
}

func TestPoolManager_IdleSweep(t *testing.T) {
	adapter := installFakeAdapter(t)
	cfg := poolConfig()
	cfg.IdleTimeout = time.Millisecond
	m := NewPoolManager(cfg, zap.NewNop())
	defer m.Shutdown(context.Background())

	idle, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	idle.Release()

	busy, err := m.Acquire(context.Background(), testConn("u2"), "s")
	require.NoError(t, err)
	defer busy.Release()

	time.Sleep(5 * time.Millisecond)
	m.sweepIdle()

	assert.Equal(t, 1, m.Size())
	assert.True(t, adapter.opened[0].closed.Load())
	assert.False(t, adapter.opened[1].closed.Load())
}

func TestPoolManager_OpenFailureDoesNotLeakReservation(t *testing.T) {
	adapter := installFakeAdapter(t)
	adapter.fail = errors.New("connection refused")
	m := NewPoolManager(poolConfig(), zap.NewNop())
	defer m.Shutdown(context.Background())

	cfg := testConn("u1")
	_, err := m.Acquire(context.Background(), cfg, "s")
	require.Error(t, err)
	assert.Equal(t, 0, m.Size())

	// The slot is reusable once the backend recovers.
	adapter.fail = nil
	lease, err := m.Acquire(context.Background(), cfg, "s")
	require.NoError(t, err)
	lease.Release()
}

func TestPoolManager_ShutdownFailsFast(t *testing.T) {
	adapter := installFakeAdapter(t)
	m := NewPoolManager(poolConfig(), zap.NewNop())

	lease, err := m.Acquire(context.Background(), testConn("u1"), "s")
	require.NoError(t, err)
	lease.Release()

	require.NoError(t, m.Shutdown(context.Background()))
	assert.True(t, adapter.opened[0].closed.Load())

	_, err = m.Acquire(context.Background(), testConn("u2"), "s")
	assert.ErrorIs(t, err, apperrors.ErrShutdown)
}
