package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
)

func newConn(owner, name string) *models.ConnectionConfig {
	return &models.ConnectionConfig{
		OwnerUserID: owner,
		Name:        name,
		Dialect:     models.DialectPostgres,
		Host:        "db.internal",
		Port:        5432,
		Database:    "orders",
		Username:    "svc",
		SecretBlob:  "ciphertext",
	}
}

func TestMemoryConnectionRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConnectionRepository()

	conn := newConn("u1", "orders")
	require.NoError(t, repo.Create(ctx, conn))
	require.NotEqual(t, uuid.Nil, conn.ID)

	got, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, "ciphertext", got.SecretBlob)

	got.Description = "orders warehouse"
	require.NoError(t, repo.Update(ctx, got))

	updated, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders warehouse", updated.Description)

	require.NoError(t, repo.Delete(ctx, conn.ID))
	_, err = repo.GetByID(ctx, conn.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryConnectionRepository_NameUniquePerOwner(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConnectionRepository()

	require.NoError(t, repo.Create(ctx, newConn("u1", "orders")))
	assert.ErrorIs(t, repo.Create(ctx, newConn("u1", "orders")), apperrors.ErrConflict)
	// Same name for a different owner is fine.
	assert.NoError(t, repo.Create(ctx, newConn("u2", "orders")))
}

func TestMemoryConnectionRepository_ListFiltersAndHidesSecrets(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConnectionRepository()

	pg := newConn("u1", "orders")
	require.NoError(t, repo.Create(ctx, pg))
	my := newConn("u1", "legacy")
	my.Dialect = models.DialectMySQL
	my.Port = 3306
	require.NoError(t, repo.Create(ctx, my))
	require.NoError(t, repo.Create(ctx, newConn("u2", "other")))

	list, err := repo.List(ctx, ConnectionFilter{OwnerUserID: "u1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, c := range list {
		assert.Empty(t, c.SecretBlob)
	}

	list, err = repo.List(ctx, ConnectionFilter{OwnerUserID: "u1", Dialect: models.DialectMySQL})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "legacy", list[0].Name)

	count, err := repo.CountByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryConnectionRepository_UpdateKeepsSecretWhenEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryConnectionRepository()

	conn := newConn("u1", "orders")
	require.NoError(t, repo.Create(ctx, conn))

	got, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	got.SecretBlob = ""
	got.Description = "touched"
	require.NoError(t, repo.Update(ctx, got))

	after, err := repo.GetByID(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", after.SecretBlob)
}

func TestMemorySnapshotRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySnapshotRepository()
	connID := uuid.New()

	_, err := repo.GetLatest(ctx, connID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	first := &models.DatabaseSchema{
		ConnectionID: connID,
		VersionHash:  "aaa",
		DiscoveredAt: time.Now().Add(-time.Hour),
	}
	second := &models.DatabaseSchema{
		ConnectionID: connID,
		VersionHash:  "bbb",
		DiscoveredAt: time.Now(),
	}
	require.NoError(t, repo.Insert(ctx, first))
	require.NoError(t, repo.Insert(ctx, second))

	latest, err := repo.GetLatest(ctx, connID)
	require.NoError(t, err)
	assert.Equal(t, "bbb", latest.VersionHash)

	history, err := repo.History(ctx, connID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "bbb", history[0].VersionHash)

	require.NoError(t, repo.DeleteByConnection(ctx, connID))
	_, err = repo.GetLatest(ctx, connID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryChangeRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryChangeRepository()
	connID := uuid.New()

	changes := []*models.SchemaChange{
		{
			ConnectionID: connID,
			Kind:         models.ChangeRemoval,
			TargetKind:   models.ObjectTable,
			Identifier:   "public.legacy",
			Impact:       models.ImpactBreaking,
			DetectedAt:   time.Now(),
		},
		{
			ConnectionID: connID,
			Kind:         models.ChangeModification,
			TargetKind:   models.ObjectTable,
			Identifier:   "public.orders",
			Impact:       models.ImpactPotentiallyBreaking,
			Details:      []string{"Removed column: total"},
			DetectedAt:   time.Now(),
		},
	}
	require.NoError(t, repo.InsertBatch(ctx, changes))

	list, err := repo.List(ctx, ChangeFilter{ConnectionID: connID})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	breaking, err := repo.List(ctx, ChangeFilter{ConnectionID: connID, Impact: models.ImpactBreaking})
	require.NoError(t, err)
	require.Len(t, breaking, 1)
	assert.Equal(t, "public.legacy", breaking[0].Identifier)

	require.NoError(t, repo.MarkReviewed(ctx, changes[0].ID))
	got, err := repo.GetByID(ctx, changes[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Reviewed)

	analytics, err := repo.Analytics(ctx, connID)
	require.NoError(t, err)
	assert.Equal(t, 2, analytics.Total)
	assert.Equal(t, 1, analytics.ByKind["removal"])
	assert.Equal(t, 1, analytics.ByImpact["breaking"])
}

func TestMemoryEventAndHealthRepositories(t *testing.T) {
	ctx := context.Background()
	connID := uuid.New()

	events := NewMemoryEventRepository()
	require.NoError(t, events.Insert(ctx, &models.AuditEvent{
		ConnectionID: connID,
		Action:       models.AuditCreated,
		UserID:       "u1",
	}))
	got, err := events.ListByConnection(ctx, connID, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.AuditCreated, got[0].Action)

	checks := NewMemoryHealthCheckRepository()
	require.NoError(t, checks.Insert(ctx, &models.HealthCheck{
		ConnectionID: connID,
		Healthy:      true,
		Elapsed:      25 * time.Millisecond,
	}))
	recent, err := checks.ListRecent(ctx, connID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Healthy)
}
