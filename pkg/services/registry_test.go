package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/audit"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/crypto"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
)

func testVault(t *testing.T) *crypto.Vault {
	t.Helper()
	v, err := crypto.NewVault("test-passphrase")
	require.NoError(t, err)
	return v
}

func testRegistry(t *testing.T) (*Registry, *repositories.MemoryConnectionRepository) {
	t.Helper()
	repo := repositories.NewMemoryConnectionRepository()
	pools := datasource.NewPoolManager(config.PoolsConfig{}, zap.NewNop())
	t.Cleanup(func() { pools.Shutdown(context.Background()) })
	auditor := audit.NewRecorder(repositories.NewMemoryEventRepository(), zap.NewNop())
	return NewRegistry(repo, testVault(t), pools, auditor, 2, zap.NewNop()), repo
}

func userCtx(id string) *models.AuthContext {
	return &models.AuthContext{UserID: id, Role: models.RoleUser}
}

func validInput(name string) *CreateInput {
	return &CreateInput{
		Name:     name,
		Dialect:  models.DialectPostgres,
		Host:     "db.internal",
		Port:     5432,
		Database: "orders",
		Username: "app",
		Secret:   "hunter2",
	}
}

func TestRegistry_CreateSealsSecret(t *testing.T) {
	reg, repo := testRegistry(t)
	ac := userCtx("u1")

	conn, err := reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, conn.SecretBlob, "response must not carry the blob")

	stored, err := repo.GetByID(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.SecretBlob)
	assert.NotContains(t, stored.SecretBlob, "hunter2")
}

func TestRegistry_CreateEnforcesLimit(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")

	_, err := reg.Create(context.Background(), ac, validInput("one"), RequestMeta{})
	require.NoError(t, err)
	_, err = reg.Create(context.Background(), ac, validInput("two"), RequestMeta{})
	require.NoError(t, err)

	_, err = reg.Create(context.Background(), ac, validInput("three"), RequestMeta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConnectionLimit)

	// Another owner is unaffected.
	_, err = reg.Create(context.Background(), userCtx("u2"), validInput("one"), RequestMeta{})
	assert.NoError(t, err)
}

func TestRegistry_CreateDuplicateName(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")

	_, err := reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.NoError(t, err)
	_, err = reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))
}

func TestRegistry_GetHidesOtherOwners(t *testing.T) {
	reg, _ := testRegistry(t)
	conn, err := reg.Create(context.Background(), userCtx("u1"), validInput("prod"), RequestMeta{})
	require.NoError(t, err)

	_, err = reg.Get(context.Background(), userCtx("u2"), conn.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err), "existence must be hidden")

	// Admins see everything.
	admin := &models.AuthContext{UserID: "root", Role: models.RoleAdmin}
	_, err = reg.Get(context.Background(), admin, conn.ID)
	assert.NoError(t, err)
}

func TestRegistry_ResolveDecrypted(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")
	conn, err := reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.NoError(t, err)

	_, secret, err := reg.ResolveDecrypted(context.Background(), ac, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestRegistry_UpdatePreservesSecret(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")
	conn, err := reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.NoError(t, err)

	desc := "primary orders database"
	_, err = reg.Update(context.Background(), ac, conn.ID, &UpdateInput{Description: &desc}, RequestMeta{})
	require.NoError(t, err)

	_, secret, err := reg.ResolveDecrypted(context.Background(), ac, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret, "metadata update must not clear the secret")
}

func TestRegistry_UpdateReseal(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")
	conn, err := reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.NoError(t, err)

	newSecret := "correct-horse"
	_, err = reg.Update(context.Background(), ac, conn.ID, &UpdateInput{Secret: &newSecret}, RequestMeta{})
	require.NoError(t, err)

	_, secret, err := reg.ResolveDecrypted(context.Background(), ac, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "correct-horse", secret)
}

func TestRegistry_DeleteThenNotFound(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")
	conn, err := reg.Create(context.Background(), ac, validInput("prod"), RequestMeta{})
	require.NoError(t, err)

	require.NoError(t, reg.Delete(context.Background(), ac, conn.ID, RequestMeta{}))
	_, err = reg.Get(context.Background(), ac, conn.ID)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestRegistry_ListNeverCrossesOwners(t *testing.T) {
	reg, _ := testRegistry(t)
	_, err := reg.Create(context.Background(), userCtx("u1"), validInput("mine"), RequestMeta{})
	require.NoError(t, err)
	_, err = reg.Create(context.Background(), userCtx("u2"), validInput("theirs"), RequestMeta{})
	require.NoError(t, err)

	// The filter owner is overwritten with the caller's id.
	list, err := reg.List(context.Background(), userCtx("u1"), repositories.ConnectionFilter{OwnerUserID: "u2"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mine", list[0].Name)
}

func TestRegistry_ListSearch(t *testing.T) {
	reg, _ := testRegistry(t)
	ac := userCtx("u1")
	in := validInput("orders-prod")
	in.Description = "primary orders database"
	_, err := reg.Create(context.Background(), ac, in, RequestMeta{})
	require.NoError(t, err)
	_, err = reg.Create(context.Background(), ac, validInput("analytics"), RequestMeta{})
	require.NoError(t, err)

	list, err := reg.List(context.Background(), ac, repositories.ConnectionFilter{Search: "orders"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "orders-prod", list[0].Name)
}
