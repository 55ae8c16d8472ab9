package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/audit"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/auth"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/crypto"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
)

// testingSurface wires the testing routes over in-memory stores.
func testingSurface(t *testing.T) http.Handler {
	t.Helper()

	vault, err := crypto.NewVault("test-passphrase")
	require.NoError(t, err)
	pools := datasource.NewPoolManager(config.PoolsConfig{}, zap.NewNop())
	t.Cleanup(func() { pools.Shutdown(context.Background()) })

	auditor := audit.NewRecorder(repositories.NewMemoryEventRepository(), zap.NewNop())
	registry := services.NewRegistry(repositories.NewMemoryConnectionRepository(), vault, pools, auditor, 10, zap.NewNop())
	tester := services.NewTester(registry, repositories.NewMemoryHealthCheckRepository(),
		services.NewMemoryResultStore(0), config.TestingConfig{}, config.TunnelConfig{}, nil, zap.NewNop())

	responder := NewResponder("test", "local", zap.NewNop())
	mux := http.NewServeMux()
	NewTestingHandler(tester, responder, zap.NewNop()).RegisterRoutes(mux)
	return auth.FromHeaders(mux)
}

func TestTestingHandler_BatchAllFailed(t *testing.T) {
	h := testingSurface(t)

	// Items with neither a connection id nor a config fail individually.
	body := map[string]any{"items": []map[string]any{{}, {}}}
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/testing/connections/batch", "u1", body)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "CONNECTION_TEST_FAILED", env.Error.Code)

	details := env.Error.Details.(map[string]any)
	assert.Equal(t, float64(2), details["total"], "per-item results ride in the details")
	assert.Len(t, details["results"], 2)
}

func TestTestingHandler_BatchEmpty(t *testing.T) {
	h := testingSurface(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/testing/connections/batch", "u1",
		map[string]any{"items": []map[string]any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}
