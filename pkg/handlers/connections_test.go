package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
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

// connectionSurface is the connection CRUD surface wired the way the
// connection binary wires it: memory repositories behind the real registry,
// identity read from the gateway-injected headers.
func connectionSurface(t *testing.T) http.Handler {
	t.Helper()

	vault, err := crypto.NewVault("test-passphrase")
	require.NoError(t, err)
	pools := datasource.NewPoolManager(config.PoolsConfig{}, zap.NewNop())
	t.Cleanup(func() { pools.Shutdown(context.Background()) })

	auditor := audit.NewRecorder(repositories.NewMemoryEventRepository(), zap.NewNop())
	registry := services.NewRegistry(repositories.NewMemoryConnectionRepository(), vault, pools, auditor, 10, zap.NewNop())

	responder := NewResponder("test", "local", zap.NewNop())
	mux := http.NewServeMux()
	NewConnectionHandler(registry, responder, zap.NewNop()).RegisterRoutes(mux)
	return auth.FromHeaders(mux)
}

func doJSON(t *testing.T, h http.Handler, method, path, userID string, body any) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func createBody(name string) map[string]any {
	return map[string]any{
		"name":     name,
		"dialect":  "postgres",
		"host":     "db.internal",
		"port":     5432,
		"database": "orders",
		"username": "app",
		"secret":   "hunter2",
	}
}

func TestConnectionHandler_CreateAndGet(t *testing.T) {
	h := connectionSurface(t)

	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/connections", "u1", createBody("prod"))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	data := env.Data.(map[string]any)
	assert.Equal(t, "prod", data["name"])
	assert.NotContains(t, rec.Body.String(), "hunter2", "secret must never appear in a response")
	assert.NotContains(t, rec.Body.String(), "secret_blob")

	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/connections/"+data["id"].(string), "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data["id"], env.Data.(map[string]any)["id"])
}

func TestConnectionHandler_CreateValidation(t *testing.T) {
	h := connectionSurface(t)

	body := createBody("bad")
	body["port"] = 0
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/connections", "u1", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestConnectionHandler_UnknownFieldRejected(t *testing.T) {
	h := connectionSurface(t)

	body := createBody("strict")
	body["bogus"] = true
	rec, env := doJSON(t, h, http.MethodPost, "/api/v1/connections", "u1", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestConnectionHandler_MissingIdentity(t *testing.T) {
	h := connectionSurface(t)

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/connections", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
}

func TestConnectionHandler_OtherOwnerSeesNotFound(t *testing.T) {
	h := connectionSurface(t)

	_, env := doJSON(t, h, http.MethodPost, "/api/v1/connections", "u1", createBody("prod"))
	id := env.Data.(map[string]any)["id"].(string)

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/connections/"+id, "u2", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestConnectionHandler_List(t *testing.T) {
	h := connectionSurface(t)

	for i := 0; i < 3; i++ {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/connections", "u1", createBody(fmt.Sprintf("conn-%d", i)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	doJSON(t, h, http.MethodPost, "/api/v1/connections", "u2", createBody("other"))

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/connections", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]any)
	assert.Equal(t, float64(3), data["count"], "lists never cross owners")
}

func TestConnectionHandler_DeleteThenGone(t *testing.T) {
	h := connectionSurface(t)

	_, env := doJSON(t, h, http.MethodPost, "/api/v1/connections", "u1", createBody("prod"))
	id := env.Data.(map[string]any)["id"].(string)

	rec, _ := doJSON(t, h, http.MethodDelete, "/api/v1/connections/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = doJSON(t, h, http.MethodGet, "/api/v1/connections/"+id, "u1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestConnectionHandler_BadPathID(t *testing.T) {
	h := connectionSurface(t)

	rec, env := doJSON(t, h, http.MethodGet, "/api/v1/connections/not-a-uuid", "u1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}
