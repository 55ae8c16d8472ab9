package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
)

// MonitoringHandler exposes pool occupancy and health-check history.
type MonitoringHandler struct {
	registry  *services.Registry
	pools     *datasource.PoolManager
	healths   repositories.HealthCheckRepository
	responder *Responder
	logger    *zap.Logger
}

// NewMonitoringHandler creates the handler. healths may be nil.
func NewMonitoringHandler(registry *services.Registry, pools *datasource.PoolManager, healths repositories.HealthCheckRepository, responder *Responder, logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		registry:  registry,
		pools:     pools,
		healths:   healths,
		responder: responder,
		logger:    logger,
	}
}

// RegisterRoutes mounts the monitoring surface on the mux.
func (h *MonitoringHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/monitoring/pools", h.Pools)
	mux.HandleFunc("GET /api/v1/monitoring/connections/{id}/stats", h.ConnectionStats)
	mux.HandleFunc("GET /api/v1/monitoring/health-checks", h.HealthChecks)
}

// Pools reports every live pool. Non-admin callers only see their own.
func (h *MonitoringHandler) Pools(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	stats := h.pools.Stats()
	visible := make(map[string]datasource.PoolEntryStats, len(stats))
	for key, entry := range stats {
		if entry.Owner == ac.UserID || ac.Role.AtLeast(models.RoleAdmin) {
			visible[key] = entry
		}
	}
	h.responder.OK(w, r, map[string]any{
		"pools": visible,
		"count": len(visible),
	})
}

// ConnectionStats reports one connection's pool entry and recent checks.
func (h *MonitoringHandler) ConnectionStats(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	conn, err := h.registry.Get(r.Context(), ac, id)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	payload := map[string]any{
		"connection_id":  conn.ID,
		"status":         conn.Status,
		"last_tested_at": conn.LastTestedAt,
		"last_used_at":   conn.LastUsedAt,
	}
	for _, entry := range h.pools.Stats() {
		if entry.ConnectionID == id {
			payload["pool"] = entry
			break
		}
	}
	if h.healths != nil {
		checks, err := h.healths.ListRecent(r.Context(), id, 20)
		if err != nil {
			h.logger.Warn("failed to load health checks",
				zap.String("connection_id", id.String()),
				zap.Error(err))
		} else {
			payload["recent_checks"] = checks
		}
	}
	h.responder.OK(w, r, payload)
}

// HealthChecks lists recent checks platform-wide (admin) or for one of the
// caller's connections via ?connection_id.
func (h *MonitoringHandler) HealthChecks(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if h.healths == nil {
		h.responder.OK(w, r, map[string]any{"checks": []any{}, "count": 0})
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	var checks []*models.HealthCheck
	if raw := r.URL.Query().Get("connection_id"); raw != "" {
		connID, err := uuid.Parse(raw)
		if err != nil {
			h.responder.Error(w, r, apperrors.Wrap(apperrors.KindValidation, "invalid connection_id parameter", err))
			return
		}
		// The registry check enforces ownership before history is exposed.
		if _, err := h.registry.Get(r.Context(), ac, connID); err != nil {
			h.responder.Error(w, r, err)
			return
		}
		checks, err = h.healths.ListRecent(r.Context(), connID, limit)
		if err != nil {
			h.responder.Error(w, r, err)
			return
		}
	} else {
		if !ac.Role.AtLeast(models.RoleAdmin) {
			h.responder.ErrorKind(w, r, apperrors.KindAuthorization, "platform-wide health checks require admin")
			return
		}
		since := time.Now().Add(-24 * time.Hour)
		checks, err = h.healths.ListSince(r.Context(), since, limit)
		if err != nil {
			h.responder.Error(w, r, err)
			return
		}
	}
	h.responder.OK(w, r, map[string]any{
		"checks": checks,
		"count":  len(checks),
	})
}
