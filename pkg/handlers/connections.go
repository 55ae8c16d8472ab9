package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/auth"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/ratelimit"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
)

// ConnectionHandler exposes the connection registry over HTTP.
type ConnectionHandler struct {
	registry  *services.Registry
	responder *Responder
	logger    *zap.Logger
}

// NewConnectionHandler creates the handler.
func NewConnectionHandler(registry *services.Registry, responder *Responder, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{registry: registry, responder: responder, logger: logger}
}

// RegisterRoutes mounts the CRUD surface on the mux.
func (h *ConnectionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/connections", h.Create)
	mux.HandleFunc("GET /api/v1/connections", h.List)
	mux.HandleFunc("GET /api/v1/connections/{id}", h.Get)
	mux.HandleFunc("PUT /api/v1/connections/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/connections/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/connections/{id}/events", h.Events)
	mux.HandleFunc("GET /api/v1/connections/dialects", h.Dialects)
}

// Dialects lists the supported database dialects.
func (h *ConnectionHandler) Dialects(w http.ResponseWriter, r *http.Request) {
	h.responder.OK(w, r, map[string]any{
		"dialects": datasource.RegisteredAdapters(),
	})
}

// requestMeta captures the caller's address for audit trails.
func requestMeta(r *http.Request) services.RequestMeta {
	return services.RequestMeta{
		IP:        ratelimit.ClientIP(r),
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// authContext pulls the identity the gateway injected. Routes are mounted
// behind RequireIdentity, so a miss is a wiring bug, not a user error.
func authContext(r *http.Request) (*models.AuthContext, error) {
	ac, ok := auth.GetAuthContext(r.Context())
	if !ok {
		return nil, apperrors.New(apperrors.KindAuthentication, "authentication required")
	}
	return ac, nil
}

// pathID parses the {id} path parameter as a UUID.
func pathID(r *http.Request, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(param))
	if err != nil {
		return uuid.Nil, apperrors.Wrap(apperrors.KindValidation, "invalid "+param+" path parameter", err)
	}
	return id, nil
}

func (h *ConnectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	var in services.CreateInput
	if err := DecodeJSON(r, &in); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	conn, err := h.registry.Create(r.Context(), ac, &in, requestMeta(r))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.Created(w, r, conn)
}

func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	filter := repositories.ConnectionFilter{
		TeamID:  q.Get("team_id"),
		Dialect: models.Dialect(q.Get("dialect")),
		Status:  models.ConnectionStatus(q.Get("status")),
		Search:  q.Get("search"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	list, err := h.registry.List(r.Context(), ac, filter)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"connections": list,
		"count":       len(list),
	})
}

func (h *ConnectionHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	h.responder.OK(w, r, conn)
}

func (h *ConnectionHandler) Update(w http.ResponseWriter, r *http.Request) {
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
	var in services.UpdateInput
	if err := DecodeJSON(r, &in); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	conn, err := h.registry.Update(r.Context(), ac, id, &in, requestMeta(r))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, conn)
}

func (h *ConnectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.registry.Delete(r.Context(), ac, id, requestMeta(r)); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]string{"status": "deleted"})
}

// Events lists the audit trail for a connection the caller can access.
func (h *ConnectionHandler) Events(w http.ResponseWriter, r *http.Request) {
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
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := h.registry.Events(r.Context(), ac, id, limit)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"events": events,
		"count":  len(events),
	})
}
