package handlers

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
)

// ChangesHandler exposes change detection jobs and change history.
type ChangesHandler struct {
	detector  *services.ChangeDetector
	changes   repositories.ChangeRepository
	registry  *services.Registry
	responder *Responder
	logger    *zap.Logger
}

// NewChangesHandler creates the handler. changes may be nil.
func NewChangesHandler(detector *services.ChangeDetector, changes repositories.ChangeRepository, registry *services.Registry, responder *Responder, logger *zap.Logger) *ChangesHandler {
	return &ChangesHandler{
		detector:  detector,
		changes:   changes,
		registry:  registry,
		responder: responder,
		logger:    logger,
	}
}

// RegisterRoutes mounts the change detection surface on the mux.
func (h *ChangesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/changes/start", h.Start)
	mux.HandleFunc("POST /api/v1/changes/stop", h.Stop)
	mux.HandleFunc("POST /api/v1/changes/trigger/{id}", h.Trigger)
	mux.HandleFunc("GET /api/v1/changes/status", h.Status)
	mux.HandleFunc("GET /api/v1/changes/{id}", h.ListByConnection)
	mux.HandleFunc("POST /api/v1/changes/{changeId}/review", h.Review)
	mux.HandleFunc("GET /api/v1/analytics/changes/{id}", h.Analytics)
}

type jobRequest struct {
	ConnectionID uuid.UUID `json:"connection_id"`
}

func (h *ChangesHandler) Start(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	var req jobRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if req.ConnectionID == uuid.Nil {
		h.responder.ErrorKind(w, r, apperrors.KindValidation, "connection_id is required")
		return
	}
	if err := h.detector.Register(r.Context(), ac, req.ConnectionID); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"connection_id": req.ConnectionID,
		"monitoring":    true,
	})
}

func (h *ChangesHandler) Stop(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	var req jobRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if req.ConnectionID == uuid.Nil {
		h.responder.ErrorKind(w, r, apperrors.KindValidation, "connection_id is required")
		return
	}
	if _, err := h.registry.Get(r.Context(), ac, req.ConnectionID); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	stopped := h.detector.Unregister(req.ConnectionID)
	h.responder.OK(w, r, map[string]any{
		"connection_id": req.ConnectionID,
		"monitoring":    false,
		"was_running":   stopped,
	})
}

func (h *ChangesHandler) Trigger(w http.ResponseWriter, r *http.Request) {
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
	if _, err := h.registry.Get(r.Context(), ac, id); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if err := h.detector.TriggerNow(r.Context(), id); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"connection_id": id,
		"triggered":     true,
	})
}

// Status lists jobs. Non-admin callers only see jobs they registered.
func (h *ChangesHandler) Status(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	jobs := h.detector.Status()
	if !ac.Role.AtLeast(models.RoleAdmin) {
		visible := jobs[:0]
		for _, job := range jobs {
			if _, err := h.registry.Get(r.Context(), ac, job.ConnectionID); err == nil {
				visible = append(visible, job)
			}
		}
		jobs = visible
	}
	h.responder.OK(w, r, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// ListByConnection returns a connection's recorded changes, newest first.
func (h *ChangesHandler) ListByConnection(w http.ResponseWriter, r *http.Request) {
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
	if _, err := h.registry.Get(r.Context(), ac, id); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if h.changes == nil {
		h.responder.OK(w, r, map[string]any{"changes": []any{}, "count": 0})
		return
	}

	q := r.URL.Query()
	filter := repositories.ChangeFilter{
		ConnectionID: id,
		Kind:         models.ChangeKind(q.Get("kind")),
		Impact:       models.ChangeImpact(q.Get("impact")),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}

	changes, err := h.changes.List(r.Context(), filter)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"changes": changes,
		"count":   len(changes),
	})
}

// Review marks one change as acknowledged.
func (h *ChangesHandler) Review(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	changeID, err := pathID(r, "changeId")
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if h.changes == nil {
		h.responder.ErrorKind(w, r, apperrors.KindNotFound, "change not found")
		return
	}
	change, err := h.changes.GetByID(r.Context(), changeID)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if _, err := h.registry.Get(r.Context(), ac, change.ConnectionID); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if err := h.changes.MarkReviewed(r.Context(), changeID); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"change_id": changeID,
		"reviewed":  true,
	})
}

// Analytics aggregates a connection's change history.
func (h *ChangesHandler) Analytics(w http.ResponseWriter, r *http.Request) {
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
	if _, err := h.registry.Get(r.Context(), ac, id); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if h.changes == nil {
		h.responder.ErrorKind(w, r, apperrors.KindNotFound, "no change history for this connection")
		return
	}
	analytics, err := h.changes.Analytics(r.Context(), id)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, analytics)
}
