package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
)

// SchemaHandler exposes schema discovery, search, and cache management.
type SchemaHandler struct {
	discoverer *services.Discoverer
	cache      *services.SchemaCache
	snapshots  repositories.SnapshotRepository
	registry   *services.Registry
	publisher  services.Publisher
	responder  *Responder
	logger     *zap.Logger
}

// NewSchemaHandler creates the handler. snapshots and publisher may be nil.
func NewSchemaHandler(discoverer *services.Discoverer, cache *services.SchemaCache, snapshots repositories.SnapshotRepository, registry *services.Registry, publisher services.Publisher, responder *Responder, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{
		discoverer: discoverer,
		cache:      cache,
		snapshots:  snapshots,
		registry:   registry,
		publisher:  publisher,
		responder:  responder,
		logger:     logger,
	}
}

// RegisterRoutes mounts the schema surface on the mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/schemas/discover", h.Discover)
	mux.HandleFunc("POST /api/v1/schemas/search", h.Search)
	mux.HandleFunc("GET /api/v1/schemas/connections/{id}", h.GetByConnection)
	mux.HandleFunc("DELETE /api/v1/schemas/cache/{id}", h.InvalidateCache)
	mux.HandleFunc("GET /api/v1/schemas/cache/stats", h.CacheStats)
	mux.HandleFunc("GET /api/v1/history/{id}", h.History)
}

func (h *SchemaHandler) Discover(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	var req services.DiscoverRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if req.ConnectionID == uuid.Nil {
		h.responder.ErrorKind(w, r, apperrors.KindValidation, "connection_id is required")
		return
	}

	schema, cached, err := h.discoverer.Discover(r.Context(), ac, req)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"schema": schema,
		"cached": cached,
	})
}

type searchRequest struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	Term         string    `json:"term"`
}

// searchMatch is one object matching a search term, with the columns that
// matched when the object name itself did not.
type searchMatch struct {
	Object         *models.SchemaObject `json:"object"`
	MatchedColumns []string             `json:"matched_columns,omitempty"`
}

// Search finds objects by singularized, case-folded term match over names
// and column names. "Orders" finds an "order" table and vice versa.
func (h *SchemaHandler) Search(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	var req searchRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if req.ConnectionID == uuid.Nil || strings.TrimSpace(req.Term) == "" {
		h.responder.ErrorKind(w, r, apperrors.KindValidation, "connection_id and term are required")
		return
	}

	schema, err := h.loadSchema(r, ac, req.ConnectionID)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	term := normalizeTerm(req.Term)
	matches := make([]searchMatch, 0)
	for i := range schema.Objects {
		obj := &schema.Objects[i]
		if strings.Contains(normalizeTerm(obj.Name), term) {
			matches = append(matches, searchMatch{Object: obj})
			continue
		}
		var cols []string
		for _, col := range obj.Columns {
			if strings.Contains(normalizeTerm(col.Name), term) {
				cols = append(cols, col.Name)
			}
		}
		if len(cols) > 0 {
			matches = append(matches, searchMatch{Object: obj, MatchedColumns: cols})
		}
	}

	h.responder.OK(w, r, map[string]any{
		"connection_id": req.ConnectionID,
		"term":          req.Term,
		"matches":       matches,
		"count":         len(matches),
	})
}

// normalizeTerm folds case and singularizes so plural and singular forms
// of a name match each other.
func normalizeTerm(s string) string {
	return inflection.Singular(strings.ToLower(strings.TrimSpace(s)))
}

func (h *SchemaHandler) GetByConnection(w http.ResponseWriter, r *http.Request) {
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
	schema, err := h.loadSchema(r, ac, id)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, schema)
}

func (h *SchemaHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
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
	// Only callers who can see the connection may drop its cache entry.
	if _, err := h.registry.Get(r.Context(), ac, id); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	existed := h.cache.Invalidate(id)
	if existed && h.publisher != nil {
		h.publisher.Publish(services.TopicCacheInvalidated, id, map[string]string{
			"invalidated_by": ac.UserID,
		})
	}
	h.responder.OK(w, r, map[string]any{
		"connection_id": id,
		"invalidated":   existed,
	})
}

func (h *SchemaHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.responder.OK(w, r, h.cache.Stats())
}

// History lists snapshot summaries for a connection, newest first.
func (h *SchemaHandler) History(w http.ResponseWriter, r *http.Request) {
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
	if h.snapshots == nil {
		h.responder.OK(w, r, map[string]any{"snapshots": []any{}, "count": 0})
		return
	}
	history, err := h.snapshots.History(r.Context(), id, 50)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, map[string]any{
		"snapshots": history,
		"count":     len(history),
	})
}

// loadSchema serves the cached schema when present, else the latest
// persisted snapshot. It never triggers a live discovery.
func (h *SchemaHandler) loadSchema(r *http.Request, ac *models.AuthContext, id uuid.UUID) (*models.DatabaseSchema, error) {
	if _, err := h.registry.Get(r.Context(), ac, id); err != nil {
		return nil, err
	}
	if schema := h.cache.Get(id); schema != nil {
		return schema, nil
	}
	if h.snapshots != nil {
		schema, err := h.snapshots.GetLatest(r.Context(), id)
		if err == nil {
			return schema, nil
		}
		if apperrors.KindOf(err) != apperrors.KindNotFound {
			return nil, err
		}
	}
	return nil, apperrors.New(apperrors.KindNotFound, "no schema discovered for this connection yet")
}
