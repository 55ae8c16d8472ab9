package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/tunnel"
)

// TestingHandler exposes connection probing over HTTP.
type TestingHandler struct {
	tester    *services.Tester
	responder *Responder
	logger    *zap.Logger
}

// NewTestingHandler creates the handler.
func NewTestingHandler(tester *services.Tester, responder *Responder, logger *zap.Logger) *TestingHandler {
	return &TestingHandler{tester: tester, responder: responder, logger: logger}
}

// RegisterRoutes mounts the testing surface on the mux.
func (h *TestingHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/testing/connections", h.TestConfig)
	mux.HandleFunc("POST /api/v1/testing/connections/batch", h.Batch)
	mux.HandleFunc("POST /api/v1/testing/connections/ssh-tunnel", h.TestViaTunnel)
	mux.HandleFunc("POST /api/v1/testing/connections/{id}", h.TestByID)
	mux.HandleFunc("GET /api/v1/testing/results/{id}", h.Result)
}

// testConfigRequest carries an unsaved config plus its plaintext secret.
// The secret never appears in the response or any log line.
type testConfigRequest struct {
	Config models.ConnectionConfig `json:"config"`
	Secret string                  `json:"secret"`
}

func (h *TestingHandler) TestConfig(w http.ResponseWriter, r *http.Request) {
	var req testConfigRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	result := h.tester.TestConfig(r.Context(), &req.Config, req.Secret)
	h.responder.OK(w, r, result)
}

func (h *TestingHandler) TestByID(w http.ResponseWriter, r *http.Request) {
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
	result, err := h.tester.TestByID(r.Context(), ac, id, requestMeta(r))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, result)
}

type batchRequest struct {
	Items []services.BatchItem `json:"items"`
}

func (h *TestingHandler) Batch(w http.ResponseWriter, r *http.Request) {
	ac, err := authContext(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	var req batchRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	results, err := h.tester.Batch(r.Context(), ac, req.Items, requestMeta(r))
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	// A batch with no surviving item is itself a failure; per-item results
	// still ride along in the error details.
	if succeeded == 0 {
		h.responder.Error(w, r, apperrors.New(apperrors.KindTestFailed, "all batch items failed").
			WithDetails(map[string]any{
				"results": results,
				"total":   len(results),
			}))
		return
	}
	h.responder.OK(w, r, map[string]any{
		"results":   results,
		"total":     len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

type tunnelTestRequest struct {
	Config models.ConnectionConfig `json:"config"`
	Secret string                  `json:"secret"`
	Tunnel tunnel.Spec             `json:"tunnel"`
}

func (h *TestingHandler) TestViaTunnel(w http.ResponseWriter, r *http.Request) {
	var req tunnelTestRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	result, err := h.tester.TestViaTunnel(r.Context(), &req.Config, req.Secret, &req.Tunnel)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, result)
}

func (h *TestingHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	result, err := h.tester.Result(r.Context(), id)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}
	h.responder.OK(w, r, result)
}
