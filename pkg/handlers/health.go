package handlers

import (
	"net/http"
	"time"
)

// HealthHandler answers the per-service health trio plus ping. Backend
// services report themselves healthy whenever they can serve; upstream
// dependency health is the gateway's concern.
type HealthHandler struct {
	service   string
	version   string
	started   time.Time
	responder *Responder
	checks    []ReadinessCheck
}

// ReadinessCheck is one named dependency probe for /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func() error
}

// NewHealthHandler creates the handler for one service binary.
func NewHealthHandler(service, version string, responder *Responder, checks ...ReadinessCheck) *HealthHandler {
	return &HealthHandler{
		service:   service,
		version:   version,
		started:   time.Now(),
		responder: responder,
		checks:    checks,
	}
}

// RegisterRoutes mounts the health surface on the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/ready", h.Ready)
	mux.HandleFunc("GET /health/live", h.Live)
	mux.HandleFunc("GET /ping", h.Ping)
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.responder.OK(w, r, map[string]any{
		"service": h.service,
		"status":  "healthy",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	type checkResult struct {
		Name    string `json:"name"`
		Healthy bool   `json:"healthy"`
		Error   string `json:"error,omitempty"`
	}
	results := make([]checkResult, 0, len(h.checks))
	ready := true
	for _, check := range h.checks {
		res := checkResult{Name: check.Name, Healthy: true}
		if err := check.Check(); err != nil {
			res.Healthy = false
			res.Error = err.Error()
			ready = false
		}
		results = append(results, res)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	h.responder.JSON(w, r, status, map[string]any{
		"service": h.service,
		"ready":   ready,
		"checks":  results,
	})
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	h.responder.OK(w, r, map[string]string{"status": "alive"})
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.responder.OK(w, r, map[string]string{"message": "pong"})
}
