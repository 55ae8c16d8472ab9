package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

const probeTimeout = 5 * time.Second

// ServiceHealth is the outcome of one upstream health probe.
type ServiceHealth struct {
	Service   string `json:"service"`
	Healthy   bool   `json:"healthy"`
	Status    int    `json:"status,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CheckHealth probes the named upstreams' /health endpoints concurrently.
// Unmounted names are skipped. Healthy means every probed service answered
// 2xx within the probe timeout.
func (p *Proxy) CheckHealth(ctx context.Context, services []string) (bool, []ServiceHealth) {
	results := make([]ServiceHealth, 0, len(services))
	type indexed struct {
		idx int
		res ServiceHealth
	}
	ch := make(chan indexed, len(services))

	g, gctx := errgroup.WithContext(ctx)
	n := 0
	for _, name := range services {
		u, ok := p.upstreams[name]
		if !ok {
			continue
		}
		idx := n
		n++
		g.Go(func() error {
			ch <- indexed{idx: idx, res: p.probe(gctx, u)}
			return nil
		})
	}
	_ = g.Wait()
	close(ch)

	for item := range ch {
		results = append(results, item.res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Service < results[j].Service })

	healthy := true
	for _, r := range results {
		if !r.Healthy {
			healthy = false
			break
		}
	}
	return healthy, results
}

func (p *Proxy) probe(ctx context.Context, u *upstream) ServiceHealth {
	start := time.Now()
	result := ServiceHealth{Service: u.name}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	target := *u.base
	target.Path = singleJoin(u.base.Path, "/health")
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	resp, err := p.client.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer resp.Body.Close()

	result.Status = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Healthy = true
	} else {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}
	return result
}

// AllServices returns every mounted service name.
func (p *Proxy) AllServices() []string {
	names := make([]string, 0, len(p.upstreams))
	for name := range p.upstreams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthHandler probes every mounted upstream: 200 when all are healthy,
// 503 with per-service detail otherwise.
func (p *Proxy) HealthHandler(w http.ResponseWriter, r *http.Request) {
	p.healthResponse(w, r, p.AllServices())
}

// ReadyHandler probes only the critical upstreams the gateway cannot serve
// without.
func (p *Proxy) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	p.healthResponse(w, r, criticalServices)
}

// LiveHandler reports process liveness.
func (p *Proxy) LiveHandler(w http.ResponseWriter, r *http.Request) {
	p.responder.OK(w, r, map[string]string{"status": "alive"})
}

func (p *Proxy) healthResponse(w http.ResponseWriter, r *http.Request, services []string) {
	healthy, results := p.CheckHealth(r.Context(), services)
	payload := map[string]any{
		"healthy":  healthy,
		"services": results,
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	p.responder.JSON(w, r, status, payload)
}
