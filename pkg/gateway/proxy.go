// Package gateway implements the reverse proxy at the heart of the API
// gateway: prefix routing to upstream services, identity header injection,
// per-upstream circuit breaking, and transport error translation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/auth"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/breaker"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/handlers"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/middleware"
)

// Upstream service names.
const (
	ServiceUser          = "user"
	ServiceConnection    = "connection"
	ServiceSchema        = "schema"
	ServiceView          = "view"
	ServiceVersioning    = "versioning"
	ServiceDocumentation = "documentation"
)

// routeTable maps the first path segment after /api/v1/ to the upstream
// service that owns it.
var routeTable = map[string]string{
	"auth":        ServiceUser,
	"users":       ServiceUser,
	"admin":       ServiceUser,
	"connections": ServiceConnection,
	"testing":     ServiceConnection,
	"monitoring":  ServiceConnection,
	"schemas":     ServiceSchema,
	"changes":     ServiceSchema,
	"history":     ServiceSchema,
	"analytics":   ServiceSchema,
	"views":       ServiceView,
	"public":      ServiceView,
	"versions":    ServiceVersioning,
	"docs":        ServiceDocumentation,
}

// criticalServices must be healthy for the gateway to report ready.
var criticalServices = []string{ServiceUser, ServiceConnection, ServiceSchema}

// hop-by-hop headers stripped in both directions per RFC 9110.
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailer", "Transfer-Encoding", "Upgrade",
}

type upstream struct {
	name    string
	base    *url.URL
	breaker *breaker.Breaker
}

// Proxy forwards /api/v1/* requests to the owning upstream service.
type Proxy struct {
	upstreams map[string]*upstream
	client    *http.Client
	timeout   time.Duration
	version   string
	responder *handlers.Responder
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewProxy builds the proxy from the gateway's upstream table. Services
// with an empty URL are not mounted.
func NewProxy(cfg config.GatewayConfig, brCfg breaker.Config, responder *handlers.Responder, version string, logger *zap.Logger, m *metrics.Metrics) (*Proxy, error) {
	serviceURLs := map[string]string{
		ServiceUser:          cfg.UserServiceURL,
		ServiceConnection:    cfg.ConnectionServiceURL,
		ServiceSchema:        cfg.SchemaServiceURL,
		ServiceView:          cfg.ViewServiceURL,
		ServiceVersioning:    cfg.VersioningServiceURL,
		ServiceDocumentation: cfg.DocumentationServiceURL,
	}

	ups := make(map[string]*upstream)
	for name, raw := range serviceURLs {
		if raw == "" {
			continue
		}
		base, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid URL for %s service: %w", name, err)
		}
		ups[name] = &upstream{
			name:    name,
			base:    base,
			breaker: breaker.New(name, brCfg),
		}
	}

	return &Proxy{
		upstreams: ups,
		client: &http.Client{
			// Per-request deadlines come from the context; redirects are
			// passed back to the caller untouched.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:   cfg.UpstreamTimeout,
		version:   version,
		responder: responder,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Mounted returns the mounted upstreams keyed by service name.
func (p *Proxy) Mounted() map[string]*url.URL {
	out := make(map[string]*url.URL, len(p.upstreams))
	for name, u := range p.upstreams {
		out[name] = u.base
	}
	return out
}

// Breaker returns the breaker for a mounted service, or nil.
func (p *Proxy) Breaker(service string) *breaker.Breaker {
	if u, ok := p.upstreams[service]; ok {
		return u.breaker
	}
	return nil
}

// ServeHTTP resolves the owning upstream from the path and forwards.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := routePrefix(r.URL.Path)
	service, known := routeTable[prefix]
	if !known {
		p.responder.ErrorKind(w, r, apperrors.KindNotFound, "no such route")
		return
	}
	u, mounted := p.upstreams[service]
	if !mounted {
		p.responder.ErrorKind(w, r, apperrors.KindBadGateway, fmt.Sprintf("%s service is not registered", service))
		return
	}
	p.forward(w, r, u)
}

// routePrefix extracts the first segment after /api/v1/.
func routePrefix(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return ""
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, u *upstream) {
	start := time.Now()

	body, contentLength, err := p.outboundBody(r)
	if err != nil {
		p.responder.Error(w, r, err)
		return
	}

	if allowed, err := u.breaker.Allow(); !allowed {
		p.observe(u.name, r.Method, http.StatusServiceUnavailable, start)
		p.responder.Error(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	out, err := p.buildRequest(ctx, r, u, body, contentLength)
	if err != nil {
		p.responder.Error(w, r, apperrors.Wrap(apperrors.KindInternal, "failed to build upstream request", err))
		return
	}

	resp, err := p.client.Do(out)
	if err != nil && retryable(r.Method, err) && ctx.Err() == nil {
		p.logger.Debug("retrying idempotent request after network error",
			zap.String("service", u.name),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		out, buildErr := p.buildRequest(ctx, r, u, body, contentLength)
		if buildErr == nil {
			resp, err = p.client.Do(out)
		}
	}
	if err != nil {
		u.breaker.RecordFailure()
		p.observeBreaker(u)
		p.observe(u.name, r.Method, 0, start)
		p.logger.Warn("upstream request failed",
			zap.String("service", u.name),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		p.responder.Error(w, r, translateTransportError(u.name, err))
		return
	}
	defer resp.Body.Close()

	u.breaker.RecordSuccess()
	p.observeBreaker(u)
	p.observe(u.name, r.Method, resp.StatusCode, start)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("response copy interrupted",
			zap.String("service", u.name),
			zap.Error(err))
	}
}

// outboundBody reads and, for JSON mutations, re-serializes the request
// body. Returns the bytes to send and the content length (-1 when the
// original stream should be used untouched).
func (p *Proxy) outboundBody(r *http.Request) ([]byte, int64, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, -1, nil
	}
	if r.ContentLength == 0 || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return nil, -1, nil
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, 0, apperrors.New(apperrors.KindValidation, "request body too large")
		}
		return nil, 0, apperrors.Wrap(apperrors.KindValidation, "failed to read request body", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, int64(len(raw)), nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.KindValidation, "request body is not valid JSON", err)
	}
	rewritten, err := json.Marshal(parsed)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.KindInternal, "failed to serialize request body", err)
	}
	return rewritten, int64(len(rewritten)), nil
}

func (p *Proxy) buildRequest(ctx context.Context, r *http.Request, u *upstream, body []byte, contentLength int64) (*http.Request, error) {
	target := *u.base
	target.Path = singleJoin(u.base.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	var reader io.Reader
	if contentLength >= 0 {
		reader = bytes.NewReader(body)
	} else if r.Body != nil {
		reader = r.Body
	}

	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	copyHeaders(out.Header, r.Header)
	if contentLength >= 0 {
		out.ContentLength = contentLength
		out.Header.Set("Content-Length", strconv.FormatInt(contentLength, 10))
	}
	p.injectIdentity(out, r)
	return out, nil
}

// injectIdentity strips any caller-supplied identity headers and stamps the
// gateway's own, derived from the verified auth context.
func (p *Proxy) injectIdentity(out *http.Request, r *http.Request) {
	for _, h := range []string{
		auth.HeaderUserID, auth.HeaderUserEmail, auth.HeaderUserRole,
		auth.HeaderTeamID, auth.HeaderUserPermissions,
	} {
		out.Header.Del(h)
	}

	out.Header.Set(middleware.HeaderRequestID, middleware.GetRequestID(r.Context()))
	out.Header.Set("x-forwarded-by", "pgai-gateway")
	out.Header.Set("x-gateway-version", p.version)
	if ip := clientIP(r); ip != "" {
		prior := out.Header.Get("X-Forwarded-For")
		if prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			out.Header.Set("X-Forwarded-For", ip)
		}
	}

	if ac, ok := auth.GetAuthContext(r.Context()); ok {
		out.Header.Set(auth.HeaderUserID, ac.UserID)
		out.Header.Set(auth.HeaderUserEmail, ac.Email)
		out.Header.Set(auth.HeaderUserRole, string(ac.Role))
		if ac.TeamID != nil {
			out.Header.Set(auth.HeaderTeamID, *ac.TeamID)
		}
		if len(ac.Permissions) > 0 {
			out.Header.Set(auth.HeaderUserPermissions, strings.Join(ac.Permissions, ","))
		}
	}
}

// translateTransportError maps network faults onto gateway error kinds:
// refused means the upstream is down (503), reset and timeout mean it
// failed mid-flight (504), anything else is a bad gateway (502).
func translateTransportError(service string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(apperrors.KindGatewayTimeout, service+" service timed out", err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return apperrors.Wrap(apperrors.KindUnavailable, service+" service is unavailable", err)
	case errors.Is(err, syscall.ECONNRESET):
		return apperrors.Wrap(apperrors.KindGatewayTimeout, service+" service connection was reset", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(apperrors.KindGatewayTimeout, service+" service timed out", err)
	}
	return apperrors.Wrap(apperrors.KindBadGateway, service+" service request failed", err)
}

// retryable reports whether one retry is permitted: idempotent bodyless
// methods on connection resets or refusals only.
func retryable(method string, err error) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return false
	}
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.ErrUnexpectedEOF)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
	for _, h := range hopByHop {
		dst.Del(h)
	}
}

func singleJoin(base, path string) string {
	switch {
	case strings.HasSuffix(base, "/") && strings.HasPrefix(path, "/"):
		return base + path[1:]
	case !strings.HasSuffix(base, "/") && !strings.HasPrefix(path, "/"):
		return base + "/" + path
	default:
		return base + path
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (p *Proxy) observe(service, method string, status int, start time.Time) {
	if p.metrics == nil {
		return
	}
	class := "error"
	if status > 0 {
		class = strconv.Itoa(status/100) + "xx"
	}
	p.metrics.RequestsTotal.WithLabelValues(service, method, class).Inc()
	p.metrics.RequestDuration.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
}

func (p *Proxy) observeBreaker(u *upstream) {
	if p.metrics == nil {
		return
	}
	p.metrics.BreakerState.WithLabelValues(u.name).Set(float64(u.breaker.State()))
}
