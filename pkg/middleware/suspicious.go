package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
)

// traversalPattern matches path-traversal probes in raw or encoded form.
var traversalPattern = regexp.MustCompile(`(?i)(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f)`)

// SuspiciousDetector logs requests that look like injection or traversal
// probes. Detection is log-only: flagged requests still proceed, so a
// false positive never breaks a legitimate caller.
type SuspiciousDetector struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSuspiciousDetector creates a detector. Metrics may be nil.
func NewSuspiciousDetector(logger *zap.Logger, m *metrics.Metrics) *SuspiciousDetector {
	return &SuspiciousDetector{logger: logger, metrics: m}
}

// Wrap inspects the request path and query for suspicious patterns before
// passing the request on.
func (d *SuspiciousDetector) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if category := d.classify(r); category != "" {
			d.logger.Warn("suspicious request pattern",
				zap.String("category", category),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
			if d.metrics != nil {
				d.metrics.SuspiciousRequests.WithLabelValues(category).Inc()
			}
		}
		next.ServeHTTP(w, r)
	})
}

// classify returns the first matching category or empty when the request
// looks clean.
func (d *SuspiciousDetector) classify(r *http.Request) string {
	raw := r.URL.Path
	if r.URL.RawQuery != "" {
		raw += "?" + r.URL.RawQuery
	}
	if traversalPattern.MatchString(raw) {
		return "path_traversal"
	}

	for _, values := range r.URL.Query() {
		for _, v := range values {
			if decoded, err := url.QueryUnescape(v); err == nil {
				v = decoded
			}
			if len(v) < 4 {
				continue
			}
			if isSQLi, _ := libinjection.IsSQLi(v); isSQLi {
				return "sql_injection"
			}
			if libinjection.IsXSS(v) {
				return "xss"
			}
		}
	}

	// Header smuggling via duplicated identity headers.
	if len(r.Header.Values("x-user-id")) > 1 {
		return "header_smuggling"
	}
	if strings.ContainsAny(r.Header.Get("x-user-id"), "\r\n") {
		return "header_smuggling"
	}
	return ""
}
