// Package ratelimit provides keyed token-bucket limiters for the gateway.
// Three profiles are mounted: a strict per-IP limiter on auth routes, a
// per-user limiter on authenticated API routes, and a per-IP limiter on
// public routes.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
)

// bucket pairs a limiter with its last use so idle buckets can be evicted.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is a keyed token-bucket rate limiter. Each distinct key (an IP
// or a user id) gets its own bucket sized from the profile: max tokens
// replenished evenly over the window.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	window  time.Duration
	done    chan struct{}
	closeMu sync.Once
}

// New creates a limiter from a profile and starts its idle-bucket sweeper.
func New(profile config.RateLimitProfile) *Limiter {
	if profile.Max <= 0 {
		profile.Max = 100
	}
	if profile.Window <= 0 {
		profile.Window = time.Minute
	}
	l := &Limiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(profile.Max) / profile.Window.Seconds()),
		burst:   profile.Max,
		window:  profile.Window,
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow reports whether a request for key may proceed, consuming one token
// when it does. The returned refund re-credits the token; auth routes call
// it on successful logins so only failed attempts count against the
// caller.
func (l *Limiter) Allow(key string) (allowed bool, refund func()) {
	lim := l.bucketFor(key)
	if !lim.Allow() {
		return false, func() {}
	}
	var once sync.Once
	return true, func() {
		// A negative reservation puts the token back; the bucket clamps
		// at burst on the next fill.
		once.Do(func() { lim.AllowN(time.Now(), -1) })
	}
}

// bucketFor returns the bucket for key, creating it on first use.
func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// sweep evicts buckets idle for longer than three windows. A re-created
// bucket starts full, which only helps well-behaved callers.
func (l *Limiter) sweep() {
	interval := l.window
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * l.window)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Size returns the current number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Close stops the background sweeper.
func (l *Limiter) Close() {
	l.closeMu.Do(func() { close(l.done) })
}

// Middleware enforces the limiter on every request. keyFn derives the
// bucket key (an IP or a user id); profile names the rejection metric
// label. Rejected requests answer 429 with a Retry-After of one window.
func (l *Limiter) Middleware(profile string, keyFn func(*http.Request) string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed, _ := l.Allow(keyFn(r)); !allowed {
				l.reject(w, profile, m)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RefundingMiddleware enforces the limiter but re-credits the token when
// the response is not an error, so only failed attempts count against the
// caller. Mounted on the auth routes, where counting successful logins
// would let an attacker lock a victim out by spending their budget.
func (l *Limiter) RefundingMiddleware(profile string, keyFn func(*http.Request) string, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, refund := l.Allow(keyFn(r))
			if !allowed {
				l.reject(w, profile, m)
				return
			}
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if sw.status < http.StatusBadRequest {
				refund()
			}
		})
	}
}

func (l *Limiter) reject(w http.ResponseWriter, profile string, m *metrics.Metrics) {
	if m != nil {
		m.RateLimitRejections.WithLabelValues(profile).Inc()
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(l.window.Seconds())))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"success":false,"error":{"code":"RATE_LIMIT_EXCEEDED","message":"too many requests"}}`))
}

// statusWriter records the response status for the refund decision.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// ClientIP extracts the caller's IP for per-IP limiting: the first hop of
// X-Forwarded-For when present, the connection address otherwise.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
