// Command pgai-gateway is the public entry point of the pgai platform: it
// authenticates requests, rate limits them, and proxies them to the
// backend services with per-upstream circuit breaking.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/auth"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/breaker"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/gateway"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/handlers"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/logging"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/middleware"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/models"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/ratelimit"
)

// version is injected at build time via -ldflags.
var version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New("gateway")
	responder := handlers.NewResponder(cfg.Version, cfg.Env, logger)

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to build token verifier: %w", err)
	}
	authmw := auth.NewMiddleware(verifier, cfg.Version, logger)

	proxy, err := gateway.NewProxy(cfg.Gateway, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, responder, cfg.Version, logger, m)
	if err != nil {
		return fmt.Errorf("failed to build proxy: %w", err)
	}

	authLimiter := ratelimit.New(cfg.RateLimit.Auth)
	apiLimiter := ratelimit.New(cfg.RateLimit.API)
	publicLimiter := ratelimit.New(cfg.RateLimit.Public)
	defer authLimiter.Close()
	defer apiLimiter.Close()
	defer publicLimiter.Close()

	// The API profile keys on the authenticated user; unauthenticated
	// requests (which only reach per-IP profiles) fall back to the address.
	userKey := func(r *http.Request) string {
		if ac, ok := auth.GetAuthContext(r.Context()); ok {
			return ac.UserID
		}
		return ratelimit.ClientIP(r)
	}

	mux := http.NewServeMux()

	// Auth routes: no bearer required, strict per-IP limiting. Successful
	// requests are refunded so only failed logins spend the budget.
	mux.Handle("/api/v1/auth/", middleware.Chain(proxy,
		authLimiter.RefundingMiddleware("auth", ratelimit.ClientIP, m),
	))

	// Public routes: optional identity, per-IP limiting.
	mux.Handle("/api/v1/public/", middleware.Chain(proxy,
		publicLimiter.Middleware("public", ratelimit.ClientIP, m),
		authmw.OptionalAuthenticate,
	))

	// Admin routes: authenticated and role-gated.
	mux.Handle("/api/v1/admin/", middleware.Chain(proxy,
		authmw.Authenticate,
		apiLimiter.Middleware("api", userKey, m),
		authmw.Authorize(models.RoleAdmin),
	))

	// User-scoped routes: the path owner must match the caller.
	userChain := middleware.Chain(proxy,
		authmw.Authenticate,
		apiLimiter.Middleware("api", userKey, m),
		authmw.RequireOwnership("userId"),
	)
	mux.Handle("/api/v1/users/{userId}", userChain)
	mux.Handle("/api/v1/users/{userId}/{rest...}", userChain)

	// Everything else under /api/v1 requires authentication.
	mux.Handle("/api/v1/", middleware.Chain(proxy,
		authmw.Authenticate,
		apiLimiter.Middleware("api", userKey, m),
	))

	mux.HandleFunc("GET /health", proxy.HealthHandler)
	mux.HandleFunc("GET /health/ready", proxy.ReadyHandler)
	mux.HandleFunc("GET /health/live", proxy.LiveHandler)
	mux.Handle("GET /metrics", m.Handler())

	detector := middleware.NewSuspiciousDetector(logger, m)
	handler := middleware.Chain(mux,
		middleware.RequestID,
		middleware.SecurityHeaders,
		middleware.CORS(cfg.Gateway.CORSOrigins),
		middleware.MaxBody(cfg.Gateway.MaxBodyBytes),
		middleware.RequireJSON,
		middleware.Timeout(cfg.Gateway.RequestTimeout),
		detector.Wrap,
		middleware.RequestLogger(logger),
	)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
			zap.Strings("upstreams", proxy.AllServices()),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}
