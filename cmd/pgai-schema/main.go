// Command pgai-schema is the schema service: it discovers database
// schemas through the dialect adapters, caches and versions them, detects
// changes on a schedule, and fans events out to websocket subscribers.
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

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource"
	_ "github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource/mongo"
	_ "github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource/mssql"
	_ "github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource/mysql"
	_ "github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource/postgres"
	_ "github.com/Gupta-Nikhil85/pgai-sub000/pkg/adapters/datasource/sqlite"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/audit"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/auth"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/config"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/crypto"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/database"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/handlers"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/logging"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/middleware"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/realtime"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/repositories"
	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/services"
)

// version is injected at build time via -ldflags.
var version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	migrationsPath  = "migrations"
)

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
		logger.Fatal("schema service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("schema")
	responder := handlers.NewResponder(cfg.Version, cfg.Env, logger)

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("platform database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(&cfg.Database, migrationsPath, logger); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	pools := datasource.NewPoolManager(cfg.Pools, logger)
	pools.SetEvictionHook(func() { m.PoolEvictions.Inc() })

	connRepo := repositories.NewConnectionRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	snapshotRepo := repositories.NewSnapshotRepository(db)
	changeRepo := repositories.NewChangeRepository(db)

	auditor := audit.NewRecorder(eventRepo, logger)
	registry := services.NewRegistry(connRepo, vault, pools, auditor, cfg.Testing.MaxPerUser, logger)

	cache := services.NewSchemaCache(cfg.Cache, m, logger)
	discoverer := services.NewDiscoverer(registry, pools, cache, snapshotRepo, cfg.Discovery, m, logger)

	hub := realtime.NewHub(m, logger)
	detector := services.NewChangeDetector(discoverer, changeRepo, hub, cfg.Changes, m, logger)
	detector.Start()

	mux := http.NewServeMux()
	handlers.NewSchemaHandler(discoverer, cache, snapshotRepo, registry, hub, responder, logger).RegisterRoutes(mux)
	handlers.NewChangesHandler(detector, changeRepo, registry, responder, logger).RegisterRoutes(mux)
	handlers.NewHealthHandler("schema", cfg.Version, responder,
		handlers.ReadinessCheck{Name: "database", Check: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(pingCtx)
		}},
	).RegisterRoutes(mux)
	// The stream upgrade is long-lived and must stay outside any request
	// timeout supervisor.
	mux.HandleFunc("GET /api/v1/schemas/stream", hub.ServeWS)
	mux.Handle("GET /metrics", m.Handler())

	handler := middleware.Chain(mux,
		middleware.RequestID,
		middleware.SecurityHeaders,
		middleware.MaxBody(cfg.Gateway.MaxBodyBytes),
		middleware.RequireJSON,
		auth.FromHeaders,
		middleware.RequestLogger(logger),
	)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("schema service listening",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
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
	detector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	hub.Shutdown()
	if err := pools.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown incomplete", zap.Error(err))
	}
	cache.Close()
	logger.Info("schema service stopped")
	return nil
}
