// Command pgai-connection is the connection service: it stores database
// connection configs with sealed credentials, probes connectivity, and
// multiplexes backend pools across owners.
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
		logger.Fatal("connection service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New("connection")
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

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	var results services.ResultStore
	if redisClient != nil {
		results = services.NewRedisResultStore(redisClient, cfg.Testing.ResultTTL)
		logger.Info("test results stored in redis")
	} else {
		results = services.NewMemoryResultStore(cfg.Testing.ResultTTL)
		logger.Info("test results stored in memory")
	}

	pools := datasource.NewPoolManager(cfg.Pools, logger)
	pools.SetEvictionHook(func() { m.PoolEvictions.Inc() })

	connRepo := repositories.NewConnectionRepository(db)
	eventRepo := repositories.NewEventRepository(db)
	healthRepo := repositories.NewHealthCheckRepository(db)

	auditor := audit.NewRecorder(eventRepo, logger)
	registry := services.NewRegistry(connRepo, vault, pools, auditor, cfg.Testing.MaxPerUser, logger)
	tester := services.NewTester(registry, healthRepo, results, cfg.Testing, cfg.Tunnel, m, logger)

	// Pool gauges are sampled rather than tracked per mutation.
	go samplePoolGauges(ctx, pools, m)

	mux := http.NewServeMux()
	handlers.NewConnectionHandler(registry, responder, logger).RegisterRoutes(mux)
	handlers.NewTestingHandler(tester, responder, logger).RegisterRoutes(mux)
	handlers.NewMonitoringHandler(registry, pools, healthRepo, responder, logger).RegisterRoutes(mux)
	handlers.NewHealthHandler("connection", cfg.Version, responder,
		handlers.ReadinessCheck{Name: "database", Check: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(pingCtx)
		}},
	).RegisterRoutes(mux)
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
		logger.Info("connection service listening",
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := pools.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown incomplete", zap.Error(err))
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("connection service stopped")
	return nil
}

// samplePoolGauges refreshes the pool occupancy gauges periodically.
func samplePoolGauges(ctx context.Context, pools *datasource.PoolManager, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pools.Stats()
			m.PoolsActive.Set(float64(len(stats)))
			perOwner := make(map[string]int)
			for _, entry := range stats {
				perOwner[entry.Owner]++
			}
			m.PoolsPerUser.Reset()
			for owner, n := range perOwner {
				m.PoolsPerUser.WithLabelValues(owner).Set(float64(n))
			}
		}
	}
}
