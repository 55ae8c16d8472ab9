package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds configuration for all pgai services. Each binary reads the
// same file and consumes the sections it needs. Configuration comes from
// config.yaml with environment variable overrides; secrets (JWT secret,
// encryption key, database password) must come from the environment.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"PGAI_BIND_ADDR" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PGAI_PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"PGAI_ENV" env-default:"local"`
	Version  string `yaml:"-"`

	Auth      AuthConfig      `yaml:"auth"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Pools     PoolsConfig     `yaml:"pools"`
	Testing   TestingConfig   `yaml:"testing"`
	Cache     CacheConfig     `yaml:"cache"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Changes   ChangesConfig   `yaml:"changes"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`

	// EncryptionKey seals connection credentials at rest. Either a
	// base64-encoded 32-byte key or a passphrase (hashed to 32 bytes).
	// Services that touch secrets fail to start without it.
	EncryptionKey string `yaml:"-" env:"PGAI_ENCRYPTION_KEY"`
}

// AuthConfig holds bearer-token verification settings.
type AuthConfig struct {
	// JWTSecret verifies HS256 tokens when no JWKS URL is configured.
	JWTSecret string `yaml:"-" env:"PGAI_JWT_SECRET"`
	// JWKSURL, when set, switches verification to JWKS-resolved keys.
	JWKSURL string `yaml:"jwks_url" env:"PGAI_JWKS_URL" env-default:""`
	// Issuer, when set, is required to match the token's iss claim.
	Issuer string `yaml:"issuer" env:"PGAI_JWT_ISSUER" env-default:""`
}

// GatewayConfig holds the gateway's upstream table and request shaping.
// A service with an empty URL is not mounted.
type GatewayConfig struct {
	UserServiceURL          string `yaml:"user_service_url" env:"USER_SERVICE_URL" env-default:""`
	ConnectionServiceURL    string `yaml:"connection_service_url" env:"CONNECTION_SERVICE_URL" env-default:""`
	SchemaServiceURL        string `yaml:"schema_service_url" env:"SCHEMA_SERVICE_URL" env-default:""`
	ViewServiceURL          string `yaml:"view_service_url" env:"VIEW_SERVICE_URL" env-default:""`
	VersioningServiceURL    string `yaml:"versioning_service_url" env:"VERSIONING_SERVICE_URL" env-default:""`
	DocumentationServiceURL string `yaml:"documentation_service_url" env:"DOCUMENTATION_SERVICE_URL" env-default:""`

	RequestTimeout  time.Duration `yaml:"request_timeout" env:"PGAI_REQUEST_TIMEOUT" env-default:"30s"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" env:"PGAI_UPSTREAM_TIMEOUT" env-default:"30s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"PGAI_MAX_BODY_BYTES" env-default:"10485760"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"PGAI_CORS_ORIGINS" env-default:"*"`
}

// RateLimitProfile is one keyed token-bucket profile.
type RateLimitProfile struct {
	Window time.Duration `yaml:"window" env-default:"1m"`
	Max    int           `yaml:"max" env-default:"100"`
}

// RateLimitConfig holds the three limiter profiles the gateway mounts.
type RateLimitConfig struct {
	Auth   RateLimitProfile `yaml:"auth"`
	API    RateLimitProfile `yaml:"api"`
	Public RateLimitProfile `yaml:"public"`
}

// BreakerConfig holds per-upstream circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"PGAI_BREAKER_THRESHOLD" env-default:"5"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" env:"PGAI_BREAKER_RESET" env-default:"30s"`
}

// DatabaseConfig holds the platform PostgreSQL settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"pgai"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"pgai"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
}

// ConnectionString returns a PostgreSQL key=value DSN.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds optional Redis settings. An empty host disables Redis
// and callers fall back to in-memory stores.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// PoolsConfig caps the pool manager.
type PoolsConfig struct {
	GlobalMax       int           `yaml:"global_max" env:"PGAI_POOLS_GLOBAL_MAX" env-default:"50"`
	PerUserMax      int           `yaml:"per_user_max" env:"PGAI_POOLS_PER_USER_MAX" env-default:"10"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"PGAI_POOLS_IDLE_TIMEOUT" env-default:"5m"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"PGAI_POOLS_CLEANUP_INTERVAL" env-default:"60s"`
}

// TestingConfig shapes the connection tester.
type TestingConfig struct {
	TestTimeout    time.Duration `yaml:"test_timeout" env:"PGAI_TEST_TIMEOUT" env-default:"10s"`
	MaxBatch       int           `yaml:"max_batch" env:"PGAI_TEST_MAX_BATCH" env-default:"10"`
	BatchParallel  int           `yaml:"batch_parallel" env:"PGAI_TEST_BATCH_PARALLEL" env-default:"5"`
	ResultTTL      time.Duration `yaml:"result_ttl" env:"PGAI_TEST_RESULT_TTL" env-default:"1h"`
	MaxPerUser     int           `yaml:"max_connections_per_user" env:"PGAI_MAX_CONNECTIONS_PER_USER" env-default:"10"`
}

// CacheConfig shapes the schema cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl" env:"PGAI_CACHE_TTL" env-default:"300s"`
	MaxEntries int           `yaml:"max_entries" env:"PGAI_CACHE_MAX_ENTRIES" env-default:"1000"`
}

// DiscoveryConfig caps schema discovery concurrency.
type DiscoveryConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" env:"PGAI_DISCOVERY_MAX_CONCURRENT" env-default:"5"`
	// TableParallel bounds the per-table column/constraint/index wave.
	TableParallel int `yaml:"table_parallel" env:"PGAI_DISCOVERY_TABLE_PARALLEL" env-default:"8"`
}

// ChangesConfig shapes the change detection scheduler.
type ChangesConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"PGAI_CHANGES_REFRESH_INTERVAL" env-default:"30s"`
	BatchSize       int           `yaml:"batch_size" env:"PGAI_CHANGES_BATCH_SIZE" env-default:"3"`
}

// TunnelConfig controls SSH-tunnel connection testing.
type TunnelConfig struct {
	Enabled bool `yaml:"enabled" env:"PGAI_TUNNEL_ENABLED" env-default:"false"`
}

// Load reads config.yaml (when present) with environment overrides and
// validates the result. The version string is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	if c.Pools.GlobalMax <= 0 || c.Pools.PerUserMax <= 0 {
		return fmt.Errorf("pool caps must be positive")
	}
	if c.Pools.PerUserMax > c.Pools.GlobalMax {
		return fmt.Errorf("per_user_max (%d) must not exceed global_max (%d)", c.Pools.PerUserMax, c.Pools.GlobalMax)
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure_threshold must be positive")
	}
	return nil
}
