// Package config loads worker configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Engine        EngineConfig
	Scheduler     SchedulerConfig
	HTTP          HTTPConfig
	Events        EventsConfig
	Observability ObservabilityConfig

	// Features is loaded separately from FEATURE_* variables.
	Features *FeatureFlags `env:"-"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `env:"APP_NAME"    envDefault:"nur-learning-hub"`
	Environment Environment `env:"APP_ENV"     envDefault:"development"`
	Debug       bool        `env:"APP_DEBUG"`
	Version     string      `env:"APP_VERSION" envDefault:"0.1.0"`

	// InstanceID names this worker in the snapshot consumer group and on
	// the event channel. Empty means a random ID.
	InstanceID string `env:"APP_INSTANCE_ID"`

	// Timezone used for scheduling and for learners without one.
	Timezone string         `env:"APP_TIMEZONE" envDefault:"UTC"`
	Location *time.Location `env:"-"`

	ShutdownTimeout time.Duration `env:"APP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL wins over the discrete fields when set.
	URL string `env:"DATABASE_URL"`

	Host     string `env:"DB_HOST"     envDefault:"localhost"`
	Port     int    `env:"DB_PORT"     envDefault:"5432"`
	Name     string `env:"DB_NAME"     envDefault:"nur_learning"`
	User     string `env:"DB_USER"     envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	SSLMode  string `env:"DB_SSLMODE"  envDefault:"disable"`

	MaxConns        int32         `env:"DB_MAX_CONNS"          envDefault:"10"`
	MinConns        int32         `env:"DB_MIN_CONNS"          envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME"  envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"30m"`
	ConnectTimeout  time.Duration `env:"DB_CONNECT_TIMEOUT"    envDefault:"10s"`

	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST"     envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT"     envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"       envDefault:"0"`

	PoolSize     int           `env:"REDIS_POOL_SIZE"      envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT"   envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT"   envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT"  envDefault:"3s"`

	// Disabled runs with in-process locks and no cache or snapshot feed.
	Disabled bool `env:"REDIS_DISABLED"`
}

// EngineConfig tunes the progress engine.
type EngineConfig struct {
	// CatalogFile is an optional JSON lesson list upserted on startup.
	CatalogFile string `env:"ENGINE_CATALOG_FILE"`

	LockTTL         time.Duration `env:"ENGINE_LOCK_TTL"          envDefault:"10s"`
	ProfileCacheTTL time.Duration `env:"ENGINE_PROFILE_CACHE_TTL" envDefault:"5m"`
	DedupeTTL       time.Duration `env:"ENGINE_DEDUPE_TTL"        envDefault:"24h"`

	ReconcileConcurrency int           `env:"ENGINE_RECONCILE_CONCURRENCY" envDefault:"8"`
	SnapshotBatchSize    int           `env:"ENGINE_SNAPSHOT_BATCH_SIZE"   envDefault:"32"`
	SnapshotBlock        time.Duration `env:"ENGINE_SNAPSHOT_BLOCK"        envDefault:"5s"`
	SnapshotReclaimIdle  time.Duration `env:"ENGINE_SNAPSHOT_RECLAIM_IDLE" envDefault:"1m"`
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled bool `env:"SCHEDULER_ENABLED" envDefault:"true"`

	// FreezeGrantCron is when weekly freezes are granted.
	FreezeGrantCron   string        `env:"SCHEDULER_FREEZE_GRANT_CRON"   envDefault:"5 0 * * 1"`
	FreezeConcurrency int           `env:"SCHEDULER_FREEZE_CONCURRENCY" envDefault:"8"`
	JobTimeout        time.Duration `env:"SCHEDULER_JOB_TIMEOUT"         envDefault:"30m"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST"          envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT"          envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT"  envDefault:"60s"`
	MaxBodyBytes int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`
}

// EventsConfig holds domain event bus settings.
type EventsConfig struct {
	Async          bool   `env:"EVENTS_ASYNC"            envDefault:"true"`
	WorkerPoolSize int    `env:"EVENTS_WORKER_POOL_SIZE" envDefault:"16"`
	Channel        string `env:"EVENTS_CHANNEL"          envDefault:"nur:events"`
}

// ObservabilityConfig holds logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	TracingEnabled bool `env:"TRACING_ENABLED"`
	// TracingEndpoint is the OTLP/HTTP collector host:port.
	TracingEndpoint    string  `env:"TRACING_ENDPOINT"     envDefault:"localhost:4318"`
	TracingInsecure    bool    `env:"TRACING_INSECURE"     envDefault:"true"`
	TracingSampleRatio float64 `env:"TRACING_SAMPLE_RATIO" envDefault:"1"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom loads configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	loc, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		return nil, fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	cfg.App.Location = loc

	if cfg.App.Environment == EnvDevelopment {
		cfg.App.Debug = true
	}

	cfg.Features = LoadFeatureFlags(opts.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("APP_ENV %q is not one of development, staging, production", c.App.Environment))
	}

	if c.App.Environment == EnvProduction {
		if c.Database.URL == "" && c.Database.Password == "" {
			errs = append(errs, "DATABASE_URL or DB_PASSWORD is required in production")
		}
		if c.Redis.Disabled {
			errs = append(errs, "REDIS_DISABLED is not allowed in production")
		}
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, "HTTP_PORT must be 1-65535")
	}
	if c.Engine.ReconcileConcurrency <= 0 {
		errs = append(errs, "ENGINE_RECONCILE_CONCURRENCY must be positive")
	}
	if c.Engine.LockTTL <= 0 {
		errs = append(errs, "ENGINE_LOCK_TTL must be positive")
	}
	if c.Scheduler.Enabled && strings.TrimSpace(c.Scheduler.FreezeGrantCron) == "" {
		errs = append(errs, "SCHEDULER_FREEZE_GRANT_CRON is required when the scheduler is enabled")
	}
	if c.Observability.TracingSampleRatio < 0 || c.Observability.TracingSampleRatio > 1 {
		errs = append(errs, "TRACING_SAMPLE_RATIO must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}
