package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "feedbacksync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "FEEDBACKSYNC_PORT")
	setString(&cfg.Server.CORSOrigin, "FEEDBACKSYNC_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "FEEDBACKSYNC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "FEEDBACKSYNC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "FEEDBACKSYNC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "FEEDBACKSYNC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "FEEDBACKSYNC_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.LockBucket, "FEEDBACKSYNC_LOCK_BUCKET")
	setDuration(&cfg.NATS.LockTTL, "FEEDBACKSYNC_LOCK_TTL")
	setString(&cfg.Logging.Level, "FEEDBACKSYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FEEDBACKSYNC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FEEDBACKSYNC_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "FEEDBACKSYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FEEDBACKSYNC_BREAKER_TIMEOUT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "FEEDBACKSYNC_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "FEEDBACKSYNC_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "FEEDBACKSYNC_CACHE_L2_TTL")

	// Sync
	setInt(&cfg.Sync.OutboundConcurrency, "FEEDBACKSYNC_OUTBOUND_CONCURRENCY")
	setInt(&cfg.Sync.InboundConcurrency, "FEEDBACKSYNC_INBOUND_CONCURRENCY")
	setDuration(&cfg.Sync.CursorSkew, "FEEDBACKSYNC_CURSOR_SKEW")
	setString(&cfg.Sync.Schedule, "FEEDBACKSYNC_SCHEDULE")
	setBool(&cfg.Sync.SchedulerEnabled, "FEEDBACKSYNC_SCHEDULER_ENABLED")
	setBool(&cfg.Sync.FeatureEnabled, "FEEDBACKSYNC_FEATURE_ENABLED")

	// Auth
	setBool(&cfg.Auth.Enabled, "FEEDBACKSYNC_AUTH_ENABLED")
	setString(&cfg.Auth.JWTSecret, "FEEDBACKSYNC_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "FEEDBACKSYNC_JWT_ISSUER")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "FEEDBACKSYNC_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "FEEDBACKSYNC_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "FEEDBACKSYNC_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Cache.L1MaxSizeMB < 1 {
		return errors.New("cache.l1_max_size_mb must be >= 1")
	}
	if cfg.Sync.OutboundConcurrency < 1 {
		return errors.New("sync.outbound_concurrency must be >= 1")
	}
	if cfg.Sync.InboundConcurrency < 1 {
		return errors.New("sync.inbound_concurrency must be >= 1")
	}
	if cfg.Sync.CursorSkew < 0 {
		return errors.New("sync.cursor_skew must not be negative")
	}
	if cfg.NATS.LockTTL <= 0 {
		return errors.New("nats.lock_ttl must be positive")
	}
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required when auth is enabled")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
