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
const DefaultConfigFile = "missioncontrol.yaml"

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
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
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
	setString(&cfg.Server.Port, "MC_PORT")
	setString(&cfg.Server.CORSOrigin, "MC_CORS_ORIGIN")
	setString(&cfg.Storage.Driver, "MC_STORAGE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "MC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "MC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "MC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "MC_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "MC_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.IdempotencyBucket, "MC_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.NATS.IdempotencyTTL, "MC_IDEMPOTENCY_TTL")
	setString(&cfg.Logging.Level, "MC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "MC_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "MC_LOG_ASYNC")
	setInt(&cfg.Logging.DebugHistory, "MC_LOG_DEBUG_HISTORY")
	setInt(&cfg.Breaker.MaxFailures, "MC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "MC_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "MC_RATE_RPS")
	setInt(&cfg.Rate.Burst, "MC_RATE_BURST")

	// Gateway
	setString(&cfg.Gateway.URL, "GATEWAY_URL")
	setString(&cfg.Gateway.Token, "GATEWAY_TOKEN")
	setDuration(&cfg.Gateway.Timeout, "MC_GATEWAY_TIMEOUT")

	// Dispatch
	setBool(&cfg.Dispatch.Enabled, "MC_DISPATCH_ENABLED")
	setDuration(&cfg.Dispatch.Timeout, "MC_DISPATCH_TIMEOUT")
	setInt(&cfg.Dispatch.MaxConcurrent, "MC_DISPATCH_MAX_CONCURRENT")

	// Feed
	setInt(&cfg.Feed.Retention, "MC_FEED_RETENTION")
	setInt(&cfg.Feed.SubscriberBuffer, "MC_FEED_SUBSCRIBER_BUFFER")

	// Poll
	setDuration(&cfg.Poll.SubagentInterval, "MC_POLL_SUBAGENT_INTERVAL")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "MC_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "MC_CACHE_L1_TTL")
	setString(&cfg.Cache.L2Bucket, "MC_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "MC_CACHE_L2_TTL")

	// Telemetry
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat64(&cfg.Telemetry.SampleRate, "MC_OTEL_SAMPLE_RATE")
	setBool(&cfg.Telemetry.Prometheus, "MC_PROMETHEUS")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Storage.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", cfg.Storage.Driver)
	}
	if cfg.Gateway.URL == "" {
		return errors.New("gateway.url is required")
	}
	if cfg.Dispatch.Timeout <= 0 {
		return errors.New("dispatch.timeout must be > 0")
	}
	if cfg.Dispatch.MaxConcurrent < 1 {
		return errors.New("dispatch.max_concurrent must be >= 1")
	}
	if cfg.Feed.Retention < 1 {
		return errors.New("feed.retention must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
