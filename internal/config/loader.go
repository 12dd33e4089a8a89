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
const DefaultConfigFile = "agentmesh.yaml"

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
	setString(&cfg.Server.Port, "AGENTMESH_PORT")
	setString(&cfg.Server.CORSOrigin, "AGENTMESH_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AGENTMESH_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AGENTMESH_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AGENTMESH_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AGENTMESH_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AGENTMESH_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "AGENTMESH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AGENTMESH_LOG_SERVICE")
	setFloat64(&cfg.Rate.RequestsPerSecond, "AGENTMESH_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AGENTMESH_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "AGENTMESH_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "AGENTMESH_RATE_MAX_IDLE_TIME")
	setString(&cfg.Auth.JWTSecret, "AGENTMESH_JWT_SECRET")
	setDuration(&cfg.Auth.AccessTokenExpiry, "AGENTMESH_ACCESS_TOKEN_EXPIRY")
	setDuration(&cfg.Auth.RefreshTokenExpiry, "AGENTMESH_REFRESH_TOKEN_EXPIRY")
	setString(&cfg.Auth.AdminUsername, "AGENTMESH_ADMIN_USERNAME")
	setString(&cfg.Auth.AdminPassword, "AGENTMESH_ADMIN_PASSWORD")
	setString(&cfg.Auth.AdminEmail, "AGENTMESH_ADMIN_EMAIL")
	setInt(&cfg.Auth.HashWorkers, "AGENTMESH_AUTH_HASH_WORKERS")
	setInt(&cfg.Broker.QueueCapacity, "AGENTMESH_QUEUE_CAPACITY")
	setBool(&cfg.Broker.DurableQueues, "AGENTMESH_DURABLE_QUEUES")
	setDuration(&cfg.Broker.StaleThreshold, "AGENTMESH_STALE_THRESHOLD")
	setDuration(&cfg.Broker.DisconnectThreshold, "AGENTMESH_DISCONNECT_THRESHOLD")
	setDuration(&cfg.Broker.GCInterval, "AGENTMESH_GC_INTERVAL")
	setDuration(&cfg.Broker.PermissionCacheTTL, "AGENTMESH_PERMISSION_CACHE_TTL")
	setString(&cfg.Broker.SeedProjectID, "AGENTMESH_SEED_PROJECT_ID")
	setInt(&cfg.Coordinator.MaxRounds, "AGENTMESH_MAX_ROUNDS")
	setDuration(&cfg.Coordinator.ReplyTimeout, "AGENTMESH_REPLY_TIMEOUT")
	setFloat64(&cfg.Coordinator.ConsensusThreshold, "AGENTMESH_CONSENSUS_THRESHOLD")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set and thresholds are sane.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Broker.QueueCapacity < 1 {
		return errors.New("broker.queue_capacity must be >= 1")
	}
	if cfg.Broker.StaleThreshold >= cfg.Broker.DisconnectThreshold {
		return errors.New("broker.stale_threshold must be below disconnect_threshold")
	}
	if cfg.Coordinator.ConsensusThreshold <= 0 || cfg.Coordinator.ConsensusThreshold > 1 {
		return errors.New("coordinator.consensus_threshold must be in (0, 1]")
	}
	if cfg.Coordinator.MaxRounds < 1 {
		return errors.New("coordinator.max_rounds must be >= 1")
	}
	if cfg.Auth.AdminPassword != "" && len(cfg.Auth.AdminPassword) < 12 {
		return errors.New("auth.admin_password must be at least 12 characters")
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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
