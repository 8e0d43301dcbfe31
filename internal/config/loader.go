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
const DefaultConfigFile = "streamsync.yaml"

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
	setString(&cfg.Server.Port, "STREAMSYNC_PORT")
	setString(&cfg.Server.CORSOrigin, "STREAMSYNC_CORS_ORIGIN")
	setString(&cfg.Upstream.URL, "STREAMSYNC_UPSTREAM_URL")
	setDuration(&cfg.Upstream.Timeout, "STREAMSYNC_UPSTREAM_TIMEOUT")

	setDuration(&cfg.Engine.StaleAfter, "STREAMSYNC_STALE_AFTER")
	setDuration(&cfg.Engine.WatchdogTick, "STREAMSYNC_WATCHDOG_TICK")
	setDuration(&cfg.Engine.StatusTick, "STREAMSYNC_STATUS_TICK")
	setDuration(&cfg.Engine.StallDelay, "STREAMSYNC_STALL_DELAY")
	setDuration(&cfg.Engine.StallRecoveryFloor, "STREAMSYNC_STALL_RECOVERY_FLOOR")
	setDuration(&cfg.Engine.BusyTimeout, "STREAMSYNC_BUSY_TIMEOUT")
	setDuration(&cfg.Engine.IdleConfirmWindow, "STREAMSYNC_IDLE_CONFIRM_WINDOW")
	setDuration(&cfg.Engine.ResyncDedupe, "STREAMSYNC_RESYNC_DEDUPE")
	setDuration(&cfg.Engine.StreamCooldown, "STREAMSYNC_STREAM_COOLDOWN")
	setInt(&cfg.Engine.ShrinkGuardChars, "STREAMSYNC_SHRINK_GUARD_CHARS")
	setInt(&cfg.Engine.ResyncLimit, "STREAMSYNC_RESYNC_LIMIT")

	setInt64(&cfg.Cache.PartLookupEntries, "STREAMSYNC_CACHE_PART_ENTRIES")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "STREAMSYNC_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "STREAMSYNC_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "STREAMSYNC_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "STREAMSYNC_PG_MAX_CONN_IDLE_TIME")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "STREAMSYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "STREAMSYNC_LOG_SERVICE")

	setInt(&cfg.Breaker.MaxFailures, "STREAMSYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "STREAMSYNC_BREAKER_TIMEOUT")

	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Cache.PartLookupEntries < 1 {
		return errors.New("cache.part_lookup_entries must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
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

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
