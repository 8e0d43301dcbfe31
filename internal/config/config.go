// Package config provides hierarchical configuration loading for streamsync.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the streamsync daemon.
type Config struct {
	Server   Server   `yaml:"server"`
	Upstream Upstream `yaml:"upstream"`
	Engine   Engine   `yaml:"engine"`
	Cache    Cache    `yaml:"cache"`
	Postgres Postgres `yaml:"postgres"`
	NATS     NATS     `yaml:"nats"`
	Logging  Logging  `yaml:"logging"`
	Breaker  Breaker  `yaml:"breaker"`
	Otel     Otel     `yaml:"otel"`
}

// Server holds the local HTTP state API configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Upstream holds the upstream agent service endpoints.
type Upstream struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Engine holds the synchronization engine timing knobs. Zero values fall
// back to the engine's built-in defaults.
type Engine struct {
	StaleAfter         time.Duration `yaml:"stale_after"`
	WatchdogTick       time.Duration `yaml:"watchdog_tick"`
	StatusTick         time.Duration `yaml:"status_tick"`
	StallDelay         time.Duration `yaml:"stall_delay"`
	StallRecoveryFloor time.Duration `yaml:"stall_recovery_floor"`
	BusyTimeout        time.Duration `yaml:"busy_timeout"`
	IdleConfirmWindow  time.Duration `yaml:"idle_confirm_window"`
	ResyncDedupe       time.Duration `yaml:"resync_dedupe"`
	StreamCooldown     time.Duration `yaml:"stream_cooldown"`
	ShrinkGuardChars   int           `yaml:"shrink_guard_chars"`
	ResyncLimit        int           `yaml:"resync_limit"`
}

// Cache holds the part-lookup cache configuration.
type Cache struct {
	PartLookupEntries int64 `yaml:"part_lookup_entries"`
}

// Postgres holds the optional event journal database configuration.
// An empty DSN disables journaling.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// NATS holds the optional notification fan-out configuration.
// An empty URL disables the NATS notifier.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Breaker holds circuit breaker configuration for upstream API calls.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Otel holds the optional OTLP exporter configuration.
// An empty endpoint disables telemetry export.
type Otel struct {
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:       "7171",
			CORSOrigin: "http://localhost:3000",
		},
		Upstream: Upstream{
			URL:     "http://localhost:4096",
			Timeout: 15 * time.Second,
		},
		Cache: Cache{
			PartLookupEntries: 50_000,
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "streamsync",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
	}
}
