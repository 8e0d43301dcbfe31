package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streamsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "7171" {
		t.Errorf("Server.Port = %q, want default 7171", cfg.Server.Port)
	}
	if cfg.Upstream.URL != "http://localhost:4096" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.Upstream.Timeout != 15*time.Second {
		t.Errorf("Upstream.Timeout = %v", cfg.Upstream.Timeout)
	}
	if cfg.Cache.PartLookupEntries != 50_000 {
		t.Errorf("Cache.PartLookupEntries = %d", cfg.Cache.PartLookupEntries)
	}
	if cfg.Postgres.DSN != "" {
		t.Errorf("Postgres.DSN = %q, journaling must default off", cfg.Postgres.DSN)
	}
	if cfg.Breaker.MaxFailures != 5 || cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("Breaker = %+v", cfg.Breaker)
	}
	if cfg.Engine.StaleAfter != 0 {
		t.Errorf("Engine.StaleAfter = %v, zero must defer to engine defaults", cfg.Engine.StaleAfter)
	}
}

func TestLoadFromYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
upstream:
  url: http://agent:5000
  timeout: 5s
engine:
  stale_after: 90s
  shrink_guard_chars: 80
postgres:
  dsn: postgres://localhost/journal
logging:
  level: debug
`)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Upstream.URL != "http://agent:5000" || cfg.Upstream.Timeout != 5*time.Second {
		t.Errorf("Upstream = %+v", cfg.Upstream)
	}
	if cfg.Engine.StaleAfter != 90*time.Second || cfg.Engine.ShrinkGuardChars != 80 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Postgres.DSN != "postgres://localhost/journal" {
		t.Errorf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Breaker.MaxFailures != 5 {
		t.Errorf("Breaker.MaxFailures = %d", cfg.Breaker.MaxFailures)
	}
}

func TestLoadFromEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
`)
	t.Setenv("STREAMSYNC_PORT", "8181")
	t.Setenv("STREAMSYNC_UPSTREAM_TIMEOUT", "3s")
	t.Setenv("STREAMSYNC_BREAKER_MAX_FAILURES", "9")
	t.Setenv("DATABASE_URL", "postgres://env/journal")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Server.Port != "8181" {
		t.Errorf("Server.Port = %q, env must win over yaml", cfg.Server.Port)
	}
	if cfg.Upstream.Timeout != 3*time.Second {
		t.Errorf("Upstream.Timeout = %v", cfg.Upstream.Timeout)
	}
	if cfg.Breaker.MaxFailures != 9 {
		t.Errorf("Breaker.MaxFailures = %d", cfg.Breaker.MaxFailures)
	}
	if cfg.Postgres.DSN != "postgres://env/journal" {
		t.Errorf("Postgres.DSN = %q", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
}

func TestLoadFromMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults are valid", func(c *Config) {}, true},
		{"empty port", func(c *Config) { c.Server.Port = "" }, false},
		{"empty upstream url", func(c *Config) { c.Upstream.URL = "" }, false},
		{"breaker max failures zero", func(c *Config) { c.Breaker.MaxFailures = 0 }, false},
		{"cache entries zero", func(c *Config) { c.Cache.PartLookupEntries = 0 }, false},
		{"postgres enabled without conns", func(c *Config) {
			c.Postgres.DSN = "postgres://x"
			c.Postgres.MaxConns = 0
		}, false},
		{"postgres disabled ignores conns", func(c *Config) { c.Postgres.MaxConns = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if (err == nil) != tt.ok {
				t.Fatalf("validate() err = %v, ok = %v", err, tt.ok)
			}
		})
	}
}
