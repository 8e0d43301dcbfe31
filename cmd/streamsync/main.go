package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	sshttp "github.com/openchamber/streamsync/internal/adapter/http"
	"github.com/openchamber/streamsync/internal/adapter/httpapi"
	"github.com/openchamber/streamsync/internal/adapter/lognotify"
	ssnats "github.com/openchamber/streamsync/internal/adapter/nats"
	"github.com/openchamber/streamsync/internal/adapter/otel"
	"github.com/openchamber/streamsync/internal/adapter/postgres"
	"github.com/openchamber/streamsync/internal/adapter/ristretto"
	"github.com/openchamber/streamsync/internal/adapter/ws"
	"github.com/openchamber/streamsync/internal/config"
	"github.com/openchamber/streamsync/internal/engine"
	"github.com/openchamber/streamsync/internal/logger"
	"github.com/openchamber/streamsync/internal/port/hostsignal"
	"github.com/openchamber/streamsync/internal/port/journal"
	"github.com/openchamber/streamsync/internal/port/notifier"
	"github.com/openchamber/streamsync/internal/resilience"
	"github.com/openchamber/streamsync/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.URL,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := otel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	var metrics *otel.Metrics
	if cfg.Otel.Endpoint != "" {
		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Upstream clients ---
	apiClient := httpapi.NewClient(cfg.Upstream.URL, cfg.Upstream.Timeout)
	apiClient.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	src, err := ws.NewSource(cfg.Upstream.URL, apiClient.Health, log)
	if err != nil {
		return fmt.Errorf("stream source: %w", err)
	}
	slog.Info("stream source ready", "client_id", src.ClientID())

	// --- Local state ---
	lookup, err := ristretto.NewLookup(cfg.Cache.PartLookupEntries)
	if err != nil {
		return fmt.Errorf("part lookup cache: %w", err)
	}
	defer lookup.Close()
	st := store.New(lookup)

	// --- Optional event journal ---
	var jr journal.Store
	var journalReader sshttp.JournalReader
	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		pj := postgres.NewJournal(pool)
		jr = pj
		journalReader = pj
		slog.Info("event journal enabled")
	}

	// --- Notifiers ---
	notifiers := []notifier.Notifier{lognotify.New(log)}
	if cfg.NATS.URL != "" {
		nn, err := ssnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = nn.Close() }()
		notifiers = append(notifiers, nn)
	}

	// --- Engine ---
	// The daemon has no window to lose focus; the stream is always holdable,
	// and notifications always fan out.
	host := hostsignal.NewStatic(hostsignal.State{Focused: true, Online: true})

	tunables := engine.DefaultTunables()
	applyEngineConfig(&tunables, cfg.Engine)

	eng := engine.New(tunables, log, st, src, apiClient, host, jr, notifiers, metrics)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer eng.Stop()

	// --- Local state API ---
	handlers := &sshttp.Handlers{
		Sync:    eng,
		Journal: journalReader,
	}

	r := chi.NewRouter()
	r.Use(sshttp.CORS(cfg.Server.CORSOrigin))
	r.Use(sshttp.RequestID)
	r.Use(sshttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	sshttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// applyEngineConfig overlays configured engine knobs onto the defaults.
// Zero values keep the built-in defaults.
func applyEngineConfig(t *engine.Tunables, c config.Engine) {
	if c.StaleAfter > 0 {
		t.StaleAfter = c.StaleAfter
	}
	if c.WatchdogTick > 0 {
		t.WatchdogTick = c.WatchdogTick
	}
	if c.StatusTick > 0 {
		t.StatusTick = c.StatusTick
	}
	if c.StallDelay > 0 {
		t.StallDelay = c.StallDelay
	}
	if c.StallRecoveryFloor > 0 {
		t.StallRecoveryFloor = c.StallRecoveryFloor
	}
	if c.BusyTimeout > 0 {
		t.BusyTimeout = c.BusyTimeout
	}
	if c.IdleConfirmWindow > 0 {
		t.IdleConfirmWindow = c.IdleConfirmWindow
	}
	if c.ResyncDedupe > 0 {
		t.ResyncDedupe = c.ResyncDedupe
	}
	if c.StreamCooldown > 0 {
		t.StreamCooldown = c.StreamCooldown
	}
	if c.ShrinkGuardChars > 0 {
		t.ShrinkGuardChars = c.ShrinkGuardChars
	}
	if c.ResyncLimit > 0 {
		t.ResyncLimit = c.ResyncLimit
	}
}
