// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chargelink/sessiond/internal/api"
	"github.com/chargelink/sessiond/internal/backend"
	"github.com/chargelink/sessiond/internal/bridge"
	"github.com/chargelink/sessiond/internal/config"
	"github.com/chargelink/sessiond/internal/engine"
	"github.com/chargelink/sessiond/internal/health"
	"github.com/chargelink/sessiond/internal/journal"
	sdlog "github.com/chargelink/sessiond/internal/log"
	"github.com/chargelink/sessiond/internal/notify"
	"github.com/chargelink/sessiond/internal/store"
	"github.com/chargelink/sessiond/internal/telemetry"
	"github.com/chargelink/sessiond/internal/tokenstore"
)

var (
	version   = "v0.3.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		lg := sdlog.WithComponent("daemon")
		lg.Fatal().Err(err).Msg("daemon exited with error")
	}
}

func run(configPath string) error {
	cfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sdlog.Configure(sdlog.Config{
		Level:   cfg.LogLevel,
		Service: "sessiond",
	})
	logger := sdlog.WithComponent("daemon")
	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("backend", maskURL(cfg.BackendBaseURL)).
		Msg("session daemon starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TraceEndpoint != "",
		ServiceName:    "sessiond",
		ServiceVersion: version,
		Environment:    config.ParseString("SESSIOND_ENV", "development"),
		Endpoint:       cfg.TraceEndpoint,
		SamplingRate:   cfg.TraceSampling,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	// Session store: redis when configured, embedded badger otherwise.
	var sessionStore store.SessionStore
	if cfg.RedisAddr != "" {
		sessionStore, err = store.NewRedisStore(store.RedisConfig{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis store: %w", err)
		}
		logger.Info().Str("event", "daemon.store").Str("backend", "redis").Str("addr", cfg.RedisAddr).Msg("session store ready")
	} else {
		sessionStore, err = store.OpenBadgerStore(filepath.Join(cfg.DataDir, "sessions"))
		if err != nil {
			return fmt.Errorf("badger store: %w", err)
		}
		logger.Info().Str("event", "daemon.store").Str("backend", "badger").Msg("session store ready")
	}
	defer func() { _ = sessionStore.Close() }()

	emissionJournal, err := journal.Open(filepath.Join(cfg.DataDir, "emissions.db"))
	if err != nil {
		return fmt.Errorf("emission journal: %w", err)
	}
	defer func() { _ = emissionJournal.Close() }()

	tokens := tokenstore.NewFileStore(filepath.Join(cfg.DataDir, "auth-token"))

	delivery := backend.New(cfg.BackendBaseURL, tokens,
		backend.WithHTTPClient(&http.Client{Timeout: cfg.BackendTimeoutDuration()}),
		backend.WithJournal(emissionJournal),
	)

	cfgMgr := config.NewManager(filepath.Join(cfg.DataDir, "session-config.json"))

	eng := engine.New(engine.Deps{
		Config:      cfgMgr,
		Delivery:    delivery,
		Store:       sessionStore,
		Tokens:      tokens,
		Notifier:    notify.Logging{},
		Permissions: engine.StaticPermissions("not_determined"),
	})

	// Auth escalation surfaces through the bridge so the content can
	// re-authenticate.
	delivery.OnAuthRequired(func() {
		eng.Dispatcher().Publish(bridge.AuthRequired())
	})

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewStoreChecker(sessionStore))
	healthMgr.RegisterChecker(health.NewTokenChecker(tokens))
	healthMgr.RegisterChecker(health.NewBridgeChecker(eng.Dispatcher().SubscriberCount))

	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: api.New(eng, healthMgr, api.Config{
			BridgeRateRPS:   cfg.BridgeRateRPS,
			BridgeRateBurst: cfg.BridgeRateBurst,
		}).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("event", "daemon.listening").Str("addr", cfg.Listen).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.OverridePath != "" {
		g.Go(func() error {
			return cfgMgr.Watch(gctx, cfg.OverridePath)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "daemon.stopping").Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown incomplete")
		}
		return eng.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Str("event", "daemon.stopped").Msg("session daemon stopped")
	return nil
}
