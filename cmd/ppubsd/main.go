// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mwrenn/ppubsd/internal/api"
	"github.com/mwrenn/ppubsd/internal/cache"
	"github.com/mwrenn/ppubsd/internal/config"
	"github.com/mwrenn/ppubsd/internal/jobstore"
	"github.com/mwrenn/ppubsd/internal/log"
	"github.com/mwrenn/ppubsd/internal/ppubs"
	"github.com/mwrenn/ppubsd/internal/telemetry"
)

var (
	version   = "v0.3.1"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ppubsd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Service: "ppubsd", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(log.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}

	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "ppubsd",
		ServiceVersion: version,
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		logger.Fatal().Err(err).
			Str(log.FieldEvent, "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).
			Str("data_dir", cfg.DataDir).
			Msg("failed to create data directory")
	}

	store := buildCache(cfg, logger)
	defer func() { _ = store.Close() }()

	jobs, err := jobstore.Open(cfg.JobDBPath())
	if err != nil {
		logger.Fatal().Err(err).
			Str("path", cfg.JobDBPath()).
			Msg("failed to open job store")
	}
	defer func() { _ = jobs.Close() }()

	client, err := ppubs.New(cfg, ppubs.Options{Recorder: jobs})
	if err != nil {
		logger.Fatal().Err(err).
			Str("base_url", cfg.BaseURL).
			Msg("failed to build upstream client")
	}
	defer client.Close()

	srv := api.NewServer(cfg, client, store, jobs)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str(log.FieldEvent, "daemon.listening").
			Str("addr", cfg.ListenAddr).
			Str("upstream", cfg.BaseURL).
			Msg("gateway listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info().
			Str(log.FieldEvent, "daemon.shutdown").
			Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "daemon.failed").
			Msg("daemon exited with error")
		os.Exit(1)
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
}

// buildCache picks the cache backend from config: Redis when an address is
// set, in-memory otherwise, disabled entirely when caching is off.
func buildCache(cfg config.AppConfig, logger zerolog.Logger) cache.Cache {
	if !cfg.CacheEnabled {
		return cache.NoOp{}
	}
	if cfg.RedisAddr != "" {
		store, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log.WithComponent("cache"))
		if err != nil {
			logger.Warn().Err(err).
				Str("addr", cfg.RedisAddr).
				Msg("redis unavailable, falling back to in-memory cache")
			return cache.NewMemory(cfg.CacheTTL)
		}
		return store
	}
	return cache.NewMemory(cfg.CacheTTL)
}
