package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"approval/api/internal/app"
	"approval/api/internal/authsvc"
	"approval/api/internal/cache"
	"approval/api/internal/config"
	"approval/api/internal/email"
	"approval/api/internal/graph"
	"approval/api/internal/logging"
	"approval/api/internal/metadata"
	"approval/api/internal/notify"
	"approval/api/internal/pipeline"
	"approval/api/internal/store"
)

func main() {
	configPath := pflag.String("config", os.Getenv("APPROVAL_CONFIG"), "path to a YAML config file")
	addr := pflag.String("addr", "", "listen address, overrides config")
	migrationsDir := pflag.String("migrations-dir", "", "migrations directory, overrides config")
	migrateOnly := pflag.Bool("migrate-only", false, "apply migrations and exit")
	pflag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		bootLogger := logging.New("info", "json")
		bootLogger.Fatal().Err(err).Msg("config load failed")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *migrationsDir != "" {
		cfg.MigrationsDir = *migrationsDir
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db.DB, cfg.MigrationsDir); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if *migrateOnly {
		logger.Info().Str("dir", cfg.MigrationsDir).Msg("migrations applied")
		return
	}

	var lookupCache cache.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisCache.Close()
		lookupCache = redisCache
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("using redis for user and project lookups")
	}

	dataStore := store.NewPostgresStore(db)
	items := metadata.NewClient(cfg.MetadataServiceURL, cfg.UpstreamTimeout)
	dispatcher := pipeline.NewClient(cfg.DataOpsServiceURL, cfg.UpstreamTimeout)
	notifier := notify.New(
		authsvc.NewClient(cfg.AuthServiceURL, cfg.UpstreamTimeout, lookupCache),
		graph.NewClient(cfg.GraphServiceURL, cfg.UpstreamTimeout, lookupCache),
		email.NewService(email.Config{
			ServiceURL: cfg.EmailServiceURL,
			Sender:     cfg.EmailSupport,
			Timeout:    cfg.UpstreamTimeout,
		}),
	)

	service := app.NewService(cfg, dataStore, items, dispatcher, notifier)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * cfg.UpstreamTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("approval API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
