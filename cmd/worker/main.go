package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ripple.app/sync/common/id"
	"ripple.app/sync/common/logger"
	"ripple.app/sync/common/otel"
	"ripple.app/sync/core/config"
	"ripple.app/sync/core/db"
	"ripple.app/sync/internal/engine"
	"ripple.app/sync/internal/http/router"
	"ripple.app/sync/internal/metadata"
	"ripple.app/sync/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	if telemetry != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := telemetry.Shutdown(shutdownCtx); err != nil {
				slog.Error("telemetry shutdown failed", "error", err)
			}
		}()
	}
	logger.Setup(cfg)

	if err := id.Init(1); err != nil {
		return fmt.Errorf("initializing id node: %w", err)
	}

	client, database, err := db.Connect(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db.Close(closeCtx, client)
	}()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	dataStore := store.NewDataStore(database)
	checkpointStore := store.NewCheckpointStore(database)
	metaStore := store.NewMetaStore(database)

	loader := metadata.NewLoader(metaStore, cfg.Engine.MetaReloadDebounce)
	if err := loader.Load(ctx); err != nil {
		return fmt.Errorf("loading metadata: %w", err)
	}
	go loader.Watch(ctx, redisClient, cfg.Redis.MetaChannel)

	stats := engine.NewStats()
	checkpoint := engine.NewCheckpoint(checkpointStore, cfg.Engine.CheckpointFlushDelay, cfg.Engine.CheckpointMaxPending, stats)
	alerts := engine.NewAlertDispatcher(dataStore, cfg.Alerts.WebhookURLs, cfg.Alerts.MailFrom, stats)

	eng := engine.New(dataStore, loader, checkpoint, alerts, stats, engine.Options{
		StageTimeout:   cfg.Engine.StageTimeout,
		FanOut:         cfg.Engine.FanOut,
		AlertsOnReplay: cfg.Alerts.OnReplay,
	})
	tailer := engine.NewTailer(database, loader, checkpoint, eng)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router.New(stats, loader, cfg.OTel.ServiceName),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("ops server failed", "error", err)
		}
	}()

	slog.Info("ripple worker started", "env", cfg.Env, "port", cfg.Port, "database", cfg.Mongo.Database)

	err = tailer.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		slog.Error("ops server shutdown failed", "error", shutdownErr)
	}

	slog.Info("ripple worker stopped")
	return err
}
