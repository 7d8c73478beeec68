package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/ledgersync/internal/book"
	"github.com/example/ledgersync/internal/config"
	"github.com/example/ledgersync/internal/remote"
	"github.com/example/ledgersync/internal/snapshot"
	"github.com/example/ledgersync/internal/store"
	"github.com/example/ledgersync/internal/syncq"
	"github.com/example/ledgersync/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.LocalDBPath)
	if err != nil {
		logger.Error("failed to open local store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	deviceID, err = st.Queries().InitDeviceID(ctx, deviceID)
	if err != nil {
		logger.Error("failed to initialize device id", "error", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	backend := &remote.PostgresClient{Pool: pool}
	if err := backend.EnsureSchema(ctx); err != nil {
		logger.Error("failed to ensure remote schema", "error", err)
		os.Exit(1)
	}

	var cache snapshot.Cache = snapshot.NoopCache{}
	if cfg.RedisAddr != "" {
		rc := snapshot.NewRedisCache(cfg.RedisAddr, "", 0)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, snapshot cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			cache = rc
			defer rc.Close()
		}
	}
	snaps := snapshot.NewService(st, cache, logger)

	actor := book.Actor{Name: "booksd", Role: book.RoleAdmin, DeviceID: deviceID}
	if _, err := snaps.GetOrCreate(ctx, actor, time.Now().UTC()); err != nil {
		logger.Warn("snapshot warm-up failed", "error", err)
	}

	journal := audit.NewJournal()
	worker := syncq.NewWorker(st, backend, actor, logger, journal,
		syncq.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax})

	logger.Info("replay worker starting", "device_id", deviceID, "env", cfg.Environment)
	if err := worker.Run(ctx); err != nil {
		logger.Error("replay worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
