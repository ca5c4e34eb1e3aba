package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"klepsydra/internal/catalog"
	"klepsydra/internal/config"
	"klepsydra/internal/db"
	"klepsydra/internal/engine"
	"klepsydra/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.StartupEnsureSchema {
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Error("ensure schema failed", "err", err)
			os.Exit(1)
		}
	}

	pg := store.NewPostgres(pool, cfg.TxTimeout)
	svc := engine.NewService(pg, catalog.Default(), logger, cfg.ProfileCacheTTL)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("KLEP_WORKER_RUN_ONCE")), "true")
	if runOnce {
		swept, err := svc.SweepExpiredEffects(ctx)
		if err != nil {
			logger.Error("effect sweep failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "swept", swept)
		return
	}

	ticker := time.NewTicker(cfg.EffectSweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.EffectSweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			swept, err := svc.SweepExpiredEffects(ctx)
			if err != nil {
				logger.Error("effect sweep failed", "err", err)
				continue
			}
			if swept > 0 {
				logger.Info("expired effects swept", "count", swept)
			}
		}
	}
}
