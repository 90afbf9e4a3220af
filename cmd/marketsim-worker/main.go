package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marketsim/internal/app"
	"marketsim/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer rt.Close()

	w := rt.Worker(cfg, logger)
	if cfg.WorkerRunOnce {
		if err := w.Step(ctx); err != nil {
			logger.Error("tick failed", "err", err)
			rt.Close()
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	if err := w.Run(ctx); err != nil {
		logger.Error("worker failed", "err", err)
		rt.Close()
		os.Exit(1)
	}
}
