package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketsim/internal/api"
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

	if cfg.EmbeddedWorker {
		w := rt.Worker(cfg, logger)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("embedded worker stopped", "err", err)
			}
		}()
	}

	server := api.New(cfg, logger, rt.Engine)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("marketsim api listening", "addr", cfg.Addr, "embedded_worker", cfg.EmbeddedWorker)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
