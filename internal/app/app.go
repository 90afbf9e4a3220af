// Package app wires configuration into a running market engine. Both the
// API server and the standalone worker start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"marketsim/internal/config"
	"marketsim/internal/db"
	"marketsim/internal/market"
	"marketsim/internal/market/memstore"
	"marketsim/internal/notify"
	"marketsim/internal/schedule"
	"marketsim/internal/worker"
)

type Runtime struct {
	Engine   *market.Engine
	Calendar schedule.Calendar

	closers []func()
}

func NewLogger(cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
}

// Build opens the store (Postgres when DATABASE_URL is set, memory
// otherwise), the optional Redis notifier, and the engine on top of them.
// Defaults are seeded when configured.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Calendar: schedule.Calendar{Location: cfg.Location(), OpenAt: cfg.OpenAt()},
	}

	var store market.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		if err := db.Migrate(ctx, pool); err != nil {
			rt.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		store = db.NewStore(pool)
		logger.Info("using postgres store")
	} else {
		store = memstore.New()
		logger.Warn("DATABASE_URL not set, using in-memory store")
	}

	opts := []market.Option{
		market.WithSectorBands(cfg.SectorBands()),
		market.WithLocation(cfg.Location()),
	}
	if cfg.RandSeed != 0 {
		opts = append(opts, market.WithRand(rand.New(rand.NewSource(cfg.RandSeed))))
	}
	if cfg.RedisURL != "" {
		n, err := notify.NewRedisNotifier(ctx, cfg.RedisURL, logger)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = n.Close() })
		opts = append(opts, market.WithNotifier(n))
	}
	rt.Engine = market.NewEngine(store, logger, opts...)

	if cfg.SeedStocks {
		n, err := rt.Engine.SeedDefaults(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("seed defaults: %w", err)
		}
		if n > 0 {
			logger.Info("seeded default stocks", "count", n)
		}
	}
	return rt, nil
}

func (rt *Runtime) Worker(cfg config.Config, logger *slog.Logger) *worker.Worker {
	return worker.New(rt.Engine, rt.Calendar, cfg.DriftEvery, logger)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
