// Package worker drives the market clock: a drift tick on a fixed interval
// and the daily reset at each trading-day open.
package worker

import (
	"context"
	"log/slog"
	"time"

	"marketsim/internal/market"
	"marketsim/internal/schedule"
)

type Market interface {
	RunDriftTick(ctx context.Context) (market.TickReport, error)
	ResetDaily(ctx context.Context) (market.ResetReport, error)
	ResetStocks(ctx context.Context, ids []string) (market.ResetReport, error)
	LastReset(ctx context.Context) (time.Time, error)
}

type Worker struct {
	market   Market
	calendar schedule.Calendar
	every    time.Duration
	log      *slog.Logger
	now      func() time.Time

	lastReset time.Time
	ranAt     time.Time
	loaded    bool
	// pending holds stocks a partial reset missed today.
	pending []string
}

// New returns a worker that reads the last reset time from the market on its
// first step, so a restart neither repeats nor skips the day's reset.
func New(m Market, cal schedule.Calendar, every time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		market:   m,
		calendar: cal,
		every:    every,
		log:      logger,
		now:      time.Now,
	}
}

// Step runs the daily reset if one is due, or finishes a partial one, then
// one drift tick.
func (w *Worker) Step(ctx context.Context) error {
	now := w.now()
	if !w.loaded {
		w.loadLastReset(ctx, now)
	}
	switch {
	case w.calendar.ResetDue(w.lastReset, now):
		w.reset(ctx, now)
	case len(w.pending) > 0:
		w.retryReset(ctx)
	}

	report, err := w.market.RunDriftTick(ctx)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		w.log.Warn("drift tick had failures", "failed", report.Failed, "updated", report.Updated)
	}
	return nil
}

// loadLastReset falls back to now when the market cannot answer, so an
// unreadable log never re-baselines prices mid-day. It is retried next step.
func (w *Worker) loadLastReset(ctx context.Context, now time.Time) {
	last, err := w.market.LastReset(ctx)
	if err != nil {
		w.log.Warn("last reset unknown", "err", err)
		if w.lastReset.IsZero() {
			w.lastReset = now
		}
		return
	}
	w.lastReset = last
	if w.ranAt.After(last) {
		w.lastReset = w.ranAt
	}
	w.loaded = true
}

func (w *Worker) reset(ctx context.Context, now time.Time) {
	report, err := w.market.ResetDaily(ctx)
	if err != nil && report.Stocks == 0 {
		w.log.Error("daily reset failed", "err", err)
		return
	}
	w.lastReset = now
	w.ranAt = now
	w.pending = report.FailedIDs
	if err != nil {
		w.log.Warn("daily reset incomplete, retrying failed stocks", "reset", report.Reset, "failed", len(w.pending), "err", err)
	}
}

func (w *Worker) retryReset(ctx context.Context) {
	report, err := w.market.ResetStocks(ctx, w.pending)
	w.pending = report.FailedIDs
	if err != nil {
		w.log.Warn("daily reset retry incomplete", "reset", report.Reset, "failed", len(w.pending), "err", err)
		return
	}
	w.log.Info("daily reset finished", "reset", report.Reset)
}

// Run steps on every interval until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.every)
	defer ticker.Stop()

	w.log.Info("worker started", "tick_every", w.every.String(), "next_open", w.calendar.NextOpen(w.now()).Format(time.RFC3339))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutdown")
			return nil
		case <-ticker.C:
			if err := w.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.log.Error("market tick failed", "err", err)
			}
		}
	}
}
