package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketsim/internal/metrics"
)

// ResetDaily re-baselines every stock for a new trading day: the daily open
// becomes the current price, and change and volume return to zero. Running
// it again before any price moves changes nothing.
//
// The reset is recorded in the store once at least one stock was reset.
// Stocks that failed are listed in the report's FailedIDs for ResetStocks.
func (e *Engine) ResetDaily(ctx context.Context) (ResetReport, error) {
	at := e.now()
	stocks, err := e.store.List(ctx)
	if err != nil {
		metrics.RecordDailyReset("failed")
		return ResetReport{}, fmt.Errorf("list stocks: %w", err)
	}
	ids := make([]string, len(stocks))
	for i, st := range stocks {
		ids[i] = st.ID
	}

	report, err := e.resetStocks(ctx, ids)
	if report.Reset > 0 || report.Stocks == 0 {
		if markErr := e.store.MarkReset(ctx, at); markErr != nil {
			e.log.Warn("record daily reset failed", "err", markErr)
		}
	}
	if err != nil {
		metrics.RecordDailyReset("partial")
		return report, err
	}
	metrics.RecordDailyReset("ok")
	e.log.Info("daily reset complete", "stocks", report.Stocks, "reset", report.Reset)
	return report, nil
}

// ResetStocks re-baselines only the given stocks. The worker uses it to
// finish a partial daily reset without touching stocks already reset.
func (e *Engine) ResetStocks(ctx context.Context, ids []string) (ResetReport, error) {
	report, err := e.resetStocks(ctx, ids)
	if err != nil {
		metrics.RecordDailyReset("partial")
		return report, err
	}
	metrics.RecordDailyReset("retried")
	return report, nil
}

// LastReset is when the daily reset last ran, zero if never.
func (e *Engine) LastReset(ctx context.Context) (time.Time, error) {
	return e.store.LastReset(ctx)
}

func (e *Engine) resetStocks(ctx context.Context, ids []string) (ResetReport, error) {
	report := ResetReport{Stocks: len(ids)}
	var errs []error
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Failed += len(ids) - i
			report.FailedIDs = append(report.FailedIDs, ids[i:]...)
			errs = append(errs, err)
			break
		}
		next, err := e.store.Update(ctx, id, func(cur Stock) (Stock, *PriceHistoryEntry, error) {
			return resetStep(cur), nil, nil
		})
		if err != nil {
			if errors.Is(err, ErrStockNotFound) {
				e.log.Warn("reset skipped missing stock", "stock_id", id)
				continue
			}
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, id)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			e.log.Warn("daily reset failed", "stock_id", id, "err", err)
			continue
		}
		report.Reset++
		e.publish(ctx, next)
	}
	return report, errors.Join(errs...)
}

func resetStep(s Stock) Stock {
	next := s.Clone()
	next.DailyOpen = s.CurrentPrice
	next.PriceChangePct = 0
	next.VolumeToday = 0
	return next
}
