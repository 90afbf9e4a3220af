package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketsim/internal/metrics"
)

// SectorBands maps a lower-case sector name to the half-width of the uniform
// band its per-tick sector trend is drawn from, on top of the market trend.
type SectorBands map[string]float64

func DefaultSectorBands() SectorBands {
	return SectorBands{
		"technology":  0.002,
		"finance":     0.0015,
		"energy":      0.003,
		"healthcare":  0.00175,
		"consumer":    0.00125,
		"industrial":  0.0015,
		"materials":   0.00225,
		"utilities":   0.001,
		"telecom":     0.00175,
		"real_estate": 0.0015,
	}
}

func (b SectorBands) Validate() error {
	for name, amp := range b {
		if normalizeSector(name) == "" {
			return fmt.Errorf("sector band: empty sector name")
		}
		if amp < 0 || math.IsNaN(amp) || math.IsInf(amp, 0) {
			return fmt.Errorf("sector band %q: amplitude must be a finite value >= 0", name)
		}
	}
	return nil
}

func (b SectorBands) normalized() SectorBands {
	out := make(SectorBands, len(b))
	for name, amp := range b {
		out[normalizeSector(name)] = amp
	}
	return out
}

// RunDriftTick moves every listed stock once: one market-wide trend, one
// trend per sector present, and an idiosyncratic term per stock scaled by its
// volatility. Moves larger than SignificantMoveThreshold are recorded in the
// price history. A failing stock is logged and skipped; only a failure to
// list the stocks fails the tick.
func (e *Engine) RunDriftTick(ctx context.Context) (TickReport, error) {
	var report TickReport
	timer := prometheus.NewTimer(metrics.DriftTickDuration)
	defer timer.ObserveDuration()

	stocks, err := e.store.List(ctx)
	if err != nil {
		metrics.RecordDriftTick("failed")
		return report, fmt.Errorf("list stocks: %w", err)
	}
	report.Stocks = len(stocks)
	at := e.now()

	marketTrend := e.uniform(MarketTrendAmplitude)
	sectorTrends := e.drawSectorTrends(stocks, marketTrend)

	for _, st := range stocks {
		if err := ctx.Err(); err != nil {
			metrics.RecordDriftTick("cancelled")
			return report, err
		}
		sectorTrend, ok := sectorTrends[normalizeSector(st.Sector)]
		if !ok {
			sectorTrend = marketTrend
		}
		idioDraw := e.nextFloat()
		volume := int64(e.nextIntn(MaxDriftVolumeIncrement) + 1)

		recorded := false
		next, err := e.store.Update(ctx, st.ID, func(cur Stock) (Stock, *PriceHistoryEntry, error) {
			next, entry := driftStep(cur, marketTrend, sectorTrend, idioDraw, volume, at)
			recorded = entry != nil
			return next, entry, nil
		})
		if err != nil {
			if errors.Is(err, ErrStockNotFound) {
				report.Skipped++
				e.log.Warn("drift skipped missing stock", "stock_id", st.ID, "symbol", st.Symbol)
				continue
			}
			report.Failed++
			metrics.DriftStockFailures.Inc()
			e.log.Warn("drift update failed", "stock_id", st.ID, "symbol", st.Symbol, "err", err)
			continue
		}
		report.Updated++
		if recorded {
			report.Recorded++
			metrics.RecordHistoryEntry(string(TransactionMarket))
		}
		e.publish(ctx, next)
	}

	metrics.RecordDriftTick("ok")
	e.log.Info("drift tick complete",
		"stocks", report.Stocks,
		"updated", report.Updated,
		"recorded", report.Recorded,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
	return report, nil
}

// drawSectorTrends draws one trend per configured sector that has at least
// one stock, in sorted sector order so a seeded source reproduces a tick.
func (e *Engine) drawSectorTrends(stocks []Stock, marketTrend float64) map[string]float64 {
	present := make(map[string]struct{})
	for _, st := range stocks {
		sector := normalizeSector(st.Sector)
		if _, ok := e.bands[sector]; ok {
			present[sector] = struct{}{}
		}
	}
	names := make([]string, 0, len(present))
	for name := range present {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = marketTrend + e.uniform(e.bands[name])
	}
	return out
}

// driftStep applies one tick's factors to s. idioDraw is a uniform [0, 1)
// sample turned into the idiosyncratic term here, because volatility must be
// read from the locked state.
func driftStep(s Stock, marketTrend, sectorTrend, idioDraw float64, volume int64, at time.Time) (Stock, *PriceHistoryEntry) {
	idio := (2*idioDraw - 1) * IdiosyncraticAmplitude * effectiveVolatility(s.Volatility)
	total := marketTrend + sectorTrend + idio

	open := EffectiveDailyOpen(s)
	price := s.CurrentPrice * (1 + total)
	if price < MinPrice || math.IsNaN(price) {
		price = MinPrice
	}

	next := s.Clone()
	next.CurrentPrice = price
	next.DailyOpen = open
	next.PriceChangePct = ChangePct(price, open)
	next.VolumeToday = s.VolumeToday + volume

	if math.Abs(total) <= SignificantMoveThreshold {
		return next, nil
	}
	return next, &PriceHistoryEntry{
		StockID:         s.ID,
		Price:           price,
		Volume:          volume,
		TransactionType: TransactionMarket,
		Timestamp:       at,
	}
}
