package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"marketsim/internal/metrics"
)

type Timeframe string

const (
	Timeframe1D Timeframe = "1D"
	Timeframe1W Timeframe = "1W"
	Timeframe1M Timeframe = "1M"
	Timeframe3M Timeframe = "3M"
	Timeframe1Y Timeframe = "1Y"
	Timeframe5Y Timeframe = "5Y"
)

var Timeframes = []Timeframe{Timeframe1D, Timeframe1W, Timeframe1M, Timeframe3M, Timeframe1Y, Timeframe5Y}

type timeframeSpec struct {
	points int
	layout string
	// back steps t backwards by n synthetic intervals.
	back func(t time.Time, n int) time.Time
	// since is the start of the lookback window ending at t.
	since func(t time.Time) time.Time
}

var timeframeSpecs = map[Timeframe]timeframeSpec{
	Timeframe1D: {
		points: 24,
		layout: "15:04",
		back:   func(t time.Time, n int) time.Time { return t.Add(-time.Duration(n) * time.Hour) },
		since:  func(t time.Time) time.Time { return t.AddDate(0, 0, -1) },
	},
	Timeframe1W: {
		points: 7,
		layout: "Jan 2",
		back:   func(t time.Time, n int) time.Time { return t.AddDate(0, 0, -n) },
		since:  func(t time.Time) time.Time { return t.AddDate(0, 0, -7) },
	},
	Timeframe1M: {
		points: 30,
		layout: "Jan 2",
		back:   func(t time.Time, n int) time.Time { return t.AddDate(0, 0, -n) },
		since:  func(t time.Time) time.Time { return t.AddDate(0, -1, 0) },
	},
	Timeframe3M: {
		points: 90,
		layout: "Jan 2",
		back:   func(t time.Time, n int) time.Time { return t.AddDate(0, 0, -n) },
		since:  func(t time.Time) time.Time { return t.AddDate(0, -3, 0) },
	},
	Timeframe1Y: {
		points: 12,
		layout: "Jan 2006",
		back:   func(t time.Time, n int) time.Time { return t.AddDate(0, -n, 0) },
		since:  func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) },
	},
	Timeframe5Y: {
		points: 20,
		layout: "Jan 2006",
		back:   func(t time.Time, n int) time.Time { return t.AddDate(0, -3*n, 0) },
		since:  func(t time.Time) time.Time { return t.AddDate(-5, 0, 0) },
	},
}

func ParseTimeframe(raw string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := timeframeSpecs[tf]; !ok {
		return "", ErrInvalidTimeframe
	}
	return tf, nil
}

// Points is the number of points a synthetic series for tf contains.
func (tf Timeframe) Points() int {
	return timeframeSpecs[tf].points
}

// FormatLabel renders t the way charts label a point in timeframe tf.
func (tf Timeframe) FormatLabel(t time.Time) string {
	spec, ok := timeframeSpecs[tf]
	if !ok {
		return t.Format(time.RFC3339)
	}
	return t.Format(spec.layout)
}

// History projects the price of the stock identified by ref (id or symbol)
// over tf.
func (e *Engine) History(ctx context.Context, ref string, tf Timeframe) (HistorySeries, error) {
	if _, ok := timeframeSpecs[tf]; !ok {
		return HistorySeries{}, ErrInvalidTimeframe
	}
	stock, err := e.Resolve(ctx, ref)
	if err != nil {
		return HistorySeries{}, err
	}
	return e.HistoryFor(ctx, stock, tf)
}

// HistoryFor projects stock over tf. Recorded history is used when the
// window holds at least MinHistoryEntries samples; otherwise, or when the
// history store cannot be read, a synthetic series ending at the stock's
// current price is returned. Nothing is written back.
func (e *Engine) HistoryFor(ctx context.Context, stock Stock, tf Timeframe) (HistorySeries, error) {
	spec, ok := timeframeSpecs[tf]
	if !ok {
		return HistorySeries{}, ErrInvalidTimeframe
	}
	out := HistorySeries{StockID: stock.ID, Timeframe: tf}
	now := e.now()

	entries, err := e.store.QueryRange(ctx, stock.ID, spec.since(now), now)
	if err != nil {
		e.log.Warn("history query failed, using synthetic series", "stock_id", stock.ID, "timeframe", string(tf), "err", err)
	}
	if err == nil && len(entries) >= MinHistoryEntries {
		out.Points = make([]HistoryPoint, 0, len(entries))
		for _, entry := range entries {
			ts := entry.Timestamp.In(e.loc)
			out.Points = append(out.Points, HistoryPoint{
				Label:     tf.FormatLabel(ts),
				Timestamp: ts,
				Price:     entry.Price,
				Volume:    entry.Volume,
			})
		}
		metrics.RecordHistoryProjection(string(tf), "real")
		return out, nil
	}

	draws := e.nextFloats(2 * spec.points)
	i := 0
	out.Points = SynthesizeHistory(stock, tf, now.In(e.loc), func() float64 {
		v := draws[i]
		i++
		return v
	})
	out.Synthetic = true
	metrics.RecordHistoryProjection(string(tf), "synthetic")
	return out, nil
}

// SynthesizeHistory interpolates linearly from the back-derived daily open to
// the current price across tf.Points() points, perturbing every point but the
// last by up to +/-2.5% scaled by volatility. The final point is the current
// price at time now. rnd must return values in [0, 1); it is called twice per
// point.
func SynthesizeHistory(stock Stock, tf Timeframe, now time.Time, rnd func() float64) []HistoryPoint {
	spec, ok := timeframeSpecs[tf]
	if !ok {
		return nil
	}
	n := spec.points
	volatility := effectiveVolatility(stock.Volatility)
	current := stock.CurrentPrice
	start := current
	if mult := 1 + stock.PriceChangePct/100; mult > 0 {
		start = current / mult
	}

	points := make([]HistoryPoint, 0, n)
	for i := 0; i < n; i++ {
		ts := spec.back(now, n-1-i)
		progress := 1.0
		if n > 1 {
			progress = float64(i) / float64(n-1)
		}
		trend := start + (current-start)*progress

		perturb := (rnd() - 0.5) * SyntheticPerturbation * volatility
		volume := int64(SyntheticVolumeBase + rnd()*SyntheticVolumeSpread*volatility)

		price := current
		if i < n-1 {
			price = trend * (1 + perturb)
			if price < MinPrice {
				price = MinPrice
			}
		}
		points = append(points, HistoryPoint{
			Label:     tf.FormatLabel(ts),
			Timestamp: ts,
			Price:     price,
			Volume:    volume,
		})
	}
	return points
}

// Compare projects up to MaxComparisonSeries stocks over tf and merges them
// on one label axis, ordered by the earliest timestamp behind each label.
// Refs naming the same stock (symbol and id) count once.
func (e *Engine) Compare(ctx context.Context, refs []string, tf Timeframe) (Comparison, error) {
	out := Comparison{Timeframe: tf, Stocks: []Stock{}, Rows: []ComparisonRow{}}
	if _, ok := timeframeSpecs[tf]; !ok {
		return out, ErrInvalidTimeframe
	}
	refs = dedupeRefs(refs)
	if len(refs) == 0 {
		return out, nil
	}

	resolved := make([]Stock, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		g.Go(func() error {
			st, err := e.Resolve(gctx, ref)
			if err != nil {
				return fmt.Errorf("%s: %w", ref, err)
			}
			resolved[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	seen := make(map[string]struct{}, len(resolved))
	for _, st := range resolved {
		if _, ok := seen[st.ID]; ok {
			continue
		}
		seen[st.ID] = struct{}{}
		out.Stocks = append(out.Stocks, st)
	}
	if len(out.Stocks) > MaxComparisonSeries {
		n := len(out.Stocks)
		out.Stocks = []Stock{}
		return out, fmt.Errorf("%w: max %d, got %d", ErrTooManySeries, MaxComparisonSeries, n)
	}

	series := make([]HistorySeries, len(out.Stocks))
	g, gctx = errgroup.WithContext(ctx)
	for i, st := range out.Stocks {
		g.Go(func() error {
			s, err := e.HistoryFor(gctx, st, tf)
			if err != nil {
				return fmt.Errorf("%s: %w", st.Symbol, err)
			}
			series[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		out.Stocks = []Stock{}
		return out, err
	}
	out.Rows = MergeSeries(series)
	return out, nil
}

// MergeSeries joins series on their labels. A later point with the same
// label in one series replaces the earlier price for that series.
func MergeSeries(series []HistorySeries) []ComparisonRow {
	byLabel := make(map[string]*ComparisonRow)
	for _, s := range series {
		for _, p := range s.Points {
			row, ok := byLabel[p.Label]
			if !ok {
				row = &ComparisonRow{Label: p.Label, Timestamp: p.Timestamp, Prices: map[string]float64{}}
				byLabel[p.Label] = row
			}
			if p.Timestamp.Before(row.Timestamp) {
				row.Timestamp = p.Timestamp
			}
			row.Prices[s.StockID] = p.Price
		}
	}
	rows := make([]ComparisonRow, 0, len(byLabel))
	for _, row := range byLabel {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Label < rows[j].Label
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
	return rows
}

func dedupeRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		key := strings.ToUpper(ref)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ref)
	}
	return out
}
