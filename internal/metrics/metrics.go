package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_trades_total",
		Help: "Total number of trades applied or rejected",
	}, []string{"side", "status"})

	DriftTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_drift_ticks_total",
		Help: "Total number of drift ticks by outcome",
	}, []string{"status"})

	DriftStockFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_drift_stock_failures_total",
		Help: "Total number of per-stock drift updates that failed",
	})

	DriftTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketsim_drift_tick_duration_seconds",
		Help:    "Duration of a full drift tick",
		Buckets: prometheus.DefBuckets,
	})

	HistoryEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_history_entries_total",
		Help: "Total number of price history entries written",
	}, []string{"type"})

	HistoryProjections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_history_projections_total",
		Help: "Total number of history projections by timeframe and source",
	}, []string{"timeframe", "source"})

	DailyResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_daily_resets_total",
		Help: "Total number of daily resets by outcome",
	}, []string{"status"})

	StoreRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketsim_store_retries_total",
		Help: "Total number of stock updates retried after a serialization conflict",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketsim_notifications_total",
		Help: "Total number of stock change notifications published",
	}, []string{"status"})
)

func RecordTrade(side, status string) {
	Trades.WithLabelValues(side, status).Inc()
}

func RecordDriftTick(status string) {
	DriftTicks.WithLabelValues(status).Inc()
}

func RecordHistoryEntry(kind string) {
	HistoryEntries.WithLabelValues(kind).Inc()
}

func RecordHistoryProjection(timeframe, source string) {
	HistoryProjections.WithLabelValues(timeframe, source).Inc()
}

func RecordDailyReset(status string) {
	DailyResets.WithLabelValues(status).Inc()
}

func RecordNotification(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	Notifications.WithLabelValues(status).Inc()
}
