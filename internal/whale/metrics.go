package whale

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "whale",
		Name:      "updates_total",
		Help:      "Token account updates seen for tracked wallets.",
	})
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "whale",
		Name:      "events_total",
		Help:      "Whale events emitted, by type.",
	}, []string{"type"})
	metricCopySignals = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "whale",
		Name:      "copy_trade_signals_total",
		Help:      "Copy-trade signals emitted.",
	})
	metricTradeValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chain_stream",
		Subsystem: "whale",
		Name:      "trade_value_usd",
		Help:      "USD value of balance changes that passed the minimum trade size.",
		Buckets:   prometheus.ExponentialBuckets(1000, 4, 8),
	})
	metricWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_stream",
		Subsystem: "whale",
		Name:      "wallets_tracked",
		Help:      "Wallets currently tracked.",
	})
)
