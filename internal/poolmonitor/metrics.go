package poolmonitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "pool",
		Name:      "updates_total",
		Help:      "Pool account updates processed, by dex.",
	}, []string{"dex"})
	metricDecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "pool",
		Name:      "decode_errors_total",
		Help:      "Pool account payloads that failed to decode, by dex.",
	}, []string{"dex"})
	metricStaleDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "pool",
		Name:      "stale_updates_total",
		Help:      "Updates dropped by the per-account slot guard.",
	})
	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "pool",
		Name:      "events_total",
		Help:      "Pool events emitted, by type.",
	}, []string{"type"})
	metricTrackedPools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_stream",
		Subsystem: "pool",
		Name:      "tracked",
		Help:      "Pools currently held in the pool table.",
	})
	metricVaultSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_stream",
		Subsystem: "pool",
		Name:      "vault_subscriptions",
		Help:      "Vault token accounts currently subscribed.",
	})
)
