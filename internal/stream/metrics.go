package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "messages_received_total",
		Help:      "Account update messages received from the stream.",
	})
	metricBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "bytes_received_total",
		Help:      "Account data bytes received from the stream.",
	})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "reconnects_total",
		Help:      "Connection loss events that triggered a reconnect.",
	})
	metricParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "parse_errors_total",
		Help:      "Raw messages dropped because they could not be parsed.",
	})
	metricListenerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "listener_errors_total",
		Help:      "Listener invocations that returned an error or panicked.",
	})
	metricState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "connection_state",
		Help:      "Connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed).",
	})
	metricSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "subscriptions",
		Help:      "Active subscriptions.",
	})
	metricPingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chain_stream",
		Subsystem: "stream",
		Name:      "ping_latency_seconds",
		Help:      "Keepalive round-trip latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)
