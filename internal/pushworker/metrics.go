package pushworker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricPushMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chain_stream",
	Subsystem: "push",
	Name:      "messages_total",
	Help:      "Kafka push results by outcome (sent, failed, dropped).",
}, []string{"result"})
