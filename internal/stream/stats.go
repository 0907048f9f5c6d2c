package stream

import (
	"time"

	"chain-stream-sol/internal/pkg/utils"
)

// Stats 客户端运行快照
type Stats struct {
	State            string   `json:"state"`
	Endpoint         string   `json:"endpoint"`
	MessagesReceived uint64   `json:"messages_received"`
	BytesReceived    uint64   `json:"bytes_received"`
	ReconnectCount   uint64   `json:"reconnect_count"`
	Subscriptions    int      `json:"subscriptions"`
	AvgLatencyMs     *float64 `json:"avg_latency_ms"` // 还没有心跳样本时为 null
	UptimeSeconds    float64  `json:"uptime_seconds"`
	CircuitState     string   `json:"circuit_state"`
	CircuitOpen      bool     `json:"circuit_open"`
	FailureCount     int      `json:"failure_count"`
	ParseErrors      uint64   `json:"parse_errors"`
	ListenerErrors   uint64   `json:"listener_errors"`
}

func (c *Client) GetStats() Stats {
	c.mu.Lock()
	subs := len(c.subs)
	c.mu.Unlock()

	state := c.State()
	breakerState := c.breaker.State()

	var uptime float64
	if at := c.connectedAt.Load(); at > 0 && state == StateConnected {
		uptime = utils.Float64Round2(time.Since(time.Unix(0, at)).Seconds())
	}

	return Stats{
		State:            state.String(),
		Endpoint:         c.cfg.Endpoint,
		MessagesReceived: c.messagesReceived.Load(),
		BytesReceived:    c.bytesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
		Subscriptions:    subs,
		AvgLatencyMs:     c.avgLatency(),
		UptimeSeconds:    uptime,
		CircuitState:     breakerState.String(),
		CircuitOpen:      breakerState == BreakerOpen,
		FailureCount:     c.breaker.Failures(),
		ParseErrors:      c.parseErrors.Load(),
		ListenerErrors:   c.listenerErrors.Load(),
	}
}

func (c *Client) avgLatency() *float64 {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()

	if c.latencies.Len() == 0 {
		return nil
	}
	var sum float64
	c.latencies.Each(func(v float64) bool {
		sum += v
		return true
	})
	avg := utils.Float64Round2(sum / float64(c.latencies.Len()))
	return &avg
}
