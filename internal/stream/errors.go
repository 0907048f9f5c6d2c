package stream

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("stream client not connected")
	ErrCircuitOpen  = errors.New("circuit breaker open")
	ErrClientClosed = errors.New("stream client closed")
)

// ConnectionError 建连失败，重试耗尽后为终态
type ConnectionError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SubscriptionError 未连接时订阅，或传输层拒绝订阅请求
type SubscriptionError struct {
	Filter string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Filter, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}
