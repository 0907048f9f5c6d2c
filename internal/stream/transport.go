package stream

import (
	"context"
	"time"
)

// Credentials 传输层鉴权信息
type Credentials struct {
	Token  string
	UseTLS bool
}

// SubscribeRequest 一个逻辑子流的订阅参数
type SubscribeRequest struct {
	Filter     SubscriptionFilter
	Commitment Commitment
}

// RawMessage 传输层推送的原始账户更新，字段未经校验
type RawMessage struct {
	Pubkey       []byte
	Owner        []byte
	Slot         uint64
	Lamports     uint64
	Data         []byte
	Executable   bool
	RentEpoch    uint64
	WriteVersion uint64
}

// Transport 建立到数据源的连接
type Transport interface {
	Connect(ctx context.Context, endpoint string, creds Credentials) (Connection, error)
}

// Connection 单条物理连接，所有订阅在其上复用
type Connection interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (UpdateStream, error)
	Ping(ctx context.Context) error
	Close() error
}

// UpdateStream 一个订阅的消息流。Recv 阻塞直到有消息、出错或订阅 ctx 被取消
type UpdateStream interface {
	Recv() (*RawMessage, error)
	Close() error
}

// TransportFunc 便于用函数实现 Transport
type TransportFunc func(ctx context.Context, endpoint string, creds Credentials) (Connection, error)

func (f TransportFunc) Connect(ctx context.Context, endpoint string, creds Credentials) (Connection, error) {
	return f(ctx, endpoint, creds)
}

// pingWithTimeout 返回往返耗时
func pingWithTimeout(ctx context.Context, conn Connection, timeout time.Duration) (time.Duration, error) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := conn.Ping(pingCtx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
