// Package streamtest 提供内存版 Transport，用于测试依赖 stream.Client 的组件
package streamtest

import (
	"context"
	"errors"
	"io"
	"sync"

	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/types"
)

var ErrConnClosed = errors.New("streamtest: connection closed")

type Transport struct {
	mu         sync.Mutex
	failLeft   int
	connectErr error
	connects   int
	conns      []*Conn
	creds      []stream.Credentials
}

func NewTransport() *Transport {
	return &Transport{}
}

// FailConnects 之后 n 次 Connect 返回 err；n < 0 表示一直失败
func (t *Transport) FailConnects(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failLeft = n
	t.connectErr = err
}

func (t *Transport) Connect(ctx context.Context, _ string, creds stream.Credentials) (stream.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.connects++
	t.creds = append(t.creds, creds)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.failLeft != 0 {
		if t.failLeft > 0 {
			t.failLeft--
		}
		return nil, t.connectErr
	}
	c := &Conn{}
	t.conns = append(t.conns, c)
	return c, nil
}

// Connects Connect 被调用的次数，包括失败的
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Conn, len(t.conns))
	copy(out, t.conns)
	return out
}

// Last 最近一次成功建立的连接
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *Transport) LastCredentials() stream.Credentials {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.creds) == 0 {
		return stream.Credentials{}
	}
	return t.creds[len(t.creds)-1]
}

// Push 推送到最近连接上匹配 key 的所有子流
func (t *Transport) Push(msg *stream.RawMessage) int {
	c := t.Last()
	if c == nil {
		return 0
	}
	return c.Push(msg)
}

type Conn struct {
	mu           sync.Mutex
	streams      []*Stream
	closed       bool
	pingErr      error
	subscribeErr error
}

func (c *Conn) Subscribe(ctx context.Context, req stream.SubscribeRequest) (stream.UpdateStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConnClosed
	}
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	s := &Stream{
		ctx:    ctx,
		req:    req,
		msgs:   make(chan *stream.RawMessage, 1024),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *Conn) Ping(ctx context.Context) error {
	c.mu.Lock()
	err := c.pingErr
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrConnClosed
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	streams := c.streams
	c.mu.Unlock()

	for _, s := range streams {
		s.Fail(ErrConnClosed)
	}
	return nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) SetPingError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *Conn) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// Break 模拟服务端断流：所有子流返回 err，连接本身不标记关闭
func (c *Conn) Break(err error) {
	for _, s := range c.Streams() {
		s.Fail(err)
	}
}

func (c *Conn) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Stream, len(c.streams))
	copy(out, c.streams)
	return out
}

func (c *Conn) Requests() []stream.SubscribeRequest {
	streams := c.Streams()
	out := make([]stream.SubscribeRequest, 0, len(streams))
	for _, s := range streams {
		out = append(out, s.req)
	}
	return out
}

// Push 投递给所有未关闭且 filter 匹配的子流，返回投递数量
func (c *Conn) Push(msg *stream.RawMessage) int {
	n := 0
	for _, s := range c.Streams() {
		if s.Active() && s.Matches(msg) {
			s.Push(msg)
			n++
		}
	}
	return n
}

type Stream struct {
	ctx       context.Context
	req       stream.SubscribeRequest
	msgs      chan *stream.RawMessage
	errCh     chan error
	closed    chan struct{}
	closeOnce sync.Once
	failOnce  sync.Once
}

func (s *Stream) Request() stream.SubscribeRequest {
	return s.req
}

func (s *Stream) Recv() (*stream.RawMessage, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	case err := <-s.errCh:
		return nil, err
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

func (s *Stream) Push(msg *stream.RawMessage) {
	s.msgs <- msg
}

func (s *Stream) Fail(err error) {
	s.failOnce.Do(func() {
		s.errCh <- err
	})
}

// Active 子流未被关闭且订阅 ctx 未取消
func (s *Stream) Active() bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	return s.ctx.Err() == nil
}

func (s *Stream) Matches(msg *stream.RawMessage) bool {
	f := s.req.Filter
	switch f.Kind {
	case stream.FilterAccounts:
		key, err := types.PubkeyFromBytes(msg.Pubkey)
		if err != nil {
			return false
		}
		for _, k := range f.Accounts {
			if k == key {
				return true
			}
		}
		return false
	case stream.FilterProgram:
		owner, err := types.PubkeyFromBytes(msg.Owner)
		return err == nil && owner == f.Program
	default:
		return false
	}
}

// Message 构造一条原始账户更新
func Message(pubkey, owner types.Pubkey, slot, lamports uint64, data []byte) *stream.RawMessage {
	return &stream.RawMessage{
		Pubkey:   pubkey[:],
		Owner:    owner[:],
		Slot:     slot,
		Lamports: lamports,
		Data:     data,
	}
}
