// Package solanaws 基于 Solana JSON-RPC websocket 的 stream.Transport 实现：
// accountSubscribe / programSubscribe 推送被转成 stream.RawMessage
package solanaws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/stream"
	"github.com/gorilla/websocket"
)

var (
	ErrConnClosed   = errors.New("solanaws: connection closed")
	ErrStreamClosed = errors.New("solanaws: stream closed")
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultRequestTimeout   = 15 * time.Second
	DefaultStreamBuffer     = 1024

	apiKeyParam = "api-key"
)

type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration
	StreamBuffer     int
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.StreamBuffer <= 0 {
		c.StreamBuffer = DefaultStreamBuffer
	}
	return c
}

type Transport struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewTransport(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (t *Transport) Connect(ctx context.Context, endpoint string, creds stream.Credentials) (stream.Connection, error) {
	u, err := BuildURL(endpoint, creds)
	if err != nil {
		return nil, err
	}
	ws, _, err := t.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", redact(u), err)
	}
	c := newConn(ws, t.cfg)
	go c.readLoop()
	return c, nil
}

// BuildURL 没有 scheme 时按 UseTLS 补 wss:// 或 ws://，Token 以 api-key 查询参数携带
func BuildURL(endpoint string, creds stream.Credentials) (string, error) {
	if endpoint == "" {
		return "", errors.New("solanaws: empty endpoint")
	}
	if !strings.Contains(endpoint, "://") {
		scheme := "ws://"
		if creds.UseTLS {
			scheme = "wss://"
		}
		endpoint = scheme + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("solanaws: endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("solanaws: unsupported scheme %q", u.Scheme)
	}
	if creds.Token != "" {
		q := u.Query()
		q.Set(apiKeyParam, creds.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || !u.Query().Has(apiKeyParam) {
		return raw
	}
	q := u.Query()
	q.Set(apiKeyParam, "***")
	u.RawQuery = q.Encode()
	return u.String()
}

//////////////////////////////
// 连接
//////////////////////////////

// route 服务端订阅 id 到子流的映射
type route struct {
	stream      *updateStream
	pubkey      []byte
	unsubscribe string
}

type pendingCall struct {
	resp  chan envelope
	route *route
}

type conn struct {
	ws     *websocket.Conn
	cfg    Config
	nextID atomic.Uint64

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	routes  map[int64]*route
	streams map[*updateStream]struct{}

	pongs     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	err       error

	lastDecodeWarn atomic.Int64
}

func newConn(ws *websocket.Conn, cfg Config) *conn {
	c := &conn{
		ws:      ws,
		cfg:     cfg,
		pending: make(map[uint64]*pendingCall),
		routes:  make(map[int64]*route),
		streams: make(map[*updateStream]struct{}),
		pongs:   make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		select {
		case c.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	return c
}

func (c *conn) Subscribe(ctx context.Context, req stream.SubscribeRequest) (stream.UpdateStream, error) {
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	s := &updateStream{
		conn:   c,
		msgs:   make(chan *stream.RawMessage, c.cfg.StreamBuffer),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, c.err
	default:
	}
	c.streams[s] = struct{}{}
	c.mu.Unlock()

	// 子流生命周期跟随 ctx
	context.AfterFunc(ctx, func() { _ = s.Close() })

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	opts := subscribeOptions{Encoding: "base64", Commitment: string(req.Commitment)}
	var err error
	switch req.Filter.Kind {
	case stream.FilterAccounts:
		for _, key := range req.Filter.Accounts {
			r := &route{stream: s, pubkey: append([]byte(nil), key[:]...), unsubscribe: methodAccountUnsubscribe}
			if err = c.call(reqCtx, methodAccountSubscribe, []any{key.String(), opts}, r); err != nil {
				err = fmt.Errorf("%s %s: %w", methodAccountSubscribe, key.String(), err)
				break
			}
		}
	case stream.FilterProgram:
		opts.DataSlice = req.Filter.DataSlice
		if req.Filter.DataSize > 0 {
			opts.Filters = []programFilter{{DataSize: req.Filter.DataSize}}
		}
		r := &route{stream: s, unsubscribe: methodProgramUnsubscribe}
		if err = c.call(reqCtx, methodProgramSubscribe, []any{req.Filter.Program.String(), opts}, r); err != nil {
			err = fmt.Errorf("%s %s: %w", methodProgramSubscribe, req.Filter.Program.String(), err)
		}
	}
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Ping 发送 websocket ping 帧并等待 pong
func (c *conn) Ping(ctx context.Context) error {
	select {
	case <-c.pongs:
	default:
	}
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	select {
	case <-c.pongs:
		return nil
	case <-c.closed:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) Close() error {
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.fail(ErrConnClosed)
	return nil
}

// fail 只生效一次：关闭底层连接，所有子流和等待中的请求收到 err
func (c *conn) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		close(c.closed)
		streams := make([]*updateStream, 0, len(c.streams))
		for s := range c.streams {
			streams = append(streams, s)
		}
		c.routes = make(map[int64]*route)
		c.mu.Unlock()

		_ = c.ws.Close()
		for _, s := range streams {
			s.fail(err)
		}
	})
}

func (c *conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteJSON(v)
}

// call 发送请求并等待应答；r 非空时在读循环内登记路由，避免首条推送先于登记到达
func (c *conn) call(ctx context.Context, method string, params []any, r *route) error {
	id := c.nextID.Add(1)
	pc := &pendingCall{resp: make(chan envelope, 1), route: r}

	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return c.err
	default:
	}
	c.pending[id] = pc
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case resp := <-pc.resp:
		if resp.Error != nil {
			return resp.Error
		}
		return nil
	case <-c.closed:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		c.dispatch(data)
	}
}

func (c *conn) dispatch(data []byte) {
	var env envelope
	if err := utils.SafeJsonUnmarshal(data, &env); err != nil {
		c.warnDecode("invalid frame: %v", err)
		return
	}

	if env.Method != "" {
		c.handleNotification(&env)
		return
	}
	if env.ID == nil {
		return
	}

	c.mu.Lock()
	pc := c.pending[*env.ID]
	if pc != nil {
		delete(c.pending, *env.ID)
		if env.Error == nil && pc.route != nil {
			var subID int64
			if err := utils.SafeJsonUnmarshal([]byte(env.Result), &subID); err != nil {
				env.Error = &rpcError{Code: -1, Message: fmt.Sprintf("invalid subscription id %s", env.Result)}
			} else {
				c.routes[subID] = pc.route
			}
		}
	}
	c.mu.Unlock()

	if pc != nil {
		pc.resp <- env
	}
}

func (c *conn) handleNotification(env *envelope) {
	if env.Params == nil {
		return
	}
	if env.Method != methodAccountNotification && env.Method != methodProgramNotification {
		return
	}

	c.mu.Lock()
	r := c.routes[env.Params.Subscription]
	c.mu.Unlock()
	if r == nil {
		return
	}

	msg, err := decodeNotification(env.Method, env.Params.Result, r.pubkey)
	if err != nil {
		c.warnDecode("subscription %d: %v", env.Params.Subscription, err)
		return
	}
	r.stream.deliver(msg)
}

func (c *conn) warnDecode(format string, args ...any) {
	if utils.ThrottleLog(&c.lastDecodeWarn, 5*time.Second) {
		logger.Warnf("[solanaws] "+format, args...)
	}
}

// release 摘掉子流的全部路由并通知服务端退订，可重复调用
func (c *conn) release(s *updateStream) {
	type unsub struct {
		id     int64
		method string
	}
	var drop []unsub

	c.mu.Lock()
	delete(c.streams, s)
	for id, r := range c.routes {
		if r.stream == s {
			drop = append(drop, unsub{id: id, method: r.unsubscribe})
			delete(c.routes, id)
		}
	}
	closed := c.err != nil
	c.mu.Unlock()

	if closed {
		return
	}
	for _, u := range drop {
		// 不等待应答，读循环会忽略没有登记的 id
		req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: u.method, Params: []any{u.id}}
		if err := c.write(req); err != nil {
			logger.Warnf("[solanaws] %s %d failed: %v", u.method, u.id, err)
			return
		}
	}
}

//////////////////////////////
// 子流
//////////////////////////////

type updateStream struct {
	conn *conn
	msgs chan *stream.RawMessage

	done      chan struct{}
	closeOnce sync.Once

	failed   chan struct{}
	failOnce sync.Once
	err      error
}

func (s *updateStream) Recv() (*stream.RawMessage, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-s.failed:
		return nil, s.err
	case <-s.done:
		return nil, ErrStreamClosed
	}
}

func (s *updateStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.conn.release(s)
	return nil
}

// deliver 缓冲满时阻塞读循环，直到消费或子流结束
func (s *updateStream) deliver(msg *stream.RawMessage) {
	select {
	case s.msgs <- msg:
	case <-s.done:
	case <-s.failed:
	}
}

func (s *updateStream) fail(err error) {
	s.failOnce.Do(func() {
		s.err = err
		close(s.failed)
	})
}

var _ stream.Transport = (*Transport)(nil)
