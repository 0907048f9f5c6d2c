package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/shutdown"
	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/types"
	"github.com/google/uuid"
)

const (
	latencyWindow        = 100
	shutdownHookName     = "stream-client"
	shutdownHookTimeout  = 10 * time.Second
	shutdownHookPriority = 70
)

// AccountUpdateListener 收到账户更新时同步调用；返回的错误只记录日志
type AccountUpdateListener func(update *AccountUpdate) error

type StateChangeListener func(oldState, newState ConnState)

// HookRegistrar 进程退出协调器
type HookRegistrar interface {
	RegisterHook(name string, fn func(ctx context.Context) error, phase shutdown.Phase, timeout time.Duration, priority int)
}

type Option func(*Client)

// WithHookRegistrar 构造时把 Disconnect 注册为退出钩子
func WithHookRegistrar(r HookRegistrar) Option {
	return func(c *Client) {
		c.registrar = r
	}
}

type subscription struct {
	id     string
	filter SubscriptionFilter
	cancel context.CancelFunc // 连接断开后为 nil，等待重订阅
	done   chan struct{}
}

// Client 管理到数据源的单条连接，所有订阅在其上复用
type Client struct {
	cfg       Config
	transport Transport
	breaker   *CircuitBreaker
	registrar HookRegistrar

	connectMu sync.Mutex // 串行化 connect / reconnect / disconnect

	mu         sync.Mutex // 保护以下字段
	conn       Connection
	connCancel context.CancelFunc
	pingDone   chan struct{}
	subs       map[string]*subscription
	lifeCtx    context.Context // Disconnect 时取消，贯穿重连
	lifeCancel context.CancelFunc

	state        atomic.Int32
	reconnecting atomic.Bool
	connectedAt  atomic.Int64

	listenerMu       sync.Mutex // 写时复制
	accountListeners atomic.Pointer[[]AccountUpdateListener]
	stateListeners   atomic.Pointer[[]StateChangeListener]

	messagesReceived atomic.Uint64
	bytesReceived    atomic.Uint64
	reconnectCount   atomic.Uint64
	parseErrors      atomic.Uint64
	listenerErrors   atomic.Uint64

	latencyMu sync.Mutex
	latencies *utils.Ring[float64]

	lastErrLogTime atomic.Int64
}

func NewClient(cfg Config, transport Transport, opts ...Option) *Client {
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:       cfg,
		transport: transport,
		breaker:   NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		subs:      make(map[string]*subscription, 16),
		latencies: utils.NewRing[float64](latencyWindow),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.registrar != nil {
		c.registrar.RegisterHook(shutdownHookName, c.Disconnect, shutdown.PhaseGraceful, shutdownHookTimeout, shutdownHookPriority)
	}
	return c
}

func (c *Client) Config() Config {
	return c.cfg
}

func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

//////////////////////////////
// 连接生命周期
//////////////////////////////

// Connect 建立连接，失败按指数退避重试；重试耗尽进入 FAILED 并返回 *ConnectionError
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.State() == StateConnected {
		return nil
	}
	life := c.lifecycle()
	if err := c.connectLocked(ctx, life, false); err != nil {
		return err
	}

	// FAILED 之后重新连上：登记中的订阅还在，按原 id 恢复
	c.mu.Lock()
	pending := len(c.subs)
	c.mu.Unlock()
	if pending > 0 {
		c.resubscribeAll(life)
	}
	return nil
}

// Disconnect 取消所有订阅与心跳、关闭连接，幂等。进行中的重连会被中止
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.lifeCancel != nil {
		c.lifeCancel()
	}
	c.mu.Unlock()

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	waits := c.teardownConnection()

	c.mu.Lock()
	dropped := len(c.subs)
	c.subs = make(map[string]*subscription, 16)
	c.mu.Unlock()
	metricSubscriptions.Set(0)

	if pending := waitAll(ctx, waits, c.cfg.ShutdownTimeout); pending > 0 {
		logger.Warnf("[StreamClient] %d task(s) did not exit within %v, abandoned", pending, c.cfg.ShutdownTimeout)
	}

	if c.State() != StateDisconnected {
		c.setState(StateDisconnected)
		logger.Infof("[StreamClient] disconnected from %s, dropped %d subscription(s)", c.cfg.Endpoint, dropped)
	}
	return nil
}

func (c *Client) lifecycle() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifeCtx == nil || c.lifeCtx.Err() != nil {
		c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	}
	return c.lifeCtx
}

// connectLocked 调用方需持有 connectMu。熔断器只在入口检查一次，
// 放行后跑满 maxAttempts，每次失败都计入熔断器
func (c *Client) connectLocked(ctx, life context.Context, reconnect bool) error {
	maxAttempts := c.cfg.MaxReconnectAttempts
	var lastErr error

	if !c.breaker.Allow() {
		logger.Warnf("[StreamClient] circuit breaker open, rejecting connect to %s", c.cfg.Endpoint)
		c.setState(StateFailed)
		return &ConnectionError{Endpoint: c.cfg.Endpoint, Attempts: 0, Err: ErrCircuitOpen}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := BackoffDelay(c.cfg.ReconnectDelay, c.cfg.MaxReconnectDelay, attempt)
			logger.Infof("[StreamClient] retry %s in %v (attempt %d/%d)", c.cfg.Endpoint, delay, attempt+1, maxAttempts)
			if err := sleepContext(ctx, life, delay); err != nil {
				c.breaker.Abort()
				c.abortConnect(life)
				return &ConnectionError{Endpoint: c.cfg.Endpoint, Attempts: attempt, Err: err}
			}
		}

		if !reconnect {
			c.setState(StateConnecting)
		}

		conn, err := c.dial(ctx, life)
		if err == nil {
			if life.Err() != nil {
				_ = conn.Close()
				c.breaker.Abort()
				return &ConnectionError{Endpoint: c.cfg.Endpoint, Attempts: attempt + 1, Err: ErrClientClosed}
			}
			c.breaker.RecordSuccess()
			c.installConnection(life, conn)
			logger.Infof("[StreamClient] connected to %s (attempt %d)", c.cfg.Endpoint, attempt+1)
			c.setState(StateConnected)
			return nil
		}

		if ctx.Err() != nil || life.Err() != nil {
			c.breaker.Abort()
			c.abortConnect(life)
			return &ConnectionError{Endpoint: c.cfg.Endpoint, Attempts: attempt + 1, Err: err}
		}

		lastErr = err
		c.breaker.RecordFailure()
		logger.Warnf("[StreamClient] connect attempt %d/%d to %s failed: %v", attempt+1, maxAttempts, c.cfg.Endpoint, err)
	}

	c.setState(StateFailed)
	return &ConnectionError{Endpoint: c.cfg.Endpoint, Attempts: maxAttempts, Err: lastErr}
}

// abortConnect 调用方取消时回到 DISCONNECTED；Disconnect 触发的取消由 Disconnect 自己设置状态
func (c *Client) abortConnect(life context.Context) {
	if life.Err() == nil {
		c.setState(StateDisconnected)
	}
}

func (c *Client) dial(ctx, life context.Context) (Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(life, cancel)
	defer stop()

	return c.transport.Connect(dialCtx, c.cfg.Endpoint, c.cfg.Credentials())
}

func (c *Client) installConnection(life context.Context, conn Connection) {
	connCtx, connCancel := context.WithCancel(life)
	pingDone := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connCancel = connCancel
	c.pingDone = pingDone
	c.mu.Unlock()

	c.connectedAt.Store(time.Now().UnixNano())
	go c.pingLoop(connCtx, conn, pingDone)
}

// teardownConnection 关闭当前连接、停止心跳与所有子流，保留订阅登记以便重订阅
func (c *Client) teardownConnection() []chan struct{} {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}

	waits := make([]chan struct{}, 0, len(c.subs)+1)
	if c.pingDone != nil {
		waits = append(waits, c.pingDone)
		c.pingDone = nil
	}
	for _, sub := range c.subs {
		if sub.cancel != nil {
			sub.cancel()
			sub.cancel = nil
		}
		if sub.done != nil {
			waits = append(waits, sub.done)
			sub.done = nil
		}
	}
	c.mu.Unlock()

	c.connectedAt.Store(0)
	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.Warnf("[StreamClient] close connection: %v", err)
		}
	}
	return waits
}

func (c *Client) pingLoop(ctx context.Context, conn Connection, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rtt, err := pingWithTimeout(ctx, conn, c.cfg.PingInterval)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warnf("[StreamClient] ping failed: %v", err)
				c.onConnectionLost(conn, err)
				return
			}
			c.recordLatency(rtt)
		}
	}
}

// onConnectionLost 只处理当前连接的失败，旧连接迟到的错误直接忽略
func (c *Client) onConnectionLost(conn Connection, cause error) {
	c.mu.Lock()
	current := c.conn
	life := c.lifeCtx
	c.mu.Unlock()

	if current == nil || conn != current || life == nil || life.Err() != nil {
		return
	}
	if c.State() != StateConnected {
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}

	if !c.cfg.ReconnectOn() {
		logger.Warnf("[StreamClient] connection lost (%v), reconnect disabled", cause)
		c.connectMu.Lock()
		c.teardownConnection()
		c.mu.Lock()
		c.subs = make(map[string]*subscription, 16)
		c.mu.Unlock()
		c.connectMu.Unlock()
		metricSubscriptions.Set(0)
		c.reconnecting.Store(false)
		c.setState(StateDisconnected)
		return
	}

	c.reconnectCount.Add(1)
	metricReconnects.Inc()
	logger.Warnf("[StreamClient] connection lost: %v, reconnecting", cause)
	c.setState(StateReconnecting)
	go c.handleReconnect(life)
}

func (c *Client) handleReconnect(life context.Context) {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	waits := c.teardownConnection()
	if pending := waitAll(life, waits, c.cfg.ShutdownTimeout); pending > 0 {
		logger.Warnf("[StreamClient] %d task(s) of the lost connection still running", pending)
	}

	if life.Err() != nil {
		c.reconnecting.Store(false)
		return
	}

	err := c.connectLocked(life, life, true)
	c.reconnecting.Store(false)
	if err != nil {
		if life.Err() == nil {
			logger.Errorf("[StreamClient] reconnect failed: %v", err)
		}
		return
	}

	c.resubscribeAll(life)
}

// resubscribeAll 按原 id 重新下发所有订阅，不回放断线期间的消息
func (c *Client) resubscribeAll(life context.Context) {
	c.mu.Lock()
	pending := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		pending = append(pending, &subscription{id: sub.id, filter: sub.filter})
	}
	c.mu.Unlock()

	ok := 0
	for _, sub := range pending {
		if life.Err() != nil {
			return
		}
		if err := c.openSubscription(life, sub.id, sub.filter, true); err != nil {
			logger.Errorf("[StreamClient] resubscribe %s (id=%s) failed: %v", sub.filter, sub.id, err)
			continue
		}
		ok++
	}
	logger.Infof("[StreamClient] resubscribed %d/%d subscription(s)", ok, len(pending))
}

//////////////////////////////
// 订阅
//////////////////////////////

func (c *Client) SubscribeAccounts(ctx context.Context, keys []types.Pubkey) (string, error) {
	return c.Subscribe(ctx, AccountsFilter(keys...))
}

func (c *Client) SubscribeProgram(ctx context.Context, program types.Pubkey) (string, error) {
	return c.Subscribe(ctx, ProgramFilter(program))
}

// Subscribe 未连接时返回 *SubscriptionError
func (c *Client) Subscribe(ctx context.Context, filter SubscriptionFilter) (string, error) {
	if err := filter.Validate(); err != nil {
		return "", &SubscriptionError{Filter: filter.String(), Err: err}
	}
	if c.State() != StateConnected {
		return "", &SubscriptionError{Filter: filter.String(), Err: ErrNotConnected}
	}

	id := uuid.NewString()
	if err := c.openSubscription(ctx, id, filter, false); err != nil {
		return "", err
	}
	logger.Infof("[StreamClient] subscribed %s (id=%s)", filter, id)
	return id, nil
}

// Unsubscribe 未知 id 为 no-op
func (c *Client) Unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	var cancel context.CancelFunc
	if ok {
		cancel = sub.cancel
		delete(c.subs, id)
	}
	n := len(c.subs)
	c.mu.Unlock()

	if !ok {
		return
	}
	if cancel != nil {
		cancel()
	}
	metricSubscriptions.Set(float64(n))
	logger.Infof("[StreamClient] unsubscribed %s (id=%s)", sub.filter, id)
}

// SubscriptionIDs 当前登记的订阅 id
func (c *Client) SubscriptionIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}

func (c *Client) openSubscription(ctx context.Context, id string, filter SubscriptionFilter, resubscribe bool) error {
	c.mu.Lock()
	conn := c.conn
	life := c.lifeCtx
	c.mu.Unlock()

	if conn == nil || life == nil || life.Err() != nil {
		return &SubscriptionError{Filter: filter.String(), Err: ErrNotConnected}
	}

	subCtx, cancel := context.WithCancel(life)
	req := SubscribeRequest{Filter: filter, Commitment: c.commitmentFor(filter)}

	// 调用方 ctx 只约束订阅请求本身，子流生命周期跟随 subCtx
	stop := context.AfterFunc(ctx, cancel)
	st, err := conn.Subscribe(subCtx, req)
	stop()
	if err == nil && subCtx.Err() != nil {
		_ = st.Close()
		err = subCtx.Err()
	}
	if err != nil {
		cancel()
		return &SubscriptionError{Filter: filter.String(), Err: err}
	}

	done := make(chan struct{})
	c.mu.Lock()
	_, exists := c.subs[id]
	if c.conn != conn || (resubscribe && !exists) {
		c.mu.Unlock()
		cancel()
		_ = st.Close()
		if resubscribe && !exists {
			return nil
		}
		return &SubscriptionError{Filter: filter.String(), Err: ErrNotConnected}
	}
	c.subs[id] = &subscription{id: id, filter: filter, cancel: cancel, done: done}
	n := len(c.subs)
	c.mu.Unlock()

	metricSubscriptions.Set(float64(n))
	go c.processStream(subCtx, conn, id, st, done)
	return nil
}

func (c *Client) commitmentFor(filter SubscriptionFilter) Commitment {
	if filter.Commitment != "" {
		return filter.Commitment
	}
	return c.cfg.Commitment
}

func (c *Client) processStream(ctx context.Context, conn Connection, id string, st UpdateStream, done chan struct{}) {
	defer close(done)
	defer func() {
		_ = st.Close()
	}()

	for {
		msg, err := st.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("[StreamClient] subscription %s stream error: %v", id, err)
			c.onConnectionLost(conn, err)
			return
		}
		c.handleMessage(msg)
	}
}

//////////////////////////////
// 分发
//////////////////////////////

// OnAccountUpdate 按注册顺序调用
func (c *Client) OnAccountUpdate(l AccountUpdateListener) {
	if l == nil {
		return
	}
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	var next []AccountUpdateListener
	if cur := c.accountListeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	c.accountListeners.Store(&next)
}

func (c *Client) OnStateChange(l StateChangeListener) {
	if l == nil {
		return
	}
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	var next []StateChangeListener
	if cur := c.stateListeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	c.stateListeners.Store(&next)
}

func (c *Client) handleMessage(msg *RawMessage) {
	if msg == nil {
		return
	}
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(msg.Data)))
	metricMessages.Inc()
	metricBytes.Add(float64(len(msg.Data)))

	update, err := ParseRawMessage(msg, time.Now())
	if err != nil {
		c.parseErrors.Add(1)
		metricParseErrors.Inc()
		logger.Debugf("[StreamClient] drop malformed message: %v", err)
		return
	}
	c.dispatch(update)
}

// dispatch 单个监听器失败不影响其他监听器
func (c *Client) dispatch(update *AccountUpdate) {
	listeners := c.accountListeners.Load()
	if listeners == nil {
		return
	}
	for i, l := range *listeners {
		err := utils.SafeCall(func() error {
			return l(update)
		})
		if err != nil {
			c.listenerErrors.Add(1)
			metricListenerErrors.Inc()
			if utils.ThrottleLog(&c.lastErrLogTime, 3*time.Second) {
				logger.Errorf("[StreamClient] listener #%d failed on %s slot=%d: %v", i, update.Pubkey, update.Slot, err)
			}
		}
	}
}

func (c *Client) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old == s {
		return
	}
	metricState.Set(float64(s))
	logger.Infof("[StreamClient] State changed: %s → %s", old, s)

	listeners := c.stateListeners.Load()
	if listeners == nil {
		return
	}
	for _, l := range *listeners {
		err := utils.SafeCall(func() error {
			l(old, s)
			return nil
		})
		if err != nil {
			logger.Errorf("[StreamClient] state listener failed: %v", err)
		}
	}
}

//////////////////////////////
// 工具
//////////////////////////////

func (c *Client) recordLatency(rtt time.Duration) {
	metricPingLatency.Observe(rtt.Seconds())
	c.latencyMu.Lock()
	c.latencies.Push(float64(rtt) / float64(time.Millisecond))
	c.latencyMu.Unlock()
}

func sleepContext(ctx, life context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-life.Done():
		return ErrClientClosed
	}
}

// waitAll 等待所有 done 关闭，返回超时仍未退出的数量
func waitAll(ctx context.Context, waits []chan struct{}, timeout time.Duration) int {
	if len(waits) == 0 {
		return 0
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i, ch := range waits {
		select {
		case <-ch:
		case <-timer.C:
			return len(waits) - i
		case <-ctx.Done():
			// ctx 已取消时仍按 timeout 兜底等待
			select {
			case <-ch:
			case <-timer.C:
				return len(waits) - i
			}
		}
	}
	return 0
}
