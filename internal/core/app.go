package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/mq"
	"chain-stream-sol/internal/pkg/shutdown"
	"chain-stream-sol/internal/poolmonitor"
	"chain-stream-sol/internal/pushworker"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/svc"
	"chain-stream-sol/internal/transport/solanaws"
	"chain-stream-sol/internal/whale"
)

const bootstrapRetryDelay = 5 * time.Second

// 退出钩子：先停输入源，再停业务模块和流客户端，最后 flush 推送
const (
	hookWalletWatcher  = "wallet-watcher"
	hookScoresConsumer = "wallet-scores-consumer"
	hookWhaleTracker   = "whale-tracker"
	hookPoolMonitor    = "pool-monitor"
	hookPushWorker     = "kafka-push-worker"
	hookLoggerSync     = "logger-sync"

	hookModuleTimeout = 10 * time.Second
	hookFlushTimeout  = 15 * time.Second
)

type Option func(*options)

type options struct {
	transport     stream.Transport
	pushProducer  pushworker.Producer
	pushTopic     string
	retryInterval time.Duration
}

// WithTransport 替换默认的 websocket 传输层
func WithTransport(t stream.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithBootstrapRetry 首次建连失败后的重试间隔
func WithBootstrapRetry(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retryInterval = d
		}
	}
}

// WithPushProducer 使用外部 producer 推送事件，忽略 kafka_producer 配置
func WithPushProducer(p pushworker.Producer, topic string) Option {
	return func(o *options) {
		o.pushProducer = p
		o.pushTopic = topic
	}
}

type App struct {
	svc *svc.ServiceContext

	client     *stream.Client
	monitor    *poolmonitor.Monitor        // 未启用时为 nil
	tracker    *whale.Tracker              // 未启用时为 nil
	watcher    *whale.WalletWatcher        // 未配置 wallets_file 时为 nil
	pushWorker *pushworker.KafkaPushWorker // 未配置 kafka_producer 时为 nil
	scoresKC   *mq.KafkaConsumer           // 未配置 wallet_scores_kc 时为 nil
	retryDelay time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	booted     atomic.Bool
	recovering atomic.Bool
	bootDone   chan struct{}
	stopOnce   sync.Once

	mu       sync.Mutex // 保证 cancel 之后不再有新的恢复协程
	recovers sync.WaitGroup
}

// NewApp 构造全部模块并注册退出钩子，不建立任何连接
func NewApp(svcCtx *svc.ServiceContext, opts ...Option) (*App, error) {
	o := options{retryInterval: bootstrapRetryDelay}
	for _, opt := range opts {
		opt(&o)
	}
	cfg := svcCtx.Cfg

	transport := o.transport
	if transport == nil {
		transport = solanaws.NewTransport(solanaws.Config{
			HandshakeTimeout: cfg.Transport.HandshakeTimeout,
			WriteTimeout:     cfg.Transport.WriteTimeout,
			RequestTimeout:   cfg.Transport.RequestTimeout,
			StreamBuffer:     cfg.Transport.StreamBuffer,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		svc:        svcCtx,
		client:     stream.NewClient(cfg.Stream, transport, stream.WithHookRegistrar(svcCtx.Shutdown)),
		retryDelay: o.retryInterval,
		ctx:        ctx,
		cancel:     cancel,
		bootDone:   make(chan struct{}),
	}

	if err := app.initPushWorker(o); err != nil {
		cancel()
		return nil, err
	}
	if err := app.initModules(); err != nil {
		cancel()
		return nil, err
	}
	app.registerHooks()
	app.client.OnStateChange(app.onStreamState)
	return app, nil
}

func (app *App) initPushWorker(o options) error {
	switch {
	case o.pushProducer != nil:
		app.pushWorker = pushworker.NewKafkaPushWorkerWithProducer(o.pushProducer, o.pushTopic, 1, 0)
	case app.svc.Cfg.KafkaProducerConfig != nil:
		w, err := pushworker.NewKafkaPushWorker(app.svc.Cfg.KafkaProducerConfig)
		if err != nil {
			return fmt.Errorf("init push worker: %w", err)
		}
		app.pushWorker = w
	}
	return nil
}

func (app *App) initModules() error {
	cfg := app.svc.Cfg

	if cfg.Modules.PoolMonitorEnabled() {
		m, err := poolmonitor.NewMonitor(cfg.PoolMonitor, app.client, poolmonitor.WithPriceLookup(app.svc.Prices))
		if err != nil {
			return fmt.Errorf("init pool monitor: %w", err)
		}
		if app.pushWorker != nil {
			m.OnPoolEvent(func(e *poolmonitor.PoolEvent) error {
				app.pushWorker.Push(pushworker.KindPoolEvent, e.Slot, e)
				return nil
			})
		}
		app.monitor = m
	}

	if cfg.Modules.WhaleTrackerEnabled() {
		t, err := whale.NewTracker(cfg.Whale, app.client, whale.WithPriceLookup(app.svc.Prices))
		if err != nil {
			return fmt.Errorf("init whale tracker: %w", err)
		}
		if app.pushWorker != nil {
			t.OnWhaleEvent(func(e *whale.WhaleEvent) error {
				app.pushWorker.Push(pushworker.KindWhaleEvent, e.Slot, e)
				return nil
			})
			t.OnCopyTradeSignal(func(s *whale.CopyTradeSignal) error {
				app.pushWorker.Push(pushworker.KindCopyTradeSignal, s.Slot, s)
				return nil
			})
		}
		app.tracker = t

		if cfg.Whale.WalletsFile != "" {
			app.watcher = whale.NewWalletWatcher(cfg.Whale.WalletsFile, t)
		}
		if cfg.WalletScoresKcConfig != nil {
			app.scoresKC = mq.NewKafkaConsumer(cfg.WalletScoresKcConfig, &walletScoreHandler{tracker: t})
		}
	}
	return nil
}

func (app *App) registerHooks() {
	sm := app.svc.Shutdown

	if app.watcher != nil {
		sm.RegisterHook(hookWalletWatcher, func(context.Context) error {
			app.watcher.Stop()
			return nil
		}, shutdown.PhaseImmediate, hookModuleTimeout, 100)
	}
	if app.scoresKC != nil {
		sm.RegisterHook(hookScoresConsumer, func(context.Context) error {
			app.scoresKC.Stop()
			return nil
		}, shutdown.PhaseImmediate, hookModuleTimeout, 90)
	}
	if app.tracker != nil {
		sm.RegisterHook(hookWhaleTracker, app.tracker.Stop, shutdown.PhaseGraceful, hookModuleTimeout, 90)
	}
	if app.monitor != nil {
		sm.RegisterHook(hookPoolMonitor, app.monitor.Stop, shutdown.PhaseGraceful, hookModuleTimeout, 80)
	}
	if app.pushWorker != nil {
		sm.RegisterHook(hookPushWorker, func(context.Context) error {
			app.pushWorker.Stop()
			return nil
		}, shutdown.PhaseCleanup, hookFlushTimeout, 50)
	}
	sm.RegisterHook(hookLoggerSync, func(context.Context) error {
		logger.Sync()
		return nil
	}, shutdown.PhaseFinal, time.Second, 0)
}

// Start 非阻塞：后台建连，连上后依次启动各模块
func (app *App) Start() {
	if !app.started.CompareAndSwap(false, true) {
		return
	}
	if app.pushWorker != nil {
		app.pushWorker.Resume()
		go app.pushWorker.Start()
	}
	logger.Infof("[App] starting, endpoint=%s", app.svc.Cfg.Stream.Endpoint)
	go app.bootstrap()
}

func (app *App) bootstrap() {
	defer close(app.bootDone)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[App] panic during bootstrap: %v\n%s", r, debug.Stack())
		}
	}()

	if !app.connectUntilReady() {
		return
	}

	app.startModules(app.ctx)
	app.booted.Store(true)
	logger.Infof("[App] ready")

	// 启动模块期间流已进入 FAILED 时监听器不会触发恢复，这里补一次
	if app.client.State() == stream.StateFailed {
		app.onStreamState(stream.StateReconnecting, stream.StateFailed)
	}
}

// connectUntilReady 按 retryDelay 重试 Connect，直到成功或 App 停止
func (app *App) connectUntilReady() bool {
	for {
		err := app.client.Connect(app.ctx)
		if err == nil {
			return true
		}
		if app.ctx.Err() != nil {
			return false
		}
		logger.Errorf("[App] stream connect failed, retry in %v: %v", app.retryDelay, err)
		select {
		case <-app.ctx.Done():
			return false
		case <-time.After(app.retryDelay):
		}
	}
}

// onStreamState 重连耗尽进入 FAILED 后由 App 接管，持续重试；订阅由 StreamClient 在连上后恢复
func (app *App) onStreamState(_, newState stream.ConnState) {
	if newState != stream.StateFailed || !app.booted.Load() {
		return
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if app.ctx.Err() != nil || !app.recovering.CompareAndSwap(false, true) {
		return
	}
	app.recovers.Add(1)
	go app.recoverStream()
}

func (app *App) recoverStream() {
	defer app.recovers.Done()
	defer app.recovering.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[App] panic during stream recovery: %v\n%s", r, debug.Stack())
		}
	}()

	logger.Warnf("[App] stream failed, retrying connect every %v", app.retryDelay)
	if app.connectUntilReady() {
		logger.Infof("[App] stream recovered, %d subscription(s) restored", len(app.client.SubscriptionIDs()))
	}
}

// startModules 部分订阅失败只记录日志，成功的部分继续运行；断线后由 StreamClient 负责重订阅
func (app *App) startModules(ctx context.Context) {
	if app.monitor != nil {
		if err := app.monitor.Start(ctx); err != nil {
			logger.Errorf("[App] pool monitor start failed: %v", err)
		} else {
			app.seedPools(ctx)
		}
	}

	if app.tracker != nil {
		if err := app.tracker.Start(ctx); err != nil {
			logger.Errorf("[App] whale tracker start: %v", err)
		}
	}
	if app.watcher != nil {
		if err := app.watcher.Start(ctx); err != nil {
			logger.Errorf("[App] wallet watcher start failed: %v", err)
		}
	}
	if app.scoresKC != nil {
		app.scoresKC.Start()
	}
}

func (app *App) seedPools(ctx context.Context) {
	if app.svc.RpcClient == nil {
		return
	}
	n, err := app.monitor.SeedFromRPC(ctx, app.svc.RpcClient, app.svc.Cfg.Rpc.Timeout())
	if err != nil {
		logger.Warnf("[App] seed pools from rpc: seeded=%d, err=%v", n, err)
		return
	}
	logger.Infof("[App] seeded %d pool(s) from rpc", n)
}

// Stop 中断建连后按阶段执行退出钩子，只执行一次
func (app *App) Stop() {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[App] panic during Stop: %v\n%s", r, debug.Stack())
		}
	}()

	app.stopOnce.Do(func() {
		app.mu.Lock()
		app.cancel()
		app.mu.Unlock()
		if app.started.Load() {
			<-app.bootDone
		}
		app.recovers.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), app.svc.Cfg.ShutdownTimeout)
		defer cancel()
		logger.Infof("[App] shutting down...")
		if err := app.svc.Shutdown.Shutdown(ctx); err != nil {
			logger.Warnf("[App] shutdown finished with errors: %v", err)
		}
	})
}

// IsReady 模块已启动且流连接可用
func (app *App) IsReady() bool {
	return app.booted.Load() && app.client.IsConnected()
}

func (app *App) Client() *stream.Client {
	return app.client
}

func (app *App) Monitor() *poolmonitor.Monitor {
	return app.monitor
}

func (app *App) Tracker() *whale.Tracker {
	return app.tracker
}

func (app *App) PushWorker() *pushworker.KafkaPushWorker {
	return app.pushWorker
}

func (app *App) ServiceContext() *svc.ServiceContext {
	return app.svc
}
