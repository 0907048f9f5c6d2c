package stream_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chain-stream-sol/internal/pkg/shutdown"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/stream/streamtest"
	"chain-stream-sol/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testOwner = types.PubkeyFromString("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	keyA      = types.PubkeyFromString("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	keyB      = types.PubkeyFromString("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fastConfig() stream.Config {
	return stream.Config{
		Endpoint:                "test:443",
		ApiKey:                  "secret",
		MaxReconnectAttempts:    3,
		ReconnectDelay:          time.Millisecond,
		MaxReconnectDelay:       5 * time.Millisecond,
		PingInterval:            time.Hour,
		CircuitBreakerThreshold: 100,
		CircuitBreakerTimeout:   time.Hour,
		ShutdownTimeout:         time.Second,
	}
}

func newConnected(t *testing.T, cfg stream.Config) (*stream.Client, *streamtest.Transport) {
	t.Helper()
	tr := streamtest.NewTransport()
	c := stream.NewClient(cfg, tr)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() {
		_ = c.Disconnect(context.Background())
	})
	return c, tr
}

type recorder struct {
	mu      sync.Mutex
	updates []*stream.AccountUpdate
}

func (r *recorder) listen(u *stream.AccountUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestClient_ConnectTransitionsAndCredentials(t *testing.T) {
	tr := streamtest.NewTransport()
	c := stream.NewClient(fastConfig(), tr)

	var mu sync.Mutex
	var transitions []string
	c.OnStateChange(func(oldState, newState stream.ConnState) {
		mu.Lock()
		transitions = append(transitions, oldState.String()+"->"+newState.String())
		mu.Unlock()
	})

	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	assert.Equal(t, stream.StateConnected, c.State())
	assert.Equal(t, stream.Credentials{Token: "secret", UseTLS: true}, tr.LastCredentials())

	// 已连接时再次 Connect 不会重新建连
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, tr.Connects())

	mu.Lock()
	assert.Equal(t, []string{"disconnected->connecting", "connecting->connected"}, transitions)
	mu.Unlock()
}

func TestClient_ConnectExhaustsAttempts(t *testing.T) {
	tr := streamtest.NewTransport()
	tr.FailConnects(-1, errors.New("refused"))
	c := stream.NewClient(fastConfig(), tr)

	err := c.Connect(context.Background())
	require.Error(t, err)

	var connErr *stream.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 3, connErr.Attempts)
	assert.Equal(t, "test:443", connErr.Endpoint)
	assert.Equal(t, stream.StateFailed, c.State())
	assert.Equal(t, 3, tr.Connects())
	assert.Equal(t, 3, c.GetStats().FailureCount)
}

func TestClient_ConnectRecoversAfterTransientFailures(t *testing.T) {
	tr := streamtest.NewTransport()
	tr.FailConnects(2, errors.New("refused"))
	c := stream.NewClient(fastConfig(), tr)
	defer c.Disconnect(context.Background())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 3, tr.Connects())
	assert.Equal(t, 0, c.GetStats().FailureCount)
	assert.Equal(t, "closed", c.GetStats().CircuitState)
}

func TestClient_CircuitBreakerRejectsConnect(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 10
	cfg.CircuitBreakerThreshold = 2

	tr := streamtest.NewTransport()
	tr.FailConnects(-1, errors.New("refused"))
	c := stream.NewClient(cfg, tr)

	// 熔断器只在入口检查：这次 Connect 跑满全部重试
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, stream.ErrCircuitOpen)
	assert.Equal(t, 10, tr.Connects())
	assert.Equal(t, stream.StateFailed, c.State())

	stats := c.GetStats()
	assert.True(t, stats.CircuitOpen)
	assert.Equal(t, "open", stats.CircuitState)
	assert.Equal(t, 10, stats.FailureCount)

	// 熔断打开后下一次 Connect 直接拒绝，不再拨号
	err = c.Connect(context.Background())
	require.ErrorIs(t, err, stream.ErrCircuitOpen)
	assert.Equal(t, 10, tr.Connects())
	assert.Equal(t, stream.StateFailed, c.State())
}

func TestClient_CancelledTrialDoesNotWedgeBreaker(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1
	cfg.CircuitBreakerThreshold = 1
	cfg.CircuitBreakerTimeout = 20 * time.Millisecond

	tr := streamtest.NewTransport()
	tr.FailConnects(1, errors.New("refused"))
	c := stream.NewClient(cfg, tr)
	defer c.Disconnect(context.Background())

	require.Error(t, c.Connect(context.Background()))
	require.Equal(t, "open", c.GetStats().CircuitState)
	time.Sleep(30 * time.Millisecond)

	// 半开试探被调用方取消
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "open", c.GetStats().CircuitState)

	// 计时没有重置，可以立即再试探并成功
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, stream.StateConnected, c.State())
	assert.Equal(t, "closed", c.GetStats().CircuitState)
}

func TestClient_ConnectHonorsContext(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 100
	cfg.ReconnectDelay = time.Hour
	cfg.MaxReconnectDelay = time.Hour

	tr := streamtest.NewTransport()
	tr.FailConnects(-1, errors.New("refused"))
	c := stream.NewClient(cfg, tr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, stream.StateDisconnected, c.State())
}

func TestClient_SubscribeRequiresConnection(t *testing.T) {
	c := stream.NewClient(fastConfig(), streamtest.NewTransport())

	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	var subErr *stream.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, stream.ErrNotConnected)
}

func TestClient_SubscribeRejectsInvalidFilter(t *testing.T) {
	c, _ := newConnected(t, fastConfig())

	_, err := c.Subscribe(context.Background(), stream.AccountsFilter())
	assert.Error(t, err)
	_, err = c.Subscribe(context.Background(), stream.ProgramFilter(types.Pubkey{}))
	assert.Error(t, err)
}

func TestClient_SubscribeCommitment(t *testing.T) {
	c, tr := newConnected(t, fastConfig())

	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)

	f := stream.ProgramFilter(testOwner)
	f.Commitment = stream.CommitmentProcessed
	_, err = c.Subscribe(context.Background(), f)
	require.NoError(t, err)

	reqs := tr.Last().Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, stream.CommitmentConfirmed, reqs[0].Commitment)
	assert.Equal(t, stream.CommitmentProcessed, reqs[1].Commitment)
	assert.Equal(t, 2, c.GetStats().Subscriptions)
}

func TestClient_DispatchInOrderAndIsolatesListeners(t *testing.T) {
	c, tr := newConnected(t, fastConfig())

	var order []int
	var mu sync.Mutex
	mark := func(i int) {
		mu.Lock()
		order = append(order, i)
		mu.Unlock()
	}

	c.OnAccountUpdate(func(u *stream.AccountUpdate) error {
		mark(1)
		panic("listener bug")
	})
	c.OnAccountUpdate(func(u *stream.AccountUpdate) error {
		mark(2)
		return errors.New("listener failed")
	})
	rec := &recorder{}
	c.OnAccountUpdate(func(u *stream.AccountUpdate) error {
		mark(3)
		return rec.listen(u)
	})

	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)

	require.Equal(t, 1, tr.Push(streamtest.Message(keyA, testOwner, 42, 1000, []byte{1, 2, 3})))
	require.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)

	got := rec.updates[0]
	assert.Equal(t, keyA, got.Pubkey)
	assert.Equal(t, testOwner, got.Owner)
	assert.Equal(t, uint64(42), got.Slot)
	assert.Equal(t, uint64(1000), got.Lamports)
	assert.False(t, got.ReceivedAt.IsZero())

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, order)
	mu.Unlock()

	stats := c.GetStats()
	assert.Equal(t, uint64(1), stats.MessagesReceived)
	assert.Equal(t, uint64(3), stats.BytesReceived)
	assert.Equal(t, uint64(2), stats.ListenerErrors)
	assert.Equal(t, stream.StateConnected, c.State())
}

func TestClient_MalformedMessageDropped(t *testing.T) {
	c, tr := newConnected(t, fastConfig())
	rec := &recorder{}
	c.OnAccountUpdate(rec.listen)

	_, err := c.SubscribeProgram(context.Background(), testOwner)
	require.NoError(t, err)

	bad := streamtest.Message(keyA, testOwner, 1, 1, nil)
	bad.Pubkey = bad.Pubkey[:10]
	conn := tr.Last()
	conn.Streams()[0].Push(bad)
	conn.Streams()[0].Push(streamtest.Message(keyB, testOwner, 2, 1, nil))

	require.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)
	assert.Equal(t, keyB, rec.updates[0].Pubkey)
	assert.Equal(t, uint64(1), c.GetStats().ParseErrors)
}

func TestClient_UnsubscribeStopsDelivery(t *testing.T) {
	c, tr := newConnected(t, fastConfig())

	id, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)
	c.Unsubscribe(id)
	c.Unsubscribe("unknown")

	assert.Empty(t, c.SubscriptionIDs())
	require.Eventually(t, func() bool {
		return !tr.Last().Streams()[0].Active()
	}, waitFor, tick)
	assert.Equal(t, 0, tr.Push(streamtest.Message(keyA, testOwner, 1, 1, nil)))
}

func TestClient_ReconnectRestoresSubscriptions(t *testing.T) {
	c, tr := newConnected(t, fastConfig())
	rec := &recorder{}
	c.OnAccountUpdate(rec.listen)

	idA, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)
	idP, err := c.SubscribeProgram(context.Background(), testOwner)
	require.NoError(t, err)

	first := tr.Last()
	first.Break(errors.New("stream reset"))

	require.Eventually(t, func() bool {
		conns := tr.Conns()
		return len(conns) == 2 && len(conns[1].Streams()) == 2 && c.State() == stream.StateConnected
	}, waitFor, tick)

	ids := c.SubscriptionIDs()
	sort.Strings(ids)
	want := []string{idA, idP}
	sort.Strings(want)
	assert.Equal(t, want, ids)
	assert.True(t, first.IsClosed())
	assert.Equal(t, uint64(1), c.GetStats().ReconnectCount)

	kinds := map[stream.FilterKind]int{}
	for _, req := range tr.Last().Requests() {
		kinds[req.Filter.Kind]++
	}
	assert.Equal(t, map[stream.FilterKind]int{stream.FilterAccounts: 1, stream.FilterProgram: 1}, kinds)

	// keyA 同时命中账户订阅和 program 订阅
	assert.Equal(t, 2, tr.Push(streamtest.Message(keyA, testOwner, 7, 1, nil)))
	require.Eventually(t, func() bool { return rec.len() == 2 }, waitFor, tick)
}

func TestClient_ReconnectDisabled(t *testing.T) {
	cfg := fastConfig()
	off := false
	cfg.ReconnectEnabled = &off
	c, tr := newConnected(t, cfg)

	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)

	tr.Last().Break(errors.New("stream reset"))

	require.Eventually(t, func() bool { return c.State() == stream.StateDisconnected }, waitFor, tick)
	assert.Equal(t, 1, tr.Connects())
	assert.Empty(t, c.SubscriptionIDs())
}

func TestClient_ReconnectExhaustedFails(t *testing.T) {
	c, tr := newConnected(t, fastConfig())
	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)

	tr.FailConnects(-1, errors.New("refused"))
	tr.Last().Break(errors.New("stream reset"))

	require.Eventually(t, func() bool { return c.State() == stream.StateFailed }, waitFor, tick)
	assert.Equal(t, 1+3, tr.Connects())
}

func TestClient_ConnectAfterFailedRestoresSubscriptions(t *testing.T) {
	c, tr := newConnected(t, fastConfig())
	rec := &recorder{}
	c.OnAccountUpdate(rec.listen)

	id, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)

	tr.FailConnects(3, errors.New("refused"))
	tr.Last().Break(errors.New("stream reset"))
	require.Eventually(t, func() bool { return c.State() == stream.StateFailed }, waitFor, tick)
	assert.Equal(t, []string{id}, c.SubscriptionIDs())

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, stream.StateConnected, c.State())
	assert.Equal(t, []string{id}, c.SubscriptionIDs())

	last := tr.Last()
	require.Len(t, last.Streams(), 1)
	assert.Equal(t, stream.FilterAccounts, last.Requests()[0].Filter.Kind)

	assert.Equal(t, 1, tr.Push(streamtest.Message(keyA, testOwner, 9, 1, nil)))
	require.Eventually(t, func() bool { return rec.len() == 1 }, waitFor, tick)
}

func TestClient_DisconnectAbortsReconnect(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxReconnectAttempts = 1000
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 10 * time.Millisecond
	c, tr := newConnected(t, cfg)

	var reconnecting atomic.Bool
	c.OnStateChange(func(_, newState stream.ConnState) {
		if newState == stream.StateReconnecting {
			reconnecting.Store(true)
		}
	})

	tr.FailConnects(-1, errors.New("refused"))
	tr.Last().Break(errors.New("stream reset"))
	require.Eventually(t, reconnecting.Load, waitFor, tick)
	require.Eventually(t, func() bool { return tr.Connects() >= 3 }, waitFor, tick)

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, stream.StateDisconnected, c.State())

	n := tr.Connects()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, tr.Connects())
	assert.Equal(t, stream.StateDisconnected, c.State())
}

func TestClient_PingFailureTriggersReconnect(t *testing.T) {
	cfg := fastConfig()
	cfg.PingInterval = 10 * time.Millisecond
	c, tr := newConnected(t, cfg)

	require.Eventually(t, func() bool { return c.GetStats().AvgLatencyMs != nil }, waitFor, tick)

	tr.Last().SetPingError(errors.New("no pong"))
	require.Eventually(t, func() bool {
		return len(tr.Conns()) == 2 && c.State() == stream.StateConnected
	}, waitFor, tick)
	assert.Equal(t, uint64(1), c.GetStats().ReconnectCount)
}

func TestClient_DisconnectViaShutdownHook(t *testing.T) {
	m := shutdown.NewManager()
	tr := streamtest.NewTransport()
	c := stream.NewClient(fastConfig(), tr, stream.WithHookRegistrar(m))
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, stream.StateDisconnected, c.State())
	assert.True(t, tr.Last().IsClosed())
	assert.Empty(t, c.SubscriptionIDs())

	// 幂等
	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, stream.StateDisconnected, c.State())
	assert.Nil(t, c.GetStats().AvgLatencyMs)
}

func TestClient_ReconnectAfterDisconnect(t *testing.T) {
	c, tr := newConnected(t, fastConfig())
	require.NoError(t, c.Disconnect(context.Background()))

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, stream.StateConnected, c.State())
	assert.Len(t, tr.Conns(), 2)

	_, err := c.SubscribeAccounts(context.Background(), []types.Pubkey{keyA})
	assert.NoError(t, err)
}
