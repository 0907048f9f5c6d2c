package whale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chain-stream-sol/internal/consts"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/tokenaccount"
	"chain-stream-sol/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneToken = 1_000_000_000

type fakeClient struct {
	mu           sync.Mutex
	seq          int
	subs         map[string][]types.Pubkey
	unsubscribed []string
	listeners    []stream.AccountUpdateListener
	fail         map[types.Pubkey]bool // 首个 key 命中时订阅失败
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[string][]types.Pubkey), fail: make(map[types.Pubkey]bool)}
}

func (c *fakeClient) SubscribeAccounts(_ context.Context, keys []types.Pubkey) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) > 0 && c.fail[keys[0]] {
		return "", errors.New("subscribe rejected")
	}
	c.seq++
	id := fmt.Sprintf("sub-%d", c.seq)
	c.subs[id] = append([]types.Pubkey(nil), keys...)
	return id, nil
}

func (c *fakeClient) Unsubscribe(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
	c.unsubscribed = append(c.unsubscribed, id)
}

func (c *fakeClient) OnAccountUpdate(l stream.AccountUpdateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *fakeClient) active() map[string][]types.Pubkey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]types.Pubkey, len(c.subs))
	for k, v := range c.subs {
		out[k] = v
	}
	return out
}

func (c *fakeClient) deliver(u *stream.AccountUpdate) {
	c.mu.Lock()
	ls := append([]stream.AccountUpdateListener(nil), c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		_ = l(u)
	}
}

func key(b byte) types.Pubkey {
	var k types.Pubkey
	k[0] = b
	k[31] = b
	return k
}

// tokenUpdate 钱包 owner 持有 mint 的默认 token 账户余额变化
func tokenUpdate(owner, mint types.Pubkey, slot, amount uint64) *stream.AccountUpdate {
	return accountUpdate(key(owner[0]+mint[0]), owner, mint, slot, amount)
}

func accountUpdate(account, owner, mint types.Pubkey, slot, amount uint64) *stream.AccountUpdate {
	return &stream.AccountUpdate{
		Pubkey:   account,
		Owner:    consts.TokenProgram,
		Slot:     slot,
		Lamports: 2_039_280,
		Data:     tokenaccount.Encode(mint, owner, amount),
	}
}

type events struct {
	mu      sync.Mutex
	whale   []*WhaleEvent
	signals []*CopyTradeSignal
}

func (e *events) onWhale(ev *WhaleEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.whale = append(e.whale, ev)
	return nil
}

func (e *events) onSignal(s *CopyTradeSignal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.signals = append(e.signals, s)
	return nil
}

func (e *events) types() []EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventType, 0, len(e.whale))
	for _, ev := range e.whale {
		out = append(out, ev.Type)
	}
	return out
}

func (e *events) last() *WhaleEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.whale) == 0 {
		return nil
	}
	return e.whale[len(e.whale)-1]
}

func testConfig(wallets ...types.Pubkey) Config {
	cfg := DefaultConfig()
	cfg.MinTradeSizeUSD = 100
	cfg.LargeTradeThresholdUSD = 10_000
	for _, w := range wallets {
		cfg.Wallets = append(cfg.Wallets, DefaultWalletConfig(w.String()))
	}
	return cfg
}

func startTracker(t *testing.T, cfg Config, prices types.PriceLookup) (*Tracker, *fakeClient, *events) {
	t.Helper()
	client := newFakeClient()
	tr, err := NewTracker(cfg, client, WithPriceLookup(prices))
	require.NoError(t, err)

	ev := &events{}
	tr.OnWhaleEvent(ev.onWhale)
	tr.OnCopyTradeSignal(ev.onSignal)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() {
		_ = tr.Stop(context.Background())
	})
	return tr, client, ev
}

func TestTracker_NewPositionThenSmallSell(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	// 新建的 token 账户第一次出现即带余额，视为从 0 买入
	client.deliver(tokenUpdate(wallet, mint, 2, 1000*oneToken))
	require.Equal(t, []EventType{EventNewPosition}, ev.types())
	e := ev.last()
	assert.Equal(t, wallet, e.WalletAddress)
	assert.Equal(t, mint, e.TokenMint)
	assert.Equal(t, DirectionBuy, e.Direction)
	assert.Equal(t, uint64(1000*oneToken), e.Amount)
	assert.InDelta(t, 1000.0, e.ValueUSD, 1e-9)
	assert.Equal(t, uint64(2), e.Slot)
	assert.Equal(t, CategoryUnknown, e.WalletCategory)

	// $999 超过最小金额但低于大额阈值：不发事件，记录活动
	client.deliver(tokenUpdate(wallet, mint, 3, 1*oneToken))
	assert.Len(t, ev.types(), 1)

	activity := tr.GetWalletActivity(wallet, 10)
	require.Len(t, activity, 2)
	assert.Equal(t, DirectionBuy, activity[0].Direction)
	assert.Equal(t, DirectionSell, activity[1].Direction)
	assert.Equal(t, int64(-999*oneToken), activity[1].AmountChange)
	assert.InDelta(t, 999.0, activity[1].ValueUSD, 1e-9)

	stats := tr.GetStats()
	assert.Equal(t, uint64(2), stats.UpdatesProcessed)
	assert.Equal(t, uint64(1), stats.EventsEmitted)
	assert.Equal(t, 1, stats.BalancesTracked)
	assert.InDelta(t, 1999.0, stats.TrackedVolumeUSD, 1e-9)
}

func TestTracker_Accumulation(t *testing.T) {
	wallet, mint := key(1), key(50)
	_, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	client.deliver(tokenUpdate(wallet, mint, 1, oneToken))
	client.deliver(tokenUpdate(wallet, mint, 2, 201*oneToken))
	client.deliver(tokenUpdate(wallet, mint, 3, 401*oneToken))
	assert.Empty(t, ev.types())

	client.deliver(tokenUpdate(wallet, mint, 4, 601*oneToken))
	require.Equal(t, []EventType{EventAccumulation}, ev.types())
	e := ev.last()
	assert.Equal(t, "accumulation", e.Pattern)
	assert.Equal(t, 3, e.TradeCount)
	assert.InDelta(t, 200.0, e.ValueUSD, 1e-9)
}

func TestTracker_Distribution(t *testing.T) {
	wallet, mint := key(1), key(50)
	_, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	client.deliver(tokenUpdate(wallet, mint, 1, 1000*oneToken))
	client.deliver(tokenUpdate(wallet, mint, 2, 800*oneToken))
	// 买入不计入卖出窗口
	client.deliver(tokenUpdate(wallet, mint, 3, 1000*oneToken))
	client.deliver(tokenUpdate(wallet, mint, 4, 800*oneToken))
	client.deliver(tokenUpdate(wallet, mint, 5, 600*oneToken))

	assert.Equal(t, []EventType{EventNewPosition, EventDistribution}, ev.types())
	assert.Equal(t, 3, ev.last().TradeCount)
}

func TestTracker_AccumulationWindow(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	client.deliver(tokenUpdate(wallet, mint, 1, oneToken))
	client.deliver(tokenUpdate(wallet, mint, 2, 201*oneToken))
	now = now.Add(25 * time.Hour)
	client.deliver(tokenUpdate(wallet, mint, 3, 401*oneToken))
	now = now.Add(time.Hour)
	client.deliver(tokenUpdate(wallet, mint, 4, 601*oneToken))
	assert.Empty(t, ev.types(), "first buy fell out of the 24h window")

	now = now.Add(time.Hour)
	client.deliver(tokenUpdate(wallet, mint, 5, 801*oneToken))
	assert.Equal(t, []EventType{EventAccumulation}, ev.types())
}

func TestTracker_Classification(t *testing.T) {
	wallet, mint := key(1), key(50)
	_, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	// $50 低于最小金额，只建立持仓
	client.deliver(tokenUpdate(wallet, mint, 1, 50*oneToken))
	assert.Empty(t, ev.types())
	client.deliver(tokenUpdate(wallet, mint, 2, 20_050*oneToken))
	assert.Equal(t, EventLargeBuy, ev.last().Type)

	client.deliver(tokenUpdate(wallet, mint, 3, 5_000*oneToken))
	assert.Equal(t, EventLargeSell, ev.last().Type)
	assert.Equal(t, uint64(15_050*oneToken), ev.last().Amount)

	// 清仓优先于大额卖出
	client.deliver(tokenUpdate(wallet, mint, 4, 0))
	assert.Equal(t, EventPositionClosed, ev.last().Type)
	assert.Equal(t, DirectionSell, ev.last().Direction)

	// 从 0 开始的大额买入是新建仓位
	client.deliver(tokenUpdate(wallet, mint, 5, 50_000*oneToken))
	assert.Equal(t, EventNewPosition, ev.last().Type)

	assert.Equal(t, []EventType{EventLargeBuy, EventLargeSell, EventPositionClosed, EventNewPosition}, ev.types())
}

func TestTracker_FirstSightingBelowMinimum(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	// 首次出现的零余额账户没有变化
	client.deliver(tokenUpdate(wallet, mint, 1, 0))
	assert.Equal(t, uint64(0), tr.GetStats().BelowMinimum)

	client.deliver(accountUpdate(key(90), wallet, mint, 1, 50*oneToken))
	assert.Empty(t, ev.types())
	assert.Equal(t, uint64(1), tr.GetStats().BelowMinimum)
	assert.Equal(t, 2, tr.GetStats().BalancesTracked)
}

func TestTracker_SameMintAcrossTokenAccounts(t *testing.T) {
	wallet, mint := key(1), key(50)
	accA, accB := key(90), key(91)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	client.deliver(accountUpdate(accA, wallet, mint, 10, 1000*oneToken))
	require.Equal(t, []EventType{EventNewPosition}, ev.types())

	// 第二个账户同 slot 入账：不是过期更新，持仓汇总后是加仓而不是新建仓位
	client.deliver(accountUpdate(accB, wallet, mint, 10, 500*oneToken))
	assert.Equal(t, uint64(0), tr.GetStats().StaleDropped)
	activity := tr.GetWalletActivity(wallet, 0)
	require.Len(t, activity, 2)
	assert.Equal(t, int64(500*oneToken), activity[1].AmountChange)
	assert.Len(t, ev.types(), 1)

	// 账户间转移，汇总持仓不变
	client.deliver(accountUpdate(accA, wallet, mint, 11, 0))
	client.deliver(accountUpdate(accB, wallet, mint, 11, 1500*oneToken))
	assert.Len(t, tr.GetWalletActivity(wallet, 0), 3, "only the outflow from A is visible before B lands")

	// 两个账户都清空才是清仓
	client.deliver(accountUpdate(accB, wallet, mint, 12, 0))
	assert.Equal(t, EventPositionClosed, ev.last().Type)
	assert.Equal(t, uint64(1500*oneToken), ev.last().Amount)
}

func TestTracker_Thresholds(t *testing.T) {
	rich, picky, mint, unpriced := key(1), key(2), key(50), key(51)
	cfg := testConfig(rich)
	pickyCfg := DefaultWalletConfig(picky.String())
	pickyCfg.MinTradeSizeUSD = 500
	cfg.Wallets = append(cfg.Wallets, pickyCfg)
	tr, client, ev := startTracker(t, cfg, types.StaticPrices{mint: 2})

	// $50 低于全局最小值，仅更新余额
	client.deliver(tokenUpdate(rich, mint, 1, 0))
	client.deliver(tokenUpdate(rich, mint, 2, 25*oneToken))
	assert.Empty(t, ev.types())
	assert.Empty(t, tr.GetWalletActivity(rich, 0))
	client.deliver(tokenUpdate(rich, mint, 3, 100*oneToken))
	assert.Empty(t, ev.types(), "previous balance was updated, so this is not a new position")

	// 钱包自己的最小值覆盖全局值
	client.deliver(tokenUpdate(picky, mint, 1, 0))
	client.deliver(tokenUpdate(picky, mint, 2, 200*oneToken))
	client.deliver(tokenUpdate(picky, mint, 3, 0))
	assert.Empty(t, ev.types())
	client.deliver(tokenUpdate(picky, mint, 4, 300*oneToken))
	assert.Equal(t, []EventType{EventNewPosition}, ev.types())

	// 没有价格无法估值
	client.deliver(tokenUpdate(rich, unpriced, 1, 0))
	client.deliver(tokenUpdate(rich, unpriced, 2, 1_000_000*oneToken))
	assert.Len(t, ev.types(), 1)
	assert.Equal(t, uint64(4), tr.GetStats().BelowMinimum)
}

func TestTracker_Filtering(t *testing.T) {
	wallet, stranger, wanted, other := key(1), key(2), key(50), key(51)
	cfg := testConfig()
	wc := DefaultWalletConfig(wallet.String())
	wc.TrackAllTokens = false
	wc.TokensToTrack = []string{wanted.String()}
	cfg.Wallets = []WalletConfig{wc}
	prices := types.StaticPrices{wanted: 1, other: 1}
	tr, client, ev := startTracker(t, cfg, prices)

	client.deliver(tokenUpdate(wallet, other, 1, 0))
	client.deliver(tokenUpdate(wallet, other, 2, 1000*oneToken))
	client.deliver(tokenUpdate(stranger, wanted, 1, 0))
	client.deliver(tokenUpdate(stranger, wanted, 2, 1000*oneToken))

	// 非 token 程序的账户
	u := tokenUpdate(wallet, wanted, 3, 1000*oneToken)
	u.Owner = consts.PumpFunProgram
	client.deliver(u)

	// 数据过短
	short := tokenUpdate(wallet, wanted, 4, 1000*oneToken)
	short.Data = short.Data[:100]
	client.deliver(short)

	assert.Empty(t, ev.types())
	stats := tr.GetStats()
	assert.Equal(t, uint64(0), stats.UpdatesProcessed)
	assert.Equal(t, uint64(1), stats.DecodeErrors)

	client.deliver(tokenUpdate(wallet, wanted, 5, 0))
	client.deliver(tokenUpdate(wallet, wanted, 6, 1000*oneToken))
	assert.Equal(t, []EventType{EventNewPosition}, ev.types())
}

func TestTracker_SlotGuard(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})

	client.deliver(tokenUpdate(wallet, mint, 10, 0))
	client.deliver(tokenUpdate(wallet, mint, 12, 1000*oneToken))
	client.deliver(tokenUpdate(wallet, mint, 11, 0))
	client.deliver(tokenUpdate(wallet, mint, 12, 1000*oneToken))

	assert.Equal(t, []EventType{EventNewPosition}, ev.types())
	assert.Equal(t, uint64(2), tr.GetStats().StaleDropped)
}

func TestTracker_CopyTradeSignal(t *testing.T) {
	good, weak, mint := key(1), key(2), key(50)
	cfg := testConfig(good, weak)
	cfg.CopyTradeEnabled = true
	tr, client, ev := startTracker(t, cfg, types.StaticPrices{mint: 1})

	tr.UpdateWalletScore(good, WalletScore{TotalTrades: 50, WinRate: 0.8, AvgProfitPct: 25, TotalVolumeUSD: 500_000})
	tr.UpdateWalletScore(weak, WalletScore{TotalTrades: 10, WinRate: 0.3})

	for _, w := range []types.Pubkey{good, weak} {
		client.deliver(tokenUpdate(w, mint, 1, oneToken))
		client.deliver(tokenUpdate(w, mint, 2, 1001*oneToken))
	}
	// 卖出不产生跟单信号
	client.deliver(tokenUpdate(good, mint, 3, oneToken))

	require.Len(t, ev.signals, 1)
	sig := ev.signals[0]
	assert.Equal(t, good, sig.WalletAddress)
	assert.Equal(t, good, sig.WalletScore.Address)
	assert.Equal(t, DirectionBuy, sig.Direction)
	assert.InDelta(t, 0.62, sig.Confidence, 1e-9)
	assert.InDelta(t, 1000.0, sig.ValueUSD, 1e-9)
	assert.Equal(t, uint64(1), tr.GetStats().CopyTradeSignals)
}

func TestTracker_CopyTradeDisabled(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})
	tr.UpdateWalletScore(wallet, WalletScore{TotalTrades: 100, WinRate: 1, AvgProfitPct: 50, TotalVolumeUSD: 1e6})

	client.deliver(tokenUpdate(wallet, mint, 1, oneToken))
	client.deliver(tokenUpdate(wallet, mint, 2, 1001*oneToken))
	assert.Empty(t, ev.signals)
}

func TestWalletScore_RankingScore(t *testing.T) {
	cases := []struct {
		name  string
		score WalletScore
		want  float64
	}{
		{"zero", WalletScore{}, 0},
		{"perfect", WalletScore{TotalTrades: 100, WinRate: 1, AvgProfitPct: 50, TotalVolumeUSD: 1_000_000}, 100},
		{"mixed", WalletScore{TotalTrades: 50, WinRate: 0.8, AvgProfitPct: 25, TotalVolumeUSD: 500_000}, 62},
		{"clamped", WalletScore{TotalTrades: 1000, WinRate: 1.5, AvgProfitPct: 400, TotalVolumeUSD: 1e9}, 100},
		{"negative profit", WalletScore{WinRate: 0.5, AvgProfitPct: -80}, 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, tc.score.RankingScore(), 1e-9)
		})
	}
}

func TestTracker_GetTopWallets(t *testing.T) {
	tr, err := NewTracker(DefaultConfig(), newFakeClient())
	require.NoError(t, err)

	tr.UpdateWalletScore(key(1), WalletScore{WinRate: 0.2})
	tr.UpdateWalletScore(key(2), WalletScore{WinRate: 0.9})
	tr.UpdateWalletScore(key(3), WalletScore{WinRate: 0.5})
	tr.UpdateWalletScore(key(3), WalletScore{WinRate: 0.6})

	top := tr.GetTopWallets(2)
	require.Len(t, top, 2)
	assert.Equal(t, key(2), top[0].Address)
	assert.Equal(t, key(3), top[1].Address)
	assert.InDelta(t, 24.0, top[1].RankingScore(), 1e-9)

	assert.Len(t, tr.GetTopWallets(0), 3)
	assert.Len(t, tr.GetTopWallets(10), 3)
}

func TestTracker_ActivityHistoryLimit(t *testing.T) {
	wallet, mint := key(1), key(50)
	cfg := testConfig(wallet)
	cfg.ActivityHistoryLimit = 3
	cfg.AccumulationTradeCount = 100
	tr, client, _ := startTracker(t, cfg, types.StaticPrices{mint: 1})

	client.deliver(tokenUpdate(wallet, mint, 1, oneToken))
	for i := uint64(1); i <= 5; i++ {
		client.deliver(tokenUpdate(wallet, mint, 1+i, (1+i*200)*oneToken))
	}

	all := tr.GetWalletActivity(wallet, 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(4), all[0].Slot)
	assert.Equal(t, uint64(6), all[2].Slot)

	last := tr.GetWalletActivity(wallet, 2)
	require.Len(t, last, 2)
	assert.Equal(t, uint64(5), last[0].Slot)
	assert.Nil(t, tr.GetWalletActivity(key(9), 10))
}

func TestTracker_StartStop(t *testing.T) {
	a, b, broken := key(1), key(2), key(3)
	cfg := testConfig(a, b, broken)
	cfg.Wallets[1].TokenAccounts = []string{key(20).String(), key(21).String(), key(20).String()}
	disabled := DefaultWalletConfig(key(4).String())
	disabled.Enabled = false
	cfg.Wallets = append(cfg.Wallets, disabled)

	client := newFakeClient()
	client.fail[broken] = true
	tr, err := NewTracker(cfg, client)
	require.NoError(t, err)

	err = tr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscribe rejected")

	stats := tr.GetStats()
	assert.True(t, stats.Running)
	assert.Equal(t, 3, stats.WalletsTracked)
	assert.Equal(t, 2, stats.Subscriptions)

	var gotB []types.Pubkey
	for _, keys := range client.active() {
		if keys[0] == b {
			gotB = keys
		}
	}
	assert.Equal(t, []types.Pubkey{b, key(20), key(21)}, gotB)

	require.NoError(t, tr.Stop(context.Background()))
	assert.Empty(t, client.active())
	assert.Len(t, client.unsubscribed, 2)
	assert.Equal(t, 0, tr.GetStats().Subscriptions)
	assert.Equal(t, 3, tr.GetStats().WalletsTracked)
}

func TestTracker_AddRemoveWallet(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(), types.StaticPrices{mint: 1})

	cfg := DefaultWalletConfig(wallet.String())
	cfg.Label = "fund-1"
	cfg.Category = CategoryFund
	require.NoError(t, tr.AddWallet(context.Background(), cfg))
	require.Len(t, client.active(), 1)

	// 订阅账户不变时不重新订阅
	cfg.Label = "fund-one"
	require.NoError(t, tr.AddWallet(context.Background(), cfg))
	assert.Len(t, client.active(), 1)
	assert.Empty(t, client.unsubscribed)

	client.deliver(tokenUpdate(wallet, mint, 1, 0))
	client.deliver(tokenUpdate(wallet, mint, 2, 1000*oneToken))
	require.Len(t, ev.types(), 1)
	assert.Equal(t, "fund-one", ev.last().WalletLabel)
	assert.Equal(t, CategoryFund, ev.last().WalletCategory)

	cfg.TokenAccounts = []string{key(30).String()}
	require.NoError(t, tr.AddWallet(context.Background(), cfg))
	assert.Len(t, client.unsubscribed, 1)
	subs := client.active()
	require.Len(t, subs, 1)
	for _, keys := range subs {
		assert.Equal(t, []types.Pubkey{wallet, key(30)}, keys)
	}

	assert.True(t, tr.RemoveWallet(wallet))
	assert.False(t, tr.RemoveWallet(wallet))
	assert.Empty(t, client.active())
	assert.Equal(t, 0, tr.GetStats().BalancesTracked)
	assert.Nil(t, tr.GetWalletActivity(wallet, 0))

	client.deliver(tokenUpdate(wallet, mint, 3, 0))
	assert.Len(t, ev.types(), 1)

	// enabled=false 等同于移除
	require.NoError(t, tr.AddWallet(context.Background(), cfg))
	cfg.Enabled = false
	require.NoError(t, tr.AddWallet(context.Background(), cfg))
	assert.Empty(t, tr.Wallets())

	assert.Error(t, tr.AddWallet(context.Background(), DefaultWalletConfig("bogus")))
	bad := DefaultWalletConfig(wallet.String())
	bad.Category = "pirate"
	assert.Error(t, tr.AddWallet(context.Background(), bad))
}

func TestTracker_ListenerIsolation(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})
	tr.OnWhaleEvent(func(*WhaleEvent) error {
		panic("boom")
	})
	second := &events{}
	tr.OnWhaleEvent(second.onWhale)

	client.deliver(tokenUpdate(wallet, mint, 1, 0))
	client.deliver(tokenUpdate(wallet, mint, 2, 1000*oneToken))

	assert.Len(t, ev.types(), 1)
	assert.Len(t, second.types(), 1)
	assert.Equal(t, uint64(1), tr.GetStats().EventsByType[EventNewPosition])
}

func TestTracker_IgnoresUpdatesWhenStopped(t *testing.T) {
	wallet, mint := key(1), key(50)
	tr, client, ev := startTracker(t, testConfig(wallet), types.StaticPrices{mint: 1})
	require.NoError(t, tr.Stop(context.Background()))

	client.deliver(tokenUpdate(wallet, mint, 1, 0))
	client.deliver(tokenUpdate(wallet, mint, 2, 1000*oneToken))
	assert.Empty(t, ev.types())
	assert.Len(t, client.listeners, 1)
}
