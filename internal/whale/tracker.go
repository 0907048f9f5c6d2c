package whale

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/consts"
	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/tokenaccount"
	"chain-stream-sol/internal/types"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
)

// StreamClient Tracker 依赖的订阅能力，*stream.Client 实现了它
type StreamClient interface {
	SubscribeAccounts(ctx context.Context, keys []types.Pubkey) (string, error)
	Unsubscribe(id string)
	OnAccountUpdate(l stream.AccountUpdateListener)
}

type Option func(*Tracker)

func WithPriceLookup(p types.PriceLookup) Option {
	return func(t *Tracker) {
		t.prices = p
	}
}

// holdingKey 同一钱包同一 mint 的持仓，可能分布在多个 token 账户
type holdingKey struct {
	wallet types.Pubkey
	mint   types.Pubkey
}

// accountBalance 单个 token 账户的最新余额，slot 守卫按账户生效
type accountBalance struct {
	holding holdingKey
	amount  uint64
	slot    uint64
}

type Tracker struct {
	cfg    Config
	client StreamClient
	prices types.PriceLookup
	now    func() time.Time

	lifecycleMu  sync.Mutex
	running      atomic.Bool
	registerOnce sync.Once

	walletsMu sync.RWMutex
	wallets   map[types.Pubkey]*wallet
	subIDs    map[types.Pubkey]string

	balMu    sync.Mutex
	balances map[types.Pubkey]accountBalance // token 账户 -> 余额
	holdings map[holdingKey]uint64           // 按 (钱包, mint) 汇总

	activityMu sync.Mutex
	activity   map[types.Pubkey]*utils.Ring[WalletActivity]

	scoresMu sync.RWMutex
	scores   map[types.Pubkey]WalletScore

	listenerMu     sync.Mutex
	eventListeners atomic.Pointer[[]WhaleEventListener]
	copyListeners  atomic.Pointer[[]CopyTradeListener]

	updatesProcessed atomic.Uint64
	decodeErrors     atomic.Uint64
	staleDropped     atomic.Uint64
	belowMinimum     atomic.Uint64
	eventsEmitted    atomic.Uint64
	copySignals      atomic.Uint64
	volumeUSD        utils.AtomicFloat64 // 达到最小金额的交易累计估值

	countsMu    sync.Mutex
	eventCounts map[EventType]uint64

	lastErrLogTime atomic.Int64
}

func NewTracker(cfg Config, client StreamClient, opts ...Option) (*Tracker, error) {
	cfg = cfg.WithDefaults()
	t := &Tracker{
		cfg:         cfg,
		client:      client,
		now:         time.Now,
		wallets:     make(map[types.Pubkey]*wallet, len(cfg.Wallets)),
		subIDs:      make(map[types.Pubkey]string, len(cfg.Wallets)),
		balances:    make(map[types.Pubkey]accountBalance, 256),
		holdings:    make(map[holdingKey]uint64, 256),
		activity:    make(map[types.Pubkey]*utils.Ring[WalletActivity], len(cfg.Wallets)),
		scores:      make(map[types.Pubkey]WalletScore, len(cfg.Wallets)),
		eventCounts: make(map[EventType]uint64, 8),
	}
	for _, wc := range cfg.Wallets {
		w, err := parseWallet(wc)
		if err != nil {
			return nil, err
		}
		if !wc.Enabled {
			continue
		}
		t.wallets[w.address] = w
	}
	for _, opt := range opts {
		opt(t)
	}
	metricWallets.Set(float64(len(t.wallets)))
	return t, nil
}

// Start 并行订阅全部钱包。部分钱包订阅失败时返回聚合错误，成功的订阅保留，Tracker 仍处于运行态
func (t *Tracker) Start(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.running.Load() {
		return nil
	}
	t.registerOnce.Do(func() {
		t.client.OnAccountUpdate(t.HandleUpdate)
	})
	t.running.Store(true)

	t.walletsMu.RLock()
	pending := make([]*wallet, 0, len(t.wallets))
	for _, w := range t.wallets {
		pending = append(pending, w)
	}
	t.walletsMu.RUnlock()

	err := t.subscribeAll(ctx, pending)
	logger.Infof("[WhaleTracker] started: wallets=%d, subscriptions=%d, copy_trade=%v",
		len(pending), t.subscriptionCount(), t.cfg.CopyTradeEnabled)
	if err != nil {
		return fmt.Errorf("whale tracker start: %w", err)
	}
	return nil
}

func (t *Tracker) subscribeAll(ctx context.Context, ws []*wallet) error {
	if len(ws) == 0 {
		return nil
	}
	size := t.cfg.SubscribeConcurrency
	if len(ws) < size {
		size = len(ws)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return fmt.Errorf("create subscribe pool: %w", err)
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, w := range ws {
		w := w
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := t.subscribeWallet(ctx, w); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = multierror.Append(errs, fmt.Errorf("wallet %s: submit: %w", w.cfg.DisplayName(), submitErr))
			mu.Unlock()
		}
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// subscribeWallet 每个钱包一个订阅：钱包地址 + 配置的 token 账户
func (t *Tracker) subscribeWallet(ctx context.Context, w *wallet) error {
	id, err := t.client.SubscribeAccounts(ctx, w.accounts)
	if err != nil {
		logger.Errorf("[WhaleTracker] subscribe wallet %s failed: %v", w.cfg.DisplayName(), err)
		return fmt.Errorf("subscribe wallet %s: %w", w.cfg.DisplayName(), err)
	}

	t.walletsMu.Lock()
	current := t.wallets[w.address] == w && t.running.Load()
	if current {
		t.subIDs[w.address] = id
	}
	t.walletsMu.Unlock()

	if !current {
		t.client.Unsubscribe(id)
		return nil
	}
	logger.Infof("[WhaleTracker] subscribed wallet %s (%d account(s)) as %s", w.cfg.DisplayName(), len(w.accounts), id)
	return nil
}

// Stop 取消全部订阅，钱包表与余额保留
func (t *Tracker) Stop(ctx context.Context) error {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	t.walletsMu.Lock()
	ids := make([]string, 0, len(t.subIDs))
	for _, id := range t.subIDs {
		ids = append(ids, id)
	}
	clear(t.subIDs)
	t.walletsMu.Unlock()

	for _, id := range ids {
		t.client.Unsubscribe(id)
	}
	logger.Infof("[WhaleTracker] stopped, unsubscribed %d wallet(s)", len(ids))
	return nil
}

// AddWallet 新增或更新钱包；enabled=false 等同于移除。
// 运行中且订阅账户集合变化时重新订阅
func (t *Tracker) AddWallet(ctx context.Context, cfg WalletConfig) error {
	w, err := parseWallet(cfg)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		t.RemoveWallet(w.address)
		return nil
	}

	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	t.walletsMu.Lock()
	old := t.wallets[w.address]
	t.wallets[w.address] = w
	oldID, hadSub := t.subIDs[w.address]
	resubscribe := t.running.Load() && (old == nil || !hadSub || !old.sameAccounts(w))
	if resubscribe && hadSub {
		delete(t.subIDs, w.address)
	}
	n := len(t.wallets)
	t.walletsMu.Unlock()
	metricWallets.Set(float64(n))

	if resubscribe && hadSub {
		t.client.Unsubscribe(oldID)
	}
	if old == nil {
		logger.Infof("[WhaleTracker] added wallet %s (%s)", w.cfg.DisplayName(), w.cfg.Category)
	}
	if resubscribe {
		return t.subscribeWallet(ctx, w)
	}
	return nil
}

// RemoveWallet 取消订阅并清理该钱包的余额与活动记录，返回钱包此前是否在跟踪
func (t *Tracker) RemoveWallet(addr types.Pubkey) bool {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	t.walletsMu.Lock()
	w, ok := t.wallets[addr]
	id, hadSub := t.subIDs[addr]
	delete(t.wallets, addr)
	delete(t.subIDs, addr)
	n := len(t.wallets)
	t.walletsMu.Unlock()
	if !ok {
		return false
	}
	metricWallets.Set(float64(n))

	if hadSub {
		t.client.Unsubscribe(id)
	}

	t.balMu.Lock()
	for account, b := range t.balances {
		if b.holding.wallet == addr {
			delete(t.balances, account)
		}
	}
	for k := range t.holdings {
		if k.wallet == addr {
			delete(t.holdings, k)
		}
	}
	t.balMu.Unlock()

	t.activityMu.Lock()
	delete(t.activity, addr)
	t.activityMu.Unlock()

	logger.Infof("[WhaleTracker] removed wallet %s", w.cfg.DisplayName())
	return true
}

func (t *Tracker) OnWhaleEvent(l WhaleEventListener) {
	if l == nil {
		return
	}
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()

	var next []WhaleEventListener
	if cur := t.eventListeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	t.eventListeners.Store(&next)
}

func (t *Tracker) OnCopyTradeSignal(l CopyTradeListener) {
	if l == nil {
		return
	}
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()

	var next []CopyTradeListener
	if cur := t.copyListeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	t.copyListeners.Store(&next)
}

// HandleUpdate 注册到 StreamClient 的监听器，只处理 SPL token 账户
func (t *Tracker) HandleUpdate(u *stream.AccountUpdate) error {
	if u == nil || !t.running.Load() || !consts.IsTokenProgram(u.Owner) {
		return nil
	}

	ta, err := tokenaccount.Parse(u.Pubkey, u.Data)
	if err != nil {
		t.decodeErrors.Add(1)
		logger.Debugf("[WhaleTracker] drop update: %v", err)
		return nil
	}

	t.walletsMu.RLock()
	w := t.wallets[ta.Owner]
	t.walletsMu.RUnlock()
	if w == nil || !w.tracks(ta.Mint) {
		return nil
	}

	t.updatesProcessed.Add(1)
	metricUpdates.Inc()
	t.processBalance(w, u.Pubkey, ta.Mint, ta.Amount, u.Slot)
	return nil
}

func (t *Tracker) processBalance(w *wallet, account, mint types.Pubkey, amount, slot uint64) {
	key := holdingKey{wallet: w.address, mint: mint}
	prev, total, ok := t.applyBalance(account, key, amount, slot)
	if !ok || total == prev {
		return
	}

	dir, diff := DirectionBuy, total-prev
	if total < prev {
		dir, diff = DirectionSell, prev-total
	}

	value, ok := t.valueUSD(mint, diff)
	if !ok || value < t.minTradeSize(w) {
		t.belowMinimum.Add(1)
		return
	}
	metricTradeValue.Observe(value)
	t.volumeUSD.Add(value)

	now := t.now()
	act := WalletActivity{
		Wallet:       w.address,
		Mint:         mint,
		Symbol:       consts.TokenSymbol(mint),
		AmountChange: utils.SignedDelta(prev, total),
		Direction:    dir,
		Slot:         slot,
		ValueUSD:     value,
		Timestamp:    now,
	}
	count := t.recordActivity(act)

	base := WhaleEvent{
		WalletAddress:  w.address,
		WalletLabel:    w.cfg.Label,
		WalletCategory: w.cfg.Category,
		TokenMint:      mint,
		TokenSymbol:    act.Symbol,
		Direction:      dir,
		Amount:         diff,
		ValueUSD:       value,
		Slot:           slot,
		Timestamp:      now,
	}
	if typ, ok := classify(prev, total, dir, value, t.cfg.LargeTradeThresholdUSD); ok {
		e := base
		e.Type = typ
		t.emit(&e)
	}
	if typ, ok := patternFor(dir, count, t.cfg.AccumulationTradeCount); ok {
		e := base
		e.Type = typ
		e.Pattern = strings.ToLower(string(typ))
		e.TradeCount = count
		t.emit(&e)
	}
	if t.cfg.CopyTradeEnabled && dir == DirectionBuy {
		t.checkCopyTrade(act)
	}
}

// applyBalance 记录 token 账户余额并返回该持仓变化前后的汇总值。
// 首次出现的账户按余额 0 处理；slot 不新于上次记录时返回 ok=false
func (t *Tracker) applyBalance(account types.Pubkey, key holdingKey, amount, slot uint64) (prev, total uint64, ok bool) {
	t.balMu.Lock()
	defer t.balMu.Unlock()

	old, seen := t.balances[account]
	if seen && slot <= old.slot {
		t.staleDropped.Add(1)
		return 0, 0, false
	}
	if seen && old.holding != key {
		// 账户 owner 变更：旧持仓扣除，本次按新开账户处理
		t.setHolding(old.holding, t.holdings[old.holding]-old.amount)
		old.amount = 0
	}

	prev = t.holdings[key]
	total = prev + amount - old.amount
	t.balances[account] = accountBalance{holding: key, amount: amount, slot: slot}
	t.setHolding(key, total)
	return prev, total, true
}

// setHolding 调用方需持有 balMu
func (t *Tracker) setHolding(key holdingKey, amount uint64) {
	if amount == 0 {
		delete(t.holdings, key)
		return
	}
	t.holdings[key] = amount
}

// valueUSD 缺少价格时视为无法估值
func (t *Tracker) valueUSD(mint types.Pubkey, diff uint64) (float64, bool) {
	if t.prices == nil {
		return 0, false
	}
	price, ok := t.prices.GetPriceUSD(mint)
	if !ok || price <= 0 {
		return 0, false
	}
	return utils.AmountToFloat64(diff, t.cfg.TokenDecimals) * price, true
}

func (t *Tracker) minTradeSize(w *wallet) float64 {
	if w.cfg.MinTradeSizeUSD > 0 {
		return w.cfg.MinTradeSizeUSD
	}
	return t.cfg.MinTradeSizeUSD
}

// recordActivity 追加记录并返回窗口内同一 mint 同方向的交易数（含本次）
func (t *Tracker) recordActivity(act WalletActivity) int {
	cutoff := act.Timestamp.Add(-t.cfg.AccumulationWindow())

	t.activityMu.Lock()
	defer t.activityMu.Unlock()

	ring, ok := t.activity[act.Wallet]
	if !ok {
		ring = utils.NewRing[WalletActivity](t.cfg.ActivityHistoryLimit)
		t.activity[act.Wallet] = ring
	}
	ring.Push(act)

	count := 0
	ring.Each(func(a WalletActivity) bool {
		if a.Mint == act.Mint && a.Direction == act.Direction && a.Timestamp.After(cutoff) {
			count++
		}
		return true
	})
	return count
}

func (t *Tracker) checkCopyTrade(act WalletActivity) {
	t.scoresMu.RLock()
	score, ok := t.scores[act.Wallet]
	t.scoresMu.RUnlock()
	if !ok {
		return
	}
	ranking := score.RankingScore()
	if ranking < t.cfg.CopyTradeMinWalletScore {
		return
	}

	sig := &CopyTradeSignal{
		WalletAddress: act.Wallet,
		WalletScore:   score,
		TokenMint:     act.Mint,
		TokenSymbol:   act.Symbol,
		Direction:     DirectionBuy,
		ValueUSD:      act.ValueUSD,
		Confidence:    ranking / 100,
		Slot:          act.Slot,
		Timestamp:     act.Timestamp,
	}
	t.copySignals.Add(1)
	metricCopySignals.Inc()

	listeners := t.copyListeners.Load()
	if listeners == nil {
		return
	}
	for _, l := range *listeners {
		err := utils.SafeCall(func() error {
			return l(sig)
		})
		if err != nil && utils.ThrottleLog(&t.lastErrLogTime, 3*time.Second) {
			logger.Errorf("[WhaleTracker] copy-trade listener failed on %s: %v", sig.WalletAddress, err)
		}
	}
}

func (t *Tracker) emit(e *WhaleEvent) {
	t.eventsEmitted.Add(1)
	metricEvents.WithLabelValues(string(e.Type)).Inc()
	t.countsMu.Lock()
	t.eventCounts[e.Type]++
	t.countsMu.Unlock()

	logger.Infof("[WhaleTracker] %s %s %s %d ($%.2f) slot=%d",
		e.Type, e.WalletAddress.Short(), e.TokenSymbol, e.Amount, e.ValueUSD, e.Slot)

	listeners := t.eventListeners.Load()
	if listeners == nil {
		return
	}
	for _, l := range *listeners {
		err := utils.SafeCall(func() error {
			return l(e)
		})
		if err != nil && utils.ThrottleLog(&t.lastErrLogTime, 3*time.Second) {
			logger.Errorf("[WhaleTracker] event listener failed on %s %s: %v", e.Type, e.WalletAddress, err)
		}
	}
}

// UpdateWalletScore 注入外部计算的评分
func (t *Tracker) UpdateWalletScore(addr types.Pubkey, score WalletScore) {
	score.Address = addr
	t.scoresMu.Lock()
	t.scores[addr] = score
	t.scoresMu.Unlock()
}

// GetWalletActivity 最新的 limit 条，按时间从旧到新；limit<=0 返回全部
func (t *Tracker) GetWalletActivity(addr types.Pubkey, limit int) []WalletActivity {
	t.activityMu.Lock()
	defer t.activityMu.Unlock()

	ring, ok := t.activity[addr]
	if !ok {
		return nil
	}
	return ring.Last(limit)
}

// GetTopWallets 按 RankingScore 降序；n<=0 返回全部
func (t *Tracker) GetTopWallets(n int) []WalletScore {
	t.scoresMu.RLock()
	out := make([]WalletScore, 0, len(t.scores))
	for _, s := range t.scores {
		out = append(out, s)
	}
	t.scoresMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return utils.StableDesc(out[i].RankingScore(), out[j].RankingScore(), out[i].Address.Hash(), out[j].Address.Hash())
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Wallets 当前跟踪的钱包配置，按地址排序
func (t *Tracker) Wallets() []WalletConfig {
	t.walletsMu.RLock()
	out := make([]WalletConfig, 0, len(t.wallets))
	for _, w := range t.wallets {
		out = append(out, w.cfg)
	}
	t.walletsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

func (t *Tracker) subscriptionCount() int {
	t.walletsMu.RLock()
	defer t.walletsMu.RUnlock()
	return len(t.subIDs)
}
