package poolmonitor

import (
	"context"
	"fmt"
	"math"
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
)

// StreamClient Monitor 依赖的订阅能力，*stream.Client 实现了它
type StreamClient interface {
	Subscribe(ctx context.Context, filter stream.SubscriptionFilter) (string, error)
	Unsubscribe(id string)
	OnAccountUpdate(l stream.AccountUpdateListener)
}

type Option func(*Monitor)

// WithPriceLookup 新快照附带两侧 token 的 USD 价格
func WithPriceLookup(p types.PriceLookup) Option {
	return func(m *Monitor) {
		m.prices = p
	}
}

type Monitor struct {
	cfg       Config
	client    StreamClient
	prices    types.PriceLookup
	dexes     []DexType
	allowlist []types.Pubkey
	parsers   map[types.Pubkey]Parser // program id → parser
	pools     *PoolMap
	vaults    atomic.Pointer[VaultWorker]

	lifecycleMu  sync.Mutex
	running      atomic.Bool
	registerOnce sync.Once
	subIDs       []string

	listenerMu sync.Mutex
	listeners  atomic.Pointer[[]PoolEventListener]

	updatesProcessed atomic.Uint64
	decodeErrors     atomic.Uint64
	staleDropped     atomic.Uint64
	eventsEmitted    atomic.Uint64
	poolsClosed      atomic.Uint64
	poolsEvicted     atomic.Uint64

	countsMu    sync.Mutex
	eventCounts map[PoolEventType]uint64

	lastErrLogTime atomic.Int64
}

func NewMonitor(cfg Config, client StreamClient, opts ...Option) (*Monitor, error) {
	cfg = cfg.WithDefaults()
	dexes, err := cfg.Dexes()
	if err != nil {
		return nil, err
	}
	allowlist, err := cfg.Allowlist()
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:         cfg,
		client:      client,
		dexes:       dexes,
		allowlist:   allowlist,
		parsers:     make(map[types.Pubkey]Parser, len(dexes)),
		pools:       NewPoolMap(cfg.MaxPoolsTracked),
		eventCounts: make(map[PoolEventType]uint64, 8),
	}
	for _, d := range dexes {
		m.parsers[d.ProgramID()] = NewParser(d)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start 订阅启用的 DEX 程序；配置了白名单时只订阅白名单池子
func (m *Monitor) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.running.Load() {
		return nil
	}
	m.registerOnce.Do(func() {
		m.client.OnAccountUpdate(m.HandleUpdate)
	})

	// 先置为运行态，订阅建立后立即到达的消息不会被丢弃
	m.running.Store(true)
	if !m.cfg.VaultTracking() {
		if blind := m.vaultOnlyDexes(); len(blind) > 0 {
			logger.Warnf("[PoolMonitor] track_vault_balances is off: reserves of %v stay 0 and their PRICE_CHANGE is disabled", blind)
		}
	}
	if m.cfg.VaultTracking() {
		w := NewVaultWorker("pool_vaults", m.cfg.VaultFlushInterval, m.cfg.VaultBatchSize, m.client)
		w.Resume()
		go w.Start()
		m.vaults.Store(w)
	}

	var errs *multierror.Error
	ids := make([]string, 0, len(m.dexes))
	for _, f := range m.filters() {
		id, err := m.client.Subscribe(ctx, f)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		ids = append(ids, id)
	}

	if err := errs.ErrorOrNil(); err != nil {
		for _, id := range ids {
			m.client.Unsubscribe(id)
		}
		m.running.Store(false)
		if w := m.vaults.Swap(nil); w != nil {
			w.Stop(ctx)
		}
		return fmt.Errorf("pool monitor start: %w", err)
	}

	m.subIDs = ids
	logger.Infof("[PoolMonitor] started: dexes=%v, allowlist=%d, subscriptions=%d, vault_tracking=%v",
		m.dexes, len(m.allowlist), len(ids), m.cfg.VaultTracking())
	return nil
}

// Stop 取消全部订阅，池子表保留
func (m *Monitor) Stop(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.running.CompareAndSwap(true, false) {
		return nil
	}
	for _, id := range m.subIDs {
		m.client.Unsubscribe(id)
	}
	m.subIDs = nil

	if w := m.vaults.Swap(nil); w != nil {
		w.Stop(ctx)
	}
	logger.Infof("[PoolMonitor] stopped, tracked pools=%d", m.pools.Len())
	return nil
}

// vaultOnlyDexes 价格只能从金库余额得到的 DEX
func (m *Monitor) vaultOnlyDexes() []DexType {
	var out []DexType
	for _, d := range m.dexes {
		if d == DexRaydiumAmmV4 || d == DexRaydiumCpmm {
			out = append(out, d)
		}
	}
	return out
}

func (m *Monitor) filters() []stream.SubscriptionFilter {
	if len(m.allowlist) > 0 {
		return []stream.SubscriptionFilter{stream.AccountsFilter(m.allowlist...)}
	}
	out := make([]stream.SubscriptionFilter, 0, len(m.dexes))
	for _, d := range m.dexes {
		f := stream.ProgramFilter(d.ProgramID())
		if d == DexRaydiumAmmV4 {
			f.DataSize = RaydiumAmmV4Len
		}
		out = append(out, f)
	}
	return out
}

func (m *Monitor) OnPoolEvent(l PoolEventListener) {
	if l == nil {
		return
	}
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	var next []PoolEventListener
	if cur := m.listeners.Load(); cur != nil {
		next = append(next, *cur...)
	}
	next = append(next, l)
	m.listeners.Store(&next)
}

// HandleUpdate 注册到 StreamClient 的监听器，其他组件的更新按 owner 过滤掉
func (m *Monitor) HandleUpdate(u *stream.AccountUpdate) error {
	if u == nil || !m.running.Load() {
		return nil
	}

	if u.Lamports == 0 || len(u.Data) == 0 {
		if m.pools.Contains(u.Pubkey) {
			m.closePool(u.Pubkey, u.Slot)
		}
		return nil
	}

	if parser, ok := m.parsers[u.Owner]; ok {
		m.applyPoolAccount(parser, u.Pubkey, u.Data, u.Slot)
		return nil
	}
	if m.cfg.VaultTracking() && consts.IsTokenProgram(u.Owner) {
		m.applyVault(u)
	}
	return nil
}

// applyPoolAccount 锁外解码，锁内比较 slot 并整体替换
func (m *Monitor) applyPoolAccount(parser Parser, addr types.Pubkey, data []byte, slot uint64) {
	dex := parser.Dex()
	m.updatesProcessed.Add(1)
	metricUpdates.WithLabelValues(dex.String()).Inc()

	var parsed *PoolState
	err := utils.SafeCall(func() error {
		var perr error
		parsed, perr = parser.Parse(addr, data)
		return perr
	})
	if err != nil {
		m.decodeErrors.Add(1)
		metricDecodeErrors.WithLabelValues(dex.String()).Inc()
		logger.Debugf("[PoolMonitor] drop update: %v", err)
		return
	}

	if parsed.Closed {
		if m.pools.Contains(addr) {
			m.closePool(addr, slot)
		}
		return
	}

	now := time.Now()
	parsed.Slot = slot
	parsed.AccountSlot = slot
	parsed.UpdatedAt = now
	m.attachPrices(parsed)

	stale := false
	old, next, evicted := m.pools.Apply(addr, func(old *PoolState) *PoolState {
		if old != nil && slot <= old.AccountSlot {
			stale = true
			return nil
		}
		parsed.inheritVaults(old)
		parsed.recomputeReserves()
		return parsed
	})
	if stale {
		m.staleDropped.Add(1)
		metricStaleDropped.Inc()
		return
	}

	m.releaseEvicted(evicted)
	metricTrackedPools.Set(float64(m.pools.Len()))

	if w := m.vaults.Load(); w != nil && next.HasVaults() {
		if old == nil || old.TokenAVault != next.TokenAVault || old.TokenBVault != next.TokenBVault {
			if old != nil {
				w.Remove(old.TokenAVault, old.TokenBVault)
			}
			w.Add(next.TokenAVault, next.TokenBVault)
		}
	}

	m.emitTransition(old, next, now)
}

// applyVault 金库余额替换对应一侧的储备；每个金库有独立的 slot 保护
func (m *Monitor) applyVault(u *stream.AccountUpdate) {
	ref, ok := m.pools.ResolveVault(u.Pubkey)
	if !ok {
		return
	}
	ta, err := tokenaccount.Parse(u.Pubkey, u.Data)
	if err != nil {
		m.decodeErrors.Add(1)
		logger.Debugf("[PoolMonitor] drop vault update: %v", err)
		return
	}

	now := time.Now()
	stale := false
	old, next, _ := m.pools.Apply(ref.pool, func(old *PoolState) *PoolState {
		if old == nil {
			return nil
		}
		vault, vaultSlot := old.TokenBVault, old.VaultBSlot
		if ref.sideA {
			vault, vaultSlot = old.TokenAVault, old.VaultASlot
		}
		if vault != u.Pubkey {
			return nil
		}
		if u.Slot <= vaultSlot {
			stale = true
			return nil
		}

		s := old.Clone()
		if ref.sideA {
			s.VaultAAmount, s.VaultASlot = ta.Amount, u.Slot
		} else {
			s.VaultBAmount, s.VaultBSlot = ta.Amount, u.Slot
		}
		s.recomputeReserves()
		if u.Slot > s.Slot {
			s.Slot = u.Slot
		}
		s.UpdatedAt = now
		return s
	})
	if stale {
		m.staleDropped.Add(1)
		metricStaleDropped.Inc()
		return
	}
	if next == nil {
		return
	}
	m.emitTransition(old, next, now)
}

func (m *Monitor) closePool(addr types.Pubkey, slot uint64) {
	removed := m.pools.RemoveIf(addr, func(s *PoolState) bool {
		return slot >= s.AccountSlot
	})
	if removed == nil {
		m.staleDropped.Add(1)
		metricStaleDropped.Inc()
		return
	}

	m.poolsClosed.Add(1)
	metricTrackedPools.Set(float64(m.pools.Len()))
	if w := m.vaults.Load(); w != nil && removed.HasVaults() {
		w.Remove(removed.TokenAVault, removed.TokenBVault)
	}
	logger.Infof("[PoolMonitor] pool closed: %s (%s) slot=%d", addr, removed.DexType, slot)
	m.emit(closedEvent(removed, slot, time.Now()))
}

func (m *Monitor) releaseEvicted(evicted []*PoolState) {
	if len(evicted) == 0 {
		return
	}
	m.poolsEvicted.Add(uint64(len(evicted)))
	w := m.vaults.Load()
	for _, s := range evicted {
		if w != nil && s.HasVaults() {
			w.Remove(s.TokenAVault, s.TokenBVault)
		}
		logger.Debugf("[PoolMonitor] evicted pool %s (%s) last slot=%d", s.Address, s.DexType, s.Slot)
	}
}

func (m *Monitor) attachPrices(s *PoolState) {
	if m.prices == nil {
		return
	}
	if !s.TokenAMint.IsZero() {
		if p, ok := m.prices.GetPriceUSD(s.TokenAMint); ok {
			s.TokenAPriceUSD = ptr(p)
		}
	}
	if !s.TokenBMint.IsZero() {
		if p, ok := m.prices.GetPriceUSD(s.TokenBMint); ok {
			s.TokenBPriceUSD = ptr(p)
		}
	}
}

// emitTransition 新池子只发 NEW_POOL；否则按阈值判定价格与流动性变化
func (m *Monitor) emitTransition(old, next *PoolState, now time.Time) {
	if old == nil {
		m.emit(newPoolEvent(next, now))
		return
	}

	u := ComputeUpdate(old, next)
	priceMoved := u.PriceChangePct != 0 && math.Abs(u.PriceChangePct) >= m.cfg.PriceChangeThresholdPct
	lpMoved := u.LpChangePct != 0 && math.Abs(u.LpChangePct) >= m.cfg.LiquidityChangeThresholdPct

	if priceMoved {
		m.emit(priceChangeEvent(u, now))
	}
	if lpMoved {
		m.emit(liquidityEvent(u, now))
	}
	if m.cfg.EmitSwapEvents && !lpMoved && u.IsSwapLike() {
		m.emit(swapEvent(u, now))
	}
}

func (m *Monitor) emit(e *PoolEvent) {
	m.eventsEmitted.Add(1)
	metricEvents.WithLabelValues(string(e.Type)).Inc()
	m.countsMu.Lock()
	m.eventCounts[e.Type]++
	m.countsMu.Unlock()

	listeners := m.listeners.Load()
	if listeners == nil {
		return
	}
	for _, l := range *listeners {
		err := utils.SafeCall(func() error {
			return l(e)
		})
		if err != nil && utils.ThrottleLog(&m.lastErrLogTime, 3*time.Second) {
			logger.Errorf("[PoolMonitor] event listener failed on %s %s: %v", e.Type, e.PoolAddress, err)
		}
	}
}

// GetTrackedPools 最近更新的在前，返回副本
func (m *Monitor) GetTrackedPools() []*PoolState {
	pools := m.pools.Snapshot()
	out := make([]*PoolState, len(pools))
	for i, s := range pools {
		out[i] = s.Clone()
	}
	return out
}

func (m *Monitor) GetPoolState(addr types.Pubkey) *PoolState {
	if s := m.pools.Get(addr); s != nil {
		return s.Clone()
	}
	return nil
}
