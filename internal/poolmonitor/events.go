package poolmonitor

import (
	"time"

	"chain-stream-sol/internal/types"
)

type PoolEventType string

const (
	EventNewPool         PoolEventType = "NEW_POOL"
	EventPriceChange     PoolEventType = "PRICE_CHANGE"
	EventLiquidityAdd    PoolEventType = "LIQUIDITY_ADD"
	EventLiquidityRemove PoolEventType = "LIQUIDITY_REMOVE"
	EventSwap            PoolEventType = "SWAP"
	EventPoolClosed      PoolEventType = "POOL_CLOSED"
)

type PoolEvent struct {
	Type        PoolEventType `json:"type"`
	PoolAddress types.Pubkey  `json:"pool_address"`
	DexType     DexType       `json:"dex_type"`
	Slot        uint64        `json:"slot"`
	Timestamp   time.Time     `json:"timestamp"`
	Data        PoolEventData `json:"data"`
}

// PoolEventData 按事件类型填充，未用字段省略
type PoolEventData struct {
	TokenAMint      *types.Pubkey `json:"token_a_mint,omitempty"`
	TokenBMint      *types.Pubkey `json:"token_b_mint,omitempty"`
	InitialReserveA *uint64       `json:"initial_reserve_a,omitempty"`
	InitialReserveB *uint64       `json:"initial_reserve_b,omitempty"`
	OldPrice        *float64      `json:"old_price,omitempty"`
	NewPrice        *float64      `json:"new_price,omitempty"`
	PriceChangePct  *float64      `json:"price_change_pct,omitempty"`
	OldLpSupply     *uint64       `json:"old_lp_supply,omitempty"`
	NewLpSupply     *uint64       `json:"new_lp_supply,omitempty"`
	LpChangePct     *float64      `json:"lp_change_pct,omitempty"`
	ReserveADelta   *int64        `json:"reserve_a_delta,omitempty"`
	ReserveBDelta   *int64        `json:"reserve_b_delta,omitempty"`
}

// PoolEventListener 同步调用，返回的错误只记录日志
type PoolEventListener func(event *PoolEvent) error

// Key Kafka 分区键
func (e *PoolEvent) Key() string {
	return e.PoolAddress.String()
}

func ptr[T any](v T) *T {
	return &v
}

func newEvent(t PoolEventType, s *PoolState, now time.Time) *PoolEvent {
	return &PoolEvent{
		Type:        t,
		PoolAddress: s.Address,
		DexType:     s.DexType,
		Slot:        s.Slot,
		Timestamp:   now,
	}
}

func newPoolEvent(s *PoolState, now time.Time) *PoolEvent {
	e := newEvent(EventNewPool, s, now)
	e.Data = PoolEventData{
		TokenAMint:      ptr(s.TokenAMint),
		TokenBMint:      ptr(s.TokenBMint),
		InitialReserveA: ptr(s.TokenAReserve),
		InitialReserveB: ptr(s.TokenBReserve),
		NewLpSupply:     ptr(s.LpSupply),
	}
	return e
}

func priceChangeEvent(u PoolUpdate, now time.Time) *PoolEvent {
	e := newEvent(EventPriceChange, u.New, now)
	e.Data = PoolEventData{
		OldPrice:       ptr(u.OldPrice),
		NewPrice:       ptr(u.NewPrice),
		PriceChangePct: ptr(u.PriceChangePct),
	}
	return e
}

func liquidityEvent(u PoolUpdate, now time.Time) *PoolEvent {
	t := EventLiquidityAdd
	if u.LpChangePct < 0 {
		t = EventLiquidityRemove
	}
	e := newEvent(t, u.New, now)
	e.Data = PoolEventData{
		OldLpSupply: ptr(u.Old.LpSupply),
		NewLpSupply: ptr(u.New.LpSupply),
		LpChangePct: ptr(u.LpChangePct),
	}
	return e
}

func swapEvent(u PoolUpdate, now time.Time) *PoolEvent {
	e := newEvent(EventSwap, u.New, now)
	e.Data = PoolEventData{
		ReserveADelta: ptr(u.ReserveADelta),
		ReserveBDelta: ptr(u.ReserveBDelta),
		OldPrice:      ptr(u.OldPrice),
		NewPrice:      ptr(u.NewPrice),
	}
	return e
}

func closedEvent(s *PoolState, slot uint64, now time.Time) *PoolEvent {
	e := newEvent(EventPoolClosed, s, now)
	if slot > e.Slot {
		e.Slot = slot
	}
	e.Data = PoolEventData{
		TokenAMint: ptr(s.TokenAMint),
		TokenBMint: ptr(s.TokenBMint),
	}
	return e
}
