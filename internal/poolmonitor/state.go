package poolmonitor

import (
	"time"

	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/types"
)

// PoolState 池子快照，整体替换，不原地修改
type PoolState struct {
	Address        types.Pubkey `json:"address"`
	DexType        DexType      `json:"dex_type"`
	TokenAMint     types.Pubkey `json:"token_a_mint"`
	TokenBMint     types.Pubkey `json:"token_b_mint"`
	TokenAVault    types.Pubkey `json:"token_a_vault"` // 储备内联在池子账户时为零值
	TokenBVault    types.Pubkey `json:"token_b_vault"`
	TokenAReserve  uint64       `json:"token_a_reserve"`
	TokenBReserve  uint64       `json:"token_b_reserve"`
	LpSupply       uint64       `json:"lp_supply"`
	FeeRateBps     float64      `json:"fee_rate_bps"`
	Slot           uint64       `json:"slot"`
	TokenAPriceUSD *float64     `json:"token_a_price_usd,omitempty"`
	TokenBPriceUSD *float64     `json:"token_b_price_usd,omitempty"`
	Closed         bool         `json:"closed"`
	UpdatedAt      time.Time    `json:"updated_at"`

	// 集中流动性池的 sqrt(B/A) Q64.64，非零时价格由它计算
	SqrtPriceX64 float64 `json:"-"`

	// 池子账户自身的 slot，金库更新不推进它
	AccountSlot uint64 `json:"-"`

	// 金库余额中不属于 LP 的部分（CPMM 协议费/基金费，AMM v4 待提取 PnL）
	ReserveADeduction uint64 `json:"-"`
	ReserveBDeduction uint64 `json:"-"`

	// 最近一次金库余额及其 slot
	VaultAAmount uint64 `json:"-"`
	VaultBAmount uint64 `json:"-"`
	VaultASlot   uint64 `json:"-"`
	VaultBSlot   uint64 `json:"-"`
}

const q64 = float64(1 << 64)

// HasVaults 储备是否存放在独立的 SPL 金库账户
func (s *PoolState) HasVaults() bool {
	return !s.TokenAVault.IsZero() && !s.TokenBVault.IsZero()
}

// PriceAPerB reserve_a / reserve_b，分母为 0 时返回 0。
// 有 sqrt_price 的池子不依赖储备：price = (2^64 / sqrt_price)^2
func (s *PoolState) PriceAPerB() float64 {
	if s.SqrtPriceX64 > 0 {
		r := q64 / s.SqrtPriceX64
		return r * r
	}
	return utils.Ratio(float64(s.TokenAReserve), float64(s.TokenBReserve))
}

func (s *PoolState) Clone() *PoolState {
	cp := *s
	if s.TokenAPriceUSD != nil {
		v := *s.TokenAPriceUSD
		cp.TokenAPriceUSD = &v
	}
	if s.TokenBPriceUSD != nil {
		v := *s.TokenBPriceUSD
		cp.TokenBPriceUSD = &v
	}
	return &cp
}

// inheritVaults 从旧快照继承同一金库的余额，池子账户更新不携带金库余额
func (s *PoolState) inheritVaults(old *PoolState) {
	if old == nil || !s.HasVaults() {
		return
	}
	if old.TokenAVault == s.TokenAVault {
		s.VaultAAmount, s.VaultASlot = old.VaultAAmount, old.VaultASlot
	}
	if old.TokenBVault == s.TokenBVault {
		s.VaultBAmount, s.VaultBSlot = old.VaultBAmount, old.VaultBSlot
	}
	if old.Slot > s.Slot {
		s.Slot = old.Slot
	}
}

// recomputeReserves 金库余额扣除非 LP 部分
func (s *PoolState) recomputeReserves() {
	if !s.HasVaults() {
		return
	}
	s.TokenAReserve = saturatingSub(s.VaultAAmount, s.ReserveADeduction)
	s.TokenBReserve = saturatingSub(s.VaultBAmount, s.ReserveBDeduction)
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// PoolUpdate 新旧快照的差异，只用于判定事件，不存储
type PoolUpdate struct {
	Old            *PoolState
	New            *PoolState
	OldPrice       float64
	NewPrice       float64
	PriceChangePct float64
	LpChangePct    float64
	ReserveADelta  int64
	ReserveBDelta  int64
}

func ComputeUpdate(old, next *PoolState) PoolUpdate {
	u := PoolUpdate{
		Old:           old,
		New:           next,
		OldPrice:      old.PriceAPerB(),
		NewPrice:      next.PriceAPerB(),
		ReserveADelta: utils.SignedDelta(old.TokenAReserve, next.TokenAReserve),
		ReserveBDelta: utils.SignedDelta(old.TokenBReserve, next.TokenBReserve),
	}
	u.PriceChangePct = utils.PctChange(u.OldPrice, u.NewPrice)
	u.LpChangePct = utils.PctChange(float64(old.LpSupply), float64(next.LpSupply))
	return u
}

// IsSwapLike 两侧储备反向变动
func (u PoolUpdate) IsSwapLike() bool {
	return (u.ReserveADelta > 0 && u.ReserveBDelta < 0) || (u.ReserveADelta < 0 && u.ReserveBDelta > 0)
}
