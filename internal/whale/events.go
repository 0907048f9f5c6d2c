package whale

import (
	"time"

	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/types"
)

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

type EventType string

const (
	EventLargeBuy       EventType = "LARGE_BUY"
	EventLargeSell      EventType = "LARGE_SELL"
	EventNewPosition    EventType = "NEW_POSITION"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventAccumulation   EventType = "ACCUMULATION"
	EventDistribution   EventType = "DISTRIBUTION"

	// 账户更新不带交易上下文，无法区分转账与交易，这两类只供下游使用
	EventTransferIn  EventType = "TRANSFER_IN"
	EventTransferOut EventType = "TRANSFER_OUT"
)

// WalletActivity 一次达到最小金额的余额变化
type WalletActivity struct {
	Wallet       types.Pubkey `json:"wallet_address"`
	Mint         types.Pubkey `json:"token_mint"`
	Symbol       string       `json:"token_symbol"`
	AmountChange int64        `json:"amount_change"`
	Direction    Direction    `json:"direction"`
	Slot         uint64       `json:"slot"`
	ValueUSD     float64      `json:"estimated_value_usd"`
	Timestamp    time.Time    `json:"timestamp"`
}

type WhaleEvent struct {
	Type           EventType    `json:"event_type"`
	WalletAddress  types.Pubkey `json:"wallet_address"`
	WalletLabel    string       `json:"wallet_label,omitempty"`
	WalletCategory Category     `json:"wallet_category"`
	TokenMint      types.Pubkey `json:"token_mint"`
	TokenSymbol    string       `json:"token_symbol"`
	Direction      Direction    `json:"direction"`
	Amount         uint64       `json:"amount"`
	ValueUSD       float64      `json:"value_usd"`
	Slot           uint64       `json:"slot"`
	Timestamp      time.Time    `json:"timestamp"`
	Pattern        string       `json:"pattern,omitempty"`     // accumulation / distribution
	TradeCount     int          `json:"trade_count,omitempty"` // 窗口内同方向交易数
}

// Key Kafka 分区键
func (e *WhaleEvent) Key() string {
	return e.WalletAddress.String()
}

// WalletScore 外部计算后注入，只读
type WalletScore struct {
	Address          types.Pubkey `json:"address"`
	TotalTrades      int          `json:"total_trades"`
	WinRate          float64      `json:"win_rate"` // 0~1
	AvgProfitPct     float64      `json:"avg_profit_pct"`
	TotalVolumeUSD   float64      `json:"total_volume_usd"`
	AvgHoldTimeHours float64      `json:"avg_hold_time_hours"`
	Category         Category     `json:"category"`
}

// RankingScore 0~100，各项比例先截断到 [0,1]
func (s WalletScore) RankingScore() float64 {
	win := utils.Clamp(s.WinRate, 0, 1)
	profit := utils.Clamp(s.AvgProfitPct/50, 0, 1)
	volume := utils.Clamp(s.TotalVolumeUSD/1_000_000, 0, 1)
	activity := utils.Clamp(float64(s.TotalTrades)/100, 0, 1)
	return 0.40*win*100 + 0.30*profit*100 + 0.20*volume*100 + 0.10*activity*100
}

type CopyTradeSignal struct {
	WalletAddress types.Pubkey `json:"wallet_address"`
	WalletScore   WalletScore  `json:"wallet_score"`
	TokenMint     types.Pubkey `json:"token_mint"`
	TokenSymbol   string       `json:"token_symbol"`
	Direction     Direction    `json:"direction"`
	ValueUSD      float64      `json:"value_usd"`
	Confidence    float64      `json:"confidence"`
	Slot          uint64       `json:"slot"`
	Timestamp     time.Time    `json:"timestamp"`
}

func (s *CopyTradeSignal) Key() string {
	return s.WalletAddress.String()
}

type WhaleEventListener func(event *WhaleEvent) error

type CopyTradeListener func(signal *CopyTradeSignal) error

// classify NEW_POSITION / POSITION_CLOSED 优先于普通大额买卖
func classify(prev, next uint64, dir Direction, valueUSD, largeThreshold float64) (EventType, bool) {
	switch {
	case prev == 0 && dir == DirectionBuy:
		return EventNewPosition, true
	case next == 0:
		return EventPositionClosed, true
	case valueUSD >= largeThreshold && dir == DirectionBuy:
		return EventLargeBuy, true
	case valueUSD >= largeThreshold:
		return EventLargeSell, true
	}
	return "", false
}

// patternFor 窗口内同方向交易数达到阈值时返回对应模式事件
func patternFor(dir Direction, count, threshold int) (EventType, bool) {
	if count < threshold {
		return "", false
	}
	if dir == DirectionBuy {
		return EventAccumulation, true
	}
	return EventDistribution, true
}
