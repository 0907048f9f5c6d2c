package whale

import (
	"fmt"
	"time"

	"chain-stream-sol/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultMinTradeSizeUSD         = 5000
	defaultLargeTradeThresholdUSD  = 50000
	defaultAccumulationWindowHours = 24
	defaultAccumulationTradeCount  = 3
	defaultCopyTradeMinWalletScore = 50
	defaultActivityHistoryLimit    = 1000
	defaultTokenDecimals           = 9
	defaultSubscribeConcurrency    = 16
)

type Category string

const (
	CategoryWhale       Category = "whale"
	CategorySmartMoney  Category = "smart_money"
	CategorySniper      Category = "sniper"
	CategoryInsider     Category = "insider"
	CategoryMarketMaker Category = "market_maker"
	CategoryFund        Category = "fund"
	CategoryUnknown     Category = "unknown"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryWhale, CategorySmartMoney, CategorySniper, CategoryInsider,
		CategoryMarketMaker, CategoryFund, CategoryUnknown:
		return true
	}
	return false
}

// WalletConfig 单个钱包的跟踪配置；yaml 中省略 enabled/track_all_tokens 时默认为 true
type WalletConfig struct {
	Address         string   `json:"address" yaml:"address"`
	Label           string   `json:"label,omitempty" yaml:"label,omitempty"`
	Category        Category `json:"category" yaml:"category"`
	MinTradeSizeUSD float64  `json:"min_trade_size_usd" yaml:"min_trade_size_usd"` // >0 时覆盖全局最小值
	TrackAllTokens  bool     `json:"track_all_tokens" yaml:"track_all_tokens"`
	TokensToTrack   []string `json:"tokens_to_track,omitempty" yaml:"tokens_to_track,omitempty"`
	TokenAccounts   []string `json:"token_accounts,omitempty" yaml:"token_accounts,omitempty"` // 与钱包一起订阅的 SPL token 账户
	Enabled         bool     `json:"enabled" yaml:"enabled"`
}

func DefaultWalletConfig(address string) WalletConfig {
	return WalletConfig{
		Address:        address,
		Category:       CategoryUnknown,
		TrackAllTokens: true,
		Enabled:        true,
	}
}

func (w *WalletConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain WalletConfig
	raw := plain(DefaultWalletConfig(""))
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*w = WalletConfig(raw)
	return nil
}

// DisplayName 日志用
func (w WalletConfig) DisplayName() string {
	if w.Label != "" {
		return w.Label
	}
	if len(w.Address) > 8 {
		return w.Address[:8] + "..."
	}
	return w.Address
}

// wallet 解析后的钱包配置
type wallet struct {
	cfg      WalletConfig
	address  types.Pubkey
	tokens   map[types.Pubkey]struct{}
	accounts []types.Pubkey // 订阅的全部账户，钱包地址在首位
}

func parseWallet(cfg WalletConfig) (*wallet, error) {
	addr, err := types.TryPubkeyFromString(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("wallet address: %w", err)
	}
	if cfg.Category == "" {
		cfg.Category = CategoryUnknown
	}
	if !cfg.Category.Valid() {
		return nil, fmt.Errorf("wallet %s: unknown category %q", cfg.Address, cfg.Category)
	}
	if cfg.MinTradeSizeUSD < 0 {
		return nil, fmt.Errorf("wallet %s: min_trade_size_usd must not be negative", cfg.Address)
	}

	mints, err := types.PubkeysFromStrings(cfg.TokensToTrack)
	if err != nil {
		return nil, fmt.Errorf("wallet %s tokens_to_track: %w", cfg.Address, err)
	}
	extra, err := types.PubkeysFromStrings(cfg.TokenAccounts)
	if err != nil {
		return nil, fmt.Errorf("wallet %s token_accounts: %w", cfg.Address, err)
	}

	w := &wallet{
		cfg:      cfg,
		address:  addr,
		tokens:   make(map[types.Pubkey]struct{}, len(mints)),
		accounts: make([]types.Pubkey, 0, 1+len(extra)),
	}
	for _, m := range mints {
		w.tokens[m] = struct{}{}
	}
	w.accounts = append(w.accounts, addr)
	seen := map[types.Pubkey]struct{}{addr: {}}
	for _, k := range extra {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		w.accounts = append(w.accounts, k)
	}
	return w, nil
}

func (w *wallet) tracks(mint types.Pubkey) bool {
	if w.cfg.TrackAllTokens {
		return true
	}
	_, ok := w.tokens[mint]
	return ok
}

func (w *wallet) sameAccounts(other *wallet) bool {
	if len(w.accounts) != len(other.accounts) {
		return false
	}
	for i := range w.accounts {
		if w.accounts[i] != other.accounts[i] {
			return false
		}
	}
	return true
}

type Config struct {
	Wallets                 []WalletConfig `json:"wallets" yaml:"wallets"`
	WalletsFile             string         `json:"wallets_file" yaml:"wallets_file"` // 热加载的钱包列表文件
	MinTradeSizeUSD         float64        `json:"min_trade_size_usd" yaml:"min_trade_size_usd"`
	LargeTradeThresholdUSD  float64        `json:"large_trade_threshold_usd" yaml:"large_trade_threshold_usd"`
	AccumulationWindowHours float64        `json:"accumulation_window_hours" yaml:"accumulation_window_hours"`
	AccumulationTradeCount  int            `json:"accumulation_trade_count" yaml:"accumulation_trade_count"`
	CopyTradeEnabled        bool           `json:"copy_trade_enabled" yaml:"copy_trade_enabled"`
	CopyTradeMinWalletScore float64        `json:"copy_trade_min_wallet_score" yaml:"copy_trade_min_wallet_score"`
	ActivityHistoryLimit    int            `json:"activity_history_limit" yaml:"activity_history_limit"` // 每个钱包保留的活动记录数
	TokenDecimals           uint8          `json:"token_decimals" yaml:"token_decimals"`                 // 换算 USD 时使用的统一精度
	SubscribeConcurrency    int            `json:"subscribe_concurrency" yaml:"subscribe_concurrency"`   // Start 时并行订阅的协程数
}

func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

func (c Config) WithDefaults() Config {
	if c.MinTradeSizeUSD <= 0 {
		c.MinTradeSizeUSD = defaultMinTradeSizeUSD
	}
	if c.LargeTradeThresholdUSD <= 0 {
		c.LargeTradeThresholdUSD = defaultLargeTradeThresholdUSD
	}
	if c.AccumulationWindowHours <= 0 {
		c.AccumulationWindowHours = defaultAccumulationWindowHours
	}
	if c.AccumulationTradeCount <= 0 {
		c.AccumulationTradeCount = defaultAccumulationTradeCount
	}
	if c.CopyTradeMinWalletScore <= 0 {
		c.CopyTradeMinWalletScore = defaultCopyTradeMinWalletScore
	}
	if c.ActivityHistoryLimit <= 0 {
		c.ActivityHistoryLimit = defaultActivityHistoryLimit
	}
	if c.TokenDecimals == 0 {
		c.TokenDecimals = defaultTokenDecimals
	}
	if c.SubscribeConcurrency <= 0 {
		c.SubscribeConcurrency = defaultSubscribeConcurrency
	}
	return c
}

func (c Config) AccumulationWindow() time.Duration {
	return time.Duration(c.AccumulationWindowHours * float64(time.Hour))
}
