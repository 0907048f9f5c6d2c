package poolmonitor

import (
	"fmt"
	"time"

	"chain-stream-sol/internal/types"
)

const (
	defaultPriceThresholdPct     = 1.0
	defaultLiquidityThresholdPct = 5.0
	defaultMaxPools              = 10000
	defaultVaultBatchSize        = 100
	defaultVaultFlushInterval    = 500 * time.Millisecond
)

type Config struct {
	EnabledDexes                []string      `json:"enabled_dexes" yaml:"enabled_dexes"`                                   // 为空表示全部
	PoolAllowlist               []string      `json:"pool_allowlist" yaml:"pool_allowlist"`                                 // 非空时只订阅这些池子账户
	PriceChangeThresholdPct     float64       `json:"price_change_threshold_pct" yaml:"price_change_threshold_pct"`         // 价格变化阈值（%）
	LiquidityChangeThresholdPct float64       `json:"liquidity_change_threshold_pct" yaml:"liquidity_change_threshold_pct"` // LP 变化阈值（%）
	MaxPoolsTracked             int           `json:"max_pools_tracked" yaml:"max_pools_tracked"`                           // LRU 容量
	EmitSwapEvents              bool          `json:"emit_swap_events" yaml:"emit_swap_events"`                             // 是否推送 SWAP
	TrackVaultBalances          *bool         `json:"track_vault_balances" yaml:"track_vault_balances"`                     // 是否订阅金库账户，未设置时白名单模式默认开启
	VaultBatchSize              int           `json:"vault_batch_size" yaml:"vault_batch_size"`                             // 单次订阅的金库数量
	VaultFlushInterval          time.Duration `json:"vault_flush_interval" yaml:"vault_flush_interval"`                     // 金库订阅批处理间隔
}

func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

func (c Config) WithDefaults() Config {
	if c.PriceChangeThresholdPct <= 0 {
		c.PriceChangeThresholdPct = defaultPriceThresholdPct
	}
	if c.LiquidityChangeThresholdPct <= 0 {
		c.LiquidityChangeThresholdPct = defaultLiquidityThresholdPct
	}
	if c.MaxPoolsTracked <= 0 {
		c.MaxPoolsTracked = defaultMaxPools
	}
	if c.VaultBatchSize <= 0 {
		c.VaultBatchSize = defaultVaultBatchSize
	}
	if c.VaultFlushInterval <= 0 {
		c.VaultFlushInterval = defaultVaultFlushInterval
	}
	if c.TrackVaultBalances == nil {
		// 全程序订阅时池子数量不可控，金库订阅只在白名单模式下默认打开
		c.TrackVaultBalances = ptr(len(c.PoolAllowlist) > 0)
	}
	return c
}

func (c Config) VaultTracking() bool {
	return c.TrackVaultBalances != nil && *c.TrackVaultBalances
}

// Dexes 解析启用的 DEX，为空时返回全部
func (c Config) Dexes() ([]DexType, error) {
	if len(c.EnabledDexes) == 0 {
		return AllDexTypes, nil
	}
	out := make([]DexType, 0, len(c.EnabledDexes))
	seen := make(map[DexType]struct{}, len(c.EnabledDexes))
	for _, s := range c.EnabledDexes {
		d, err := ParseDexType(s)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out, nil
}

func (c Config) Allowlist() ([]types.Pubkey, error) {
	keys, err := types.PubkeysFromStrings(c.PoolAllowlist)
	if err != nil {
		return nil, fmt.Errorf("pool_allowlist: %w", err)
	}
	return keys, nil
}
