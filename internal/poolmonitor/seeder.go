package poolmonitor

import (
	"context"
	"fmt"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/types"
	"github.com/blocto/solana-go-sdk/client"
)

const seedBatchSize = 100

// AccountFetcher *client.Client 实现了它
type AccountFetcher interface {
	GetMultipleAccounts(ctx context.Context, addrs []string) ([]client.AccountInfo, error)
}

// SeedFromRPC 拉取白名单池子当前状态作为基线，slot 记为 0，
// 之后任何流式更新都会覆盖它。返回成功写入的池子数
func (m *Monitor) SeedFromRPC(ctx context.Context, fetcher AccountFetcher, timeout time.Duration) (int, error) {
	if len(m.allowlist) == 0 {
		return 0, nil
	}

	seeded := 0
	for _, batch := range utils.Chunk(m.allowlist, seedBatchSize) {
		addrs := make([]string, len(batch))
		for i, k := range batch {
			addrs[i] = k.String()
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		infos, err := fetcher.GetMultipleAccounts(reqCtx, addrs)
		cancel()
		if err != nil {
			return seeded, fmt.Errorf("seed pools: GetMultipleAccounts: %w", err)
		}
		if len(infos) != len(batch) {
			return seeded, fmt.Errorf("seed pools: GetMultipleAccounts returned %d accounts, expected %d", len(infos), len(batch))
		}

		for i, info := range infos {
			if m.seedOne(batch[i], info) {
				seeded++
			}
		}
	}

	logger.Infof("[PoolMonitor] seeded %d/%d pool(s) from rpc", seeded, len(m.allowlist))
	return seeded, nil
}

func (m *Monitor) seedOne(addr types.Pubkey, info client.AccountInfo) bool {
	if info.Lamports == 0 || len(info.Data) == 0 {
		logger.Warnf("[PoolMonitor] seed: account %s not found", addr)
		return false
	}
	parser, ok := m.parsers[types.Pubkey(info.Owner)]
	if !ok {
		logger.Warnf("[PoolMonitor] seed: account %s owned by unsupported program %s", addr, info.Owner.ToBase58())
		return false
	}

	before := m.updatesProcessed.Load()
	m.applyPoolAccount(parser, addr, info.Data, 0)
	return m.updatesProcessed.Load() > before && m.pools.Contains(addr)
}
