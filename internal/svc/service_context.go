package svc

import (
	"fmt"

	"chain-stream-sol/internal/config"
	"chain-stream-sol/internal/consts"
	"chain-stream-sol/internal/pkg/shutdown"
	"chain-stream-sol/internal/pricecache"
	"chain-stream-sol/internal/types"
	"github.com/blocto/solana-go-sdk/client"
)

type ServiceContext struct {
	Cfg       *config.Config
	Shutdown  *shutdown.Manager
	Prices    *pricecache.Cache
	RpcClient *client.Client // 未配置 rpc.endpoint 时为 nil
}

func NewServiceContext(c *config.Config) *ServiceContext {
	prices, err := newPriceCache(c.Prices)
	if err != nil {
		panic(err)
	}

	var rpcClient *client.Client
	if c.Rpc.Endpoint != "" {
		rpcClient = client.NewClient(c.Rpc.Endpoint)
	}

	return &ServiceContext{
		Cfg:       c,
		Shutdown:  shutdown.NewManager(),
		Prices:    prices,
		RpcClient: rpcClient,
	}
}

// newPriceCache 稳定币固定 1 美元，配置中的价格可覆盖
func newPriceCache(conf config.PriceConfig) (*pricecache.Cache, error) {
	static := types.StaticPrices{
		consts.USDCMint: 1.0,
		consts.USDTMint: 1.0,
	}
	for mint, price := range conf.Static {
		key, err := types.TryPubkeyFromString(mint)
		if err != nil {
			return nil, fmt.Errorf("prices.static: %w", err)
		}
		static[key] = price
	}
	return pricecache.New(static, conf.CacheTTL), nil
}
