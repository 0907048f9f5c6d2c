package types

// PriceLookup 外部提供的 USD 价格查询，查不到返回 false
type PriceLookup interface {
	GetPriceUSD(mint Pubkey) (float64, bool)
}

type PriceLookupFunc func(mint Pubkey) (float64, bool)

func (f PriceLookupFunc) GetPriceUSD(mint Pubkey) (float64, bool) {
	return f(mint)
}

// StaticPrices 固定价格表，主要用于测试和默认配置
type StaticPrices map[Pubkey]float64

func (s StaticPrices) GetPriceUSD(mint Pubkey) (float64, bool) {
	p, ok := s[mint]
	return p, ok
}
