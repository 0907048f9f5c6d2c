// Package pricecache 给任意 types.PriceLookup 加一层 TTL 缓存
package pricecache

import (
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/types"
	gocache "github.com/patrickmn/go-cache"
)

const (
	DefaultTTL = 60 * time.Second

	// 查不到价格的结果也缓存，但只保留 TTL 的一部分
	negativeTTLDivisor = 4
)

type entry struct {
	price float64
	ok    bool
}

type Cache struct {
	upstream types.PriceLookup
	ttl      time.Duration
	items    *gocache.Cache

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New ttl <= 0 时使用 DefaultTTL
func New(upstream types.PriceLookup, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		upstream: upstream,
		ttl:      ttl,
		items:    gocache.New(ttl, 2*ttl),
	}
}

func (c *Cache) GetPriceUSD(mint types.Pubkey) (float64, bool) {
	k := mint.String()
	if v, found := c.items.Get(k); found {
		c.hits.Add(1)
		e := v.(entry)
		return e.price, e.ok
	}
	c.misses.Add(1)

	var e entry
	if c.upstream != nil {
		e.price, e.ok = c.upstream.GetPriceUSD(mint)
	}
	if e.ok && e.price <= 0 {
		e = entry{}
	}
	ttl := c.ttl
	if !e.ok {
		ttl = c.ttl / negativeTTLDivisor
	}
	c.items.Set(k, e, ttl)
	return e.price, e.ok
}

// Set 直接写入价格，覆盖缓存中的旧值
func (c *Cache) Set(mint types.Pubkey, price float64) {
	c.items.Set(mint.String(), entry{price: price, ok: price > 0}, gocache.DefaultExpiration)
}

func (c *Cache) Invalidate(mint types.Pubkey) {
	c.items.Delete(mint.String())
}

func (c *Cache) Flush() {
	c.items.Flush()
}

type Stats struct {
	Items  int    `json:"items"`
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

func (c *Cache) GetStats() Stats {
	return Stats{
		Items:  c.items.ItemCount(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

// Chain 依次查询，返回第一个命中的价格
func Chain(lookups ...types.PriceLookup) types.PriceLookup {
	return types.PriceLookupFunc(func(mint types.Pubkey) (float64, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if p, ok := l.GetPriceUSD(mint); ok {
				return p, true
			}
		}
		return 0, false
	})
}

var _ types.PriceLookup = (*Cache)(nil)
