package poolmonitor

import (
	"sync"

	"chain-stream-sol/internal/types"
	"github.com/hashicorp/golang-lru/simplelru"
)

type vaultRef struct {
	pool  types.Pubkey
	sideA bool
}

// PoolMap 池子表：按最近更新淘汰的 LRU，外加 金库 → 池子 索引
type PoolMap struct {
	mu      sync.Mutex
	pools   *simplelru.LRU
	vaults  map[types.Pubkey]vaultRef
	evicted []*PoolState // 淘汰回调在持锁期间写入
}

func NewPoolMap(capacity int) *PoolMap {
	pm := &PoolMap{
		vaults: make(map[types.Pubkey]vaultRef, 1024),
	}
	// 只有 size <= 0 时返回错误
	pm.pools, _ = simplelru.NewLRU(max(capacity, 1), pm.onEvict)
	return pm
}

func (pm *PoolMap) onEvict(_ interface{}, value interface{}) {
	s := value.(*PoolState)
	pm.unindexVaultsUnsafe(s)
	pm.evicted = append(pm.evicted, s)
}

func (pm *PoolMap) Len() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pools.Len()
}

func (pm *PoolMap) VaultCount() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.vaults)
}

// Get 不改变淘汰顺序
func (pm *PoolMap) Get(addr types.Pubkey) *PoolState {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.getUnsafe(addr)
}

func (pm *PoolMap) Contains(addr types.Pubkey) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.pools.Contains(addr)
}

func (pm *PoolMap) getUnsafe(addr types.Pubkey) *PoolState {
	if v, ok := pm.pools.Peek(addr); ok {
		return v.(*PoolState)
	}
	return nil
}

// Snapshot 最近更新的在前
func (pm *PoolMap) Snapshot() []*PoolState {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	keys := pm.pools.Keys()
	out := make([]*PoolState, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := pm.pools.Peek(keys[i]); ok {
			out = append(out, v.(*PoolState))
		}
	}
	return out
}

// Apply 在锁内用 fn 计算新快照并整体替换；fn 返回 nil 表示不变。
// fn 持锁执行，只能做轻量计算
func (pm *PoolMap) Apply(addr types.Pubkey, fn func(old *PoolState) *PoolState) (old, next *PoolState, evicted []*PoolState) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	old = pm.getUnsafe(addr)
	next = fn(old)
	if next == nil {
		return old, nil, nil
	}

	if old != nil && (old.TokenAVault != next.TokenAVault || old.TokenBVault != next.TokenBVault) {
		pm.unindexVaultsUnsafe(old)
	}
	pm.pools.Add(addr, next)
	pm.indexVaultsUnsafe(next)

	evicted = pm.evicted
	pm.evicted = nil
	return old, next, evicted
}

// RemoveIf pred 在锁内执行，返回 true 时删除
func (pm *PoolMap) RemoveIf(addr types.Pubkey, pred func(s *PoolState) bool) *PoolState {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	s := pm.getUnsafe(addr)
	if s == nil || (pred != nil && !pred(s)) {
		return nil
	}
	pm.pools.Remove(addr)
	pm.evicted = nil
	return s
}

func (pm *PoolMap) ResolveVault(vault types.Pubkey) (vaultRef, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	ref, ok := pm.vaults[vault]
	return ref, ok
}

func (pm *PoolMap) indexVaultsUnsafe(s *PoolState) {
	if !s.HasVaults() {
		return
	}
	pm.vaults[s.TokenAVault] = vaultRef{pool: s.Address, sideA: true}
	pm.vaults[s.TokenBVault] = vaultRef{pool: s.Address, sideA: false}
}

func (pm *PoolMap) unindexVaultsUnsafe(s *PoolState) {
	if !s.HasVaults() {
		return
	}
	for _, v := range []types.Pubkey{s.TokenAVault, s.TokenBVault} {
		if ref, ok := pm.vaults[v]; ok && ref.pool == s.Address {
			delete(pm.vaults, v)
		}
	}
}
