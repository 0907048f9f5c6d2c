package poolmonitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/types"
)

const (
	initPendingCap     = 256
	maxPendingForReset = 4096
)

// VaultWorker 定时批量订阅金库账户。
// 池子更新在分发回调中发现新金库，订阅放到这里异步执行
type VaultWorker struct {
	name      string
	interval  time.Duration
	batchSize int
	client    StreamClient

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	pending    map[types.Pubkey]int64               // vault → 入队时间（毫秒）
	subscribed map[types.Pubkey]string              // vault → 订阅 id
	subs       map[string]map[types.Pubkey]struct{} // 订阅 id → vaults

	isPaused       atomic.Bool
	lastErrLogTime atomic.Int64
}

func NewVaultWorker(name string, interval time.Duration, batchSize int, client StreamClient) *VaultWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &VaultWorker{
		name:       name,
		interval:   interval,
		batchSize:  batchSize,
		client:     client,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		pending:    make(map[types.Pubkey]int64, initPendingCap),
		subscribed: make(map[types.Pubkey]string, initPendingCap),
		subs:       make(map[string]map[types.Pubkey]struct{}, 16),
	}
	w.isPaused.Store(true)
	return w
}

func (w *VaultWorker) Start() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			drainTicker(ticker)
			if w.isPaused.Load() {
				continue
			}
			w.processBatch()
		}
	}
}

func (w *VaultWorker) Resume() {
	w.isPaused.Store(false)
}

// Stop 停止循环并取消全部金库订阅
func (w *VaultWorker) Stop(ctx context.Context) {
	w.isPaused.Store(true)
	w.cancel()

	select {
	case <-w.done:
	case <-ctx.Done():
		logger.Warnf("[VaultWorker:%s] stop timed out: %v", w.name, ctx.Err())
	}

	w.mu.Lock()
	ids := make([]string, 0, len(w.subs))
	for id := range w.subs {
		ids = append(ids, id)
	}
	w.subs = make(map[string]map[types.Pubkey]struct{}, 16)
	w.subscribed = make(map[types.Pubkey]string, initPendingCap)
	utils.ClearOrResetMap(&w.pending, maxPendingForReset, initPendingCap)
	w.mu.Unlock()

	for _, id := range ids {
		w.client.Unsubscribe(id)
	}
	metricVaultSubscriptions.Set(0)
}

// Add 已订阅或已排队的金库忽略
func (w *VaultWorker) Add(vaults ...types.Pubkey) {
	if w.isPaused.Load() {
		return
	}
	now := time.Now().UnixMilli()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, v := range vaults {
		if v.IsZero() {
			continue
		}
		if _, ok := w.subscribed[v]; ok {
			continue
		}
		if _, ok := w.pending[v]; !ok {
			w.pending[v] = now
		}
	}
}

// Remove 池子被淘汰或关闭时调用；某个订阅的金库全部移除后取消该订阅
func (w *VaultWorker) Remove(vaults ...types.Pubkey) {
	var drop []string

	w.mu.Lock()
	for _, v := range vaults {
		delete(w.pending, v)
		id, ok := w.subscribed[v]
		if !ok {
			continue
		}
		delete(w.subscribed, v)
		members := w.subs[id]
		delete(members, v)
		if len(members) == 0 {
			delete(w.subs, id)
			drop = append(drop, id)
		}
	}
	n := len(w.subscribed)
	w.mu.Unlock()

	for _, id := range drop {
		w.client.Unsubscribe(id)
	}
	metricVaultSubscriptions.Set(float64(n))
}

func (w *VaultWorker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *VaultWorker) Subscribed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subscribed)
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}

// processBatch 取最早入队的 batchSize 个金库发起一次订阅，失败的留在队列等下一轮
func (w *VaultWorker) processBatch() {
	type item struct {
		vault types.Pubkey
		at    int64
	}

	w.mu.Lock()
	all := make([]item, 0, len(w.pending))
	for v, at := range w.pending {
		all = append(all, item{vault: v, at: at})
	}
	w.mu.Unlock()

	n := len(all)
	if n == 0 {
		return
	}
	if n > w.batchSize {
		n = w.batchSize
		sort.Slice(all, func(i, j int) bool {
			if all[i].at != all[j].at {
				return all[i].at < all[j].at
			}
			return all[i].vault.Hash() < all[j].vault.Hash()
		})
	}

	batch := make([]types.Pubkey, 0, n)
	for _, it := range all[:n] {
		batch = append(batch, it.vault)
	}

	start := time.Now()
	id, err := w.subscribe(batch)
	if err != nil {
		if utils.ThrottleLog(&w.lastErrLogTime, 3*time.Second) {
			logger.Errorf("[VaultWorker:%s] subscribe %d vault(s) failed: %v, duration=%v", w.name, len(batch), err, time.Since(start))
		}
		return
	}

	members := make(map[types.Pubkey]struct{}, len(batch))
	w.mu.Lock()
	for _, v := range batch {
		// 排队期间被移除的金库不再登记
		if _, ok := w.pending[v]; !ok {
			continue
		}
		delete(w.pending, v)
		members[v] = struct{}{}
		w.subscribed[v] = id
	}
	if len(members) > 0 {
		w.subs[id] = members
	}
	total := len(w.subscribed)
	w.mu.Unlock()

	if len(members) == 0 {
		w.client.Unsubscribe(id)
		return
	}
	metricVaultSubscriptions.Set(float64(total))
	logger.Debugf("[VaultWorker:%s] subscribed %d vault(s) as %s, total=%d", w.name, len(members), id, total)
}

func (w *VaultWorker) subscribe(batch []types.Pubkey) (id string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[VaultWorker:%s] subscribe panicked: %v\n%s", w.name, r, string(debug.Stack()))
			err = fmt.Errorf("subscribe panicked: %v", r)
		}
	}()
	return w.client.Subscribe(w.ctx, stream.AccountsFilter(batch...))
}
