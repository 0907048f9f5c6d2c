package whale

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"chain-stream-sol/internal/pkg/configloader"
	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/types"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
)

const defaultReloadDebounce = 200 * time.Millisecond

// WalletRegistry *Tracker 实现了它
type WalletRegistry interface {
	AddWallet(ctx context.Context, cfg WalletConfig) error
	RemoveWallet(addr types.Pubkey) bool
}

type walletFile struct {
	Wallets []WalletConfig `yaml:"wallets"`
}

// LoadWalletFile 读取 yaml 钱包列表
func LoadWalletFile(path string) ([]WalletConfig, error) {
	var f walletFile
	if err := configloader.LoadConfig(path, &f); err != nil {
		return nil, err
	}
	return f.Wallets, nil
}

// WalletWatcher 监听钱包列表文件，变化时与上一次内容做差异并同步到 Tracker
type WalletWatcher struct {
	path     string
	registry WalletRegistry
	debounce time.Duration

	mu      sync.Mutex
	current map[string]WalletConfig

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewWalletWatcher(path string, registry WalletRegistry) *WalletWatcher {
	return &WalletWatcher{
		path:     filepath.Clean(path),
		registry: registry,
		debounce: defaultReloadDebounce,
		current:  make(map[string]WalletConfig),
	}
}

// Start 先同步一次文件内容，再监听所在目录（编辑器保存时常以 rename 替换文件）
func (ww *WalletWatcher) Start(ctx context.Context) error {
	if err := ww.Reload(ctx); err != nil {
		return err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("wallet watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(ww.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("wallet watcher: watch %s: %w", filepath.Dir(ww.path), err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	ww.watcher = fw
	ww.cancel = cancel
	ww.done = make(chan struct{})
	go ww.loop(loopCtx)

	logger.Infof("[WalletWatcher] watching %s", ww.path)
	return nil
}

func (ww *WalletWatcher) Stop() {
	if ww.cancel == nil {
		return
	}
	ww.cancel()
	_ = ww.watcher.Close()
	<-ww.done
	ww.cancel = nil
}

func (ww *WalletWatcher) loop(ctx context.Context) {
	defer close(ww.done)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-ww.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != ww.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(ww.debounce)
			} else {
				timer.Reset(ww.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := ww.Reload(ctx); err != nil {
				logger.Errorf("[WalletWatcher] reload %s failed: %v", ww.path, err)
			}

		case err, ok := <-ww.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("[WalletWatcher] watch error: %v", err)
		}
	}
}

// Reload 读取文件并应用差异：删除的钱包移除，新增或变更的重新添加。
// 读取失败时保留现有钱包
func (ww *WalletWatcher) Reload(ctx context.Context) error {
	list, err := LoadWalletFile(ww.path)
	if err != nil {
		return err
	}

	next := make(map[string]WalletConfig, len(list))
	for _, wc := range list {
		next[wc.Address] = wc
	}

	ww.mu.Lock()
	defer ww.mu.Unlock()

	var errs *multierror.Error
	var added, removed int
	for _, addr := range utils.SetDiff(ww.current, next) {
		if key, err := types.TryPubkeyFromString(addr); err == nil && ww.registry.RemoveWallet(key) {
			removed++
		}
		delete(ww.current, addr)
	}
	for addr, wc := range next {
		if old, ok := ww.current[addr]; ok && reflect.DeepEqual(old, wc) {
			continue
		}
		if err := ww.registry.AddWallet(ctx, wc); err != nil {
			// 不记入 current，下次变更时重试
			delete(ww.current, addr)
			errs = multierror.Append(errs, err)
			continue
		}
		ww.current[addr] = wc
		added++
	}

	logger.Infof("[WalletWatcher] reloaded %s: wallets=%d, applied=%d, removed=%d", ww.path, len(next), added, removed)
	return errs.ErrorOrNil()
}
