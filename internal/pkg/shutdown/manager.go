package shutdown

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"github.com/hashicorp/go-multierror"
)

// Phase 退出阶段，数值小的先执行
type Phase uint8

const (
	PhaseImmediate Phase = iota // 停止接收新请求
	PhaseGraceful               // 断开上游、停止订阅
	PhaseCleanup                // 刷新缓冲、关闭 sink
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseImmediate:
		return "immediate"
	case PhaseGraceful:
		return "graceful"
	case PhaseCleanup:
		return "cleanup"
	case PhaseFinal:
		return "final"
	default:
		return "unknown"
	}
}

type HookFunc func(ctx context.Context) error

type hook struct {
	name     string
	fn       HookFunc
	phase    Phase
	timeout  time.Duration
	priority int
	seq      int
}

// Manager 按阶段、优先级（高优先）执行退出钩子，Shutdown 只执行一次
type Manager struct {
	mu    sync.Mutex
	hooks []hook
	once  sync.Once
	err   error
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) RegisterHook(name string, fn func(ctx context.Context) error, phase Phase, timeout time.Duration, priority int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{
		name:     name,
		fn:       fn,
		phase:    phase,
		timeout:  timeout,
		priority: priority,
		seq:      len(m.hooks),
	})
	logger.Debugf("[Shutdown] hook registered: name=%s phase=%s priority=%d", name, phase, priority)
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.run(ctx)
	})
	return m.err
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	hooks := make([]hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool {
		if hooks[i].phase != hooks[j].phase {
			return hooks[i].phase < hooks[j].phase
		}
		if hooks[i].priority != hooks[j].priority {
			return hooks[i].priority > hooks[j].priority
		}
		return hooks[i].seq < hooks[j].seq
	})

	var result *multierror.Error
	for _, h := range hooks {
		if err := runHook(ctx, h); err != nil {
			logger.Errorf("[Shutdown] hook %s failed: %v", h.name, err)
			result = multierror.Append(result, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return result.ErrorOrNil()
}

func runHook(parent context.Context, h hook) (err error) {
	ctx := parent
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, h.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	start := time.Now()
	err = h.fn(ctx)
	logger.Infof("[Shutdown] hook %s done in %v", h.name, time.Since(start))
	return err
}
