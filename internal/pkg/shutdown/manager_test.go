package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_OrderByPhaseThenPriority(t *testing.T) {
	m := NewManager()
	var order []string
	record := func(name string) HookFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	m.RegisterHook("sink", record("sink"), PhaseCleanup, time.Second, 10)
	m.RegisterHook("stream-client", record("stream-client"), PhaseGraceful, 10*time.Second, 70)
	m.RegisterHook("rest", record("rest"), PhaseImmediate, time.Second, 0)
	m.RegisterHook("monitor", record("monitor"), PhaseGraceful, time.Second, 90)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"rest", "monitor", "stream-client", "sink"}, order)
}

func TestManager_CollectsErrorsAndRunsOnce(t *testing.T) {
	m := NewManager()
	calls := 0
	m.RegisterHook("bad", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	}, PhaseGraceful, 0, 0)
	m.RegisterHook("panicky", func(ctx context.Context) error {
		panic("oops")
	}, PhaseGraceful, 0, 0)

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "panic")

	_ = m.Shutdown(context.Background())
	assert.Equal(t, 1, calls)
}

func TestManager_HookTimeout(t *testing.T) {
	m := NewManager()
	m.RegisterHook("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, PhaseGraceful, 20*time.Millisecond, 0)

	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
