package pushworker

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Addr  string `json:"addr"`
	Value int    `json:"value"`
}

func (e *testEvent) Key() string {
	return e.Addr
}

// fakeProducer 记录成功投递的消息；failures 中的 key 先失败指定次数
type fakeProducer struct {
	mu        sync.Mutex
	delivered []*kafka.Message
	failures  map[string]int
	attempts  map[string]int
	flushed   bool
	closed    bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{failures: make(map[string]int), attempts: make(map[string]int)}
}

func (p *fakeProducer) Produce(msg *kafka.Message, ch chan kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := string(msg.Key)
	p.attempts[key]++
	if p.failures[key] != 0 {
		if p.failures[key] > 0 {
			p.failures[key]--
		}
		return errors.New("broker unavailable")
	}

	cp := *msg
	cp.Value = append([]byte(nil), msg.Value...)
	p.delivered = append(p.delivered, &cp)
	report := &kafka.Message{TopicPartition: msg.TopicPartition, Opaque: msg.Opaque}
	go func() { ch <- report }()
	return nil
}

func (p *fakeProducer) Flush(int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = true
	return 0
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProducer) messages() []*kafka.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*kafka.Message, len(p.delivered))
	copy(out, p.delivered)
	return out
}

func (p *fakeProducer) attemptsFor(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[key]
}

func startWorker(t *testing.T, p *fakeProducer, partitions int) *KafkaPushWorker {
	t.Helper()
	w := NewKafkaPushWorkerWithProducer(p, "chain-events", partitions, 64)
	w.retryBackoff = 5 * time.Millisecond
	w.Resume()
	go w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestKafkaPushWorker_Push(t *testing.T) {
	p := newFakeProducer()
	w := startWorker(t, p, 8)

	require.True(t, w.Push(KindPoolEvent, 10, &testEvent{Addr: "pool-1", Value: 1}))
	require.True(t, w.Push(KindWhaleEvent, 11, &testEvent{Addr: "wallet-1", Value: 2}))
	require.True(t, w.Push(KindCopyTradeSignal, 12, &testEvent{Addr: "wallet-1", Value: 3}))

	require.Eventually(t, func() bool {
		return len(p.messages()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	msgs := p.messages()
	var env struct {
		Kind       Kind      `json:"kind"`
		Key        string    `json:"key"`
		Slot       uint64    `json:"slot"`
		Seq        uint64    `json:"seq"`
		ProducedAt int64     `json:"produced_at"`
		Data       testEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Value, &env))
	assert.Equal(t, KindPoolEvent, env.Kind)
	assert.Equal(t, "pool-1", env.Key)
	assert.Equal(t, uint64(10), env.Slot)
	assert.Equal(t, 1, env.Data.Value)
	assert.Positive(t, env.ProducedAt)

	assert.Equal(t, "pool-1", string(msgs[0].Key))
	assert.Equal(t, int32(xxhash.Sum64String("pool-1")%8), msgs[0].TopicPartition.Partition)
	// 同一个 key 落在同一分区
	assert.Equal(t, msgs[1].TopicPartition.Partition, msgs[2].TopicPartition.Partition)

	require.Eventually(t, func() bool {
		return w.GetStats().Sent == 3
	}, time.Second, 5*time.Millisecond)
}

func TestKafkaPushWorker_SinglePartition(t *testing.T) {
	p := newFakeProducer()
	w := startWorker(t, p, 1)

	w.Push(KindPoolEvent, 1, &testEvent{Addr: "a"})
	require.Eventually(t, func() bool {
		return len(p.messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, kafka.PartitionAny, p.messages()[0].TopicPartition.Partition)
}

func TestKafkaPushWorker_Retry(t *testing.T) {
	p := newFakeProducer()
	p.failures["flaky"] = 2
	p.failures["dead"] = -1
	w := startWorker(t, p, 4)

	w.Push(KindWhaleEvent, 1, &testEvent{Addr: "flaky"})
	w.Push(KindWhaleEvent, 2, &testEvent{Addr: "dead"})

	require.Eventually(t, func() bool {
		st := w.GetStats()
		return st.Sent == 1 && st.Failed == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 3, p.attemptsFor("flaky"))
	assert.Equal(t, maxAttempts, p.attemptsFor("dead"))
	require.Len(t, p.messages(), 1)
	assert.Equal(t, "flaky", string(p.messages()[0].Key))
}

func TestKafkaPushWorker_PausedAndFull(t *testing.T) {
	p := newFakeProducer()
	w := NewKafkaPushWorkerWithProducer(p, "t", 1, 2)

	assert.False(t, w.Push(KindPoolEvent, 1, &testEvent{Addr: "a"}), "paused on creation")

	w.Resume()
	assert.True(t, w.Push(KindPoolEvent, 1, &testEvent{Addr: "a"}))
	assert.True(t, w.Push(KindPoolEvent, 2, &testEvent{Addr: "b"}))
	assert.False(t, w.Push(KindPoolEvent, 3, &testEvent{Addr: "c"}), "queue full")
	assert.False(t, w.Push(KindPoolEvent, 4, nil))

	st := w.GetStats()
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 2, st.Queued)

	// 未启动的 worker 也能安全停止
	w.Stop()
	assert.True(t, p.flushed)
	assert.True(t, p.closed)
	assert.False(t, w.Push(KindPoolEvent, 5, &testEvent{Addr: "d"}))
}

func TestKafkaPushWorker_StopFlushes(t *testing.T) {
	p := newFakeProducer()
	w := NewKafkaPushWorkerWithProducer(p, "t", 1, 8)
	w.Resume()
	go w.Start()

	w.Push(KindPoolEvent, 1, &testEvent{Addr: "a"})
	require.Eventually(t, func() bool {
		return len(p.messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	assert.True(t, p.flushed)
	assert.True(t, p.closed)
}

func TestBufPool(t *testing.T) {
	p := NewBufPool(2, 3, 16)
	assert.Equal(t, 2, p.Len())

	a := p.Get()
	assert.Len(t, a, 0)
	assert.Equal(t, 16, cap(a))
	p.Get()
	c := p.Get()
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 16, cap(c), "allocates when empty")

	p.Put(append(a, 'x'))
	p.Put(c)
	p.Put(make([]byte, 0, 16))
	p.Put(make([]byte, 0, 16))
	assert.Equal(t, 3, p.Len(), "capped at maxSize")

	p.Put(make([]byte, 0, 1024))
	assert.Equal(t, 3, p.Len())

	reused := p.Get()
	assert.Len(t, reused, 0)
}
