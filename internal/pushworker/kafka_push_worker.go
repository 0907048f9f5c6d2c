// Package pushworker 把池子事件、鲸鱼事件和跟单信号以 JSON 批量推送到 Kafka
package pushworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/mq"
	"chain-stream-sol/internal/pkg/utils"
	"github.com/cespare/xxhash/v2"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const (
	singleBufSize     = 1024                   // 单条消息 buffer 大小
	bufPoolPreAlloc   = 64                     // 启动时预分配的 buffer 数量
	sendBatchSize     = 256                    // 每次发送的消息条数上限，也是 BufPool 容量
	inputChanSize     = 4096                   // 入队缓冲，满了直接丢弃
	taskLimit         = 16384                  // 待发送任务上限，超过后不再从队列收集
	maxAttempts       = 3                      // 单条消息最多发送次数
	kafkaBatchTimeout = 10 * time.Second       // 批量发送等待投递报告的超时
	retryBackoff      = 500 * time.Millisecond // 整批失败后的等待时间
	flushTimeoutMs    = 5000
)

type Kind string

const (
	KindPoolEvent       Kind = "pool_event"
	KindWhaleEvent      Kind = "whale_event"
	KindCopyTradeSignal Kind = "copy_trade_signal"
)

// Keyed 消息体，Key 决定分区
type Keyed interface {
	Key() string
}

type PushTask struct {
	Seq      uint64
	Kind     Kind
	Key      string
	KeyHash  uint64
	Slot     uint64
	Payload  Keyed
	attempts int
}

// envelope 写入 Kafka 的消息格式
type envelope struct {
	Kind       Kind   `json:"kind"`
	Key        string `json:"key"`
	Slot       uint64 `json:"slot"`
	Seq        uint64 `json:"seq"`
	ProducedAt int64  `json:"produced_at"` // 毫秒
	Data       Keyed  `json:"data"`
}

// Producer *kafka.Producer 满足该接口
type Producer interface {
	mq.MessageProducer
	Flush(timeoutMs int) int
	Close()
}

type Stats struct {
	Paused  bool   `json:"paused"`
	Queued  int    `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

type KafkaPushWorker struct {
	producer  Producer
	inputChan chan *PushTask
	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	done      chan struct{}

	// 仅推送循环访问
	tasks   map[uint64]*PushTask
	bufPool *BufPool

	isPaused     atomic.Bool
	topic        string
	partitions   int
	retryBackoff time.Duration
	seq          atomic.Uint64

	sent            atomic.Uint64
	failed          atomic.Uint64
	dropped         atomic.Uint64
	lastDropLogTime atomic.Int64
	lastFailLogTime atomic.Int64
}

func NewKafkaPushWorker(config *mq.KafkaProducerConf) (*KafkaPushWorker, error) {
	if config == nil || len(config.Topics) != 1 {
		return nil, fmt.Errorf("kafka producer config must have exactly 1 topic")
	}
	producer, err := mq.NewKafkaProducer(config)
	if err != nil {
		logger.Errorf("[KafkaPushWorker] failed to create producer for topic %v: %v", config.Topics, err)
		return nil, err
	}
	return NewKafkaPushWorkerWithProducer(producer, config.Topics[0].Topic, config.Topics[0].Partitions, inputChanSize), nil
}

// NewKafkaPushWorkerWithProducer 初始为暂停状态，需要 Resume 后才接收消息
func NewKafkaPushWorkerWithProducer(producer Producer, topic string, partitions, queueSize int) *KafkaPushWorker {
	if queueSize <= 0 {
		queueSize = inputChanSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &KafkaPushWorker{
		producer:     producer,
		inputChan:    make(chan *PushTask, queueSize),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		tasks:        make(map[uint64]*PushTask, sendBatchSize),
		bufPool:      NewBufPool(bufPoolPreAlloc, sendBatchSize, singleBufSize),
		topic:        topic,
		partitions:   partitions,
		retryBackoff: retryBackoff,
	}
	w.isPaused.Store(true)
	return w
}

// Start 运行推送循环，阻塞到 Stop
func (w *KafkaPushWorker) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	defer close(w.done)
	logger.Infof("[KafkaPushWorker] started, topic=%s, partitions=%d", w.topic, w.partitions)
	w.loop()
}

// Stop 停止循环后 flush 并关闭 producer
func (w *KafkaPushWorker) Stop() {
	w.isPaused.Store(true)
	w.cancel()
	if w.started.Load() {
		<-w.done
	}
	if remaining := w.producer.Flush(flushTimeoutMs); remaining > 0 {
		logger.Warnf("[KafkaPushWorker] flush incomplete: %d messages remaining", remaining)
	}
	w.producer.Close()
	logger.Infof("[KafkaPushWorker] stopped, sent=%d, failed=%d, dropped=%d", w.sent.Load(), w.failed.Load(), w.dropped.Load())
}

func (w *KafkaPushWorker) Resume() {
	w.isPaused.Store(false)
}

func (w *KafkaPushWorker) Pause() {
	w.isPaused.Store(true)
}

// Push 非阻塞入队，队列满或暂停时丢弃并返回 false。
// 由流订阅协程同步调用，不能等待 Kafka
func (w *KafkaPushWorker) Push(kind Kind, slot uint64, payload Keyed) bool {
	if w.isPaused.Load() || w.ctx.Err() != nil || payload == nil {
		return false
	}
	key := payload.Key()
	task := &PushTask{
		Seq:     w.seq.Add(1),
		Kind:    kind,
		Key:     key,
		KeyHash: xxhash.Sum64String(key),
		Slot:    slot,
		Payload: payload,
	}
	select {
	case w.inputChan <- task:
		return true
	default:
		w.dropped.Add(1)
		metricPushMessages.WithLabelValues("dropped").Inc()
		if utils.ThrottleLog(&w.lastDropLogTime, 3*time.Second) {
			logger.Warnf("[KafkaPushWorker] inputChan full (%d), dropping %s for %s", len(w.inputChan), kind, key)
		}
		return false
	}
}

func (w *KafkaPushWorker) GetStats() Stats {
	return Stats{
		Paused:  w.isPaused.Load(),
		Queued:  len(w.inputChan),
		Sent:    w.sent.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

func (w *KafkaPushWorker) loop() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case task := <-w.inputChan:
			w.tasks[task.Seq] = task
			w.collect()

			for len(w.tasks) > 0 {
				if w.ctx.Err() != nil {
					return
				}
				if w.isPaused.Load() {
					clear(w.tasks)
					break
				}

				if w.handleBatch() == 0 && !w.sleep(w.retryBackoff) {
					return
				}

				if len(w.tasks) <= taskLimit {
					w.collect()
				}
			}
		}
	}
}

// collect 非阻塞地收集队列中的任务
func (w *KafkaPushWorker) collect() {
	for len(w.tasks) < taskLimit {
		select {
		case task := <-w.inputChan:
			w.tasks[task.Seq] = task
		default:
			return
		}
	}
}

func (w *KafkaPushWorker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// handleBatch 按入队顺序取前 sendBatchSize 条发送，返回成功条数
func (w *KafkaPushWorker) handleBatch() int {
	pending := make([]*PushTask, 0, len(w.tasks))
	for _, t := range w.tasks {
		pending = append(pending, t)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Seq < pending[j].Seq
	})
	if len(pending) > sendBatchSize {
		pending = pending[:sendBatchSize]
	}

	toSend := make([]*kafka.Message, 0, len(pending))
	for _, t := range pending {
		msg, err := w.toKafkaMessage(t)
		if err != nil {
			logger.Warnf("[KafkaPushWorker] marshal %s for %s failed: %v", t.Kind, t.Key, err)
			delete(w.tasks, t.Seq)
			w.failed.Add(1)
			metricPushMessages.WithLabelValues("failed").Inc()
			continue
		}
		toSend = append(toSend, msg)
	}
	if len(toSend) == 0 {
		return 0
	}
	return w.dispatchBatch(toSend)
}

func (w *KafkaPushWorker) dispatchBatch(messages []*kafka.Message) int {
	results := mq.SendKafkaMessagesBatch(w.ctx, w.producer, messages, kafkaBatchTimeout)

	success := 0
	for _, item := range results {
		if item.Completed {
			w.bufPool.Put(item.Msg.Value)
		}
		seq, ok := item.Msg.Opaque.(uint64)
		if !ok {
			continue
		}
		task := w.tasks[seq]
		if task == nil {
			continue
		}

		if item.Success {
			delete(w.tasks, seq)
			success++
			continue
		}

		task.attempts++
		if task.attempts >= maxAttempts {
			delete(w.tasks, seq)
			w.failed.Add(1)
			metricPushMessages.WithLabelValues("failed").Inc()
			if utils.ThrottleLog(&w.lastFailLogTime, 3*time.Second) {
				logger.Errorf("[KafkaPushWorker] giving up %s for %s after %d attempts: %v", task.Kind, task.Key, task.attempts, item.Err)
			}
		}
	}

	if success > 0 {
		w.sent.Add(uint64(success))
		metricPushMessages.WithLabelValues("sent").Add(float64(success))
	}
	return success
}

func (w *KafkaPushWorker) toKafkaMessage(t *PushTask) (*kafka.Message, error) {
	buf := bytes.NewBuffer(w.bufPool.Get())
	err := utils.SafeCall(func() error {
		return json.NewEncoder(buf).Encode(envelope{
			Kind:       t.Kind,
			Key:        t.Key,
			Slot:       t.Slot,
			Seq:        t.Seq,
			ProducedAt: time.Now().UnixMilli(),
			Data:       t.Payload,
		})
	})
	if err != nil {
		return nil, err
	}
	// Encode 末尾带换行
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	partition := kafka.PartitionAny
	if w.partitions > 1 {
		partition = int32(t.KeyHash % uint64(w.partitions))
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &w.topic,
			Partition: partition,
		},
		Key:    []byte(t.Key),
		Value:  data,
		Opaque: t.Seq,
	}, nil
}
