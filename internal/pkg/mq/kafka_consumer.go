package mq

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/utils"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

const defaultCommitInterval = 5 * time.Second

// KafkaConsumerConf 单 topic 消费者配置，时间参数单位均为毫秒
type KafkaConsumerConf struct {
	Brokers               []string `json:"brokers" yaml:"brokers"`
	Topic                 string   `json:"topic" yaml:"topic"`
	GroupID               string   `json:"group_id" yaml:"group_id"`
	SessionTimeoutMs      int      `json:"session_timeout_ms" yaml:"session_timeout_ms"`
	HeartbeatIntervalMs   int      `json:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	ReadTimeoutMs         int      `json:"read_timeout_ms" yaml:"read_timeout_ms"`
	ReconnectBackoffMs    int      `json:"reconnect_backoff_ms" yaml:"reconnect_backoff_ms"`
	ReconnectBackoffMaxMs int      `json:"reconnect_backoff_max_ms" yaml:"reconnect_backoff_max_ms"`
	RetryBackoffMs        int      `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	CommitIntervalMs      int      `json:"commit_interval_ms" yaml:"commit_interval_ms"`
	OffsetReset           string   `json:"offset_reset" yaml:"offset_reset"` // earliest / latest，默认 latest
}

// KafkaHandler 返回 nil 的消息才会推进提交位点
type KafkaHandler interface {
	HandleKafkaMsg(msg *kafka.Message) error
}

type KafkaConsumer struct {
	Config      *KafkaConsumerConf
	consumer    *kafka.Consumer
	kafkaConfig *kafka.ConfigMap
	handler     KafkaHandler
	state       ConsumerState
	mu          sync.RWMutex
	done        chan struct{}

	// 仅 runLoop 访问
	uncommitted map[int32]int64
	lastCommit  time.Time
}

func NewKafkaConsumer(config *KafkaConsumerConf, handler KafkaHandler) *KafkaConsumer {
	kafkaConfig := &kafka.ConfigMap{
		"bootstrap.servers":        strings.Join(config.Brokers, ","),
		"group.id":                 config.GroupID,
		"session.timeout.ms":       defaultInt(config.SessionTimeoutMs, 30000),
		"heartbeat.interval.ms":    defaultInt(config.HeartbeatIntervalMs, 3000),
		"auto.offset.reset":        defaultString(config.OffsetReset, "latest"),
		"enable.auto.commit":       false,
		"client.id":                getClientID(config.GroupID),
		"reconnect.backoff.ms":     defaultInt(config.ReconnectBackoffMs, 100),
		"reconnect.backoff.max.ms": defaultInt(config.ReconnectBackoffMaxMs, 10000),
		"retry.backoff.ms":         defaultInt(config.RetryBackoffMs, 100),
	}

	logger.Infof("[KafkaConsumer] New: brokers=%v, group=%s, topic=%s",
		config.Brokers, config.GroupID, config.Topic)

	return &KafkaConsumer{
		Config:      config,
		kafkaConfig: kafkaConfig,
		handler:     handler,
		state:       StateStopped,
		uncommitted: make(map[int32]int64),
	}
}

// Start 创建消费者并订阅 topic，成功后在后台运行拉取循环
func (kc *KafkaConsumer) Start() {
	kc.mu.RLock()
	state := kc.state
	kc.mu.RUnlock()

	if state != StateStopped {
		if state != StateRunning {
			logger.Warnf("[KafkaConsumer] %s already in state: %s", kc.Config.Topic, state)
		}
		return
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.state != StateStopped {
		return
	}

	kc.setStateUnsafe(StateStarting)

	consumer, err := kafka.NewConsumer(kc.kafkaConfig)
	if err != nil {
		logger.Errorf("[KafkaConsumer] %s create error: %v", kc.Config.Topic, err)
		kc.setStateUnsafe(StateStopped)
		return
	}
	kc.consumer = consumer

	if err := kc.consumer.SubscribeTopics([]string{kc.Config.Topic}, nil); err != nil {
		logger.Errorf("[KafkaConsumer] %s subscribe error: %v", kc.Config.GroupID, err)
		kc.closeConsumerUnsafe()
		kc.setStateUnsafe(StateStopped)
		return
	}

	kc.setStateUnsafe(StateRunning)
	kc.done = make(chan struct{})
	kc.lastCommit = time.Now()
	logger.Infof("[KafkaConsumer] %s subscribed, run loop started", kc.Config.Topic)
	go kc.runLoop(kc.done)
}

// Stop 标记停止并等待拉取循环退出，最多等待一个读超时周期
func (kc *KafkaConsumer) Stop() {
	kc.mu.Lock()
	if kc.state == StateStopped || kc.state == StateStopping {
		kc.mu.Unlock()
		return
	}
	kc.setStateUnsafe(StateStopping)
	done := kc.done
	kc.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (kc *KafkaConsumer) runLoop(done chan struct{}) {
	defer close(done)
	var lastLogTime time.Time
	readTimeout := time.Duration(defaultInt(kc.Config.ReadTimeoutMs, 1000)) * time.Millisecond
	commitInterval := defaultCommitInterval
	if kc.Config.CommitIntervalMs > 0 {
		commitInterval = time.Duration(kc.Config.CommitIntervalMs) * time.Millisecond
	}

	for {
		consumer := kc.tryStopIfNeeded()
		if consumer == nil {
			logger.Infof("[KafkaConsumer] %s consumer stopped, exiting run loop", kc.Config.Topic)
			return
		}

		msg, err := consumer.ReadMessage(readTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				if time.Since(lastLogTime) > time.Minute {
					logger.Debugf("[KafkaConsumer] %s poll timeout, still waiting...", kc.Config.Topic)
					lastLogTime = time.Now()
				}
			} else {
				logger.Errorf("[KafkaConsumer] %s read error: %v", kc.Config.Topic, err)
			}
		} else if kc.dispatch(msg) {
			kc.uncommitted[msg.TopicPartition.Partition] = int64(msg.TopicPartition.Offset)
		}

		if len(kc.uncommitted) > 0 && time.Since(kc.lastCommit) >= commitInterval {
			kc.commitPending(consumer)
		}
	}
}

// dispatch 隔离 handler 的 panic，返回是否处理成功
func (kc *KafkaConsumer) dispatch(msg *kafka.Message) bool {
	err := utils.SafeCall(func() error {
		return kc.handler.HandleKafkaMsg(msg)
	})
	if err != nil {
		logger.Warnf("[KafkaConsumer] %s handle message failed: partition=%d offset=%v err=%v",
			kc.Config.Topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset, err)
		return false
	}
	return true
}

func (kc *KafkaConsumer) tryStopIfNeeded() *kafka.Consumer {
	kc.mu.RLock()
	state := kc.state
	consumer := kc.consumer
	kc.mu.RUnlock()

	if state == StateStopped {
		return nil
	}
	if state != StateStopping {
		return consumer
	}

	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.state == StateStopping {
		if consumer != nil && len(kc.uncommitted) > 0 {
			kc.commitPending(consumer)
		}
		kc.closeConsumerUnsafe()
		kc.setStateUnsafe(StateStopped)
		return nil
	}
	return kc.consumer
}

// commitPending 提交各分区已处理的最大位点（Kafka 提交的是下一条 offset）
func (kc *KafkaConsumer) commitPending(consumer *kafka.Consumer) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[KafkaConsumer] %s commit offset panic: %v\n%s", kc.Config.Topic, r, debug.Stack())
		}
	}()

	tps := make([]kafka.TopicPartition, 0, len(kc.uncommitted))
	for partition, offset := range kc.uncommitted {
		next := offset + 1
		if next <= 0 {
			logger.Errorf("[KafkaConsumer] %s commit offset overflow detected: original offset=%d", kc.Config.Topic, offset)
			continue
		}
		tps = append(tps, kafka.TopicPartition{
			Topic:     &kc.Config.Topic,
			Partition: partition,
			Offset:    kafka.Offset(next),
		})
	}
	kc.lastCommit = time.Now()
	if len(tps) == 0 {
		return
	}

	if _, err := consumer.CommitOffsets(tps); err != nil {
		logger.Errorf("[KafkaConsumer] %s commit offsets failed: %v", kc.Config.Topic, err)
		return
	}
	clear(kc.uncommitted)
	logger.Debugf("[KafkaConsumer] %s committed %d partitions", kc.Config.Topic, len(tps))
}

func (kc *KafkaConsumer) closeConsumerUnsafe() {
	if kc.consumer == nil {
		return
	}
	if !kc.consumer.IsClosed() {
		if err := kc.consumer.Close(); err != nil {
			logger.Errorf("[KafkaConsumer] %s failed to close consumer: %v", kc.Config.Topic, err)
		} else {
			logger.Infof("[KafkaConsumer] %s consumer closed", kc.Config.Topic)
		}
	}
	kc.consumer = nil
}

func (kc *KafkaConsumer) setStateUnsafe(state ConsumerState) {
	if kc.state == state {
		return
	}
	logger.Infof("[KafkaConsumer] %s State changed: %s → %s", kc.Config.Topic, kc.state, state)
	kc.state = state
}

func (kc *KafkaConsumer) IsActive() bool {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	return kc.state == StateStarting || kc.state == StateRunning
}

func getClientID(service string) string {
	hostname, _ := os.Hostname()
	localIP, _ := utils.GetLocalIP()
	if localIP == "" {
		localIP = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", service, hostname, localIP)
}
