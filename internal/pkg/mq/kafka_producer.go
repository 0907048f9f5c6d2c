package mq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

type KafkaTopicConf struct {
	Topic      string `json:"topic" yaml:"topic"`
	Partitions int    `json:"partitions" yaml:"partitions"` // 用于按 key 哈希选分区，<=1 时交给 librdkafka
}

// KafkaProducerConf 所有时间相关参数单位均为毫秒
type KafkaProducerConf struct {
	Brokers          []string         `json:"brokers" yaml:"brokers"`
	Topics           []KafkaTopicConf `json:"topics" yaml:"topics"`
	ClientID         string           `json:"client_id" yaml:"client_id"`
	Acks             string           `json:"acks" yaml:"acks"`
	LingerMs         int              `json:"linger_ms" yaml:"linger_ms"`
	BatchNumMessages int              `json:"batch_num_messages" yaml:"batch_num_messages"`
	CompressionType  string           `json:"compression_type" yaml:"compression_type"`
	MessageMaxBytes  int              `json:"message_max_bytes" yaml:"message_max_bytes"`
	RetryBackoffMs   int              `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	SecurityProtocol string           `json:"security_protocol" yaml:"security_protocol"`
	SaslMechanism    string           `json:"sasl_mechanism" yaml:"sasl_mechanism"`
	SaslUsername     string           `json:"sasl_username" yaml:"sasl_username"`
	SaslPassword     string           `json:"sasl_password" yaml:"sasl_password"`
}

// MessageProducer *kafka.Producer 满足该接口
type MessageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

func newProducerConfigMap(conf *KafkaProducerConf) (*kafka.ConfigMap, error) {
	cm := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(conf.Brokers, ","),
		"client.id":         getClientID(defaultString(conf.ClientID, "chain-stream")),
		"acks":              defaultString(conf.Acks, "1"),
		"linger.ms":         defaultInt(conf.LingerMs, 5),
		"compression.type":  defaultString(conf.CompressionType, "lz4"),
		"retry.backoff.ms":  defaultInt(conf.RetryBackoffMs, 500),
		// 投递报告走 Produce 传入的 deliveryChan
		"go.delivery.reports": true,
	}
	if conf.BatchNumMessages > 0 {
		_ = cm.SetKey("batch.num.messages", conf.BatchNumMessages)
	}
	if conf.MessageMaxBytes > 0 {
		_ = cm.SetKey("message.max.bytes", conf.MessageMaxBytes)
	}

	switch strings.ToUpper(conf.SecurityProtocol) {
	case "", "PLAINTEXT":
	case "SASL_PLAINTEXT", "SASL_SSL":
		_ = cm.SetKey("security.protocol", strings.ToLower(conf.SecurityProtocol))
		_ = cm.SetKey("sasl.mechanism", defaultString(conf.SaslMechanism, "PLAIN"))
		_ = cm.SetKey("sasl.username", conf.SaslUsername)
		_ = cm.SetKey("sasl.password", conf.SaslPassword)
	case "SSL":
		_ = cm.SetKey("security.protocol", "ssl")
	default:
		return nil, fmt.Errorf("unknown kafka security protocol %q", conf.SecurityProtocol)
	}
	return cm, nil
}

// NewKafkaProducer 创建生产者，并在后台消费 Events() 上的错误事件
func NewKafkaProducer(conf *KafkaProducerConf) (*kafka.Producer, error) {
	if conf == nil || len(conf.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers configured")
	}
	cm, err := newProducerConfigMap(conf)
	if err != nil {
		return nil, err
	}
	producer, err := kafka.NewProducer(cm)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	go func() {
		for ev := range producer.Events() {
			switch e := ev.(type) {
			case kafka.Error:
				logger.Errorf("[KafkaProducer] error: code=%s, msg=%v", e.Code(), e)
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					logger.Warnf("[KafkaProducer] delivery failed: %v", e.TopicPartition.Error)
				}
			}
		}
	}()

	logger.Infof("[KafkaProducer] New: brokers=%v, topics=%v", conf.Brokers, conf.Topics)
	return producer, nil
}

// SendResult 单条消息的发送结果
// Completed 为 true 表示 librdkafka 已不再持有 Value，可以复用
type SendResult struct {
	Msg       *kafka.Message
	Completed bool
	Success   bool
	Err       error
}

type deliveryTag struct {
	index  int
	opaque interface{}
}

// SendKafkaMessagesBatch 批量发送并等待投递报告，超时或 ctx 取消时未完成的结果 Completed=false
func SendKafkaMessagesBatch(ctx context.Context, producer MessageProducer, messages []*kafka.Message, timeout time.Duration) []SendResult {
	results := make([]SendResult, len(messages))
	if len(messages) == 0 {
		return results
	}

	deliveryChan := make(chan kafka.Event, len(messages))
	pending := 0
	for i, msg := range messages {
		results[i].Msg = msg
		opaque := msg.Opaque
		msg.Opaque = deliveryTag{index: i, opaque: opaque}
		if err := producer.Produce(msg, deliveryChan); err != nil {
			msg.Opaque = opaque
			results[i].Completed = true
			results[i].Err = err
			continue
		}
		pending++
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for pending > 0 {
		select {
		case <-ctx.Done():
			restoreOpaque(messages, results)
			return results
		case <-timer.C:
			logger.Warnf("[KafkaProducer] batch send timeout: %d of %d messages still pending", pending, len(messages))
			restoreOpaque(messages, results)
			return results
		case ev := <-deliveryChan:
			m, ok := ev.(*kafka.Message)
			if !ok {
				continue
			}
			tag, ok := m.Opaque.(deliveryTag)
			if !ok || tag.index < 0 || tag.index >= len(results) || results[tag.index].Completed {
				continue
			}
			pending--
			r := &results[tag.index]
			r.Completed = true
			r.Err = m.TopicPartition.Error
			r.Success = r.Err == nil
			r.Msg.TopicPartition = m.TopicPartition
		}
	}
	restoreOpaque(messages, results)
	return results
}

func restoreOpaque(messages []*kafka.Message, results []SendResult) {
	for i, msg := range messages {
		if tag, ok := msg.Opaque.(deliveryTag); ok {
			msg.Opaque = tag.opaque
		}
		results[i].Msg = msg
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
