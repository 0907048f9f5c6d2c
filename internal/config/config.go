package config

import (
	"fmt"
	"time"

	"chain-stream-sol/internal/pkg/logger"
	"chain-stream-sol/internal/pkg/mq"
	"chain-stream-sol/internal/poolmonitor"
	"chain-stream-sol/internal/stream"
	"chain-stream-sol/internal/whale"
)

const defaultShutdownTimeout = 30 * time.Second

type ServerConfig struct {
	Port int `json:"port" yaml:"port"` // REST / metrics 端口
}

type LogConfig struct {
	Format   string `json:"format" yaml:"format"`     // console（开发调试）或 json（生产）
	LogDir   string `json:"log_dir" yaml:"log_dir"`   // 日志文件目录，为空只输出 stdout
	Level    string `json:"level" yaml:"level"`       // debug / info / warn / error
	Compress bool   `json:"compress" yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// TransportConfig websocket 传输层超时
type TransportConfig struct {
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" yaml:"write_timeout"`
	RequestTimeout   time.Duration `json:"request_timeout" yaml:"request_timeout"`
	StreamBuffer     int           `json:"stream_buffer" yaml:"stream_buffer"`
}

type RpcConf struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"` // 为空时不做池子初始状态拉取
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

func (c RpcConf) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// PriceConfig 静态价格表（mint -> USD），外层包一层 TTL 缓存
type PriceConfig struct {
	CacheTTL time.Duration      `json:"cache_ttl" yaml:"cache_ttl"`
	Static   map[string]float64 `json:"static" yaml:"static"`
}

type ModulesConfig struct {
	PoolMonitor  *bool `json:"pool_monitor" yaml:"pool_monitor"`   // 默认开启
	WhaleTracker *bool `json:"whale_tracker" yaml:"whale_tracker"` // 默认开启
}

func (m ModulesConfig) PoolMonitorEnabled() bool {
	return m.PoolMonitor == nil || *m.PoolMonitor
}

func (m ModulesConfig) WhaleTrackerEnabled() bool {
	return m.WhaleTracker == nil || *m.WhaleTracker
}

type Config struct {
	Server               ServerConfig          `json:"server" yaml:"server"`
	LogConf              LogConfig             `json:"logger" yaml:"logger"`
	Modules              ModulesConfig         `json:"modules" yaml:"modules"`
	Stream               stream.Config         `json:"stream" yaml:"stream"`
	Transport            TransportConfig       `json:"transport" yaml:"transport"`
	PoolMonitor          poolmonitor.Config    `json:"pool_monitor" yaml:"pool_monitor"`
	Whale                whale.Config          `json:"whale" yaml:"whale"`
	Prices               PriceConfig           `json:"prices" yaml:"prices"`
	Rpc                  RpcConf               `json:"rpc" yaml:"rpc"`
	KafkaProducerConfig  *mq.KafkaProducerConf `json:"kafka_producer" yaml:"kafka_producer"`     // 为空时不推送事件
	WalletScoresKcConfig *mq.KafkaConsumerConf `json:"wallet_scores_kc" yaml:"wallet_scores_kc"` // 为空时不消费钱包评分
	ShutdownTimeout      time.Duration         `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Validate 补齐默认值并检查必填项
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	c.Stream = c.Stream.WithDefaults()
	c.PoolMonitor = c.PoolMonitor.WithDefaults()
	c.Whale = c.Whale.WithDefaults()

	if _, err := c.PoolMonitor.Dexes(); err != nil {
		return fmt.Errorf("pool_monitor: %w", err)
	}
	if _, err := c.PoolMonitor.Allowlist(); err != nil {
		return fmt.Errorf("pool_monitor: %w", err)
	}
	if p := c.KafkaProducerConfig; p != nil && len(p.Topics) != 1 {
		return fmt.Errorf("kafka_producer: exactly 1 topic required, got %d", len(p.Topics))
	}
	if kc := c.WalletScoresKcConfig; kc != nil && (kc.Topic == "" || kc.GroupID == "") {
		return fmt.Errorf("wallet_scores_kc: topic and group_id are required")
	}
	for mint, price := range c.Prices.Static {
		if price <= 0 {
			return fmt.Errorf("prices.static[%s]: price must be positive", mint)
		}
	}
	return nil
}
