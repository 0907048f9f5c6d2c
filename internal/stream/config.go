package stream

import "time"

const (
	DefaultEndpoint       = "mainnet.helius-rpc.com:443"
	defaultAttempts       = 10
	defaultReconnectDelay = time.Second
	defaultMaxDelay       = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultBreakerFails   = 5
	defaultBreakerTimeout = 60 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultShutdownWait   = 10 * time.Second
)

// Config StreamClient 配置，零值字段由 WithDefaults 补齐
type Config struct {
	Endpoint                string        `json:"endpoint" yaml:"endpoint"`                                   // 数据源地址
	ApiKey                  string        `json:"api_key" yaml:"api_key"`                                     // 鉴权 token，可用 ${GEYSER_API_KEY}
	UseTLS                  *bool         `json:"use_tls" yaml:"use_tls"`                                     // 默认 true
	ReconnectEnabled        *bool         `json:"reconnect_enabled" yaml:"reconnect_enabled"`                 // 默认 true
	MaxReconnectAttempts    int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`       // 单次 connect 最大尝试次数
	ReconnectDelay          time.Duration `json:"reconnect_delay" yaml:"reconnect_delay"`                     // 退避基数
	MaxReconnectDelay       time.Duration `json:"max_reconnect_delay" yaml:"max_reconnect_delay"`             // 退避上限
	PingInterval            time.Duration `json:"ping_interval" yaml:"ping_interval"`                         // 心跳间隔
	Commitment              Commitment    `json:"commitment" yaml:"commitment"`                               // 默认 confirmed
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"` // 连续失败多少次熔断
	CircuitBreakerTimeout   time.Duration `json:"circuit_breaker_timeout" yaml:"circuit_breaker_timeout"`     // 熔断后多久允许试探
	ConnectTimeout          time.Duration `json:"connect_timeout" yaml:"connect_timeout"`                     // 单次建连超时
	ShutdownTimeout         time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`                   // 断开时等待任务退出的上限
}

func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

func (c Config) WithDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if c.UseTLS == nil {
		c.UseTLS = boolPtr(true)
	}
	if c.ReconnectEnabled == nil {
		c.ReconnectEnabled = boolPtr(true)
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = defaultAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = defaultMaxDelay
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.Commitment == "" {
		c.Commitment = CommitmentConfirmed
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = defaultBreakerFails
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = defaultBreakerTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownWait
	}
	return c
}

func (c Config) TLSEnabled() bool {
	return c.UseTLS == nil || *c.UseTLS
}

func (c Config) ReconnectOn() bool {
	return c.ReconnectEnabled == nil || *c.ReconnectEnabled
}

func (c Config) Credentials() Credentials {
	return Credentials{Token: c.ApiKey, UseTLS: c.TLSEnabled()}
}

// HeliusConfig Helius 预设
func HeliusConfig(apiKey string) Config {
	return Config{Endpoint: DefaultEndpoint, ApiKey: apiKey}.WithDefaults()
}

// TritonConfig Triton 预设，endpoint 由调用方提供
func TritonConfig(endpoint, token string) Config {
	return Config{Endpoint: endpoint, ApiKey: token}.WithDefaults()
}

func boolPtr(b bool) *bool {
	return &b
}

// BackoffDelay 第 attempt 次重试前的等待时间：base * 2^attempt，上限 maxDelay
func BackoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if attempt > 30 {
		return maxDelay
	}
	d := base * time.Duration(1<<uint(attempt))
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}
