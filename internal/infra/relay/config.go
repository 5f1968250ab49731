package relay

import (
	"os"
	"strconv"
	"time"
)

// Config 控制到中继服务的 websocket 连接。
type Config struct {
	// URL 是中继的 ws:// 或 wss:// 地址。
	URL string `yaml:"url"`
	// Endpoint 非空时覆盖底层传输，支持 unix:/path、vsock://cid:port 与 host:port。
	Endpoint  string `yaml:"endpoint"`
	ProjectID string `yaml:"project_id"`

	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// PingInterval 为 0 时不发送心跳，也不设置读超时。
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`

	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"`
	Backoff          BackoffConfig `yaml:"backoff"`
}

// BackoffConfig 决定断线重连的指数退避参数。
type BackoffConfig struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
	Jitter  float64       `yaml:"jitter"`
}

// DefaultConfig 返回中继连接的默认值。
func DefaultConfig() Config {
	return Config{
		URL:              "wss://relay.walletconnect.com",
		DialTimeout:      5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		BreakerThreshold: 5,
		BreakerCooldown:  10 * time.Second,
		Backoff: BackoffConfig{
			Initial: 250 * time.Millisecond,
			Max:     10 * time.Second,
			Jitter:  0.2,
		},
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval > 0 && c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = def.BreakerCooldown
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = def.Backoff.Initial
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = def.Backoff.Max
		if c.Backoff.Max < c.Backoff.Initial {
			c.Backoff.Max = c.Backoff.Initial
		}
	}
	return c
}

// LoadConfigFromEnv 以默认值为基础读取 BRIDGE_RELAY_* 环境变量。
func LoadConfigFromEnv() Config {
	return ApplyEnv(DefaultConfig())
}

// ApplyEnv 用已设置的 BRIDGE_RELAY_* 环境变量覆盖 cfg。
func ApplyEnv(cfg Config) Config {
	if v := os.Getenv("BRIDGE_RELAY_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("BRIDGE_RELAY_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("BRIDGE_RELAY_PROJECT_ID"); v != "" {
		cfg.ProjectID = v
	}
	if d := readDuration("BRIDGE_RELAY_DIAL_TIMEOUT"); d > 0 {
		cfg.DialTimeout = d
	}
	if d := readDuration("BRIDGE_RELAY_WRITE_TIMEOUT"); d > 0 {
		cfg.WriteTimeout = d
	}
	if d := readDuration("BRIDGE_RELAY_PING_INTERVAL"); d > 0 {
		cfg.PingInterval = d
	}
	if v := readInt("BRIDGE_RELAY_BREAKER_THRESHOLD"); v > 0 {
		cfg.BreakerThreshold = v
	}
	if d := readDuration("BRIDGE_RELAY_BREAKER_COOLDOWN"); d > 0 {
		cfg.BreakerCooldown = d
	}
	if d := readDuration("BRIDGE_RELAY_RETRY_INITIAL"); d > 0 {
		cfg.Backoff.Initial = d
	}
	if d := readDuration("BRIDGE_RELAY_RETRY_MAX"); d > 0 {
		cfg.Backoff.Max = d
	}
	if j := readFloat("BRIDGE_RELAY_RETRY_JITTER"); j >= 0 {
		cfg.Backoff.Jitter = j
	}
	return cfg
}

func readInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func readDuration(key string) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return d
}

func readFloat(key string) float64 {
	value := os.Getenv(key)
	if value == "" {
		return -1
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return -1
	}
	return v
}
