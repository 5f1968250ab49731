package wallet

import (
	"log/slog"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
)

// DefaultRequestTimeout 是所有远端请求的固定超时。
const DefaultRequestTimeout = 30 * time.Second

// Clock 用于可测试的时间来源。
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config 控制 Wallet 行为。
type Config struct {
	// WalletID 用于隔离密钥存储命名空间。
	WalletID string
	Network  string
	// ChainID 非空时覆盖由 Network 推导的链 ID。
	ChainID        string
	RequestTimeout time.Duration
	// RateLimit 为每秒允许的签名请求数，<=0 表示不限速。
	RateLimit   float64
	RateBurst   int
	EventBuffer int
	Metadata    bridge.Metadata
	Logger      *slog.Logger
	Metrics     *Metrics
	Clock       Clock
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.WalletID == "" {
		cfg.WalletID = "bridge-wallet"
	}
	if cfg.Network == "" {
		cfg.Network = "testnet"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	return cfg
}
