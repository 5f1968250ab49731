// Package config 读取桥接钱包进程的配置：YAML 文件为基础，BRIDGE_* 环境变量覆盖。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/infra/nearrpc"
	"github.com/aegis-sign/bridgewallet/internal/infra/relay"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/aegis-sign/bridgewallet/internal/wallet"
	"github.com/aegis-sign/bridgewallet/pkg/validator"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	KeystoreMemory = "memory"
	KeystoreFile   = "file"

	defaultPassphraseEnv = "BRIDGE_KEYSTORE_PASSPHRASE"
)

// Config 是进程级配置。
type Config struct {
	Wallet   WalletConfig   `yaml:"wallet"`
	Relay    relay.Config   `yaml:"relay"`
	RPC      nearrpc.Config `yaml:"rpc"`
	Keystore KeystoreConfig `yaml:"keystore"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// WalletConfig 对应 wallet.Config 中可由文件配置的部分。
type WalletConfig struct {
	ID             string        `yaml:"id"`
	Network        string        `yaml:"network"`
	ChainID        string        `yaml:"chain_id"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit 支持热更新，0 表示不限速。
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// ContractID 非空时启动后尝试恢复已有会话。
	ContractID  string          `yaml:"contract_id"`
	MethodNames []string        `yaml:"method_names"`
	Metadata    bridge.Metadata `yaml:"metadata"`
}

// KeystoreConfig 选择委托密钥的存储后端。
type KeystoreConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	// PassphraseEnv 是保存口令的环境变量名，口令本身不写入文件。
	PassphraseEnv string `yaml:"passphrase_env"`
	Passphrase    string `yaml:"-"`
}

// ServerConfig 是对外监听地址。
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig 控制日志级别与格式（text 或 json）。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default 返回未读取任何文件时的配置。
func Default() Config {
	return Config{
		Wallet: WalletConfig{
			ID:             "bridge-wallet",
			Network:        "testnet",
			RequestTimeout: wallet.DefaultRequestTimeout,
			RateBurst:      1,
		},
		Relay:    relay.DefaultConfig(),
		Keystore: KeystoreConfig{Type: KeystoreMemory, PassphraseEnv: defaultPassphraseEnv},
		Server:   ServerConfig{HTTPAddr: ":8080", GRPCAddr: ":9090", MetricsPath: "/metrics"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// LoadDotEnv 将 .env 文件载入进程环境，已存在的变量不被覆盖；文件不存在时忽略。
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// Load 依次应用默认值、path 指向的 YAML 文件（为空时跳过）与环境变量，并校验结果。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.Keystore.PassphraseEnv == "" {
		cfg.Keystore.PassphraseEnv = defaultPassphraseEnv
	}
	cfg.Keystore.Passphrase = os.Getenv(cfg.Keystore.PassphraseEnv)
	if cfg.RPC.URL == "" {
		cfg.RPC.URL = nearrpc.DefaultURL(cfg.Wallet.Network)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BRIDGE_WALLET_ID"); v != "" {
		cfg.Wallet.ID = v
	}
	if v := os.Getenv("BRIDGE_NETWORK"); v != "" {
		cfg.Wallet.Network = v
	}
	if v := os.Getenv("BRIDGE_CHAIN_ID"); v != "" {
		cfg.Wallet.ChainID = v
	}
	if d := readDuration("BRIDGE_REQUEST_TIMEOUT"); d > 0 {
		cfg.Wallet.RequestTimeout = d
	}
	if v, ok := readFloat("BRIDGE_RATE_LIMIT"); ok {
		cfg.Wallet.RateLimit = v
	}
	if v := readInt("BRIDGE_RATE_BURST"); v > 0 {
		cfg.Wallet.RateBurst = v
	}
	if v := os.Getenv("BRIDGE_CONTRACT_ID"); v != "" {
		cfg.Wallet.ContractID = v
	}
	if v := os.Getenv("BRIDGE_METHOD_NAMES"); v != "" {
		cfg.Wallet.MethodNames = splitList(v)
	}
	if v := os.Getenv("BRIDGE_RPC_URL"); v != "" {
		cfg.RPC.URL = v
	}
	if v := os.Getenv("BRIDGE_KEYSTORE_TYPE"); v != "" {
		cfg.Keystore.Type = v
	}
	if v := os.Getenv("BRIDGE_KEYSTORE_PATH"); v != "" {
		cfg.Keystore.Path = v
	}
	if v := os.Getenv("BRIDGE_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("BRIDGE_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BRIDGE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	cfg.Relay = relay.ApplyEnv(cfg.Relay)
}

// Validate 检查跨字段约束。
func (c Config) Validate() error {
	if _, err := near.ChainID(c.Wallet.Network, c.Wallet.ChainID); err != nil {
		return fmt.Errorf("wallet: %w", err)
	}
	if c.Wallet.RateLimit < 0 {
		return fmt.Errorf("wallet.rate_limit must not be negative, got %v", c.Wallet.RateLimit)
	}
	if c.Wallet.ContractID != "" {
		if err := validator.ValidateAccountID(c.Wallet.ContractID); err != nil {
			return fmt.Errorf("wallet.contract_id: %w", err)
		}
	}
	if c.Relay.URL == "" {
		return errors.New("relay.url is required")
	}
	if c.RPC.URL == "" {
		return fmt.Errorf("rpc.url is required for network %q", c.Wallet.Network)
	}
	switch c.Keystore.Type {
	case KeystoreMemory:
	case KeystoreFile:
		if c.Keystore.Path == "" {
			return errors.New("keystore.path is required for file keystore")
		}
		if c.Keystore.Passphrase == "" {
			return fmt.Errorf("file keystore requires a passphrase in $%s", c.Keystore.PassphraseEnv)
		}
	default:
		return fmt.Errorf("unsupported keystore type %q", c.Keystore.Type)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}

// WalletConfig 转换为 wallet.Config，Logger 与 Metrics 由调用方补充。
func (c Config) WalletConfig() wallet.Config {
	return wallet.Config{
		WalletID:       c.Wallet.ID,
		Network:        c.Wallet.Network,
		ChainID:        c.Wallet.ChainID,
		RequestTimeout: c.Wallet.RequestTimeout,
		RateLimit:      c.Wallet.RateLimit,
		RateBurst:      c.Wallet.RateBurst,
		Metadata:       c.Wallet.Metadata,
	}
}

// ConnectParams 返回恢复会话所用的合约权限；未配置合约时 ok 为 false。
func (c Config) ConnectParams() (wallet.ConnectParams, bool) {
	if c.Wallet.ContractID == "" {
		return wallet.ConnectParams{}, false
	}
	return wallet.ConnectParams{ContractID: c.Wallet.ContractID, MethodNames: c.Wallet.MethodNames}, true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

func readFloat(key string) (float64, bool) {
	value := os.Getenv(key)
	if value == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
