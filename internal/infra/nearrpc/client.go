// Package nearrpc 是 NEAR JSON-RPC 的最小客户端：查询访问密钥与广播签名交易。
package nearrpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ErrAccessKeyNotFound 表示链上不存在该访问密钥。
var ErrAccessKeyNotFound = errors.New("access key not found on chain")

// Config 控制 RPC 地址与查询重试。
type Config struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	JitterFactor   float64       `yaml:"jitter_factor"`
	Logger         *slog.Logger  `yaml:"-"`
}

// DefaultURL 返回网络对应的公共 RPC 地址，未知网络返回空串。
func DefaultURL(network string) string {
	switch network {
	case "mainnet":
		return "https://rpc.mainnet.near.org"
	case "testnet":
		return "https://rpc.testnet.near.org"
	}
	return ""
}

func (c Config) normalize() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = 0.2
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Error 是节点返回的 JSON-RPC 错误。
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Name    string          `json:"name"`
	Cause   *ErrorCause     `json:"cause,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorCause 是结构化错误原因。
type ErrorCause struct {
	Name string          `json:"name"`
	Info json.RawMessage `json:"info,omitempty"`
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Name != "" {
		return fmt.Sprintf("near rpc %s: %s", e.Name, e.Cause.Name)
	}
	return fmt.Sprintf("near rpc error %d: %s", e.Code, e.Message)
}

// statusError 表示非 200 的 HTTP 应答。
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("near rpc http %d: %s", e.status, e.body)
}

func retryable(err error) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.status == http.StatusTooManyRequests || status.status >= 500
	}
	return true
}

// Client 调用 NEAR JSON-RPC。
type Client struct {
	cfg  Config
	http *http.Client

	randMu sync.Mutex
	rnd    *rand.Rand
}

// Option 自定义 Client。
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端。
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient 构造 Client。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("near rpc url is required")
	}
	normalized := cfg.normalize()
	c := &Client{
		cfg:  normalized,
		http: &http.Client{Timeout: normalized.Timeout},
		rnd:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

type accessKeyResult struct {
	Nonce       uint64 `json:"nonce"`
	BlockHash   string `json:"block_hash"`
	BlockHeight uint64 `json:"block_height"`
}

// ViewAccessKey 查询访问密钥的当前 nonce 与最新区块哈希，失败按退避重试。
func (c *Client) ViewAccessKey(ctx context.Context, accountID string, publicKey near.PublicKey) (near.AccessKeyView, error) {
	params := map[string]string{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   accountID,
		"public_key":   publicKey.String(),
	}
	raw, err := c.retry(ctx, "query", func() (json.RawMessage, error) {
		return c.call(ctx, "query", params)
	})
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) && rpcErr.Cause != nil && rpcErr.Cause.Name == "UNKNOWN_ACCESS_KEY" {
			return near.AccessKeyView{}, fmt.Errorf("%w: %s", ErrAccessKeyNotFound, accountID)
		}
		return near.AccessKeyView{}, err
	}
	var result accessKeyResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return near.AccessKeyView{}, fmt.Errorf("decode access key: %w", err)
	}
	hash, err := base58.Decode(result.BlockHash)
	if err != nil || len(hash) != len(near.BlockHash{}) {
		return near.AccessKeyView{}, fmt.Errorf("invalid block hash %q", result.BlockHash)
	}
	view := near.AccessKeyView{Nonce: result.Nonce}
	copy(view.BlockHash[:], hash)
	return view, nil
}

// SendTransaction 广播签名交易并等待执行结果。广播不重试，避免重复提交。
func (c *Client) SendTransaction(ctx context.Context, signed *near.SignedTransaction) (json.RawMessage, error) {
	encoded, err := signed.Encode()
	if err != nil {
		return nil, err
	}
	return c.call(ctx, "broadcast_tx_commit", []string{base64.StdEncoding.EncodeToString(encoded)})
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(bytes.TrimSpace(payload))}
	}
	var out rpcResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

func (c *Client) retry(ctx context.Context, method string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
		c.cfg.Logger.Warn("near rpc call failed", slog.String("method", method), slog.Int("attempt", attempt), slog.Any("err", err))
		if attempt == c.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoffDuration(attempt)):
		}
	}
	return nil, lastErr
}

func (c *Client) backoffDuration(attempt int) time.Duration {
	delay := c.cfg.InitialBackoff * time.Duration(1<<(attempt-1))
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	jitter := time.Duration(float64(delay) * c.cfg.JitterFactor)
	if jitter <= 0 {
		return delay
	}
	c.randMu.Lock()
	delta := time.Duration(c.rnd.Int63n(int64(2*jitter)+1)) - jitter
	c.randMu.Unlock()
	return max(delay+delta, 0)
}
