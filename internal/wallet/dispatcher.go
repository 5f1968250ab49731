package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"golang.org/x/time/rate"
)

const (
	opConnect    = "connect"
	opSignSingle = "sign_single"
	opSignBatch  = "sign_batch"
	opDisconnect = "disconnect"
)

// DispatcherConfig 控制远端请求分发。
type DispatcherConfig struct {
	ChainID   string
	Timeout   time.Duration
	RateLimit float64
	RateBurst int
	Metadata  bridge.Metadata
	Logger    *slog.Logger
	Metrics   *Metrics
	Clock     Clock
}

// Dispatcher 为每个远端请求加上固定超时，不做重试。签名请求可选令牌桶限速。
type Dispatcher struct {
	client  bridge.Client
	cfg     DispatcherConfig
	limiter atomic.Pointer[rate.Limiter]
	logger  *slog.Logger
	metrics *Metrics

	inFlight atomic.Int64
	total    atomic.Uint64
	timeouts atomic.Uint64
	rejected atomic.Uint64
	limited  atomic.Uint64
}

// batchParams 是批量方法的参数体。
type batchParams struct {
	Transactions []near.Transaction `json:"transactions"`
}

// NewDispatcher 创建 Dispatcher。
func NewDispatcher(client bridge.Client, cfg DispatcherConfig) (*Dispatcher, error) {
	if client == nil {
		return nil, errors.New("bridge client is required")
	}
	if cfg.ChainID == "" {
		return nil, errors.New("chain id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	d := &Dispatcher{client: client, cfg: cfg, logger: cfg.Logger, metrics: cfg.Metrics}
	d.UpdateRateLimit(cfg.RateLimit)
	return d, nil
}

// UpdateRateLimit 热更新签名请求的速率限制，<=0 关闭限速。
func (d *Dispatcher) UpdateRateLimit(rateValue float64) {
	if rateValue <= 0 {
		d.limiter.Store(nil)
		return
	}
	d.limiter.Store(rate.NewLimiter(rate.Limit(rateValue), d.cfg.RateBurst))
}

// Connect 发起握手，请求链 ID 与两个签名方法的权限。
func (d *Dispatcher) Connect(ctx context.Context) (*bridge.Session, error) {
	var session *bridge.Session
	err := d.do(ctx, opConnect, func(ctx context.Context) error {
		s, err := d.client.Connect(ctx, bridge.ConnectParams{
			ChainID:  d.cfg.ChainID,
			Methods:  []string{bridge.MethodSignAndSendTransaction, bridge.MethodSignAndSendTransactions},
			Events:   []string{bridge.EventSessionUpdated, bridge.EventSessionDeleted},
			Metadata: d.cfg.Metadata,
		})
		session = s
		return err
	})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.New("bridge returned no session")
	}
	return session, nil
}

// SignAndSendTransaction 通过单笔方法请求远端批准。
func (d *Dispatcher) SignAndSendTransaction(ctx context.Context, topic string, tx near.Transaction) (json.RawMessage, error) {
	return d.request(ctx, opSignSingle, topic, bridge.MethodSignAndSendTransaction, tx)
}

// SignAndSendTransactions 通过批量方法请求远端批准。
func (d *Dispatcher) SignAndSendTransactions(ctx context.Context, topic string, txs []near.Transaction) (json.RawMessage, error) {
	return d.request(ctx, opSignBatch, topic, bridge.MethodSignAndSendTransactions, batchParams{Transactions: txs})
}

// Disconnect 以用户断开原因终止会话。
func (d *Dispatcher) Disconnect(ctx context.Context, topic string) error {
	return d.do(ctx, opDisconnect, func(ctx context.Context) error {
		return d.client.Disconnect(ctx, bridge.DisconnectParams{
			Topic:  topic,
			Reason: bridge.Reason{Code: bridge.UserDisconnectedCode, Message: "User disconnected"},
		})
	})
}

func (d *Dispatcher) request(ctx context.Context, op, topic, method string, params any) (json.RawMessage, error) {
	var result json.RawMessage
	err := d.do(ctx, op, func(ctx context.Context) error {
		raw, err := d.client.Request(ctx, bridge.RequestParams{
			Timeout: d.cfg.Timeout.Milliseconds(),
			Topic:   topic,
			ChainID: d.cfg.ChainID,
			Method:  method,
			Params:  params,
		})
		result = raw
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// allow 在任何网络调用之前检查签名请求的速率限制。
func (d *Dispatcher) allow(op string) error {
	if limiter := d.limiter.Load(); limiter != nil && !limiter.Allow() {
		d.limited.Add(1)
		d.metrics.incRemoteFail(op, "rate_limited")
		return ErrRateLimited
	}
	return nil
}

// do 在独立 goroutine 中执行远端调用；超时后立即返回，底层调用不保证被中止。
func (d *Dispatcher) do(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	d.total.Add(1)
	start := d.cfg.Clock.Now()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.metrics.observeRemote(op, float64(d.cfg.Clock.Now().Sub(start).Milliseconds()))
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && errors.Is(err, context.DeadlineExceeded) {
		d.timeouts.Add(1)
		d.metrics.incRemoteFail(op, "timeout")
		d.logger.Warn("remote request timed out", slog.String("op", op), slog.Duration("timeout", d.cfg.Timeout))
		return errors.Join(ErrRequestTimeout, err)
	}
	var remoteErr *bridge.RemoteError
	if errors.As(err, &remoteErr) {
		d.rejected.Add(1)
		d.metrics.incRemoteFail(op, "rejected")
		d.logger.Info("remote request rejected", slog.String("op", op), slog.Int("code", remoteErr.Code))
		return err
	}
	d.metrics.incRemoteFail(op, "error")
	return err
}

// DispatcherSnapshot 是远端请求分发的调试视图。
type DispatcherSnapshot struct {
	InFlight  int64   `json:"inFlight"`
	Total     uint64  `json:"total"`
	Timeouts  uint64  `json:"timeouts"`
	Rejected  uint64  `json:"rejected"`
	Limited   uint64  `json:"rateLimited"`
	TimeoutMs int64   `json:"timeoutMs"`
	RateLimit float64 `json:"rateLimit"`
	ChainID   string  `json:"chainId"`
}

func (d *Dispatcher) snapshot() DispatcherSnapshot {
	snap := DispatcherSnapshot{
		InFlight:  d.inFlight.Load(),
		Total:     d.total.Load(),
		Timeouts:  d.timeouts.Load(),
		Rejected:  d.rejected.Load(),
		Limited:   d.limited.Load(),
		TimeoutMs: d.cfg.Timeout.Milliseconds(),
		ChainID:   d.cfg.ChainID,
	}
	if limiter := d.limiter.Load(); limiter != nil {
		snap.RateLimit = float64(limiter.Limit())
	}
	return snap
}
