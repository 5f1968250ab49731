// Package relay 通过 websocket 上的 JSON-RPC 与中继服务通信，实现 bridge.Client。
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// 中继 JSON-RPC 方法。
const (
	methodConnect       = "bridge_connect"
	methodRequest       = "bridge_request"
	methodDisconnect    = "bridge_disconnect"
	methodActiveSession = "bridge_activeSession"
	methodEvent         = "bridge_event"
)

var (
	// ErrUnavailable 表示连接尚未恢复或熔断器处于打开状态。
	ErrUnavailable = errors.New("relay unavailable")
	// ErrConnectionLost 表示请求在等待应答时连接断开。
	ErrConnectionLost = errors.New("relay connection lost")
	// ErrClosed 表示客户端已关闭。
	ErrClosed = errors.New("relay client closed")
)

type rpcMessage struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      string              `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Params  json.RawMessage     `json:"params,omitempty"`
	Result  json.RawMessage     `json:"result,omitempty"`
	Error   *bridge.RemoteError `json:"error,omitempty"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// connectRequest 在握手参数上附加项目 ID。
type connectRequest struct {
	bridge.ConnectParams
	ProjectID string `json:"projectId,omitempty"`
}

// Client 维护一条到中继的长连接，断线后按指数退避自动重连。
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *Metrics
	breaker *circuitBreaker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu          sync.Mutex
	conn        *websocket.Conn
	pending     map[string]chan rpcResult
	handlers    map[string]map[int]bridge.Handler
	nextHandler int
}

// Option 自定义 Client。
type Option func(*Client)

// WithLogger 注入 slog Logger。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRegisterer 指定 Prometheus 注册器。
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = NewMetrics(reg) }
}

// Dial 建立首条连接并启动读循环。首连失败直接返回错误，之后的断线由后台重连。
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay url is required")
	}
	cfg = cfg.normalize()
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:      cfg,
		logger:   slog.Default(),
		breaker:  newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		pending:  make(map[string]chan rpcResult),
		handlers: make(map[string]map[int]bridge.Handler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.dialer = &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		c.dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialEndpoint(ctx, endpoint)
		}
	}

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.setConn(conn)
	go c.run(conn)
	return c, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %w", err)
	}
	if c.cfg.PingInterval > 0 {
		deadline := c.cfg.PingInterval + c.cfg.PongTimeout
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.metrics.setConnected(conn != nil)
}

// run 串行执行“读到断开 → 退避重连”，直到 Close。
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	backoff := NewBackoff(c.cfg.Backoff)
	for {
		stopPing := c.startPing(conn)
		err := c.readLoop(conn)
		close(stopPing)
		_ = conn.Close()
		c.setConn(nil)
		c.failPending(ErrConnectionLost)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("relay connection lost", slog.Any("err", err))
		c.metrics.incReconnect()
		c.breaker.failure()

		conn = nil
		for conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff.Next()):
			}
			next, dialErr := c.dial(c.ctx)
			if dialErr != nil {
				c.logger.Warn("relay reconnect failed", slog.Any("err", dialErr))
				continue
			}
			conn = next
		}
		backoff.Reset()
		c.setConn(conn)
		c.logger.Info("relay reconnected", slog.String("url", c.cfg.URL))
	}
}

func (c *Client) startPing(conn *websocket.Conn) chan struct{} {
	stop := make(chan struct{})
	if c.cfg.PingInterval <= 0 {
		return stop
	}
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
				c.writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()
	return stop
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("drop malformed relay message", slog.Any("err", err))
			continue
		}
		switch {
		case msg.Method == methodEvent:
			c.dispatchEvent(msg.Params)
		case msg.ID != "":
			c.resolve(msg)
		}
	}
}

func (c *Client) resolve(msg rpcMessage) {
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	res := rpcResult{result: msg.Result}
	if msg.Error != nil {
		res.err = msg.Error
	}
	ch <- res
}

func (c *Client) dispatchEvent(raw json.RawMessage) {
	var evt bridge.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		c.logger.Warn("drop malformed relay event", slog.Any("err", err))
		return
	}
	c.mu.Lock()
	handlers := make([]bridge.Handler, 0, len(c.handlers[evt.Name]))
	for _, h := range c.handlers[evt.Name] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan rpcResult)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- rpcResult{err: err}
	}
}

// call 发送一次 JSON-RPC 请求并等待应答。远端错误以 *bridge.RemoteError 原样返回。
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	if !c.breaker.allow() {
		c.metrics.incFail(method, "breaker_open")
		return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		rawParams = encoded
	}
	id := uuid.NewString()
	payload, err := json.Marshal(rpcMessage{JSONRPC: "2.0", ID: id, Method: method, Params: rawParams})
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.pending[id] = ch
	}
	c.mu.Unlock()
	if conn == nil {
		c.metrics.incFail(method, "disconnected")
		return nil, fmt.Errorf("%w: reconnecting", ErrUnavailable)
	}

	start := time.Now()
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.breaker.failure()
		c.metrics.incFail(method, "write")
		return nil, fmt.Errorf("relay write: %w", err)
	}

	select {
	case res := <-ch:
		c.metrics.observe(method, time.Since(start))
		if errors.Is(res.err, ErrConnectionLost) {
			c.metrics.incFail(method, "connection_lost")
			return nil, res.err
		}
		c.breaker.success()
		if res.err != nil {
			c.metrics.incFail(method, "rejected")
			return nil, res.err
		}
		return res.result, nil
	case <-ctx.Done():
		c.forget(id)
		c.metrics.incFail(method, "context")
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.forget(id)
		return nil, ErrClosed
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Connect 实现 bridge.Client。
func (c *Client) Connect(ctx context.Context, params bridge.ConnectParams) (*bridge.Session, error) {
	raw, err := c.call(ctx, methodConnect, connectRequest{ConnectParams: params, ProjectID: c.cfg.ProjectID})
	if err != nil {
		return nil, err
	}
	var session bridge.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if session.Topic == "" {
		return nil, errors.New("relay returned a session without topic")
	}
	return &session, nil
}

// Request 实现 bridge.Client。
func (c *Client) Request(ctx context.Context, params bridge.RequestParams) (json.RawMessage, error) {
	return c.call(ctx, methodRequest, params)
}

// Disconnect 实现 bridge.Client。
func (c *Client) Disconnect(ctx context.Context, params bridge.DisconnectParams) error {
	_, err := c.call(ctx, methodDisconnect, params)
	return err
}

// ActiveSession 实现 bridge.SessionRestorer，中继无会话时返回 nil。
func (c *Client) ActiveSession(ctx context.Context) (*bridge.Session, error) {
	raw, err := c.call(ctx, methodActiveSession, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var session bridge.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// On 实现 bridge.Client。监听者在读循环 goroutine 上被调用。
func (c *Client) On(event string, handler bridge.Handler) bridge.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextHandler
	c.nextHandler++
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[int]bridge.Handler)
	}
	c.handlers[event][id] = handler
	var once sync.Once
	return bridge.SubscriptionFunc(func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers[event], id)
			c.mu.Unlock()
		})
	})
}

// Connected 报告当前是否持有可用连接。
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close 停止重连并关闭连接，等待中的请求返回 ErrClosed。
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	<-c.done
	return nil
}
