// Package mockbridge 提供可编排的内存远端签名方，用于演练/单测。
package mockbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
)

// Responder 决定远端对请求的应答。
type Responder func(ctx context.Context, req bridge.RequestParams) (json.RawMessage, error)

// Approve 总是批准并返回空对象。
func Approve(context.Context, bridge.RequestParams) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

// Reject 返回远端拒绝错误。
func Reject(code int, message string) Responder {
	return func(context.Context, bridge.RequestParams) (json.RawMessage, error) {
		return nil, &bridge.RemoteError{Code: code, Message: message}
	}
}

// Hang 阻塞到调用方超时，模拟无应答的远端。
func Hang(ctx context.Context, _ bridge.RequestParams) (json.RawMessage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// Peer 实现 bridge.Client 与 bridge.SessionRestorer。
type Peer struct {
	mu          sync.Mutex
	session     *bridge.Session
	active      *bridge.Session
	connectErr  error
	responder   Responder
	onConnect   func(bridge.Session)
	handlers    map[string]map[int]bridge.Handler
	nextHandler int
	connects    []bridge.ConnectParams
	requests    []bridge.RequestParams
	disconnects []bridge.DisconnectParams
}

// NewPeer 构造在握手时返回 session 的远端。
func NewPeer(session bridge.Session) *Peer {
	s := session
	return &Peer{
		session:   &s,
		responder: Approve,
		handlers:  make(map[string]map[int]bridge.Handler),
	}
}

// SetResponder 替换请求应答策略。
func (p *Peer) SetResponder(r Responder) {
	p.mu.Lock()
	p.responder = r
	p.mu.Unlock()
}

// FailConnect 让后续握手失败。
func (p *Peer) FailConnect(err error) {
	p.mu.Lock()
	p.connectErr = err
	p.mu.Unlock()
}

// OnConnect 注册在握手应答返回前执行的回调，用于模拟紧随握手到达的事件。
func (p *Peer) OnConnect(fn func(bridge.Session)) {
	p.mu.Lock()
	p.onConnect = fn
	p.mu.Unlock()
}

// SetActiveSession 设置启动时可恢复的会话。
func (p *Peer) SetActiveSession(session *bridge.Session) {
	p.mu.Lock()
	p.active = session
	p.mu.Unlock()
}

// Connect 实现 bridge.Client。
func (p *Peer) Connect(ctx context.Context, params bridge.ConnectParams) (*bridge.Session, error) {
	p.mu.Lock()
	p.connects = append(p.connects, params)
	err := p.connectErr
	session := p.session
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, errors.New("mock session not configured")
	}
	out := cloneSession(session)
	p.mu.Lock()
	p.active = cloneSession(session)
	hook := p.onConnect
	p.mu.Unlock()
	if hook != nil {
		hook(*cloneSession(session))
	}
	return out, nil
}

// Request 记录请求并交给 Responder。
func (p *Peer) Request(ctx context.Context, params bridge.RequestParams) (json.RawMessage, error) {
	p.mu.Lock()
	p.requests = append(p.requests, params)
	responder := p.responder
	p.mu.Unlock()
	return responder(ctx, params)
}

// Disconnect 记录断开请求。
func (p *Peer) Disconnect(ctx context.Context, params bridge.DisconnectParams) error {
	p.mu.Lock()
	p.disconnects = append(p.disconnects, params)
	p.active = nil
	p.mu.Unlock()
	return nil
}

// On 注册事件监听。
func (p *Peer) On(event string, handler bridge.Handler) bridge.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextHandler
	p.nextHandler++
	if p.handlers[event] == nil {
		p.handlers[event] = make(map[int]bridge.Handler)
	}
	p.handlers[event][id] = handler
	return bridge.SubscriptionFunc(func() {
		p.mu.Lock()
		delete(p.handlers[event], id)
		p.mu.Unlock()
	})
}

// ActiveSession 实现 bridge.SessionRestorer。
func (p *Peer) ActiveSession(context.Context) (*bridge.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneSession(p.active), nil
}

// Emit 同步地把事件投递给所有监听者。
func (p *Peer) Emit(evt bridge.Event) {
	p.mu.Lock()
	handlers := make([]bridge.Handler, 0, len(p.handlers[evt.Name]))
	for _, h := range p.handlers[evt.Name] {
		handlers = append(handlers, h)
	}
	if evt.Name == bridge.EventSessionUpdated && evt.Session != nil {
		p.active = cloneSession(evt.Session)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

// Handlers 返回当前监听者数量。
func (p *Peer) Handlers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, hs := range p.handlers {
		n += len(hs)
	}
	return n
}

// Connects 返回握手记录。
func (p *Peer) Connects() []bridge.ConnectParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.ConnectParams(nil), p.connects...)
}

// Requests 返回请求记录。
func (p *Peer) Requests() []bridge.RequestParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.RequestParams(nil), p.requests...)
}

// Disconnects 返回断开记录。
func (p *Peer) Disconnects() []bridge.DisconnectParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bridge.DisconnectParams(nil), p.disconnects...)
}

func cloneSession(s *bridge.Session) *bridge.Session {
	if s == nil {
		return nil
	}
	return &bridge.Session{Topic: s.Topic, Accounts: append([]string(nil), s.Accounts...)}
}
