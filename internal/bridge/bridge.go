// Package bridge 定义钱包与远端签名方（移动端钱包）之间桥接协议客户端的最小契约。
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// 远端支持的两个签名方法。
const (
	MethodSignAndSendTransaction  = "near_signAndSendTransaction"
	MethodSignAndSendTransactions = "near_signAndSendTransactions"
)

// 订阅的会话事件名。
const (
	EventSessionUpdated = "session_updated"
	EventSessionDeleted = "session_deleted"
	EventPairingCreated = "pairing_created"
)

// UserDisconnectedCode 是用户主动断开时上报的原因码。
const UserDisconnectedCode = 5900

// Session 是已建立的桥接会话。Accounts 为 namespace:reference:address 三元组。
type Session struct {
	Topic    string   `json:"topic"`
	Accounts []string `json:"accounts"`
}

// Metadata 描述发起连接的应用。
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
}

// ConnectParams 是握手时请求的权限。
type ConnectParams struct {
	ChainID  string   `json:"chainId"`
	Methods  []string `json:"methods"`
	Events   []string `json:"events"`
	Metadata Metadata `json:"metadata"`
}

// RequestParams 是发往远端的单次请求。Timeout 以毫秒计。
type RequestParams struct {
	Timeout int64  `json:"timeout"`
	Topic   string `json:"topic"`
	ChainID string `json:"chainId"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Reason 是断开原因。
type Reason struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DisconnectParams 终止指定会话。
type DisconnectParams struct {
	Topic  string `json:"topic"`
	Reason Reason `json:"reason"`
}

// Event 是远端推送的会话事件。session_updated 携带新的 Session。
type Event struct {
	Name    string   `json:"name"`
	Topic   string   `json:"topic"`
	Session *Session `json:"session,omitempty"`
}

// Handler 处理远端事件。
type Handler func(Event)

// Subscription 是事件监听句柄，必须显式 Remove 释放。
type Subscription interface {
	Remove()
}

// Client 是桥接协议客户端。
type Client interface {
	Connect(ctx context.Context, params ConnectParams) (*Session, error)
	Request(ctx context.Context, params RequestParams) (json.RawMessage, error)
	Disconnect(ctx context.Context, params DisconnectParams) error
	On(event string, handler Handler) Subscription
}

// SessionRestorer 由能在启动时恢复既有会话的客户端实现，无会话时返回 nil。
type SessionRestorer interface {
	ActiveSession(ctx context.Context) (*Session, error)
}

// RemoteError 表示远端明确拒绝请求。
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote rejected request (%d): %s", e.Code, e.Message)
}

// SubscriptionFunc 将函数适配为 Subscription。
type SubscriptionFunc func()

// Remove 调用底层函数。
func (f SubscriptionFunc) Remove() {
	if f != nil {
		f()
	}
}
