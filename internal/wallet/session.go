package wallet

import (
	"sync"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
)

// walletState 是单个 Wallet 实例独占的会话上下文。
//
// keyGuard 串行化密钥存储的写入与使用：本地签名持读锁完成校验到提交的全过程，
// 授权落盘、清除与全量清理持写锁。会话替换同样在写锁内完成。
type walletState struct {
	mu       sync.RWMutex
	session  *bridge.Session
	subs     []bridge.Subscription
	contract *Contract
	state    State

	keyGuard sync.RWMutex
}

// sessionView 是某一时刻的会话快照。
type sessionView struct {
	topic    string
	accounts []Account
	contract *Contract
	state    State
}

func newWalletState() *walletState {
	return &walletState{state: StateDisconnected}
}

func (s *walletState) view() sessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := sessionView{state: s.state}
	if s.session != nil {
		v.topic = s.session.Topic
		v.accounts = ResolveAccounts(s.session.Accounts)
	}
	if s.contract != nil {
		c := *s.contract
		v.contract = &c
	}
	return v
}

func (s *walletState) accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return []Account{}
	}
	return ResolveAccounts(s.session.Accounts)
}

func (s *walletState) hasAccount(id string) bool {
	return containsAccount(s.accounts(), id)
}

func (s *walletState) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *walletState) currentState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
