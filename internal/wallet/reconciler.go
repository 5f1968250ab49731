package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/aegis-sign/bridgewallet/internal/near"
)

// reconciler 按到达顺序消费远端会话事件，保证委托密钥集合始终是已连接账户的子集。
// 除授权与签名外，所有密钥删除与枚举都经由 reconciler。
type reconciler struct {
	state   *walletState
	keys    keystore.KeyStore
	network string
	emitter *Emitter
	metrics *Metrics
	logger  *slog.Logger
	buffer  int

	mu   sync.Mutex
	loop *eventLoop

	// stale 记录删除失败、仍留在存储中的已移除账户，下次会话更新时重试。受 keyGuard 保护。
	stale map[string]struct{}
}

// eventLoop 绑定单个会话：订阅、事件通道与消费 goroutine。
type eventLoop struct {
	events chan bridge.Event
	stopCh chan struct{}
	once   sync.Once
	done   chan struct{}
}

func (l *eventLoop) stop() {
	l.once.Do(func() { close(l.stopCh) })
}

// subscribe 注册事件订阅并返回尚未启动的事件循环。之前的订阅与循环会被释放。
// 启动前到达的事件缓存在通道中，由 start 之后按序处理。
func (r *reconciler) subscribe(client bridge.Client) *eventLoop {
	loop := &eventLoop{
		events: make(chan bridge.Event, r.buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	push := func(evt bridge.Event) {
		select {
		case loop.events <- evt:
		case <-loop.stopCh:
		}
	}
	subs := []bridge.Subscription{
		client.On(bridge.EventPairingCreated, func(evt bridge.Event) {
			r.logger.Info("pairing created", slog.String("topic", evt.Topic))
		}),
		client.On(bridge.EventSessionUpdated, func(evt bridge.Event) {
			evt.Name = bridge.EventSessionUpdated
			push(evt)
		}),
		client.On(bridge.EventSessionDeleted, func(evt bridge.Event) {
			evt.Name = bridge.EventSessionDeleted
			push(evt)
		}),
	}

	r.mu.Lock()
	previous := r.loop
	r.loop = loop
	r.mu.Unlock()
	if previous != nil {
		previous.stop()
	}

	r.state.mu.Lock()
	old := r.state.subs
	r.state.subs = subs
	r.state.mu.Unlock()
	for _, sub := range old {
		sub.Remove()
	}
	return loop
}

// start 启动事件消费。调用方需已设置会话。
func (r *reconciler) start(loop *eventLoop) {
	go r.run(loop)
}

func (r *reconciler) run(loop *eventLoop) {
	defer close(loop.done)
	for {
		select {
		case <-loop.stopCh:
			return
		case evt := <-loop.events:
			select {
			case <-loop.stopCh:
				return
			default:
			}
			switch evt.Name {
			case bridge.EventSessionUpdated:
				r.handleUpdated(evt)
			case bridge.EventSessionDeleted:
				r.handleDeleted(evt)
			}
		}
	}
}

// handleUpdated 清除被移除账户的密钥、替换会话并发布新账户集合；不为新增账户授权。
// 上次删除失败的账户在此一并重试。
func (r *reconciler) handleUpdated(evt bridge.Event) {
	r.logger.Info("session updated", slog.String("topic", evt.Topic))
	if evt.Session == nil {
		return
	}
	ctx := context.Background()

	r.state.keyGuard.Lock()
	r.state.mu.RLock()
	active := r.state.session
	r.state.mu.RUnlock()
	if active == nil || active.Topic != evt.Topic {
		r.state.keyGuard.Unlock()
		return
	}
	after := ResolveAccounts(evt.Session.Accounts)
	removed := make(map[string]struct{})
	for _, account := range ResolveAccounts(active.Accounts) {
		if !containsAccount(after, account.AccountID) {
			removed[account.AccountID] = struct{}{}
		}
	}
	for id := range r.stale {
		if containsAccount(after, id) {
			delete(r.stale, id)
			continue
		}
		removed[id] = struct{}{}
	}
	purged := r.removeKeys(ctx, sortedKeys(removed))
	r.state.mu.Lock()
	r.state.session = &bridge.Session{Topic: active.Topic, Accounts: append([]string(nil), evt.Session.Accounts...)}
	r.state.mu.Unlock()
	r.state.keyGuard.Unlock()

	r.metrics.addPurged(purged)
	r.emitter.emit(EventAccountsChanged, after)
}

// removeKeys 删除给定账户的密钥，失败的账户进入 stale 等待重试。调用方需持有 keyGuard 写锁。
func (r *reconciler) removeKeys(ctx context.Context, accounts []string) int {
	purged := 0
	for _, id := range accounts {
		r.logger.Info("removing delegated key", slog.String("account", id))
		if err := r.keys.RemoveKey(ctx, r.network, id); err != nil {
			r.logger.Error("remove delegated key failed, will retry", slog.String("account", id), slog.Any("err", err))
			if r.stale == nil {
				r.stale = make(map[string]struct{})
			}
			r.stale[id] = struct{}{}
			continue
		}
		delete(r.stale, id)
		purged++
	}
	return purged
}

func (r *reconciler) handleDeleted(evt bridge.Event) {
	r.logger.Info("session deleted", slog.String("topic", evt.Topic))
	ended, err := r.teardown(context.Background(), evt.Topic, StateDisconnected)
	if err != nil {
		r.logger.Error("cleanup after session deletion failed", slog.Any("err", err))
	}
	if ended {
		r.emitter.emit(EventDisconnected, nil)
	}
}

// adopt 采用恢复出的会话，并清除不属于该会话账户的残留密钥。
func (r *reconciler) adopt(ctx context.Context, session *bridge.Session, contract Contract) error {
	r.state.keyGuard.Lock()
	defer r.state.keyGuard.Unlock()
	r.state.mu.Lock()
	r.state.session = session
	r.state.contract = &contract
	r.state.mu.Unlock()

	accounts := ResolveAccounts(session.Accounts)
	keyed, err := r.keys.Accounts(ctx, r.network)
	if err != nil {
		return err
	}
	var stale []string
	for _, id := range keyed {
		if !containsAccount(accounts, id) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if err := r.keys.RemoveKey(ctx, r.network, id); err != nil {
			return err
		}
	}
	r.metrics.addPurged(len(stale))
	return nil
}

// deleteKeyTransactions 为每个持有委托密钥的账户构造撤销该密钥的 DeleteKey 交易。
func (r *reconciler) deleteKeyTransactions(ctx context.Context, accounts []Account) ([]near.Transaction, error) {
	r.state.keyGuard.RLock()
	defer r.state.keyGuard.RUnlock()
	var txs []near.Transaction
	for _, account := range accounts {
		key, err := r.keys.GetKey(ctx, r.network, account.AccountID)
		if errors.Is(err, keystore.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup key for %s: %w", account.AccountID, err)
		}
		pub := key.PublicKey()
		key.Zero()
		txs = append(txs, near.Transaction{
			SignerID:   account.AccountID,
			ReceiverID: account.AccountID,
			Actions:    []near.Action{near.DeleteKey(pub)},
		})
	}
	return txs, nil
}

// delegatedAccounts 列出当前持有委托密钥的账户。
func (r *reconciler) delegatedAccounts(ctx context.Context) ([]string, error) {
	r.state.keyGuard.RLock()
	defer r.state.keyGuard.RUnlock()
	return r.keys.Accounts(ctx, r.network)
}

// cleanup 无条件释放订阅、停止事件循环、清空密钥存储与会话。
func (r *reconciler) cleanup(ctx context.Context) error {
	_, err := r.teardown(ctx, "", StateDisconnected)
	return err
}

// teardown 是会话结束的唯一清理路径。topic 非空时仅在当前会话仍为该 topic 时执行，
// 返回值表示本次调用是否结束了一个会话；并发的结束路径中只有一个得到 true。
// next 是清理后的状态。可在事件循环内部调用，不等待其退出。
func (r *reconciler) teardown(ctx context.Context, topic string, next State) (bool, error) {
	r.state.keyGuard.Lock()
	defer r.state.keyGuard.Unlock()

	r.state.mu.Lock()
	if topic != "" && (r.state.session == nil || r.state.session.Topic != topic) {
		r.state.mu.Unlock()
		return false, nil
	}
	ended := r.state.session != nil
	subs := r.state.subs
	r.state.subs = nil
	r.state.session = nil
	r.state.state = next
	r.state.mu.Unlock()

	r.mu.Lock()
	loop := r.loop
	r.loop = nil
	r.mu.Unlock()
	if loop != nil {
		loop.stop()
	}
	for _, sub := range subs {
		sub.Remove()
	}
	r.stale = nil
	r.metrics.setState(next)
	return ended, r.keys.Clear(ctx)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
