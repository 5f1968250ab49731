// Package wallet 实现委托签名协议：会话状态机、交易分类、受限密钥授权、本地签名与远端请求分发。
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/aegis-sign/bridgewallet/pkg/validator"
)

// ConnectParams 指定受限密钥可调用的合约与方法白名单。
type ConnectParams struct {
	ContractID  string   `json:"contractId"`
	MethodNames []string `json:"methodNames"`
}

// Wallet 是单个桥接钱包实例，独占其会话上下文与密钥存储。
type Wallet struct {
	cfg     Config
	chainID string
	client  bridge.Client

	state       *walletState
	dispatcher  *Dispatcher
	provisioner *provisioner
	signer      *localSigner
	reconciler  *reconciler
	emitter     *Emitter
	metrics     *Metrics
	logger      *slog.Logger
}

// Option 自定义 Wallet。
type Option func(*options)

type options struct {
	entropy io.Reader
}

// WithEntropy 替换生成委托密钥的随机源。
func WithEntropy(r io.Reader) Option {
	return func(o *options) { o.entropy = r }
}

// New 创建 Wallet。链 ID 无法推导时返回 near.ErrInvalidChainID，不发起任何网络调用。
func New(client bridge.Client, rpc RPC, keys keystore.KeyStore, cfg Config, opts ...Option) (*Wallet, error) {
	if client == nil || rpc == nil || keys == nil {
		return nil, errors.New("bridge client, rpc and keystore are required")
	}
	normalized := cfg.normalize()
	chainID, err := near.ChainID(normalized.Network, normalized.ChainID)
	if err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	dispatcher, err := NewDispatcher(client, DispatcherConfig{
		ChainID:   chainID,
		Timeout:   normalized.RequestTimeout,
		RateLimit: normalized.RateLimit,
		RateBurst: normalized.RateBurst,
		Metadata:  normalized.Metadata,
		Logger:    normalized.Logger,
		Metrics:   normalized.Metrics,
		Clock:     normalized.Clock,
	})
	if err != nil {
		return nil, err
	}
	state := newWalletState()
	emitter := newEmitter()
	w := &Wallet{
		cfg:        normalized,
		chainID:    chainID,
		client:     client,
		state:      state,
		dispatcher: dispatcher,
		emitter:    emitter,
		metrics:    normalized.Metrics,
		logger:     normalized.Logger,
	}
	w.provisioner = &provisioner{
		dispatcher: dispatcher,
		keys:       keys,
		network:    normalized.Network,
		state:      state,
		metrics:    normalized.Metrics,
		logger:     normalized.Logger,
		entropy:    o.entropy,
	}
	w.signer = &localSigner{rpc: rpc, keys: keys, network: normalized.Network, state: state, logger: normalized.Logger}
	w.reconciler = &reconciler{
		state:   state,
		keys:    keys,
		network: normalized.Network,
		emitter: emitter,
		metrics: normalized.Metrics,
		logger:  normalized.Logger,
		buffer:  normalized.EventBuffer,
	}
	w.metrics.setState(StateDisconnected)
	return w, nil
}

// ChainID 返回推导出的链 ID。
func (w *Wallet) ChainID() string { return w.chainID }

// Network 返回网络 ID。
func (w *Wallet) Network() string { return w.cfg.Network }

// Emitter 返回对外事件发射点。
func (w *Wallet) Emitter() *Emitter { return w.emitter }

// State 返回当前会话状态。
func (w *Wallet) State() State { return w.state.currentState() }

// Accounts 返回当前已连接账户，无会话时为空。
func (w *Wallet) Accounts() []Account { return w.state.accounts() }

// UpdateRateLimit 热更新签名请求的速率限制。
func (w *Wallet) UpdateRateLimit(rateValue float64) { w.dispatcher.UpdateRateLimit(rateValue) }

func validateContract(params ConnectParams) (Contract, error) {
	if err := validator.ValidateAccountID(params.ContractID); err != nil {
		return Contract{}, fmt.Errorf("%w: %w", ErrInvalidContract, err)
	}
	return Contract{ContractID: params.ContractID, MethodNames: append([]string{}, params.MethodNames...)}, nil
}

// Connect 建立会话并为初始账户授权委托密钥。已有连接账户时直接返回，不重新握手。
// 已有会话但账户为空时先结束旧会话再握手。任何失败都会在返回前完成全量清理。
func (w *Wallet) Connect(ctx context.Context, params ConnectParams) ([]Account, error) {
	contract, err := validateContract(params)
	if err != nil {
		return nil, err
	}
	w.state.mu.Lock()
	if w.state.state == StateConnecting {
		w.state.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	var previous string
	if w.state.session != nil {
		if accounts := ResolveAccounts(w.state.session.Accounts); len(accounts) > 0 {
			w.state.mu.Unlock()
			return accounts, nil
		}
		previous = w.state.session.Topic
	}
	w.state.state = StateConnecting
	w.state.contract = &contract
	w.state.mu.Unlock()
	w.metrics.setState(StateConnecting)

	if previous != "" {
		w.endEmptySession(ctx, previous)
	}

	// 握手前注册订阅，握手应答与启动消费之间到达的事件不会丢失。
	loop := w.reconciler.subscribe(w.client)
	session, err := w.dispatcher.Connect(ctx)
	if err != nil {
		return nil, w.failConnect(ctx, "", err)
	}
	w.state.mu.Lock()
	w.state.session = session
	w.state.mu.Unlock()
	w.reconciler.start(loop)

	initial := accountIDs(ResolveAccounts(session.Accounts))
	if err := w.provisioner.Provision(ctx, session.Topic, contract, initial); err != nil {
		return nil, w.failConnect(ctx, session.Topic, err)
	}

	w.state.mu.Lock()
	if w.state.session == nil {
		w.state.mu.Unlock()
		return nil, fmt.Errorf("%w: session ended during connect", ErrConnectFailed)
	}
	w.state.state = StateConnected
	accounts := ResolveAccounts(w.state.session.Accounts)
	w.state.mu.Unlock()
	w.metrics.setState(StateConnected)
	w.logger.Info("wallet connected", slog.String("topic", session.Topic), slog.Int("accounts", len(accounts)), slog.String("chain_id", w.chainID))
	w.emitter.emit(EventAccountsChanged, accounts)
	return accounts, nil
}

// endEmptySession 结束没有任何账户的旧会话：尽力通知远端，并释放其订阅与密钥。
func (w *Wallet) endEmptySession(ctx context.Context, topic string) {
	if err := w.dispatcher.Disconnect(context.WithoutCancel(ctx), topic); err != nil {
		w.logger.Warn("bridge disconnect of empty session failed", slog.String("topic", topic), slog.Any("err", err))
	}
	ended, err := w.reconciler.teardown(ctx, topic, StateConnecting)
	if err != nil {
		w.logger.Error("cleanup of empty session failed", slog.Any("err", err))
	}
	if ended {
		w.logger.Info("empty session replaced", slog.String("topic", topic))
		w.emitter.emit(EventDisconnected, nil)
	}
}

// failConnect 尽力终止远端会话并执行全量清理，然后返回连接错误。
func (w *Wallet) failConnect(ctx context.Context, topic string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	if topic != "" {
		if err := w.dispatcher.Disconnect(ctx, topic); err != nil {
			w.logger.Warn("bridge disconnect after failed connect", slog.Any("err", err))
		}
	}
	if err := w.reconciler.cleanup(ctx); err != nil {
		w.logger.Error("cleanup after failed connect", slog.Any("err", err))
	}
	w.logger.Warn("wallet connect failed", slog.Any("err", cause))
	return fmt.Errorf("%w: %w", ErrConnectFailed, cause)
}

// Restore 恢复桥接客户端中已存在的会话，清除不再连接账户的密钥并重新注册订阅。
// 客户端不支持恢复或没有活动会话时返回空列表。
func (w *Wallet) Restore(ctx context.Context, params ConnectParams) ([]Account, error) {
	restorer, ok := w.client.(bridge.SessionRestorer)
	if !ok {
		return []Account{}, nil
	}
	contract, err := validateContract(params)
	if err != nil {
		return nil, err
	}
	w.state.mu.Lock()
	if w.state.state != StateDisconnected {
		w.state.mu.Unlock()
		return w.state.accounts(), nil
	}
	w.state.state = StateConnecting
	w.state.mu.Unlock()

	session, err := restorer.ActiveSession(ctx)
	if err != nil || session == nil {
		w.state.setState(StateDisconnected)
		if err != nil {
			return nil, fmt.Errorf("restore session: %w", err)
		}
		return []Account{}, nil
	}

	if err := w.reconciler.adopt(ctx, session, contract); err != nil {
		if cleanupErr := w.reconciler.cleanup(ctx); cleanupErr != nil {
			w.logger.Error("cleanup after failed restore", slog.Any("err", cleanupErr))
		}
		return nil, fmt.Errorf("restore session: %w", err)
	}

	w.reconciler.start(w.reconciler.subscribe(w.client))
	accounts := ResolveAccounts(session.Accounts)
	w.state.setState(StateConnected)
	w.metrics.setState(StateConnected)
	w.logger.Info("wallet session restored", slog.String("topic", session.Topic), slog.Int("accounts", len(accounts)))
	w.emitter.emit(EventAccountsChanged, accounts)
	return accounts, nil
}

// Disconnect 为每个持有委托密钥的账户发送一次批量 DeleteKey 请求，随后终止远端会话并清理。
// DeleteKey 请求失败时返回错误且会话保持连接。请求期间远端已删除会话时，
// 清理与 disconnected 通知由会话删除路径完成，这里不再重复。
func (w *Wallet) Disconnect(ctx context.Context) error {
	view := w.state.view()
	if view.topic == "" {
		return w.reconciler.cleanup(ctx)
	}
	txs, err := w.reconciler.deleteKeyTransactions(ctx, view.accounts)
	if err != nil {
		return err
	}
	if len(txs) > 0 {
		if _, err := w.dispatcher.SignAndSendTransactions(ctx, view.topic, txs); err != nil {
			return err
		}
	}
	if w.state.view().topic != view.topic {
		w.logger.Info("session ended during disconnect", slog.String("topic", view.topic))
		return nil
	}
	var disconnectErr error
	if err := w.dispatcher.Disconnect(ctx, view.topic); err != nil {
		w.logger.Warn("bridge disconnect failed", slog.String("topic", view.topic), slog.Any("err", err))
		disconnectErr = err
	}
	ended, cleanupErr := w.reconciler.teardown(ctx, view.topic, StateDisconnected)
	if ended {
		w.logger.Info("wallet disconnected", slog.String("topic", view.topic))
		w.emitter.emit(EventDisconnected, nil)
	}
	return errors.Join(disconnectErr, cleanupErr)
}

// connectedView 返回可签名的会话快照，否则返回 ErrNotConnected。
func (w *Wallet) connectedView() (sessionView, error) {
	view := w.state.view()
	if view.topic == "" || len(view.accounts) == 0 || view.contract == nil {
		return view, ErrNotConnected
	}
	return view, nil
}

// SignAndSendTransaction 签名并提交单笔交易。signer 缺省为第一个已连接账户，receiver 缺省为合约。
// 合格交易走本地签名（必要时先授权委托密钥），其余交易交由远端批准。
func (w *Wallet) SignAndSendTransaction(ctx context.Context, tx near.Transaction) (json.RawMessage, error) {
	view, err := w.connectedView()
	if err != nil {
		return nil, err
	}
	if err := w.dispatcher.allow(opSignSingle); err != nil {
		return nil, err
	}
	if tx.SignerID == "" {
		tx.SignerID = view.accounts[0].AccountID
	}
	if tx.ReceiverID == "" {
		tx.ReceiverID = view.contract.ContractID
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}
	if !Classify(tx, view.accounts, *view.contract) {
		w.metrics.incRoute("remote", "single")
		return w.dispatcher.SignAndSendTransaction(ctx, view.topic, tx)
	}
	if err := w.provisioner.Provision(ctx, view.topic, *view.contract, []string{tx.SignerID}); err != nil {
		return nil, err
	}
	w.metrics.incRoute("local", "single")
	result := w.signer.SignAndSend(ctx, []near.Transaction{tx})[0]
	return result.Outcome, result.Err
}

// SignAndSendTransactions 签名并提交一批交易。任一交易不合格则整批交由远端批准；
// 否则一次性为缺少密钥的 signer 授权，再按输入顺序本地签名并收集全部结果。
func (w *Wallet) SignAndSendTransactions(ctx context.Context, txs []near.Transaction) ([]SendResult, error) {
	view, err := w.connectedView()
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrInvalidTransaction)
	}
	if err := w.dispatcher.allow(opSignBatch); err != nil {
		return nil, err
	}
	normalized := make([]near.Transaction, len(txs))
	eligible := true
	for i, tx := range txs {
		if tx.SignerID == "" {
			tx.SignerID = view.accounts[0].AccountID
		}
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("%w: transactions[%d]: %w", ErrInvalidTransaction, i, err)
		}
		normalized[i] = tx
		if !Classify(tx, view.accounts, *view.contract) {
			eligible = false
		}
	}
	if !eligible {
		w.metrics.incRoute("remote", "batch")
		raw, err := w.dispatcher.SignAndSendTransactions(ctx, view.topic, normalized)
		if err != nil {
			return nil, err
		}
		return remoteResults(raw, len(normalized)), nil
	}
	signers := make([]string, 0, len(normalized))
	for _, tx := range normalized {
		signers = append(signers, tx.SignerID)
	}
	if err := w.provisioner.Provision(ctx, view.topic, *view.contract, signers); err != nil {
		return nil, err
	}
	w.metrics.incRoute("local", "batch")
	return w.signer.SignAndSend(ctx, normalized), nil
}

// remoteResults 将远端批量结果拆分为逐笔结果；形状不匹配时整体作为单个结果返回。
func remoteResults(raw json.RawMessage, n int) []SendResult {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil && len(items) == n {
		out := make([]SendResult, n)
		for i, item := range items {
			out[i] = SendResult{Outcome: item}
		}
		return out
	}
	return []SendResult{{Outcome: raw}}
}

// Snapshot 是钱包的调试视图。
type Snapshot struct {
	State         State              `json:"state"`
	ChainID       string             `json:"chainId"`
	Network       string             `json:"network"`
	Topic         string             `json:"topic,omitempty"`
	Accounts      []Account          `json:"accounts"`
	Contract      *Contract          `json:"contract,omitempty"`
	DelegatedKeys []string           `json:"delegatedKeys"`
	Dispatcher    DispatcherSnapshot `json:"dispatcher"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Snapshot 汇总会话、委托密钥与远端请求状态。
func (w *Wallet) Snapshot(ctx context.Context) Snapshot {
	view := w.state.view()
	snap := Snapshot{
		State:      view.state,
		ChainID:    w.chainID,
		Network:    w.cfg.Network,
		Topic:      view.topic,
		Accounts:   view.accounts,
		Contract:   view.contract,
		Dispatcher: w.dispatcher.snapshot(),
		Timestamp:  w.cfg.Clock.Now(),
	}
	if snap.Accounts == nil {
		snap.Accounts = []Account{}
	}
	keyed, err := w.reconciler.delegatedAccounts(ctx)
	if err != nil {
		w.logger.Warn("list delegated keys failed", slog.Any("err", err))
	}
	if keyed == nil {
		keyed = []string{}
	}
	snap.DelegatedKeys = keyed
	return snap
}

// Close 停止事件消费但保留会话与密钥，用于进程退出。
func (w *Wallet) Close() {
	w.reconciler.mu.Lock()
	loop := w.reconciler.loop
	w.reconciler.mu.Unlock()
	if loop != nil {
		loop.stop()
	}
}
