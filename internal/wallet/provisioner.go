package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"golang.org/x/sync/singleflight"
)

// provisioner 为缺少委托密钥的账户生成密钥并一次性请求远端授权。
type provisioner struct {
	dispatcher *Dispatcher
	keys       keystore.KeyStore
	network    string
	state      *walletState
	metrics    *Metrics
	logger     *slog.Logger
	entropy    io.Reader

	group singleflight.Group
	// mu 串行化不同账户集合的授权，避免同一账户被重复授权。
	mu sync.Mutex
}

// missing 返回尚无密钥的账户，保持输入顺序并去重。
func (p *provisioner) missing(ctx context.Context, accounts []string) ([]string, error) {
	seen := make(map[string]struct{}, len(accounts))
	var out []string
	for _, id := range accounts {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		key, err := p.keys.GetKey(ctx, p.network, id)
		switch {
		case err == nil:
			key.Zero()
		case errors.Is(err, keystore.ErrKeyNotFound):
			out = append(out, id)
		default:
			return nil, fmt.Errorf("lookup key for %s: %w", id, err)
		}
	}
	return out, nil
}

// Provision 确保 accounts 中每个账户都持有委托密钥。相同账户集合的并发调用会被合并。
func (p *provisioner) Provision(ctx context.Context, topic string, contract Contract, accounts []string) error {
	pending, err := p.missing(ctx, accounts)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	sorted := append([]string(nil), pending...)
	sort.Strings(sorted)
	_, err, _ = p.group.Do(strings.Join(sorted, ","), func() (interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, p.provisionLocked(ctx, topic, contract, pending)
	})
	return err
}

func (p *provisioner) provisionLocked(ctx context.Context, topic string, contract Contract, accounts []string) error {
	pending, err := p.missing(ctx, accounts)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	pairs := make(map[string]*near.KeyPair, len(pending))
	discard := func() {
		for _, kp := range pairs {
			kp.Zero()
		}
	}
	txs := make([]near.Transaction, 0, len(pending))
	for _, id := range pending {
		kp, err := near.GenerateKeyPair(p.entropy)
		if err != nil {
			discard()
			return fmt.Errorf("%w: %w", ErrProvisionFailed, err)
		}
		pairs[id] = kp
		txs = append(txs, near.Transaction{
			SignerID:   id,
			ReceiverID: id,
			Actions: []near.Action{near.AddKey(kp.PublicKey(), near.AccessKeyPermission{
				ReceiverID:  contract.ContractID,
				MethodNames: append([]string{}, contract.MethodNames...),
			})},
		})
	}

	if _, err := p.dispatcher.SignAndSendTransactions(ctx, topic, txs); err != nil {
		discard()
		p.metrics.incProvision("rejected")
		p.logger.Warn("access key provisioning failed", slog.Int("accounts", len(pending)), slog.Any("err", err))
		return fmt.Errorf("%w: %w", ErrProvisionFailed, err)
	}
	if err := p.persist(ctx, pending, pairs); err != nil {
		discard()
		p.metrics.incProvision("persist_failed")
		return fmt.Errorf("%w: %w", ErrProvisionFailed, err)
	}
	discard()
	p.metrics.incProvision("success")
	return nil
}

// persist 只保存仍处于会话中的账户的密钥；任一写入失败则回滚本次已写入的条目。
func (p *provisioner) persist(ctx context.Context, order []string, pairs map[string]*near.KeyPair) error {
	p.state.keyGuard.Lock()
	defer p.state.keyGuard.Unlock()

	connected := p.state.accounts()
	var written []string
	for _, id := range order {
		if !containsAccount(connected, id) {
			p.logger.Info("dropping key for account that left the session", slog.String("account", id))
			continue
		}
		if err := p.keys.SetKey(ctx, p.network, id, pairs[id]); err != nil {
			for _, w := range written {
				if rmErr := p.keys.RemoveKey(ctx, p.network, w); rmErr != nil {
					p.logger.Error("rollback provisioned key failed", slog.String("account", w), slog.Any("err", rmErr))
				}
			}
			return fmt.Errorf("persist key for %s: %w", id, err)
		}
		written = append(written, id)
	}
	p.logger.Info("access keys provisioned", slog.Int("accounts", len(written)), slog.String("network", p.network))
	return nil
}
