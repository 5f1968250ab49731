package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/aegis-sign/bridgewallet/internal/near"
)

// RPC 是链上 RPC 协作方。
type RPC interface {
	ViewAccessKey(ctx context.Context, accountID string, publicKey near.PublicKey) (near.AccessKeyView, error)
	SendTransaction(ctx context.Context, signed *near.SignedTransaction) (json.RawMessage, error)
}

// SendResult 是单笔交易的提交结果。
type SendResult struct {
	Outcome json.RawMessage `json:"outcome,omitempty"`
	Err     error           `json:"-"`
}

// MarshalJSON 将错误渲染为字符串。
func (r SendResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Outcome json.RawMessage `json:"outcome,omitempty"`
		Error   string          `json:"error,omitempty"`
	}{Outcome: r.Outcome}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// localSigner 用委托密钥签名并按输入顺序逐笔提交。
type localSigner struct {
	rpc     RPC
	keys    keystore.KeyStore
	network string
	state   *walletState
	logger  *slog.Logger
}

// nonceCursor 记录同一 (signer, key) 在本批次内已分配的 nonce。
type nonceCursor struct {
	next      uint64
	blockHash near.BlockHash
}

// SignAndSend 收集每笔交易的结果，不因单笔失败而中断。
// 全过程持有 keyGuard 读锁：清除要么在本批次完成后生效，要么在之前生效并使本批次失败。
func (s *localSigner) SignAndSend(ctx context.Context, txs []near.Transaction) []SendResult {
	s.state.keyGuard.RLock()
	defer s.state.keyGuard.RUnlock()

	cursors := make(map[string]*nonceCursor)
	results := make([]SendResult, len(txs))
	for i, tx := range txs {
		outcome, err := s.signAndSendOne(ctx, tx, cursors)
		results[i] = SendResult{Outcome: outcome, Err: err}
		if err != nil {
			s.logger.Warn("local sign and send failed", slog.String("signer", tx.SignerID), slog.Int("index", i), slog.Any("err", err))
		}
	}
	return results
}

func (s *localSigner) signAndSendOne(ctx context.Context, tx near.Transaction, cursors map[string]*nonceCursor) (json.RawMessage, error) {
	if !s.state.hasAccount(tx.SignerID) {
		return nil, fmt.Errorf("%w: %s is no longer connected", ErrKeyRevoked, tx.SignerID)
	}
	key, err := s.keys.GetKey(ctx, s.network, tx.SignerID)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: no delegated key for %s", ErrKeyRevoked, tx.SignerID)
	}
	if err != nil {
		return nil, err
	}
	defer key.Zero()

	pub := key.PublicKey()
	cursorKey := tx.SignerID + "/" + pub.String()
	cursor, ok := cursors[cursorKey]
	if !ok {
		view, err := s.rpc.ViewAccessKey(ctx, tx.SignerID, pub)
		if err != nil {
			return nil, fmt.Errorf("view access key: %w", err)
		}
		cursor = &nonceCursor{next: view.Nonce + 1, blockHash: view.BlockHash}
		cursors[cursorKey] = cursor
	}
	nonce := cursor.next
	cursor.next++

	signed, err := near.SignTransaction(near.SignableTransaction{
		Transaction: tx,
		PublicKey:   pub,
		Nonce:       nonce,
		BlockHash:   cursor.blockHash,
	}, key)
	if err != nil {
		return nil, err
	}
	return s.rpc.SendTransaction(ctx, signed)
}
