package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/bridge/mockbridge"
	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/stretchr/testify/require"
)

func TestConnectProvisionsInitialAccounts(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)

	accounts, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.Equal(t, []Account{{AccountID: "alice.near"}}, accounts)
	require.Equal(t, StateConnected, h.wallet.State())

	connects := h.peer.Connects()
	require.Len(t, connects, 1)
	require.Equal(t, "near:testnet", connects[0].ChainID)
	require.Equal(t, []string{bridge.MethodSignAndSendTransaction, bridge.MethodSignAndSendTransactions}, connects[0].Methods)

	reqs := h.peer.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, testTopic, reqs[0].Topic)
	require.Equal(t, int64(30000), reqs[0].Timeout)
	txs := batchOf(t, reqs[0])
	require.Len(t, txs, 1)
	require.Equal(t, "alice.near", txs[0].SignerID)
	require.Equal(t, "alice.near", txs[0].ReceiverID)
	require.Len(t, txs[0].Actions, 1)
	addKey := txs[0].Actions[0].AddKey
	require.NotNil(t, addKey)
	require.Equal(t, testContract, addKey.AccessKey.Permission.ReceiverID)
	require.Equal(t, []string{"vote"}, addKey.AccessKey.Permission.MethodNames)
	require.False(t, addKey.AccessKey.Permission.FullAccess)

	require.True(t, h.hasKey(t, "alice.near"))
	require.Equal(t, addKey.PublicKey, h.key(t, "alice.near").PublicKey().String())
	require.Equal(t, 1, h.events.count(EventAccountsChanged))
	require.Equal(t, 3, h.peer.Handlers())
}

func TestConnectShortCircuitsWhenAccountsExist(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	accounts, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.Equal(t, []Account{{AccountID: "alice.near"}}, accounts)
	require.Len(t, h.peer.Connects(), 1)
	require.Len(t, h.peer.Requests(), 1)
}

func TestEligibleCallIsSignedLocally(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	outcome, err := h.wallet.SignAndSendTransaction(context.Background(), near.Transaction{
		Actions: []near.Action{near.FunctionCall("vote", nil, "30000000000000", "0")},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"status":{"SuccessValue":""}}`, string(outcome))
	require.Len(t, h.peer.Requests(), 1, "only the AddKey grant reaches the remote signer")

	sent := h.rpc.Sent()
	require.Len(t, sent, 1)
	signed := sent[0]
	require.Equal(t, "alice.near", signed.Transaction.SignerID)
	require.Equal(t, testContract, signed.Transaction.ReceiverID)
	require.Equal(t, uint64(11), signed.Transaction.Nonce)
	require.Equal(t, h.rpc.blockHash, signed.Transaction.BlockHash)

	key := h.key(t, "alice.near").PublicKey()
	require.Equal(t, key, signed.Transaction.PublicKey)
	require.True(t, ed25519.Verify(ed25519.PublicKey(key[:]), signed.Hash[:], signed.Signature[:]))
}

func TestTransferIsEscalatedToRemote(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	h.peer.SetResponder(func(context.Context, bridge.RequestParams) (json.RawMessage, error) {
		return json.RawMessage(`{"transaction":{"hash":"abc"}}`), nil
	})

	outcome, err := h.wallet.SignAndSendTransaction(context.Background(), near.Transaction{
		ReceiverID: "bob.near",
		Actions:    []near.Action{near.Transfer("1000000")},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"transaction":{"hash":"abc"}}`, string(outcome))
	require.Empty(t, h.rpc.Sent())

	reqs := h.peer.Requests()
	require.Len(t, reqs, 2)
	req := reqs[1]
	require.Equal(t, bridge.MethodSignAndSendTransaction, req.Method)
	require.Equal(t, int64(30000), req.Timeout)
	require.Equal(t, "near:testnet", req.ChainID)
	tx, ok := req.Params.(near.Transaction)
	require.True(t, ok)
	require.Equal(t, "alice.near", tx.SignerID)
	require.Equal(t, near.ActionTransfer, tx.Actions[0].Type)
}

func TestSessionUpdatePurgesRemovedAccounts(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near", "bob.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.True(t, h.hasKey(t, "alice.near"))
	require.True(t, h.hasKey(t, "bob.near"))

	updated := sessionWith("alice.near")
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})

	require.Eventually(t, func() bool {
		return h.events.count(EventAccountsChanged) == 2
	}, time.Second, 5*time.Millisecond)
	require.False(t, h.hasKey(t, "bob.near"))
	require.True(t, h.hasKey(t, "alice.near"))
	require.Equal(t, []Account{{AccountID: "alice.near"}}, h.events.lastAccounts())
	require.Equal(t, []Account{{AccountID: "alice.near"}}, h.wallet.Accounts())
	require.Len(t, h.peer.Requests(), 1, "session updates never provision")
}

func TestSessionUpdateForOtherTopicIsIgnored(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	other := bridge.Session{Topic: "other", Accounts: nil}
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: "other", Session: &other})
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionDeleted, Topic: "other"})
	// 同一通道按序处理，后续事件生效说明前两个已被消费。
	updated := sessionWith("alice.near", "carol.near")
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})

	require.Eventually(t, func() bool {
		return len(h.wallet.Accounts()) == 2
	}, time.Second, 5*time.Millisecond)
	require.True(t, h.hasKey(t, "alice.near"))
	require.Equal(t, StateConnected, h.wallet.State())
	require.Zero(t, h.events.count(EventDisconnected))
}

func TestDisconnectRevokesKeysAndCleansUp(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	pub := h.key(t, "alice.near").PublicKey()

	require.NoError(t, h.wallet.Disconnect(context.Background()))

	reqs := h.peer.Requests()
	require.Len(t, reqs, 2)
	txs := batchOf(t, reqs[1])
	require.Len(t, txs, 1)
	require.Equal(t, "alice.near", txs[0].SignerID)
	require.Equal(t, "alice.near", txs[0].ReceiverID)
	require.Equal(t, near.ActionDeleteKey, txs[0].Actions[0].Type)
	require.Equal(t, pub.String(), txs[0].Actions[0].DeleteKey.PublicKey)

	disconnects := h.peer.Disconnects()
	require.Len(t, disconnects, 1)
	require.Equal(t, testTopic, disconnects[0].Topic)
	require.Equal(t, bridge.Reason{Code: 5900, Message: "User disconnected"}, disconnects[0].Reason)

	assertCleanedUp(t, h)
	require.Equal(t, 1, h.events.count(EventDisconnected))
}

func TestDisconnectKeepsSessionWhenRevocationRejected(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	h.peer.SetResponder(mockbridge.Reject(4001, "User rejected"))

	err = h.wallet.Disconnect(context.Background())
	var remoteErr *bridge.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, StateConnected, h.wallet.State())
	require.True(t, h.hasKey(t, "alice.near"))
	require.Empty(t, h.peer.Disconnects())
}

func TestDisconnectSkipsRevocationWithoutKeys(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.NoError(t, h.mem.Clear(context.Background()))

	require.NoError(t, h.wallet.Disconnect(context.Background()))
	require.Len(t, h.peer.Requests(), 1)
	require.Len(t, h.peer.Disconnects(), 1)
	assertCleanedUp(t, h)
}

func TestSessionDeletedRunsCleanup(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near", "bob.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	h.peer.Emit(bridge.Event{Name: bridge.EventSessionDeleted, Topic: testTopic})
	require.Eventually(t, func() bool {
		return h.events.count(EventDisconnected) == 1
	}, time.Second, 5*time.Millisecond)
	assertCleanedUp(t, h)
	require.Empty(t, h.peer.Disconnects())
}

func assertCleanedUp(t *testing.T, h *harness) {
	t.Helper()
	keyed, err := h.mem.Accounts(context.Background(), testNetwork)
	require.NoError(t, err)
	require.Empty(t, keyed)
	require.Zero(t, h.peer.Handlers())
	require.Empty(t, h.wallet.Accounts())
	require.Equal(t, StateDisconnected, h.wallet.State())
	h.wallet.state.mu.RLock()
	defer h.wallet.state.mu.RUnlock()
	require.Nil(t, h.wallet.state.session)
	require.Empty(t, h.wallet.state.subs)
}

func TestConnectFailureRunsCleanup(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	require.NoError(t, h.mem.SetKey(context.Background(), testNetwork, "stale.near", mustKey(t)))
	h.peer.FailConnect(errors.New("pairing expired"))

	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.ErrorIs(t, err, ErrConnectFailed)
	assertCleanedUp(t, h)
	require.Zero(t, h.events.count(EventDisconnected))
}

func TestConnectProvisioningRejectionDiscardsKeys(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near", "bob.near"), nil)
	h.peer.SetResponder(mockbridge.Reject(4001, "User rejected"))

	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.ErrorIs(t, err, ErrConnectFailed)
	require.ErrorIs(t, err, ErrProvisionFailed)
	var remoteErr *bridge.RemoteError
	require.ErrorAs(t, err, &remoteErr)

	assertCleanedUp(t, h)
	require.Len(t, h.peer.Disconnects(), 1)
}

func TestLazyProvisioningFailureLeavesSessionIntact(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	updated := sessionWith("alice.near", "carol.near")
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})
	require.Eventually(t, func() bool { return len(h.wallet.Accounts()) == 2 }, time.Second, 5*time.Millisecond)
	require.False(t, h.hasKey(t, "carol.near"))

	h.peer.SetResponder(mockbridge.Reject(4001, "User rejected"))
	_, err = h.wallet.SignAndSendTransaction(context.Background(), voteCall("carol.near"))
	require.ErrorIs(t, err, ErrProvisionFailed)

	require.False(t, h.hasKey(t, "carol.near"))
	require.True(t, h.hasKey(t, "alice.near"))
	require.Equal(t, StateConnected, h.wallet.State())
	require.Empty(t, h.rpc.Sent())
}

func TestLazyProvisioningForAddedAccount(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	updated := sessionWith("alice.near", "carol.near")
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})
	require.Eventually(t, func() bool { return len(h.wallet.Accounts()) == 2 }, time.Second, 5*time.Millisecond)

	_, err = h.wallet.SignAndSendTransaction(context.Background(), voteCall("carol.near"))
	require.NoError(t, err)
	reqs := h.peer.Requests()
	require.Len(t, reqs, 2)
	txs := batchOf(t, reqs[1])
	require.Len(t, txs, 1)
	require.Equal(t, "carol.near", txs[0].SignerID)
	require.True(t, h.hasKey(t, "carol.near"))
	require.Len(t, h.rpc.Sent(), 1)
}

func TestSignRequiresConnection(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)

	_, err := h.wallet.SignAndSendTransaction(context.Background(), voteCall("alice.near"))
	require.ErrorIs(t, err, ErrNotConnected)
	_, err = h.wallet.SignAndSendTransactions(context.Background(), []near.Transaction{voteCall("alice.near")})
	require.ErrorIs(t, err, ErrNotConnected)
	require.Empty(t, h.peer.Requests())
	require.Empty(t, h.rpc.Sent())
}

func TestRemoteRejectionSurfacesUnchanged(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	h.peer.SetResponder(mockbridge.Reject(4001, "User rejected"))

	_, err = h.wallet.SignAndSendTransaction(context.Background(), near.Transaction{
		ReceiverID: "bob.near",
		Actions:    []near.Action{near.Transfer("5")},
	})
	var remoteErr *bridge.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, 4001, remoteErr.Code)
	require.Equal(t, StateConnected, h.wallet.State())
	require.True(t, h.hasKey(t, "alice.near"))
	require.Len(t, h.peer.Requests(), 2, "no retry")
}

func TestRemoteTimeout(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), func(cfg *Config) {
		cfg.RequestTimeout = 50 * time.Millisecond
	})
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.peer.SetResponder(func(context.Context, bridge.RequestParams) (json.RawMessage, error) {
		<-release
		return nil, nil
	})

	start := time.Now()
	_, err = h.wallet.SignAndSendTransaction(context.Background(), near.Transaction{
		ReceiverID: "bob.near",
		Actions:    []near.Action{near.Transfer("5")},
	})
	require.ErrorIs(t, err, ErrRequestTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, int64(50), h.peer.Requests()[1].Timeout)
	require.Equal(t, StateConnected, h.wallet.State())
}

func TestRateLimitRejectsBeforeNetwork(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), func(cfg *Config) {
		cfg.RateLimit = 0.001
	})
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	transfer := near.Transaction{ReceiverID: "bob.near", Actions: []near.Action{near.Transfer("5")}}
	_, err = h.wallet.SignAndSendTransaction(context.Background(), transfer)
	require.NoError(t, err)
	_, err = h.wallet.SignAndSendTransaction(context.Background(), transfer)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Len(t, h.peer.Requests(), 2)

	h.wallet.UpdateRateLimit(0)
	_, err = h.wallet.SignAndSendTransaction(context.Background(), transfer)
	require.NoError(t, err)
}

func TestInvalidTransactionRejected(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	_, err = h.wallet.SignAndSendTransaction(context.Background(), near.Transaction{Actions: nil})
	require.ErrorIs(t, err, ErrInvalidTransaction)
	_, err = h.wallet.SignAndSendTransactions(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidTransaction)
	require.Len(t, h.peer.Requests(), 1)
}

func TestInvalidChainID(t *testing.T) {
	_, err := New(mockbridge.NewPeer(sessionWith("alice.near")), newStubRPC(), keystore.NewMemory("x"), Config{Network: "localnet"})
	require.ErrorIs(t, err, near.ErrInvalidChainID)

	w, err := New(mockbridge.NewPeer(sessionWith("alice.near")), newStubRPC(), keystore.NewMemory("x"), Config{Network: "localnet", ChainID: "near:localnet"})
	require.NoError(t, err)
	require.Equal(t, "near:localnet", w.ChainID())
}

func TestBatchLocalSigningProvisionsOnceAndKeepsOrder(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near", "bob.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.NoError(t, h.mem.RemoveKey(context.Background(), testNetwork, "bob.near"))

	results, err := h.wallet.SignAndSendTransactions(context.Background(), []near.Transaction{
		voteCall("alice.near"),
		voteCall("bob.near"),
		voteCall(""),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Err)
	}

	reqs := h.peer.Requests()
	require.Len(t, reqs, 2)
	grant := batchOf(t, reqs[1])
	require.Len(t, grant, 1)
	require.Equal(t, "bob.near", grant[0].SignerID)

	sent := h.rpc.Sent()
	require.Len(t, sent, 3)
	require.Equal(t, "alice.near", sent[0].Transaction.SignerID)
	require.Equal(t, "bob.near", sent[1].Transaction.SignerID)
	require.Equal(t, "alice.near", sent[2].Transaction.SignerID)
	require.Equal(t, uint64(11), sent[0].Transaction.Nonce)
	require.Equal(t, uint64(11), sent[1].Transaction.Nonce)
	require.Equal(t, uint64(12), sent[2].Transaction.Nonce)
}

func TestBatchWithIneligibleTransactionGoesRemote(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	h.peer.SetResponder(func(context.Context, bridge.RequestParams) (json.RawMessage, error) {
		return json.RawMessage(`[{"id":1},{"id":2}]`), nil
	})

	results, err := h.wallet.SignAndSendTransactions(context.Background(), []near.Transaction{
		voteCall("alice.near"),
		{ReceiverID: "bob.near", Actions: []near.Action{near.Transfer("1")}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.JSONEq(t, `{"id":2}`, string(results[1].Outcome))
	require.Empty(t, h.rpc.Sent())

	reqs := h.peer.Requests()
	require.Len(t, reqs, 2)
	txs := batchOf(t, reqs[1])
	require.Len(t, txs, 2)
	require.Equal(t, "alice.near", txs[1].SignerID)
	require.Equal(t, near.ActionFunctionCall, txs[0].Actions[0].Type)
}

func TestBatchCollectsEveryResult(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near", "bob.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	h.rpc.failFor["alice.near"] = errors.New("InvalidNonce")

	results, err := h.wallet.SignAndSendTransactions(context.Background(), []near.Transaction{
		voteCall("alice.near"),
		voteCall("bob.near"),
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	require.Len(t, h.rpc.Sent(), 1)
}

// hookStore 在读取密钥后执行回调，用于构造与会话事件的交错。
type hookStore struct {
	*keystore.Memory
	once     sync.Once
	account  string
	afterGet func()
}

func (s *hookStore) GetKey(ctx context.Context, network, account string) (*near.KeyPair, error) {
	kp, err := s.Memory.GetKey(ctx, network, account)
	if account == s.account && s.afterGet != nil {
		s.once.Do(s.afterGet)
	}
	return kp, err
}

func TestPurgeDuringLocalSignFails(t *testing.T) {
	peer := mockbridge.NewPeer(sessionWith("alice.near", "bob.near"))
	mem := keystore.NewMemory("test")
	store := &hookStore{Memory: mem}
	h := newHarnessWith(t, peer, mem, store, nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.True(t, h.hasKey(t, "bob.near"))

	store.account = "bob.near"
	store.afterGet = func() {
		updated := sessionWith("alice.near")
		peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})
		require.Eventually(t, func() bool { return !h.hasKey(t, "bob.near") }, time.Second, 5*time.Millisecond)
	}

	_, err = h.wallet.SignAndSendTransaction(context.Background(), voteCall("bob.near"))
	require.ErrorIs(t, err, ErrKeyRevoked)
	require.Empty(t, h.rpc.Sent())
	require.False(t, h.hasKey(t, "bob.near"))
}

func TestProvisioningRacingRemovalPersistsNoStaleKey(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	added := sessionWith("alice.near", "bob.near")
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &added})
	require.Eventually(t, func() bool { return len(h.wallet.Accounts()) == 2 }, time.Second, 5*time.Millisecond)

	h.peer.SetResponder(func(ctx context.Context, req bridge.RequestParams) (json.RawMessage, error) {
		removed := sessionWith("alice.near")
		h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &removed})
		if !waitUntil(func() bool { return len(h.wallet.Accounts()) == 1 }) {
			return nil, errors.New("session update not applied")
		}
		return json.RawMessage(`{}`), nil
	})

	_, err = h.wallet.SignAndSendTransaction(context.Background(), voteCall("bob.near"))
	require.ErrorIs(t, err, ErrKeyRevoked)
	require.False(t, h.hasKey(t, "bob.near"))
	require.True(t, h.hasKey(t, "alice.near"))
	require.Empty(t, h.rpc.Sent())
}

func TestRestoreResumesSessionAndPurgesStaleKeys(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	ctx := context.Background()
	active := sessionWith("alice.near")
	h.peer.SetActiveSession(&active)
	require.NoError(t, h.mem.SetKey(ctx, testNetwork, "alice.near", mustKey(t)))
	require.NoError(t, h.mem.SetKey(ctx, testNetwork, "dave.near", mustKey(t)))

	accounts, err := h.wallet.Restore(ctx, testConnect)
	require.NoError(t, err)
	require.Equal(t, []Account{{AccountID: "alice.near"}}, accounts)
	require.Equal(t, StateConnected, h.wallet.State())
	require.True(t, h.hasKey(t, "alice.near"))
	require.False(t, h.hasKey(t, "dave.near"))
	require.Equal(t, 3, h.peer.Handlers())
	require.Empty(t, h.peer.Connects())
	require.Equal(t, 1, h.events.count(EventAccountsChanged))

	_, err = h.wallet.SignAndSendTransaction(ctx, voteCall("alice.near"))
	require.NoError(t, err)
	require.Empty(t, h.peer.Requests())
}

func TestRestoreWithoutSession(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	accounts, err := h.wallet.Restore(context.Background(), testConnect)
	require.NoError(t, err)
	require.Empty(t, accounts)
	require.Equal(t, StateDisconnected, h.wallet.State())
}

func TestSnapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, sessionWith("alice.near"), func(cfg *Config) {
		cfg.Clock = fixedClock{now: now}
		cfg.RateLimit = 5
	})
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	snap := h.wallet.Snapshot(context.Background())
	require.Equal(t, StateConnected, snap.State)
	require.Equal(t, testTopic, snap.Topic)
	require.Equal(t, []string{"alice.near"}, snap.DelegatedKeys)
	require.Equal(t, testContract, snap.Contract.ContractID)
	require.Equal(t, now, snap.Timestamp)
	require.Equal(t, uint64(2), snap.Dispatcher.Total)
	require.Equal(t, float64(5), snap.Dispatcher.RateLimit)
}

func mustKey(t *testing.T) *near.KeyPair {
	t.Helper()
	kp, err := near.GenerateKeyPair(nil)
	require.NoError(t, err)
	return kp
}

func TestSendResultJSON(t *testing.T) {
	raw, err := json.Marshal([]SendResult{
		{Outcome: json.RawMessage(`{"ok":true}`)},
		{Err: ErrKeyRevoked},
	})
	require.NoError(t, err)
	require.JSONEq(t, `[{"outcome":{"ok":true}},{"error":"`+ErrKeyRevoked.Error()+`"}]`, string(raw))
}
