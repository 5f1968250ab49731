package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/bridge/mockbridge"
	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/stretchr/testify/require"
)

func TestSessionDeletedDuringDisconnectEndsSessionOnce(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	h.peer.SetResponder(func(_ context.Context, req bridge.RequestParams) (json.RawMessage, error) {
		h.peer.Emit(bridge.Event{Name: bridge.EventSessionDeleted, Topic: req.Topic})
		if !waitUntil(func() bool { return h.wallet.State() == StateDisconnected }) {
			return nil, errors.New("session deletion not applied")
		}
		return json.RawMessage(`{}`), nil
	})

	require.NoError(t, h.wallet.Disconnect(context.Background()))
	require.Len(t, h.peer.Requests(), 2)
	require.Empty(t, h.peer.Disconnects(), "deleted topic is not disconnected again")
	require.Equal(t, 1, h.events.count(EventDisconnected))
	assertCleanedUp(t, h)
}

func TestDisconnectAfterRemoteDeleteIsNoop(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	h.peer.Emit(bridge.Event{Name: bridge.EventSessionDeleted, Topic: testTopic})
	require.Eventually(t, func() bool {
		return h.wallet.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.wallet.Disconnect(context.Background()))
	require.Equal(t, 1, h.events.count(EventDisconnected))
	require.Empty(t, h.peer.Disconnects())
}

func TestConnectReplacesEmptySession(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near"), nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.Equal(t, 3, h.peer.Handlers())

	empty := bridge.Session{Topic: testTopic}
	h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &empty})
	require.Eventually(t, func() bool {
		return h.events.count(EventAccountsChanged) == 2
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, h.wallet.Accounts())

	accounts, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.Equal(t, []Account{{AccountID: "alice.near"}}, accounts)
	require.Equal(t, StateConnected, h.wallet.State())

	require.Len(t, h.peer.Connects(), 2)
	disconnects := h.peer.Disconnects()
	require.Len(t, disconnects, 1)
	require.Equal(t, testTopic, disconnects[0].Topic)
	require.Equal(t, 1, h.events.count(EventDisconnected))
	require.Equal(t, 3, h.peer.Handlers())
	h.wallet.state.mu.RLock()
	subs := len(h.wallet.state.subs)
	h.wallet.state.mu.RUnlock()
	require.Equal(t, 3, subs)
	require.True(t, h.hasKey(t, "alice.near"))
}

// flakyRemoveStore 让指定账户的前 failures 次 RemoveKey 失败。
type flakyRemoveStore struct {
	*keystore.Memory
	mu       sync.Mutex
	account  string
	failures int
}

func (s *flakyRemoveStore) RemoveKey(ctx context.Context, network, account string) error {
	s.mu.Lock()
	fail := account == s.account && s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("storage unavailable")
	}
	return s.Memory.RemoveKey(ctx, network, account)
}

func staleAccounts(w *Wallet) []string {
	w.state.keyGuard.RLock()
	defer w.state.keyGuard.RUnlock()
	return sortedKeys(w.reconciler.stale)
}

func TestFailedPurgeRetriedOnNextUpdate(t *testing.T) {
	peer := mockbridge.NewPeer(sessionWith("alice.near", "bob.near"))
	mem := keystore.NewMemory("test")
	store := &flakyRemoveStore{Memory: mem, account: "bob.near", failures: 1}
	h := newHarnessWith(t, peer, mem, store, nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.True(t, h.hasKey(t, "bob.near"))

	updated := sessionWith("alice.near")
	peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})
	require.Eventually(t, func() bool {
		return h.events.count(EventAccountsChanged) == 2
	}, time.Second, 5*time.Millisecond)
	require.True(t, h.hasKey(t, "bob.near"))
	require.Equal(t, []string{"bob.near"}, staleAccounts(h.wallet))

	again := sessionWith("alice.near")
	peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &again})
	require.Eventually(t, func() bool {
		return h.events.count(EventAccountsChanged) == 3
	}, time.Second, 5*time.Millisecond)
	require.False(t, h.hasKey(t, "bob.near"))
	require.True(t, h.hasKey(t, "alice.near"))
	require.Empty(t, staleAccounts(h.wallet))
}

func TestFailedPurgeForgottenWhenAccountReturns(t *testing.T) {
	peer := mockbridge.NewPeer(sessionWith("alice.near", "bob.near"))
	mem := keystore.NewMemory("test")
	store := &flakyRemoveStore{Memory: mem, account: "bob.near", failures: 1}
	h := newHarnessWith(t, peer, mem, store, nil)
	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)

	updated := sessionWith("alice.near")
	peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &updated})
	back := sessionWith("alice.near", "bob.near")
	peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: testTopic, Session: &back})
	require.Eventually(t, func() bool {
		return h.events.count(EventAccountsChanged) == 3
	}, time.Second, 5*time.Millisecond)
	require.True(t, h.hasKey(t, "bob.near"))
	require.Empty(t, staleAccounts(h.wallet))
}

func TestUpdateDuringHandshakeIsApplied(t *testing.T) {
	h := newHarness(t, sessionWith("alice.near", "bob.near"), nil)
	h.peer.OnConnect(func(s bridge.Session) {
		updated := sessionWith("alice.near")
		h.peer.Emit(bridge.Event{Name: bridge.EventSessionUpdated, Topic: s.Topic, Session: &updated})
	})

	_, err := h.wallet.Connect(context.Background(), testConnect)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		accounts := h.wallet.Accounts()
		return len(accounts) == 1 && accounts[0].AccountID == "alice.near"
	}, time.Second, 5*time.Millisecond)
	require.False(t, h.hasKey(t, "bob.near"))
	require.True(t, h.hasKey(t, "alice.near"))
	require.Equal(t, StateConnected, h.wallet.State())
	require.Equal(t, 3, h.peer.Handlers())
}
