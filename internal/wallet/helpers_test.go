package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/bridge/mockbridge"
	"github.com/aegis-sign/bridgewallet/internal/keystore"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testTopic    = "topic-1"
	testNetwork  = "testnet"
	testContract = "guest-book.testnet"
)

var testConnect = ConnectParams{ContractID: testContract, MethodNames: []string{"vote"}}

func triple(account string) string { return "near:testnet:" + account }

func sessionWith(accounts ...string) bridge.Session {
	ids := make([]string, len(accounts))
	for i, a := range accounts {
		ids[i] = triple(a)
	}
	return bridge.Session{Topic: testTopic, Accounts: ids}
}

type stubRPC struct {
	mu        sync.Mutex
	nonce     uint64
	blockHash near.BlockHash
	sent      []*near.SignedTransaction
	failFor   map[string]error
	views     int
}

func newStubRPC() *stubRPC {
	return &stubRPC{nonce: 10, blockHash: near.BlockHash{1, 2, 3}, failFor: map[string]error{}}
}

func (s *stubRPC) ViewAccessKey(ctx context.Context, accountID string, pk near.PublicKey) (near.AccessKeyView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views++
	return near.AccessKeyView{Nonce: s.nonce, BlockHash: s.blockHash}, nil
}

func (s *stubRPC) SendTransaction(ctx context.Context, signed *near.SignedTransaction) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[signed.Transaction.SignerID]; err != nil {
		return nil, err
	}
	s.sent = append(s.sent, signed)
	return json.RawMessage(`{"status":{"SuccessValue":""}}`), nil
}

func (s *stubRPC) Sent() []*near.SignedTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*near.SignedTransaction(nil), s.sent...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	last   []Account
}

func (r *recorder) attach(e *Emitter) {
	e.On(EventAccountsChanged, func(payload any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, EventAccountsChanged)
		r.last = payload.([]Account)
	})
	e.On(EventDisconnected, func(any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, EventDisconnected)
	})
}

func (r *recorder) count(evt Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == evt {
			n++
		}
	}
	return n
}

func (r *recorder) lastAccounts() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Account(nil), r.last...)
}

type harness struct {
	wallet *Wallet
	peer   *mockbridge.Peer
	keys   keystore.KeyStore
	mem    *keystore.Memory
	rpc    *stubRPC
	events *recorder
}

func newHarness(t *testing.T, session bridge.Session, mutate func(*Config)) *harness {
	t.Helper()
	peer := mockbridge.NewPeer(session)
	mem := keystore.NewMemory("test")
	return newHarnessWith(t, peer, mem, mem, mutate)
}

func newHarnessWith(t *testing.T, peer *mockbridge.Peer, mem *keystore.Memory, keys keystore.KeyStore, mutate func(*Config)) *harness {
	t.Helper()
	cfg := Config{
		WalletID: "test",
		Network:  testNetwork,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rpc := newStubRPC()
	w, err := New(peer, rpc, keys, cfg)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	rec := &recorder{}
	rec.attach(w.Emitter())
	return &harness{wallet: w, peer: peer, keys: keys, mem: mem, rpc: rpc, events: rec}
}

func (h *harness) hasKey(t *testing.T, account string) bool {
	t.Helper()
	_, err := h.mem.GetKey(context.Background(), testNetwork, account)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func (h *harness) key(t *testing.T, account string) *near.KeyPair {
	t.Helper()
	kp, err := h.mem.GetKey(context.Background(), testNetwork, account)
	require.NoError(t, err)
	return kp
}

func batchOf(t *testing.T, req bridge.RequestParams) []near.Transaction {
	t.Helper()
	require.Equal(t, bridge.MethodSignAndSendTransactions, req.Method)
	params, ok := req.Params.(batchParams)
	require.True(t, ok, "unexpected params type %T", req.Params)
	return params.Transactions
}

func voteCall(signer string) near.Transaction {
	return near.Transaction{
		SignerID:   signer,
		ReceiverID: testContract,
		Actions:    []near.Action{near.FunctionCall("vote", json.RawMessage(`{"id":1}`), "30000000000000", "0")},
	}
}

// waitUntil 在非测试 goroutine 中轮询条件。
func waitUntil(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
