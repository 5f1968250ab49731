package wallet

import (
	"testing"

	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/stretchr/testify/require"
)

func TestResolveAccounts(t *testing.T) {
	got := ResolveAccounts([]string{
		"near:testnet:alice.near",
		"near:testnet",
		"near:testnet:",
		"near:mainnet:bob.near:extra",
	})
	require.Equal(t, []Account{{AccountID: "alice.near"}, {AccountID: "bob.near:extra"}}, got)
	require.Empty(t, ResolveAccounts(nil))
}


func TestClassify(t *testing.T) {
	accounts := []Account{{AccountID: "alice.near"}}
	contract := Contract{ContractID: testContract, MethodNames: []string{"vote"}}
	call := func(method, deposit string) near.Action {
		return near.FunctionCall(method, nil, "30000000000000", deposit)
	}

	cases := []struct {
		name string
		tx   near.Transaction
		want bool
	}{
		{"eligible", near.Transaction{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{call("vote", "0")}}, true},
		{"unknown signer", near.Transaction{SignerID: "bob.near", ReceiverID: testContract, Actions: []near.Action{call("vote", "0")}}, false},
		{"other receiver", near.Transaction{SignerID: "alice.near", ReceiverID: "other.near", Actions: []near.Action{call("vote", "0")}}, false},
		{"method not allowed", near.Transaction{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{call("withdraw", "0")}}, false},
		{"attached deposit", near.Transaction{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{call("vote", "1")}}, false},
		{"mixed actions", near.Transaction{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{call("vote", "0"), near.Transfer("1")}}, false},
		{"no actions", near.Transaction{SignerID: "alice.near", ReceiverID: testContract}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.tx, accounts, contract))
		})
	}

	anyMethod := Contract{ContractID: testContract}
	require.True(t, Classify(near.Transaction{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{call("withdraw", "0")}}, accounts, anyMethod))
}

func TestClassifyLeavesInputsUntouched(t *testing.T) {
	accounts := []Account{{AccountID: "alice.near"}, {AccountID: "bob.near"}}
	contract := Contract{ContractID: testContract, MethodNames: []string{"vote"}}
	txs := []near.Transaction{
		voteCall("alice.near"),
		voteCall("carol.near"),
		{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{near.Transfer("1")}},
	}
	wantTxs := []near.Transaction{
		voteCall("alice.near"),
		voteCall("carol.near"),
		{SignerID: "alice.near", ReceiverID: testContract, Actions: []near.Action{near.Transfer("1")}},
	}
	wantAccounts := append([]Account(nil), accounts...)
	wantContract := Contract{ContractID: testContract, MethodNames: []string{"vote"}}

	for _, tx := range txs {
		first := Classify(tx, accounts, contract)
		require.Equal(t, first, Classify(tx, accounts, contract))
	}
	require.Equal(t, []bool{true, false, false}, []bool{
		Classify(txs[0], accounts, contract),
		Classify(txs[1], accounts, contract),
		Classify(txs[2], accounts, contract),
	})
	require.Equal(t, wantTxs, txs)
	require.Equal(t, wantAccounts, accounts)
	require.Equal(t, wantContract, contract)
}
