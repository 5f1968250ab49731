// Package keystore 持久化按 (network, account) 存放的受限访问密钥。
package keystore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/aegis-sign/bridgewallet/internal/near"
)

// ErrKeyNotFound 表示该账户没有委托密钥。
var ErrKeyNotFound = errors.New("keystore: key not found")

// KeyStore 是委托密钥存储。所有操作均以账户为粒度。
// SetKey 必须复制密钥材料，GetKey 返回副本：调用方会在使用后 Zero。
type KeyStore interface {
	GetKey(ctx context.Context, network, account string) (*near.KeyPair, error)
	SetKey(ctx context.Context, network, account string, key *near.KeyPair) error
	RemoveKey(ctx context.Context, network, account string) error
	Clear(ctx context.Context) error
	Accounts(ctx context.Context, network string) ([]string, error)
}

// Prefix 返回钱包 id 对应的命名空间前缀。
func Prefix(walletID string) string {
	return "bridge-wallet:" + walletID + ":keystore:"
}

func entryKey(prefix, network, account string) string {
	return prefix + account + ":" + network
}

// accountsFor 从带前缀的条目中筛出 network 下的账户。
func accountsFor(prefix, network string, keys []string) []string {
	suffix := ":" + network
	var out []string
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		account, ok := strings.CutSuffix(rest, suffix)
		if !ok || account == "" {
			continue
		}
		out = append(out, account)
	}
	sort.Strings(out)
	return out
}

func decodeEntry(raw string) (*near.KeyPair, error) {
	return near.ParseKeyPair(raw)
}
