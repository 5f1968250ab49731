package keystore

import (
	"context"
	"strings"
	"sync"

	"github.com/aegis-sign/bridgewallet/internal/near"
)

// Memory 是进程内 KeyStore，多个命名空间可共享同一个 backing map。
type Memory struct {
	prefix string

	mu      *sync.Mutex
	entries map[string]string
}

// NewMemory 构造指定钱包 id 的内存存储。
func NewMemory(walletID string) *Memory {
	return &Memory{prefix: Prefix(walletID), mu: &sync.Mutex{}, entries: make(map[string]string)}
}

// Namespace 返回共享同一存储、但以另一钱包 id 隔离的视图。
func (m *Memory) Namespace(walletID string) *Memory {
	return &Memory{prefix: Prefix(walletID), mu: m.mu, entries: m.entries}
}

// GetKey 返回密钥副本，调用方可安全 Zero。
func (m *Memory) GetKey(ctx context.Context, network, account string) (*near.KeyPair, error) {
	m.mu.Lock()
	raw, ok := m.entries[entryKey(m.prefix, network, account)]
	m.mu.Unlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return decodeEntry(raw)
}

func (m *Memory) SetKey(ctx context.Context, network, account string, key *near.KeyPair) error {
	m.mu.Lock()
	m.entries[entryKey(m.prefix, network, account)] = key.String()
	m.mu.Unlock()
	return nil
}

func (m *Memory) RemoveKey(ctx context.Context, network, account string) error {
	m.mu.Lock()
	delete(m.entries, entryKey(m.prefix, network, account))
	m.mu.Unlock()
	return nil
}

// Clear 只删除本命名空间的条目。
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, m.prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Accounts(ctx context.Context, network string) ([]string, error) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	return accountsFor(m.prefix, network, keys), nil
}
