package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aegis-sign/bridgewallet/internal/near"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const fileFormatVersion = 1

// ErrWrongPassphrase 表示口令错误或文件被篡改。
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase or corrupted file")

// FileConfig 控制加密文件存储。
type FileConfig struct {
	Path       string
	Passphrase string
	WalletID   string
	ScryptN    int
	ScryptR    int
	ScryptP    int
}

func (c *FileConfig) normalize() FileConfig {
	cfg := *c
	if cfg.ScryptN <= 0 {
		cfg.ScryptN = 1 << 15
	}
	if cfg.ScryptR <= 0 {
		cfg.ScryptR = 8
	}
	if cfg.ScryptP <= 0 {
		cfg.ScryptP = 1
	}
	if cfg.WalletID == "" {
		cfg.WalletID = "default"
	}
	return cfg
}

// File 将所有命名空间的条目以 scrypt + chacha20poly1305 加密后存入单个文件。
type File struct {
	cfg    FileConfig
	prefix string
	mu     sync.Mutex
}

// envelope 是落盘的 JSON 结构。
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// NewFile 构造文件存储，文件不存在时在首次写入时创建。
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Path == "" {
		return nil, errors.New("keystore path is required")
	}
	if cfg.Passphrase == "" {
		return nil, errors.New("keystore passphrase is required")
	}
	normalized := cfg.normalize()
	return &File{cfg: normalized, prefix: Prefix(normalized.WalletID)}, nil
}

func (f *File) GetKey(ctx context.Context, network, account string) (*near.KeyPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	raw, ok := entries[entryKey(f.prefix, network, account)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return decodeEntry(raw)
}

func (f *File) SetKey(ctx context.Context, network, account string, key *near.KeyPair) error {
	return f.update(func(entries map[string]string) {
		entries[entryKey(f.prefix, network, account)] = key.String()
	})
}

func (f *File) RemoveKey(ctx context.Context, network, account string) error {
	return f.update(func(entries map[string]string) {
		delete(entries, entryKey(f.prefix, network, account))
	})
}

// Clear 只删除本命名空间的条目。
func (f *File) Clear(ctx context.Context) error {
	return f.update(func(entries map[string]string) {
		for k := range entries {
			if strings.HasPrefix(k, f.prefix) {
				delete(entries, k)
			}
		}
	})
}

func (f *File) Accounts(ctx context.Context, network string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return accountsFor(f.prefix, network, keys), nil
}

func (f *File) update(mutate func(map[string]string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	mutate(entries)
	return f.store(entries)
}

func (f *File) load() (map[string]string, error) {
	entries := make(map[string]string)
	b, err := os.ReadFile(f.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, err
	}
	plain, err := f.decrypt(b)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("decode keystore: %w", err)
	}
	return entries, nil
}

func (f *File) store(entries map[string]string) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	sealed, err := f.encrypt(plain)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.cfg.Path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.cfg.Path), filepath.Base(f.cfg.Path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.cfg.Path)
}

func (f *File) encrypt(plain []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(f.cfg.Passphrase), salt, f.cfg.ScryptN, f.cfg.ScryptR, f.cfg.ScryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		V:      fileFormatVersion,
		Salt:   salt,
		N:      f.cfg.ScryptN,
		R:      f.cfg.ScryptR,
		P:      f.cfg.ScryptP,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, plain, salt),
	})
}

func (f *File) decrypt(b []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode keystore envelope: %w", err)
	}
	if env.V > fileFormatVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", env.V)
	}
	key, err := scrypt.Key([]byte(f.cfg.Passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	plain, err := aead.Open(nil, env.Nonce, env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return plain, nil
}
