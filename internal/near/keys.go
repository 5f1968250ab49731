package near

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const keyTypePrefix = "ed25519:"

// KeyTypeED25519 是 borsh 编码中 ed25519 的枚举值。
const KeyTypeED25519 byte = 0

// PublicKey 表示 ed25519 公钥。
type PublicKey [ed25519.PublicKeySize]byte

// String 返回 ed25519:<base58> 形式。
func (p PublicKey) String() string {
	return keyTypePrefix + base58.Encode(p[:])
}

// MarshalText 实现 encoding.TextMarshaler。
func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler。
func (p *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePublicKey 解析 ed25519:<base58> 公钥，并校验其为曲线上的点。
func ParsePublicKey(raw string) (PublicKey, error) {
	var pk PublicKey
	encoded := raw
	if i := strings.IndexByte(raw, ':'); i >= 0 {
		if raw[:i+1] != keyTypePrefix {
			return pk, fmt.Errorf("unsupported key type %q", raw[:i])
		}
		encoded = raw[i+1:]
	}
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return pk, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(decoded))
	}
	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return pk, fmt.Errorf("public key is not a valid ed25519 point: %w", err)
	}
	copy(pk[:], decoded)
	return pk, nil
}

// KeyPair 是本地生成的受限访问密钥。
type KeyPair struct {
	priv ed25519.PrivateKey
}

// GenerateKeyPair 使用 r 生成新的 ed25519 密钥，r 为空时使用 crypto/rand。
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &KeyPair{priv: priv}, nil
}

// ParseKeyPair 解析 ed25519:<base58(64 字节私钥)> 形式。
func ParseKeyPair(raw string) (*KeyPair, error) {
	encoded, ok := strings.CutPrefix(raw, keyTypePrefix)
	if !ok {
		return nil, errors.New("key pair must start with ed25519:")
	}
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid key pair encoding: %w", err)
	}
	switch len(decoded) {
	case ed25519.PrivateKeySize:
		priv := ed25519.NewKeyFromSeed(decoded[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(decoded[ed25519.SeedSize:])) {
			return nil, errors.New("key pair public half does not match seed")
		}
		return &KeyPair{priv: priv}, nil
	case ed25519.SeedSize:
		return &KeyPair{priv: ed25519.NewKeyFromSeed(decoded)}, nil
	default:
		return nil, fmt.Errorf("unexpected key pair length %d", len(decoded))
	}
}

// PublicKey 返回对应公钥。
func (k *KeyPair) PublicKey() PublicKey {
	var pk PublicKey
	copy(pk[:], k.priv[ed25519.SeedSize:])
	return pk
}

// Sign 对消息签名。
func (k *KeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// String 返回可持久化的 ed25519:<base58> 私钥串。
func (k *KeyPair) String() string {
	return keyTypePrefix + base58.Encode(k.priv)
}

// Zero 清零私钥内存。
func (k *KeyPair) Zero() {
	if k == nil {
		return
	}
	for i := range k.priv {
		k.priv[i] = 0
	}
}
