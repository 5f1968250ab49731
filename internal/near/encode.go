package near

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/aegis-sign/bridgewallet/pkg/validator"
)

// BlockHash 是最近区块哈希，用于交易的有效期锚定。
type BlockHash [32]byte

// SignableTransaction 是补全 nonce 与区块哈希后的可签名交易。
type SignableTransaction struct {
	Transaction
	PublicKey PublicKey
	Nonce     uint64
	BlockHash BlockHash
}

// SignedTransaction 是签名后的交易信封。
type SignedTransaction struct {
	Transaction SignableTransaction
	Signature   [64]byte
	Hash        [32]byte
}

var errEmptyActions = errors.New("transaction has no actions")

// Encode 返回交易的 borsh 编码。
func (t SignableTransaction) Encode() ([]byte, error) {
	if len(t.Actions) == 0 {
		return nil, errEmptyActions
	}
	e := &encoder{}
	e.string(t.SignerID)
	e.publicKey(t.PublicKey)
	e.u64(t.Nonce)
	e.string(t.ReceiverID)
	e.buf.Write(t.BlockHash[:])
	e.u32(uint32(len(t.Actions)))
	for i, action := range t.Actions {
		if err := e.action(action); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
	}
	return e.buf.Bytes(), nil
}

// SignTransaction 对 sha256(borsh(tx)) 签名。
func SignTransaction(tx SignableTransaction, key *KeyPair) (*SignedTransaction, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if key.PublicKey() != tx.PublicKey {
		return nil, errors.New("signing key does not match transaction public key")
	}
	encoded, err := tx.Encode()
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(encoded)
	signed := &SignedTransaction{Transaction: tx, Hash: hash}
	copy(signed.Signature[:], key.Sign(hash[:]))
	return signed, nil
}

// Encode 返回签名交易的 borsh 编码。
func (s *SignedTransaction) Encode() ([]byte, error) {
	encoded, err := s.Transaction.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encoded)+1+len(s.Signature))
	out = append(out, encoded...)
	out = append(out, KeyTypeED25519)
	out = append(out, s.Signature[:]...)
	return out, nil
}

var actionIndex = map[ActionType]byte{
	ActionCreateAccount:  0,
	ActionDeployContract: 1,
	ActionFunctionCall:   2,
	ActionTransfer:       3,
	ActionStake:          4,
	ActionAddKey:         5,
	ActionDeleteKey:      6,
	ActionDeleteAccount:  7,
}

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) u8(v byte) { e.buf.WriteByte(v) }

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) u128(v *big.Int) {
	var b [16]byte
	be := v.Bytes()
	for i := 0; i < len(be) && i < 16; i++ {
		b[i] = be[len(be)-1-i]
	}
	e.buf.Write(b[:])
}

func (e *encoder) bytes(v []byte) {
	e.u32(uint32(len(v)))
	e.buf.Write(v)
}

func (e *encoder) string(v string) { e.bytes([]byte(v)) }

func (e *encoder) publicKey(pk PublicKey) {
	e.u8(KeyTypeED25519)
	e.buf.Write(pk[:])
}

func (e *encoder) amount(raw string) error {
	v, err := validator.ParseAmount(raw)
	if err != nil {
		return err
	}
	e.u128(v)
	return nil
}

func (e *encoder) action(a Action) error {
	if _, err := a.params(); err != nil {
		return err
	}
	e.u8(actionIndex[a.Type])
	switch a.Type {
	case ActionCreateAccount:
		return nil
	case ActionDeployContract:
		e.bytes(a.DeployContract.Code)
		return nil
	case ActionFunctionCall:
		fc := a.FunctionCall
		gas, err := validator.ParseGas(fc.Gas)
		if err != nil {
			return err
		}
		e.string(fc.MethodName)
		e.bytes(functionCallArgs(fc.Args))
		e.u64(gas)
		return e.amount(fc.Deposit)
	case ActionTransfer:
		return e.amount(a.Transfer.Deposit)
	case ActionStake:
		if err := e.amount(a.Stake.Stake); err != nil {
			return err
		}
		pk, err := ParsePublicKey(a.Stake.PublicKey)
		if err != nil {
			return err
		}
		e.publicKey(pk)
		return nil
	case ActionAddKey:
		pk, err := ParsePublicKey(a.AddKey.PublicKey)
		if err != nil {
			return err
		}
		e.publicKey(pk)
		return e.accessKey(a.AddKey.AccessKey)
	case ActionDeleteKey:
		pk, err := ParsePublicKey(a.DeleteKey.PublicKey)
		if err != nil {
			return err
		}
		e.publicKey(pk)
		return nil
	case ActionDeleteAccount:
		e.string(a.DeleteAccount.BeneficiaryID)
		return nil
	}
	return fmt.Errorf("invalid action type %q", a.Type)
}

func (e *encoder) accessKey(k AccessKey) error {
	var nonce uint64
	if k.Nonce != nil {
		nonce = *k.Nonce
	}
	e.u64(nonce)
	if k.Permission.FullAccess {
		e.u8(1)
		return nil
	}
	e.u8(0)
	if k.Permission.Allowance == "" {
		e.u8(0)
	} else {
		e.u8(1)
		if err := e.amount(k.Permission.Allowance); err != nil {
			return fmt.Errorf("allowance: %w", err)
		}
	}
	e.string(k.Permission.ReceiverID)
	e.u32(uint32(len(k.Permission.MethodNames)))
	for _, m := range k.Permission.MethodNames {
		e.string(m)
	}
	return nil
}

// functionCallArgs 将 JSON 字符串形式的参数还原为原始字节，其余 JSON 值按原文编码。
func functionCallArgs(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	var s string
	if raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return []byte(s)
	}
	return raw
}
