package near

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType 标识 Action 变体。
type ActionType string

const (
	ActionCreateAccount  ActionType = "CreateAccount"
	ActionDeployContract ActionType = "DeployContract"
	ActionFunctionCall   ActionType = "FunctionCall"
	ActionTransfer       ActionType = "Transfer"
	ActionStake          ActionType = "Stake"
	ActionAddKey         ActionType = "AddKey"
	ActionDeleteKey      ActionType = "DeleteKey"
	ActionDeleteAccount  ActionType = "DeleteAccount"
)

// Transaction 是待签名的交易，Actions 顺序在整个链路中保持不变。
type Transaction struct {
	SignerID   string   `json:"signerId"`
	ReceiverID string   `json:"receiverId"`
	Actions    []Action `json:"actions"`
}

// Action 是带标签的变体，仅与 Type 对应的参数字段有效。
type Action struct {
	Type ActionType

	DeployContract *DeployContractParams
	FunctionCall   *FunctionCallParams
	Transfer       *TransferParams
	Stake          *StakeParams
	AddKey         *AddKeyParams
	DeleteKey      *DeleteKeyParams
	DeleteAccount  *DeleteAccountParams
}

type DeployContractParams struct {
	Code []byte `json:"code"`
}

type FunctionCallParams struct {
	MethodName string          `json:"methodName"`
	Args       json.RawMessage `json:"args"`
	Gas        string          `json:"gas"`
	Deposit    string          `json:"deposit"`
}

type TransferParams struct {
	Deposit string `json:"deposit"`
}

type StakeParams struct {
	Stake     string `json:"stake"`
	PublicKey string `json:"publicKey"`
}

type AddKeyParams struct {
	PublicKey string    `json:"publicKey"`
	AccessKey AccessKey `json:"accessKey"`
}

// AccessKey 描述 AddKey 授予的访问密钥。
type AccessKey struct {
	Nonce      *uint64             `json:"nonce,omitempty"`
	Permission AccessKeyPermission `json:"permission"`
}

type DeleteKeyParams struct {
	PublicKey string `json:"publicKey"`
}

type DeleteAccountParams struct {
	BeneficiaryID string `json:"beneficiaryId"`
}

// AccessKeyPermission 是 {FullAccess} 或 {Restricted: receiver, methods, allowance} 变体。
type AccessKeyPermission struct {
	FullAccess  bool
	ReceiverID  string
	MethodNames []string
	// Allowance 为空表示不限额度。
	Allowance string
}

const fullAccessPermission = "FullAccess"

type restrictedPermission struct {
	ReceiverID  string   `json:"receiverId"`
	MethodNames []string `json:"methodNames"`
	Allowance   string   `json:"allowance,omitempty"`
}

// MarshalJSON 将 FullAccess 编码为字符串，受限权限编码为对象。
func (p AccessKeyPermission) MarshalJSON() ([]byte, error) {
	if p.FullAccess {
		return json.Marshal(fullAccessPermission)
	}
	methods := p.MethodNames
	if methods == nil {
		methods = []string{}
	}
	return json.Marshal(restrictedPermission{ReceiverID: p.ReceiverID, MethodNames: methods, Allowance: p.Allowance})
}

// UnmarshalJSON 解析两种权限形式。
func (p *AccessKeyPermission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != fullAccessPermission {
			return fmt.Errorf("unknown access key permission %q", s)
		}
		*p = AccessKeyPermission{FullAccess: true}
		return nil
	}
	var r restrictedPermission
	if err := json.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("invalid access key permission: %w", err)
	}
	*p = AccessKeyPermission{ReceiverID: r.ReceiverID, MethodNames: r.MethodNames, Allowance: r.Allowance}
	return nil
}

// CreateAccount 构造 CreateAccount action。
func CreateAccount() Action { return Action{Type: ActionCreateAccount} }

// DeployContract 构造 DeployContract action。
func DeployContract(code []byte) Action {
	return Action{Type: ActionDeployContract, DeployContract: &DeployContractParams{Code: code}}
}

// FunctionCall 构造 FunctionCall action，args 为空时编码为 {}。
func FunctionCall(method string, args json.RawMessage, gas, deposit string) Action {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return Action{Type: ActionFunctionCall, FunctionCall: &FunctionCallParams{MethodName: method, Args: args, Gas: gas, Deposit: deposit}}
}

// Transfer 构造 Transfer action。
func Transfer(deposit string) Action {
	return Action{Type: ActionTransfer, Transfer: &TransferParams{Deposit: deposit}}
}

// Stake 构造 Stake action。
func Stake(stake string, publicKey PublicKey) Action {
	return Action{Type: ActionStake, Stake: &StakeParams{Stake: stake, PublicKey: publicKey.String()}}
}

// AddKey 构造 AddKey action。
func AddKey(publicKey PublicKey, permission AccessKeyPermission) Action {
	return Action{Type: ActionAddKey, AddKey: &AddKeyParams{PublicKey: publicKey.String(), AccessKey: AccessKey{Permission: permission}}}
}

// DeleteKey 构造 DeleteKey action。
func DeleteKey(publicKey PublicKey) Action {
	return Action{Type: ActionDeleteKey, DeleteKey: &DeleteKeyParams{PublicKey: publicKey.String()}}
}

// DeleteAccount 构造 DeleteAccount action。
func DeleteAccount(beneficiaryID string) Action {
	return Action{Type: ActionDeleteAccount, DeleteAccount: &DeleteAccountParams{BeneficiaryID: beneficiaryID}}
}

type actionEnvelope struct {
	Type   ActionType      `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON 编码为 {"type": ..., "params": {...}}。
func (a Action) MarshalJSON() ([]byte, error) {
	params, err := a.params()
	if err != nil {
		return nil, err
	}
	env := actionEnvelope{Type: a.Type}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		env.Params = raw
	}
	return json.Marshal(env)
}

// UnmarshalJSON 根据 type 解析对应参数。
func (a *Action) UnmarshalJSON(data []byte) error {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	out := Action{Type: env.Type}
	var target any
	switch env.Type {
	case ActionCreateAccount:
	case ActionDeployContract:
		out.DeployContract = &DeployContractParams{}
		target = out.DeployContract
	case ActionFunctionCall:
		out.FunctionCall = &FunctionCallParams{}
		target = out.FunctionCall
	case ActionTransfer:
		out.Transfer = &TransferParams{}
		target = out.Transfer
	case ActionStake:
		out.Stake = &StakeParams{}
		target = out.Stake
	case ActionAddKey:
		out.AddKey = &AddKeyParams{}
		target = out.AddKey
	case ActionDeleteKey:
		out.DeleteKey = &DeleteKeyParams{}
		target = out.DeleteKey
	case ActionDeleteAccount:
		out.DeleteAccount = &DeleteAccountParams{}
		target = out.DeleteAccount
	default:
		return fmt.Errorf("invalid action type %q", env.Type)
	}
	if target != nil {
		if len(env.Params) == 0 {
			return fmt.Errorf("action %s requires params", env.Type)
		}
		if err := json.Unmarshal(env.Params, target); err != nil {
			return fmt.Errorf("action %s params: %w", env.Type, err)
		}
	}
	*a = out
	return nil
}

var errMissingParams = errors.New("action params missing")

func (a Action) params() (any, error) {
	var p any
	var present bool
	switch a.Type {
	case ActionCreateAccount:
		return nil, nil
	case ActionDeployContract:
		p, present = a.DeployContract, a.DeployContract != nil
	case ActionFunctionCall:
		p, present = a.FunctionCall, a.FunctionCall != nil
	case ActionTransfer:
		p, present = a.Transfer, a.Transfer != nil
	case ActionStake:
		p, present = a.Stake, a.Stake != nil
	case ActionAddKey:
		p, present = a.AddKey, a.AddKey != nil
	case ActionDeleteKey:
		p, present = a.DeleteKey, a.DeleteKey != nil
	case ActionDeleteAccount:
		p, present = a.DeleteAccount, a.DeleteAccount != nil
	default:
		return nil, fmt.Errorf("invalid action type %q", a.Type)
	}
	if !present {
		return nil, fmt.Errorf("%w: %s", errMissingParams, a.Type)
	}
	return p, nil
}
