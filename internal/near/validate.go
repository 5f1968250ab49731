package near

import (
	"fmt"

	"github.com/aegis-sign/bridgewallet/pkg/validator"
)

// Validate 校验交易的账户名与每个 action 的参数。
func (t Transaction) Validate() error {
	if err := validator.ValidateAccountID(t.SignerID); err != nil {
		return fmt.Errorf("signerId: %w", err)
	}
	if err := validator.ValidateAccountID(t.ReceiverID); err != nil {
		return fmt.Errorf("receiverId: %w", err)
	}
	if len(t.Actions) == 0 {
		return errEmptyActions
	}
	for i, a := range t.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate 校验单个 action 的必填参数。
func (a Action) Validate() error {
	if _, err := a.params(); err != nil {
		return err
	}
	switch a.Type {
	case ActionFunctionCall:
		if a.FunctionCall.MethodName == "" {
			return fmt.Errorf("methodName is required")
		}
		if _, err := validator.ParseGas(a.FunctionCall.Gas); err != nil {
			return err
		}
		_, err := validator.ParseAmount(a.FunctionCall.Deposit)
		return err
	case ActionTransfer:
		_, err := validator.ParseAmount(a.Transfer.Deposit)
		return err
	case ActionStake:
		if _, err := validator.ParseAmount(a.Stake.Stake); err != nil {
			return err
		}
		_, err := ParsePublicKey(a.Stake.PublicKey)
		return err
	case ActionAddKey:
		if _, err := ParsePublicKey(a.AddKey.PublicKey); err != nil {
			return err
		}
		perm := a.AddKey.AccessKey.Permission
		if perm.FullAccess {
			return nil
		}
		if err := validator.ValidateAccountID(perm.ReceiverID); err != nil {
			return fmt.Errorf("permission receiverId: %w", err)
		}
		if perm.Allowance != "" {
			if _, err := validator.ParseAmount(perm.Allowance); err != nil {
				return fmt.Errorf("permission allowance: %w", err)
			}
		}
		return nil
	case ActionDeleteKey:
		_, err := ParsePublicKey(a.DeleteKey.PublicKey)
		return err
	case ActionDeleteAccount:
		return validator.ValidateAccountID(a.DeleteAccount.BeneficiaryID)
	}
	return nil
}

// AccessKeyView 是 view_access_key 查询结果中签名所需的字段。
type AccessKeyView struct {
	Nonce     uint64    `json:"nonce"`
	BlockHash BlockHash `json:"-"`
}
