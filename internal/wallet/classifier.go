package wallet

import (
	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/aegis-sign/bridgewallet/pkg/validator"
)

// Contract 是受限密钥被授权调用的合约及方法白名单，白名单为空表示任意方法。
type Contract struct {
	ContractID  string   `json:"contractId"`
	MethodNames []string `json:"methodNames"`
}

func (c Contract) allows(method string) bool {
	if len(c.MethodNames) == 0 {
		return true
	}
	for _, m := range c.MethodNames {
		if m == method {
			return true
		}
	}
	return false
}

// Classify 判断交易能否用委托密钥本地签名。任一条件不满足则整笔交易不合格。
func Classify(tx near.Transaction, accounts []Account, contract Contract) bool {
	if !containsAccount(accounts, tx.SignerID) {
		return false
	}
	if tx.ReceiverID != contract.ContractID {
		return false
	}
	if len(tx.Actions) == 0 {
		return false
	}
	for _, action := range tx.Actions {
		if action.Type != near.ActionFunctionCall || action.FunctionCall == nil {
			return false
		}
		if !contract.allows(action.FunctionCall.MethodName) {
			return false
		}
		if !validator.IsZeroAmount(action.FunctionCall.Deposit) {
			return false
		}
	}
	return true
}
