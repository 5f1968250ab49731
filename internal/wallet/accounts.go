package wallet

import "strings"

// Account 是远端账户三元组的地址部分。
type Account struct {
	AccountID string `json:"accountId"`
}

// ResolveAccounts 从 namespace:reference:address 三元组中提取地址，顺序保持不变。
// 段数不足三个的标识被跳过。
func ResolveAccounts(ids []string) []Account {
	accounts := make([]Account, 0, len(ids))
	for _, id := range ids {
		parts := strings.SplitN(id, ":", 3)
		if len(parts) < 3 || parts[2] == "" {
			continue
		}
		accounts = append(accounts, Account{AccountID: parts[2]})
	}
	return accounts
}

func accountIDs(accounts []Account) []string {
	out := make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.AccountID
	}
	return out
}

func containsAccount(accounts []Account, id string) bool {
	for _, a := range accounts {
		if a.AccountID == id {
			return true
		}
	}
	return false
}
