package validator

import (
	"errors"
	"fmt"
)

const (
	minAccountIDLen = 2
	maxAccountIDLen = 64
)

var errEmptyAccountID = errors.New("account id is required")

// ValidateAccountID 校验 NEAR 账户名：2-64 位小写字母数字，分隔符 - _ . 不得相邻或出现在首尾。
func ValidateAccountID(id string) error {
	if id == "" {
		return errEmptyAccountID
	}
	if len(id) < minAccountIDLen || len(id) > maxAccountIDLen {
		return fmt.Errorf("account id %q must be %d-%d characters", id, minAccountIDLen, maxAccountIDLen)
	}
	prevSeparator := true
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			prevSeparator = false
		case c == '-' || c == '_' || c == '.':
			if prevSeparator {
				return fmt.Errorf("account id %q has a misplaced separator at %d", id, i)
			}
			prevSeparator = true
		default:
			return fmt.Errorf("account id %q contains invalid character %q", id, c)
		}
	}
	if prevSeparator {
		return fmt.Errorf("account id %q must not end with a separator", id)
	}
	return nil
}
