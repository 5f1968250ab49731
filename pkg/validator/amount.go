package validator

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

var errEmptyAmount = errors.New("amount is required")

// ParseAmount 解析十进制 yoctoNEAR 金额，范围为 u128。
func ParseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, errEmptyAmount
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			return nil, fmt.Errorf("invalid amount %q", raw)
		}
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Cmp(maxUint128) > 0 {
		return nil, fmt.Errorf("amount %q overflows u128", raw)
	}
	return v, nil
}

// IsZeroAmount 仅当金额可解析且恰好为 0 时返回 true。
func IsZeroAmount(raw string) bool {
	v, err := ParseAmount(raw)
	if err != nil {
		return false
	}
	return v.Sign() == 0
}

// ParseGas 解析 u64 gas 预算。
func ParseGas(raw string) (uint64, error) {
	if raw == "" {
		return 0, errors.New("gas is required")
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gas %q: %w", raw, err)
	}
	return v, nil
}
