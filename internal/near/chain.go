package near

import (
	"github.com/aegis-sign/bridgewallet/pkg/apierrors"
)

// ChainNamespace 是桥接协议中 NEAR 链的命名空间。
const ChainNamespace = "near"

// ErrInvalidChainID 表示网络无法映射到链 ID 且未配置覆盖值。
var ErrInvalidChainID = apierrors.New(apierrors.CodeInvalidChainID, "invalid chain id")

var knownNetworks = map[string]struct{}{
	"mainnet": {},
	"testnet": {},
	"betanet": {},
}

// ChainID 将网络 ID 映射为 near:<network>，override 非空时优先使用。
func ChainID(networkID, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if _, ok := knownNetworks[networkID]; ok {
		return ChainNamespace + ":" + networkID, nil
	}
	return "", ErrInvalidChainID
}
