package wallet

import (
	"time"

	"github.com/aegis-sign/bridgewallet/pkg/apierrors"
)

var (
	// ErrNotConnected 表示没有活动会话或没有已连接账户，在任何网络调用之前返回。
	ErrNotConnected = apierrors.New(apierrors.CodeNotConnected, "wallet not connected")
	// ErrConnectInProgress 表示已有握手在进行。
	ErrConnectInProgress = apierrors.New(apierrors.CodeRetryLater, "connect already in progress").WithRetryAfter(time.Second)
	// ErrConnectFailed 包装握手失败，返回前已完成全量清理。
	ErrConnectFailed = apierrors.New(apierrors.CodeConnectFailed, "connect failed")
	// ErrRequestTimeout 表示远端未在超时内应答。
	ErrRequestTimeout = apierrors.New(apierrors.CodeRemoteTimeout, "remote request timed out").WithRetryAfter(time.Second)
	// ErrRateLimited 表示命中本地速率限制，未发出网络请求。
	ErrRateLimited = apierrors.New(apierrors.CodeRetryLater, "remote requests rate limited").WithRetryAfter(time.Second)
	// ErrProvisionFailed 表示委托密钥授权失败，本批次生成的密钥已丢弃。
	ErrProvisionFailed = apierrors.New(apierrors.CodeProvisionFailed, "access key provisioning failed")
	// ErrKeyRevoked 表示签名过程中该账户的委托密钥已被清除。
	ErrKeyRevoked = apierrors.New(apierrors.CodeKeyRevoked, "delegated key revoked")
	// ErrInvalidTransaction 表示交易参数非法。
	ErrInvalidTransaction = apierrors.New(apierrors.CodeInvalidArgument, "invalid transaction")
)

// ErrInvalidContract 表示连接参数中的合约账户非法。
var ErrInvalidContract = apierrors.New(apierrors.CodeInvalidArgument, "invalid contract")
