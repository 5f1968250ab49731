package walletapi

import (
	"github.com/aegis-sign/bridgewallet/internal/wallet"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService 是钱包在 gRPC health 中的服务名。
const HealthService = "bridgewallet.v1.Wallet"

// StateSource 提供会话状态与状态变化通知。
type StateSource interface {
	State() wallet.State
	Emitter() *wallet.Emitter
}

// Health 将钱包会话状态同步到 gRPC health：已连接为 SERVING，其余为 NOT_SERVING。
// 进程本身（空服务名）始终为 SERVING。
type Health struct {
	server *health.Server
	source StateSource
	offs   []func()
}

// NewHealth 创建 Health 并订阅钱包事件。
func NewHealth(source StateSource) *Health {
	h := &Health{server: health.NewServer(), source: source}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.sync()
	h.offs = append(h.offs,
		source.Emitter().On(wallet.EventAccountsChanged, func(any) { h.sync() }),
		source.Emitter().On(wallet.EventDisconnected, func(any) { h.sync() }),
	)
	return h
}

// Server 返回可注册到 grpc.Server 的 health 实现。
func (h *Health) Server() healthpb.HealthServer { return h.server }

func (h *Health) sync() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if h.source.State() == wallet.StateConnected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus(HealthService, status)
}

// Shutdown 注销事件订阅并将所有服务置为 NOT_SERVING。
func (h *Health) Shutdown() {
	for _, off := range h.offs {
		off()
	}
	h.offs = nil
	h.server.Shutdown()
}
