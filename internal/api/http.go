// Package walletapi 通过 HTTP/JSON 暴露桥接钱包操作，并向 gRPC health 汇报会话状态。
package walletapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aegis-sign/bridgewallet/internal/bridge"
	"github.com/aegis-sign/bridgewallet/internal/near"
	"github.com/aegis-sign/bridgewallet/internal/wallet"
	"github.com/aegis-sign/bridgewallet/pkg/apierrors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Wallet 是 handler 依赖的钱包能力。
type Wallet interface {
	Connect(ctx context.Context, params wallet.ConnectParams) ([]wallet.Account, error)
	Disconnect(ctx context.Context) error
	Accounts() []wallet.Account
	SignAndSendTransaction(ctx context.Context, tx near.Transaction) (json.RawMessage, error)
	SignAndSendTransactions(ctx context.Context, txs []near.Transaction) ([]wallet.SendResult, error)
	DebugHandler() http.Handler
}

const codeInternal apierrors.Code = "INTERNAL_ERROR"

// HTTPHandler 实现 /v1 钱包接口。
type HTTPHandler struct {
	wallet Wallet
	logger *slog.Logger
}

// NewHTTPHandler 构造 HTTP handler，logger 为空时使用 slog.Default。
func NewHTTPHandler(w Wallet, logger *slog.Logger) *HTTPHandler {
	if w == nil {
		panic("wallet is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{wallet: w, logger: logger}
}

// Router 返回挂载了全部路由与通用中间件的 chi 路由器。
func (h *HTTPHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	h.Register(r)
	return r
}

// Register 将路由注册到 r。
func (h *HTTPHandler) Register(r chi.Router) {
	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/connect", h.handleConnect)
		v1.Post("/disconnect", h.handleDisconnect)
		v1.Get("/accounts", h.handleAccounts)
		v1.Post("/transactions", h.handleTransaction)
		v1.Post("/transactions/batch", h.handleBatch)
	})
	r.Method(http.MethodGet, "/debug/wallet", h.wallet.DebugHandler())
}

type accountsResponse struct {
	Accounts []wallet.Account `json:"accounts"`
}

type transactionResponse struct {
	Outcome json.RawMessage `json:"outcome"`
}

type batchRequest struct {
	Transactions []near.Transaction `json:"transactions"`
}

type batchResponse struct {
	Results []wallet.SendResult `json:"results"`
}

type errorResponse struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	RetryAfterHint string `json:"retryAfterHint,omitempty"`
	RemoteCode     int    `json:"remoteCode,omitempty"`
}

func (h *HTTPHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var body wallet.ConnectParams
	if !h.decode(w, r, &body) {
		return
	}
	accounts, err := h.wallet.Connect(r.Context(), body)
	if err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, accountsResponse{Accounts: accounts})
}

func (h *HTTPHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Disconnect(r.Context()); err != nil {
		h.writeUnknownError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := h.wallet.Accounts()
	if accounts == nil {
		accounts = []wallet.Account{}
	}
	h.writeJSON(w, http.StatusOK, accountsResponse{Accounts: accounts})
}

func (h *HTTPHandler) handleTransaction(w http.ResponseWriter, r *http.Request) {
	var tx near.Transaction
	if !h.decode(w, r, &tx) {
		return
	}
	outcome, err := h.wallet.SignAndSendTransaction(r.Context(), tx)
	if err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactionResponse{Outcome: outcome})
}

func (h *HTTPHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if !h.decode(w, r, &body) {
		return
	}
	results, err := h.wallet.SignAndSendTransactions(r.Context(), body.Transactions)
	if err != nil {
		h.writeUnknownError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.writeAPIError(w, apierrors.New(apierrors.CodeInvalidArgument, "invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeUnknownError 将钱包错误映射为统一错误体：远端拒绝带上远端错误码，业务错误保留完整上下文。
func (h *HTTPHandler) writeUnknownError(w http.ResponseWriter, err error) {
	var remoteErr *bridge.RemoteError
	if errors.As(err, &remoteErr) {
		h.writeError(w, apierrors.New(apierrors.CodeRemoteRejected, remoteErr.Message), err.Error(), remoteErr.Code)
		return
	}
	if apiErr, ok := apierrors.FromError(err); ok {
		h.writeError(w, apiErr, err.Error(), 0)
		return
	}
	h.logger.Error("unhandled wallet error", slog.Any("err", err))
	h.writeAPIError(w, apierrors.New(codeInternal, "internal error"))
}

func (h *HTTPHandler) writeAPIError(w http.ResponseWriter, apiErr *apierrors.Error) {
	h.writeError(w, apiErr, apiErr.Error(), 0)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, apiErr *apierrors.Error, message string, remoteCode int) {
	status := apierrors.HTTPStatus(apiErr.Code)
	hint := apiErr.RetryAfterHint()
	if hint != "" && apierrors.RequiresRetryAfter(apiErr.Code) {
		w.Header().Set("Retry-After", hint)
	}
	h.writeJSON(w, status, errorResponse{
		Code:           string(apiErr.Code),
		Message:        message,
		RetryAfterHint: hint,
		RemoteCode:     remoteCode,
	})
}

func (h *HTTPHandler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
