package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	walletapi "github.com/aegis-sign/bridgewallet/internal/api"
	"github.com/aegis-sign/bridgewallet/internal/config"
	"github.com/aegis-sign/bridgewallet/internal/infra/nearrpc"
	"github.com/aegis-sign/bridgewallet/internal/infra/relay"
	"github.com/aegis-sign/bridgewallet/internal/logging"
	"github.com/aegis-sign/bridgewallet/internal/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the wallet HTTP API and gRPC health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	keys, err := openKeystore(cfg)
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}

	client, err := relay.Dial(ctx, cfg.Relay, relay.WithLogger(logger), relay.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer func() { _ = client.Close() }()

	rpcCfg := cfg.RPC
	rpcCfg.Logger = logger
	rpc, err := nearrpc.NewClient(rpcCfg)
	if err != nil {
		return err
	}

	walletCfg := cfg.WalletConfig()
	walletCfg.Logger = logger
	walletCfg.Metrics = wallet.NewMetrics(reg)
	w, err := wallet.New(client, rpc, keys, walletCfg)
	if err != nil {
		return err
	}
	defer w.Close()

	if params, ok := cfg.ConnectParams(); ok {
		accounts, err := w.Restore(ctx, params)
		if err != nil {
			logger.Warn("session restore failed", slog.Any("err", err))
		} else {
			logger.Info("session restore finished", slog.Int("accounts", len(accounts)))
		}
	}

	if configPath != "" {
		err := config.Watch(ctx, configPath, logger, func(next config.Config) {
			logger.Info("rate limit applied", slog.Float64("rate_limit", next.Wallet.RateLimit))
			w.UpdateRateLimit(next.Wallet.RateLimit)
		})
		if err != nil {
			logger.Warn("config hot reload disabled", slog.Any("err", err))
		}
	}

	router := walletapi.NewHTTPHandler(w, logger).Router()
	router.Method(http.MethodGet, cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	health := walletapi.NewHealth(w)
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, health.Server())

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("gRPC health listening", slog.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("server exited unexpectedly", slog.Any("err", runErr))
	}
	logger.Info("shutting down servers")

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.Any("err", err))
	}
	grpcSrv.GracefulStop()
	return runErr
}
