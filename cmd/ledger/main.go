package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ledger-transfer/internal/app"
	"github.com/example/ledger-transfer/internal/config"
	"github.com/example/ledger-transfer/internal/rpc"
	"github.com/example/ledger-transfer/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)

	tlsCfg := security.TLSConfig{
		CertFile:          cfg.GRPCTLSCertFile,
		KeyFile:           cfg.GRPCTLSKeyFile,
		CAFile:            cfg.GRPCTLSCAFile,
		RequireClientAuth: cfg.GRPCTLSClientAuth,
	}
	if tlsCfg.Enabled() {
		if err := security.VerifyTLSFiles(tlsCfg); err != nil {
			logger.Error("invalid TLS configuration", "error", err)
			os.Exit(1)
		}
	} else if cfg.IsProduction() {
		logger.Warn("gRPC server running without TLS")
	}
	creds, err := security.GRPCServerCredentials(tlsCfg)
	if err != nil {
		logger.Error("failed to load TLS credentials", "error", err)
		os.Exit(1)
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.APIIPAllowlist)
	if err != nil {
		logger.Error("invalid API_IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start ledger", "error", err)
		os.Exit(1)
	}

	grpcServer := rpc.NewGRPCServer(rpc.NewServer(rt.Engine, rt.Accounts, logger), rpc.Options{
		Credentials:  creds,
		RateLimiter:  rt.RateLimiter,
		Auditor:      rt.Audit,
		IPAllowlist:  allowlist,
		MaxRecvBytes: int(cfg.APIMaxBodyBytes),
	})

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gRPC server")
		grpcServer.GracefulStop()
	}()

	logger.Info("ledger gRPC server listening", "addr", cfg.GRPCAddr, "tls", tlsCfg.Enabled(), "driver", cfg.StorageDriver)
	serveErr := grpcServer.Serve(lis)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	if serveErr != nil {
		logger.Error("server error", "error", serveErr)
		os.Exit(1)
	}
}
