package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ledger-transfer/internal/api"
	"github.com/example/ledger-transfer/internal/app"
	"github.com/example/ledger-transfer/internal/config"
	"github.com/example/ledger-transfer/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)

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

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Transfers:    rt.Engine,
		Accounts:     rt.Accounts,
		Auditor:      rt.Audit,
		RateLimiter:  rt.RateLimiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.APIMaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("ledger http api listening", "addr", cfg.HTTPAddr, "driver", cfg.StorageDriver)
	serveErr := srv.ListenAndServe()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Close(closeCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Error("server error", "error", serveErr)
		os.Exit(1)
	}
}
