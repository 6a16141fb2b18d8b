// Package main runs the HTTP service: it serves the reconciled token set of
// every configured chain, submits marketplace mutations and, when enabled,
// follows contract logs to invalidate caches on outside writes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"nft-market-sync/internal/config"
	"nft-market-sync/internal/evm"
	"nft-market-sync/internal/httpapi"
	"nft-market-sync/internal/logging"
	"nft-market-sync/internal/service"
	"nft-market-sync/internal/watcher"
)

func main() {
	// Load .env file if exists
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	// Parse flags (env vars as defaults)
	configPath := flag.String("config", os.Getenv("NFTSYNC_CONFIG"), "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage for every store")
	watch := flag.Bool("watch", false, "Follow contract logs on chains with a ws_url (overrides server.watch)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *watch {
		cfg.Server.Watch = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, *useMemory, logger)
	close(done)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, useMemory bool, logger *zap.Logger) error {
	backends, cleanup, err := service.OpenBackends(ctx, cfg, useMemory, logger)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	registry := service.NewRegistry()
	defer func() {
		if err := registry.Close(); err != nil {
			logger.Warn("close chains", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for _, cc := range cfg.Chains {
		client := service.NewRPCClient(cc, cfg.RPC)
		chain, err := service.BuildChain(ctx, client, cc, cfg, backends, logger)
		if err != nil {
			return err
		}
		if err := registry.Register(chain); err != nil {
			return err
		}
		logger.Info("chain registered",
			zap.Int64("chain_id", cc.ChainID),
			zap.String("token", chain.Scope().TokenAddress),
			zap.String("marketplace", chain.Scope().MarketplaceAddress))

		if cfg.Server.Watch && cc.WSURL != "" {
			wg.Add(1)
			go func(cc config.ChainConfig, chain *service.Chain) {
				defer wg.Done()
				watchChain(ctx, cc, chain, logger)
			}(cc, chain)
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewServer(registry, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", zap.Error(serr))
	}
	wg.Wait()

	if err != nil {
		return err
	}
	return ctx.Err()
}

// watchChain follows a chain's contract logs until ctx is done, reopening
// the subscription with backoff when it ends.
func watchChain(ctx context.Context, cc config.ChainConfig, chain *service.Chain, logger *zap.Logger) {
	log := logger.With(zap.Int64("chain_id", cc.ChainID))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		ws, err := evm.NewWSClient(ctx, cc.WSURL, nil)
		if err != nil {
			return err
		}
		defer ws.Close()
		return watcher.New(ws, chain, watcher.Options{Warm: true, Logger: logger}).Run(ctx)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("watcher stopped", zap.Error(err), zap.Duration("retry_in", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil && ctx.Err() == nil {
		log.Error("watcher gave up", zap.Error(err))
	}
}
