// Package main runs one reconciliation pass for a chain and prints the
// merged token set as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"nft-market-sync/internal/config"
	"nft-market-sync/internal/logging"
	"nft-market-sync/internal/service"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", os.Getenv("NFTSYNC_CONFIG"), "Path to YAML config file")
	chainID := flag.Int64("chain-id", 0, "Chain to reconcile (default: first configured chain)")
	useStores := flag.Bool("use-stores", false, "Commit into the configured cache backend instead of memory")
	lazy := flag.Bool("lazy", false, "Serve a valid cached entry instead of forcing a refresh (needs --use-stores to matter)")
	pretty := flag.Bool("pretty", false, "Indent JSON output")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr so stdout carries only the JSON result.
	logger, err := logging.New(cfg.Log.Level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *chainID, *useStores, !*lazy, *pretty, logger); err != nil {
		logger.Error("reconcile failed", zap.Error(err))
		os.Exit(1)
	}
}

func selectChain(cfg *config.Config, id int64) (config.ChainConfig, error) {
	if id == 0 {
		return cfg.Chains[0], nil
	}
	for _, cc := range cfg.Chains {
		if cc.ChainID == id {
			return cc, nil
		}
	}
	return config.ChainConfig{}, fmt.Errorf("chain %d: %w", id, service.ErrUnknownChain)
}

func run(ctx context.Context, cfg *config.Config, chainID int64, useStores, force, pretty bool, logger *zap.Logger) error {
	cc, err := selectChain(cfg, chainID)
	if err != nil {
		return err
	}
	// Mutations are never submitted from here.
	cc.SignerKeyEnv = ""

	backends, cleanup, err := service.OpenBackends(ctx, cfg, !useStores, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	chain, err := service.BuildChain(ctx, service.NewRPCClient(cc, cfg.RPC), cc, cfg, backends, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	entry, err := chain.Tokens(ctx, force)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(entry)
}
