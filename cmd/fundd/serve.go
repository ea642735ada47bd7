package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"basketfund/internal/chain"
	"basketfund/internal/config"
	"basketfund/internal/exchange"
	"basketfund/internal/fund"
	"basketfund/internal/nav"
	"basketfund/internal/rebalance"
	"basketfund/internal/registry"
	"basketfund/internal/scheduler"
	"basketfund/internal/storage"
	"basketfund/internal/storage/postgres"
)

// ammDepth is the accounting-side liquidity seeded per paper-trading pool.
var ammDepth = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	fundCfg, err := parseFundConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Quote path: the on-chain router when configured, else flat pricing.
	// Execution stays on the in-memory venue either way; trades are paper
	// settlements marked at the quoted prices.
	var quotes nav.QuoteSource
	if cfg.RPCURL != "" && cfg.RouterAddress != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()

		quoter, err := exchange.NewRouterQuoter(chainClient, common.HexToAddress(cfg.RouterAddress))
		if err != nil {
			return err
		}
		chainID, err := chainClient.GetChainID(ctx)
		if err != nil {
			return fmt.Errorf("get chain id: %w", err)
		}
		quotes = exchange.NewRetryQuoter(quoter, 5, 500*time.Millisecond)
		logger.Info("using on-chain quotes",
			zap.String("router", cfg.RouterAddress),
			zap.String("chain_id", chainID.String()),
		)
	}

	venue, err := seedVenue(ctx, fundCfg, quotes)
	if err != nil {
		return err
	}
	if quotes == nil {
		quotes = venue
	}

	journal := storage.NewJsonlJournal(cfg.JournalPath)

	var store *postgres.Store
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
	}

	reg := registry.New(venue, quotes, journal, logger)
	f, err := reg.CreateFund(fundCfg)
	if err != nil {
		return err
	}

	if len(cfg.Weights) > 0 {
		weights := make(map[common.Address]uint64, len(fundCfg.Assets))
		for i, asset := range fundCfg.Assets {
			weights[asset] = cfg.Weights[i]
		}
		if err := f.SetTargetWeights(ctx, fundCfg.Agent, weights); err != nil {
			return fmt.Errorf("set initial weights: %w", err)
		}
	}

	sched := scheduler.New(ctx, reg, store, logger)
	if err := sched.RegisterAll(cfg.FeeCron, cfg.RebalanceCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("fund service started",
		zap.String("fund_id", f.ID()),
		zap.Int("assets", len(fundCfg.Assets)),
		zap.Uint64("agent_fee_bps", fundCfg.AgentFeeBps),
		zap.String("journal", cfg.JournalPath),
		zap.Bool("postgres", store != nil),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func parseFundConfig(cfg config.Config) (fund.Config, error) {
	if !common.IsHexAddress(cfg.Accounting) {
		return fund.Config{}, fmt.Errorf("accounting asset address is required")
	}
	if len(cfg.Assets) == 0 {
		return fund.Config{}, fmt.Errorf("asset list is required")
	}
	if len(cfg.Weights) > 0 && len(cfg.Weights) != len(cfg.Assets) {
		return fund.Config{}, fmt.Errorf("%d weights for %d assets", len(cfg.Weights), len(cfg.Assets))
	}

	assets := make([]common.Address, 0, len(cfg.Assets))
	for _, raw := range cfg.Assets {
		if !common.IsHexAddress(raw) {
			return fund.Config{}, fmt.Errorf("invalid asset address %q", raw)
		}
		assets = append(assets, common.HexToAddress(raw))
	}

	for name, raw := range map[string]string{
		"owner":                  cfg.Owner,
		"agent":                  cfg.Agent,
		"agent-fee-wallet":       cfg.AgentFeeWallet,
		"protocol-fee-recipient": cfg.ProtocolFeeRecipient,
	} {
		if !common.IsHexAddress(raw) {
			return fund.Config{}, fmt.Errorf("invalid %s address %q", name, raw)
		}
	}

	return fund.Config{
		Accounting:           common.HexToAddress(cfg.Accounting),
		Assets:               assets,
		Owner:                common.HexToAddress(cfg.Owner),
		Agent:                common.HexToAddress(cfg.Agent),
		AgentFeeWallet:       common.HexToAddress(cfg.AgentFeeWallet),
		ProtocolFeeRecipient: common.HexToAddress(cfg.ProtocolFeeRecipient),
		AgentFeeBps:          cfg.AgentFeeBps,
		Rebalance: rebalance.Config{
			ThresholdBps:   cfg.ThresholdBps,
			SlippageBps:    cfg.SlippageBps,
			DeadlineOffset: cfg.DeadlineOffset,
		},
	}, nil
}

// seedVenue builds the paper-trading AMM, pricing each pool off the quote
// source when one is available and flat 1:1 otherwise.
func seedVenue(ctx context.Context, fundCfg fund.Config, quotes nav.QuoteSource) (*exchange.AMM, error) {
	venue := exchange.NewAMM(3000) // 30 bps venue fee
	one := nav.OneShare
	for _, asset := range fundCfg.Assets {
		assetReserve := new(big.Int).Set(ammDepth)
		if quotes != nil {
			unitPrice, err := quotes.Quote(ctx, fundCfg.Accounting, asset, one)
			if err != nil {
				return nil, fmt.Errorf("seed pool for %s: %w", asset.Hex(), err)
			}
			assetReserve.Mul(ammDepth, unitPrice)
			assetReserve.Div(assetReserve, one)
		}
		if err := venue.AddPool(asset, fundCfg.Accounting, assetReserve, new(big.Int).Set(ammDepth)); err != nil {
			return nil, err
		}
	}
	return venue, nil
}
