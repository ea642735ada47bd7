package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"basketfund/internal/exchange"
	"basketfund/internal/fund"
	"basketfund/internal/registry"
	"basketfund/internal/storage"
)

// runSimulate drives one fund through a full lifecycle against an in-memory
// venue: allocation, deposits, fee accrual, a market move, a rebalance, and
// a basket withdrawal.
func runSimulate(cmd *cobra.Command, _ []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	journalPath, _ := cmd.Flags().GetString("journal")
	var journal storage.Journal = storage.NopJournal{}
	if journalPath != "" {
		journal = storage.NewJsonlJournal(journalPath)
	}

	var (
		accounting = common.HexToAddress("0x00000000000000000000000000000000000000aa")
		assetA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
		assetB     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
		owner      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
		agent      = common.HexToAddress("0x0000000000000000000000000000000000000b02")
		feeWallet  = common.HexToAddress("0x0000000000000000000000000000000000000b03")
		protocol   = common.HexToAddress("0x0000000000000000000000000000000000000b04")
		alice      = common.HexToAddress("0x0000000000000000000000000000000000000c01")
		bob        = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	)

	depth := new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	halfDepth := new(big.Int).Div(depth, big.NewInt(2))

	venue := exchange.NewAMM(3000)
	if err := venue.AddPool(assetA, accounting, depth, depth); err != nil {
		return err
	}
	// Asset B trades at 2 accounting units.
	if err := venue.AddPool(assetB, accounting, halfDepth, depth); err != nil {
		return err
	}

	reg := registry.New(venue, venue, journal, logger)
	f, err := reg.CreateFund(fund.Config{
		Accounting:           accounting,
		Assets:               []common.Address{assetA, assetB},
		Owner:                owner,
		Agent:                agent,
		AgentFeeWallet:       feeWallet,
		ProtocolFeeRecipient: protocol,
		AgentFeeBps:          100,
	})
	if err != nil {
		return err
	}

	clock := time.Now()
	f.SetClock(func() time.Time { return clock })
	venue.SetClock(func() time.Time { return clock })

	ctx := context.Background()
	unit := func(n int64) *big.Int {
		return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	}

	weights := map[common.Address]uint64{assetA: 6000, assetB: 4000}
	if _, err := f.SetTargetWeightsAndRebalanceIfNeeded(ctx, agent, weights); err != nil {
		return fmt.Errorf("set weights: %w", err)
	}

	if _, err := f.Deposit(ctx, alice, unit(100), alice); err != nil {
		return fmt.Errorf("alice deposit: %w", err)
	}
	if _, err := f.Deposit(ctx, bob, unit(50), bob); err != nil {
		return fmt.Errorf("bob deposit: %w", err)
	}
	logComposition(ctx, logger, f, "after deposits")

	// A month passes; anyone may realize the accrued management fee.
	clock = clock.Add(30 * 24 * time.Hour)
	accrual, err := f.CollectManagementFee(ctx)
	if err != nil {
		return fmt.Errorf("collect fee: %w", err)
	}
	logger.Info("fee accrued",
		zap.String("agent_shares", accrual.AgentShares.String()),
		zap.String("protocol_shares", accrual.ProtocolShares.String()),
	)

	// Market move: a large external trade reprices asset B upward.
	if _, err := venue.Swap(ctx, accounting, assetB, unit(200_000), nil, time.Time{}); err != nil {
		return fmt.Errorf("market move: %w", err)
	}
	needed, deviation, err := f.IsRebalanceNeeded(ctx)
	if err != nil {
		return err
	}
	logger.Info("deviation after market move", zap.Bool("needed", needed), zap.Uint64("deviation_bps", deviation))

	if needed {
		report, err := f.TriggerRebalance(ctx, agent)
		if err != nil {
			return fmt.Errorf("rebalance: %w", err)
		}
		logger.Info("rebalanced",
			zap.Int("trades", len(report.Trades)),
			zap.String("nav_before", report.NAVBefore.String()),
			zap.String("nav_after", report.NAVAfter.String()),
		)
	}
	logComposition(ctx, logger, f, "after rebalance")

	// Alice exits half her position and receives the full asset basket.
	half := new(big.Int).Div(f.Ledger().BalanceOf(alice), big.NewInt(2))
	basket, err := f.Withdraw(ctx, alice, half, alice, alice)
	if err != nil {
		return fmt.Errorf("alice withdraw: %w", err)
	}
	for _, leg := range basket {
		logger.Info("basket leg", zap.String("asset", leg.Asset.Hex()), zap.String("amount", leg.Amount.String()))
	}
	logComposition(ctx, logger, f, "after withdrawal")

	return nil
}

func logComposition(ctx context.Context, logger *zap.Logger, f *fund.Fund, stage string) {
	total, err := f.TotalNAV(ctx)
	if err != nil {
		logger.Warn("valuation failed", zap.String("stage", stage), zap.Error(err))
		return
	}
	composition, err := f.CurrentCompositionBps(ctx)
	if err != nil {
		logger.Warn("composition failed", zap.String("stage", stage), zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("nav", total.String()),
		zap.String("supply", f.Ledger().TotalSupply().String()),
	}
	for asset, bps := range composition {
		fields = append(fields, zap.Uint64(asset.Hex(), bps))
	}
	logger.Info("composition", fields...)
}
