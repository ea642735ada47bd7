package fund

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"basketfund/internal/model"
	"basketfund/internal/portfolio"
)

// FeeAccrual reports one management-fee collection.
type FeeAccrual struct {
	SharesMinted   *big.Int
	AgentShares    *big.Int
	ProtocolShares *big.Int
}

// CollectManagementFee accrues the time-based management fee by minting
// shares split between the agent fee wallet and the protocol recipient.
// Anyone may call it; decoupling fee realization from the agent is
// deliberate. Minting dilutes all holders by exactly the fee value, so
// NAV-per-share is unchanged beyond that amount.
func (f *Fund) CollectManagementFee(ctx context.Context) (*FeeAccrual, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	collectedAt := f.now()
	elapsed := collectedAt.Sub(f.lastFeeCollection)
	if elapsed <= 0 || f.cfg.AgentFeeBps == 0 {
		return nil, fmt.Errorf("no fee accrued: %w", model.ErrNothingToCollect)
	}

	valuation, err := f.calc.Snapshot(ctx, f.state, f.ledger.TotalSupply())
	if err != nil {
		return nil, err
	}

	accrual := &FeeAccrual{
		SharesMinted:   big.NewInt(0),
		AgentShares:    big.NewInt(0),
		ProtocolShares: big.NewInt(0),
	}

	// An empty fund owes nothing; advance the clock so the idle period is
	// never billed once deposits arrive.
	if valuation.TotalValue.Sign() == 0 || valuation.TotalSupply.Sign() == 0 {
		f.lastFeeCollection = collectedAt
		return accrual, nil
	}

	elapsedSeconds := big.NewInt(int64(elapsed.Seconds()))
	feeValue := new(big.Int).Mul(valuation.TotalValue, big.NewInt(int64(f.cfg.AgentFeeBps)))
	feeValue.Mul(feeValue, elapsedSeconds)
	feeValue.Div(feeValue, big.NewInt(portfolio.WeightDenominator*SecondsPerYear))

	sharesToMint := new(big.Int).Mul(feeValue, valuation.TotalSupply)
	sharesToMint.Div(sharesToMint, valuation.TotalValue)

	agentShares := new(big.Int).Mul(sharesToMint, big.NewInt(AgentShareBps))
	agentShares.Div(agentShares, big.NewInt(portfolio.WeightDenominator))
	// Subtraction, not a second multiplication: the two parts must sum to
	// sharesToMint exactly despite truncation.
	protocolShares := new(big.Int).Sub(sharesToMint, agentShares)

	snap := f.takeSnapshot()
	if agentShares.Sign() > 0 {
		if err := f.ledger.Mint(f.cfg.AgentFeeWallet, agentShares); err != nil {
			f.restore(snap)
			return nil, err
		}
	}
	if protocolShares.Sign() > 0 {
		if err := f.ledger.Mint(f.cfg.ProtocolFeeRecipient, protocolShares); err != nil {
			f.restore(snap)
			return nil, err
		}
	}
	f.lastFeeCollection = collectedAt

	accrual.SharesMinted = sharesToMint
	accrual.AgentShares = agentShares
	accrual.ProtocolShares = protocolShares

	f.journalEvent(model.Event{
		Kind:           model.EventFeeAccrual,
		Timestamp:      collectedAt.Unix(),
		Shares:         sharesToMint.String(),
		AgentShares:    agentShares.String(),
		ProtocolShares: protocolShares.String(),
		NAVBefore:      valuation.TotalValue.String(),
	})
	f.logger.Info("management fee collected",
		zap.Duration("elapsed", elapsed),
		zap.String("fee_value", feeValue.String()),
		zap.String("shares_minted", sharesToMint.String()),
	)

	return accrual, nil
}
