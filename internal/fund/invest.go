package fund

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basketfund/internal/model"
)

// Deposit takes amount of the accounting asset in and mints proportional
// shares to receiver. The first deposit is floored at the minimum-liquidity
// share count. A deviation check runs afterwards, since fresh idle cash
// usually skews the composition.
func (f *Fund) Deposit(ctx context.Context, caller common.Address, amount *big.Int, receiver common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if receiver == (common.Address{}) {
		return nil, fmt.Errorf("deposit to zero address: %w", model.ErrInvalidParameters)
	}
	if amount == nil || amount.Cmp(f.cfg.MinimumDeposit) < 0 {
		return nil, fmt.Errorf("deposit below minimum %s: %w", f.cfg.MinimumDeposit, model.ErrInvalidParameters)
	}

	valuation, err := f.calc.Snapshot(ctx, f.state, f.ledger.TotalSupply())
	if err != nil {
		return nil, err
	}

	shares, err := sharesForDeposit(amount, valuation, f.cfg.MinimumSharesLiquidity)
	if err != nil {
		return nil, err
	}

	snap := f.takeSnapshot()
	if err := f.state.Credit(f.state.Accounting(), amount); err != nil {
		f.restore(snap)
		return nil, err
	}
	if err := f.ledger.Mint(receiver, shares); err != nil {
		f.restore(snap)
		return nil, err
	}

	f.journalEvent(model.Event{
		Kind:      model.EventDeposit,
		Caller:    caller.Hex(),
		Receiver:  receiver.Hex(),
		Amount:    amount.String(),
		Shares:    shares.String(),
		NAVBefore: valuation.TotalValue.String(),
	})
	f.logger.Info("deposit",
		zap.String("receiver", receiver.Hex()),
		zap.String("amount", amount.String()),
		zap.String("shares", shares.String()),
	)

	f.rebalanceIfNeeded(ctx)
	return shares, nil
}

// Withdraw burns owner's shares and pays receiver a proportional basket of
// every held asset, the accounting asset included. Shares are burned before
// any asset leaves the fund. Callers other than the owner spend allowance.
func (f *Fund) Withdraw(ctx context.Context, caller common.Address, shares *big.Int, receiver, owner common.Address) ([]model.AssetAmount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if receiver == (common.Address{}) || owner == (common.Address{}) {
		return nil, fmt.Errorf("withdraw with zero address: %w", model.ErrInvalidParameters)
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, fmt.Errorf("withdraw of non-positive shares: %w", model.ErrInvalidParameters)
	}

	supplyBefore := f.ledger.TotalSupply()
	snap := f.takeSnapshot()

	if caller != owner {
		if err := f.ledger.SpendAllowance(owner, caller, shares); err != nil {
			f.restore(snap)
			return nil, err
		}
	}
	if err := f.ledger.Burn(owner, shares); err != nil {
		f.restore(snap)
		return nil, err
	}

	holdings := f.state.Holdings()
	basket := make([]model.AssetAmount, 0, len(holdings))
	for _, holding := range holdings {
		out := new(big.Int).Mul(holding.Amount, shares)
		out.Div(out, supplyBefore)
		basket = append(basket, model.AssetAmount{Asset: holding.Asset, Amount: out})
	}
	for _, leg := range basket {
		if leg.Amount.Sign() == 0 {
			continue
		}
		if err := f.state.Debit(leg.Asset, leg.Amount); err != nil {
			f.restore(snap)
			return nil, err
		}
	}

	legs := make([]model.BasketLeg, 0, len(basket))
	for _, leg := range basket {
		legs = append(legs, model.BasketLeg{Asset: leg.Asset.Hex(), Amount: leg.Amount.String()})
	}
	f.journalEvent(model.Event{
		Kind:     model.EventWithdrawal,
		Caller:   caller.Hex(),
		Receiver: receiver.Hex(),
		Shares:   shares.String(),
		Basket:   legs,
	})
	f.logger.Info("withdrawal",
		zap.String("owner", owner.Hex()),
		zap.String("receiver", receiver.Hex()),
		zap.String("shares", shares.String()),
	)

	f.rebalanceIfNeeded(ctx)
	return basket, nil
}

// rebalanceIfNeeded runs a best-effort rebalance cycle after a deposit or
// withdrawal. A failed cycle rolls back only the cycle; the triggering
// operation has already committed and a later trigger can retry the trades.
func (f *Fund) rebalanceIfNeeded(ctx context.Context) {
	needed, deviation, err := f.engine.CheckDeviation(ctx, f.state)
	if err != nil {
		f.logger.Warn("deviation check failed", zap.Error(err))
		return
	}
	if !needed {
		return
	}

	snap := f.takeSnapshot()
	report, err := f.engine.Rebalance(ctx, f.id, f.state)
	if err != nil {
		f.restore(snap)
		f.logger.Warn("follow-up rebalance failed",
			zap.Uint64("deviation_bps", deviation),
			zap.Error(err),
		)
		return
	}
	f.journalRebalance(report)
}

func (f *Fund) journalRebalance(report *model.RebalanceReport) {
	if !report.Executed() {
		return
	}
	f.journalEvent(model.Event{
		Kind:       model.EventRebalance,
		Timestamp:  report.Timestamp,
		NAVBefore:  report.NAVBefore.String(),
		NAVAfter:   report.NAVAfter.String(),
		TradeCount: len(report.Trades),
	})
}

// sharesForDeposit prices a deposit against the pre-deposit valuation.
func sharesForDeposit(amount *big.Int, valuation model.NAVSnapshot, minimumLiquidity *big.Int) (*big.Int, error) {
	if valuation.TotalSupply.Sign() == 0 {
		shares := new(big.Int).Set(amount)
		if shares.Cmp(minimumLiquidity) < 0 {
			shares.Set(minimumLiquidity)
		}
		return shares, nil
	}
	if valuation.TotalValue.Sign() == 0 {
		// Shares exist but every holding is worthless. Pricing a deposit
		// here would divide by zero; the fund needs manual recovery.
		return nil, fmt.Errorf("nav is zero with %s shares outstanding: %w", valuation.TotalSupply, model.ErrInvalidState)
	}
	shares := new(big.Int).Mul(amount, valuation.TotalSupply)
	return shares.Div(shares, valuation.TotalValue), nil
}
