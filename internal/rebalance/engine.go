package rebalance

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"basketfund/internal/exchange"
	"basketfund/internal/model"
	"basketfund/internal/nav"
	"basketfund/internal/portfolio"
)

const (
	DefaultThresholdBps   = 100
	DefaultSlippageBps    = 50
	DefaultDeadlineOffset = 15 * time.Minute
)

// Config holds rebalance tuning knobs.
type Config struct {
	ThresholdBps   uint64
	SlippageBps    uint64
	DeadlineOffset time.Duration
}

func (c Config) withDefaults() Config {
	if c.ThresholdBps == 0 {
		c.ThresholdBps = DefaultThresholdBps
	}
	if c.SlippageBps == 0 {
		c.SlippageBps = DefaultSlippageBps
	}
	if c.DeadlineOffset == 0 {
		c.DeadlineOffset = DefaultDeadlineOffset
	}
	return c
}

// Engine drives one fund's portfolio toward its target weights. Each cycle
// moves Idle -> DeviationCheck -> (NoAction | Trading) -> Idle; the engine
// holds no state between cycles beyond what the portfolio records.
type Engine struct {
	exch   exchange.Exchange
	calc   *nav.Calculator
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// assetStatus is one asset's standing against its target.
type assetStatus struct {
	asset     common.Address
	balance   *big.Int
	value     *big.Int
	targetBps uint64
	// deviation is currentBps - targetBps; positive means overweight.
	deviation int64
}

func NewEngine(exch exchange.Exchange, calc *nav.Calculator, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		exch:   exch,
		calc:   calc,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// SetClock overrides the deadline clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CheckDeviation reports whether a rebalance is warranted and the largest
// absolute deviation in bps. A fund whose targets have never been acted on
// always warrants its first allocation cycle.
func (e *Engine) CheckDeviation(ctx context.Context, state *portfolio.State) (bool, uint64, error) {
	if !state.HasTargets() {
		return false, 0, nil
	}
	statuses, total, err := e.composition(ctx, state)
	if err != nil {
		return false, 0, err
	}
	if total.Sign() == 0 {
		return false, 0, nil
	}
	maxDev := maxAbsDeviation(statuses)
	if !state.Allocated() {
		return true, maxDev, nil
	}
	return maxDev > e.cfg.ThresholdBps, maxDev, nil
}

// CompositionBps returns each asset's current weight in bps of total NAV.
func (e *Engine) CompositionBps(ctx context.Context, state *portfolio.State) (map[common.Address]uint64, error) {
	statuses, total, err := e.composition(ctx, state)
	if err != nil {
		return nil, err
	}
	out := make(map[common.Address]uint64, len(statuses))
	for _, st := range statuses {
		if total.Sign() == 0 {
			out[st.asset] = 0
			continue
		}
		out[st.asset] = currentBps(st.value, total)
	}
	return out, nil
}

// Rebalance runs one full cycle against the portfolio, mutating balances as
// trades settle. On any swap failure it returns ErrSwapFailed with the state
// partially advanced; the caller owns snapshot and rollback, so a failed
// cycle commits nothing. Sells run before buys, largest deviation first, so
// accounting-asset liquidity for the buys comes from the sells themselves.
func (e *Engine) Rebalance(ctx context.Context, fundID string, state *portfolio.State) (*model.RebalanceReport, error) {
	if !state.HasTargets() {
		return nil, fmt.Errorf("no target weights set: %w", model.ErrInvalidState)
	}

	statuses, navBefore, err := e.composition(ctx, state)
	if err != nil {
		return nil, err
	}

	report := &model.RebalanceReport{
		FundID:             fundID,
		Timestamp:          e.now().Unix(),
		NAVBefore:          new(big.Int).Set(navBefore),
		NAVAfter:           new(big.Int).Set(navBefore),
		MaxDeviationBefore: maxAbsDeviation(statuses),
	}

	if navBefore.Sign() == 0 {
		state.MarkAllocated()
		return report, nil
	}
	if state.Allocated() && report.MaxDeviationBefore <= e.cfg.ThresholdBps {
		report.MaxDeviationAfter = report.MaxDeviationBefore
		return report, nil
	}

	// Largest absolute deviation first; sells strictly before buys.
	sort.SliceStable(statuses, func(i, j int) bool {
		return absInt64(statuses[i].deviation) > absInt64(statuses[j].deviation)
	})

	deadline := e.now().Add(e.cfg.DeadlineOffset)

	for _, st := range statuses {
		if st.deviation <= 0 {
			continue
		}
		trade, err := e.sell(ctx, state, st, navBefore, deadline)
		if err != nil {
			return nil, err
		}
		if trade != nil {
			report.Trades = append(report.Trades, *trade)
		}
	}
	for _, st := range statuses {
		if st.deviation >= 0 {
			continue
		}
		trade, err := e.buy(ctx, state, st, navBefore, deadline)
		if err != nil {
			return nil, err
		}
		if trade != nil {
			report.Trades = append(report.Trades, *trade)
		}
	}

	state.MarkAllocated()

	after, navAfter, err := e.composition(ctx, state)
	if err != nil {
		return nil, err
	}
	report.NAVAfter = navAfter
	report.MaxDeviationAfter = maxAbsDeviation(after)

	if report.MaxDeviationAfter > e.cfg.ThresholdBps {
		e.logger.Warn("composition still outside tolerance after rebalance",
			zap.String("fund_id", fundID),
			zap.Uint64("max_deviation_bps", report.MaxDeviationAfter),
			zap.Uint64("threshold_bps", e.cfg.ThresholdBps),
		)
	}
	e.logger.Info("rebalance cycle complete",
		zap.String("fund_id", fundID),
		zap.Int("trades", len(report.Trades)),
		zap.String("nav_before", report.NAVBefore.String()),
		zap.String("nav_after", report.NAVAfter.String()),
		zap.Uint64("deviation_before_bps", report.MaxDeviationBefore),
		zap.Uint64("deviation_after_bps", report.MaxDeviationAfter),
	)

	return report, nil
}

// sell disposes of the overweight slice of one asset for the accounting asset.
func (e *Engine) sell(ctx context.Context, state *portfolio.State, st assetStatus, total *big.Int, deadline time.Time) (*model.Trade, error) {
	if st.value.Sign() == 0 {
		return nil, nil
	}
	excessValue := new(big.Int).SetInt64(st.deviation)
	excessValue.Mul(excessValue, total)
	excessValue.Div(excessValue, big.NewInt(portfolio.WeightDenominator))

	amountIn := new(big.Int).Mul(st.balance, excessValue)
	amountIn.Div(amountIn, st.value)
	if amountIn.Sign() == 0 {
		return nil, nil
	}
	return e.execute(ctx, state, st.asset, state.Accounting(), amountIn, deadline)
}

// buy deploys accounting-asset liquidity into one underweight asset.
func (e *Engine) buy(ctx context.Context, state *portfolio.State, st assetStatus, total *big.Int, deadline time.Time) (*model.Trade, error) {
	deficitValue := new(big.Int).SetInt64(-st.deviation)
	deficitValue.Mul(deficitValue, total)
	deficitValue.Div(deficitValue, big.NewInt(portfolio.WeightDenominator))

	available := state.AccountingBalance()
	if deficitValue.Cmp(available) > 0 {
		deficitValue = available
	}
	if deficitValue.Sign() == 0 {
		return nil, nil
	}
	return e.execute(ctx, state, state.Accounting(), st.asset, deficitValue, deadline)
}

func (e *Engine) execute(ctx context.Context, state *portfolio.State, tokenIn, tokenOut common.Address, amountIn *big.Int, deadline time.Time) (*model.Trade, error) {
	expected, err := e.exch.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w: %w", tokenIn.Hex(), tokenOut.Hex(), model.ErrSwapFailed, err)
	}

	minOut := new(big.Int).Mul(expected, big.NewInt(portfolio.WeightDenominator-int64(e.cfg.SlippageBps)))
	minOut.Div(minOut, big.NewInt(portfolio.WeightDenominator))

	out, err := e.exch.Swap(ctx, tokenIn, tokenOut, amountIn, minOut, deadline)
	if err != nil {
		return nil, fmt.Errorf("swap %s->%s: %w: %w", tokenIn.Hex(), tokenOut.Hex(), model.ErrSwapFailed, err)
	}

	if err := state.Debit(tokenIn, amountIn); err != nil {
		return nil, err
	}
	if err := state.Credit(tokenOut, out); err != nil {
		return nil, err
	}

	return &model.Trade{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     amountIn,
		MinAmountOut: minOut,
		AmountOut:    out,
	}, nil
}

// composition values every allowed asset and returns its standing against
// the targets alongside total NAV.
func (e *Engine) composition(ctx context.Context, state *portfolio.State) ([]assetStatus, *big.Int, error) {
	assets := state.Assets()
	statuses := make([]assetStatus, 0, len(assets))
	total := state.AccountingBalance()

	for _, asset := range assets {
		value, err := e.calc.AssetValue(ctx, state, asset)
		if err != nil {
			return nil, nil, err
		}
		statuses = append(statuses, assetStatus{
			asset:     asset,
			balance:   state.Balance(asset),
			value:     value,
			targetBps: state.Target(asset),
		})
		total.Add(total, value)
	}

	for i := range statuses {
		if total.Sign() == 0 {
			statuses[i].deviation = -int64(statuses[i].targetBps)
			continue
		}
		statuses[i].deviation = int64(currentBps(statuses[i].value, total)) - int64(statuses[i].targetBps)
	}
	return statuses, total, nil
}

func currentBps(value, total *big.Int) uint64 {
	bps := new(big.Int).Mul(value, big.NewInt(portfolio.WeightDenominator))
	bps.Div(bps, total)
	return bps.Uint64()
}

func maxAbsDeviation(statuses []assetStatus) uint64 {
	var max uint64
	for _, st := range statuses {
		if d := uint64(absInt64(st.deviation)); d > max {
			max = d
		}
	}
	return max
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
