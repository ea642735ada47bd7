package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
	"basketfund/internal/nav"
	"basketfund/internal/portfolio"
)

var (
	accounting = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assetB     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

// flatVenue prices everything 1:1 and settles swaps at the quoted amount.
type flatVenue struct {
	failSwaps bool
	swaps     []model.Trade
}

func (v *flatVenue) Quote(_ context.Context, _, _ common.Address, amountIn *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amountIn), nil
}

func (v *flatVenue) Swap(_ context.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, _ time.Time) (*big.Int, error) {
	if v.failSwaps {
		return nil, fmt.Errorf("venue unavailable")
	}
	v.swaps = append(v.swaps, model.Trade{
		TokenIn:      tokenIn,
		TokenOut:     tokenOut,
		AmountIn:     new(big.Int).Set(amountIn),
		MinAmountOut: new(big.Int).Set(minAmountOut),
		AmountOut:    new(big.Int).Set(amountIn),
	})
	return new(big.Int).Set(amountIn), nil
}

func newEngine(venue *flatVenue) *Engine {
	return NewEngine(venue, nav.NewCalculator(venue), Config{}, nil)
}

func newSkewedState(t *testing.T) *portfolio.State {
	t.Helper()
	state, err := portfolio.New(accounting, []common.Address{assetA, assetB})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if err := state.SetTargets(map[common.Address]uint64{assetA: 6000, assetB: 4000}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	if err := state.Credit(assetA, big.NewInt(70)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := state.Credit(assetB, big.NewInt(30)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	state.MarkAllocated()
	return state
}

func TestCheckDeviationScenario(t *testing.T) {
	// 60/40 target, 70/30 actual: 1000 bps off on both legs.
	state := newSkewedState(t)
	engine := newEngine(&flatVenue{})

	needed, deviation, err := engine.CheckDeviation(context.Background(), state)
	if err != nil {
		t.Fatalf("check deviation: %v", err)
	}
	if !needed || deviation != 1000 {
		t.Fatalf("got (%v, %d), want (true, 1000)", needed, deviation)
	}
}

func TestCheckDeviationFirstAllocation(t *testing.T) {
	state, err := portfolio.New(accounting, []common.Address{assetA, assetB})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if err := state.SetTargets(map[common.Address]uint64{assetA: 6000, assetB: 4000}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	// Already at target, but the first allocation cycle has never run.
	if err := state.Credit(assetA, big.NewInt(60)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := state.Credit(assetB, big.NewInt(40)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	engine := newEngine(&flatVenue{})
	needed, deviation, err := engine.CheckDeviation(context.Background(), state)
	if err != nil {
		t.Fatalf("check deviation: %v", err)
	}
	if !needed || deviation != 0 {
		t.Fatalf("got (%v, %d), want (true, 0)", needed, deviation)
	}
}

func TestCheckDeviationNoTargets(t *testing.T) {
	state, err := portfolio.New(accounting, []common.Address{assetA, assetB})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	engine := newEngine(&flatVenue{})
	needed, _, err := engine.CheckDeviation(context.Background(), state)
	if err != nil {
		t.Fatalf("check deviation: %v", err)
	}
	if needed {
		t.Fatalf("rebalance wanted with no targets set")
	}
}

func TestRebalanceSellsBeforeBuys(t *testing.T) {
	state := newSkewedState(t)
	venue := &flatVenue{}
	engine := newEngine(venue)

	report, err := engine.Rebalance(context.Background(), "fund-1", state)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if report.MaxDeviationBefore != 1000 {
		t.Fatalf("deviation before = %d, want 1000", report.MaxDeviationBefore)
	}
	if report.MaxDeviationAfter > DefaultThresholdBps {
		t.Fatalf("deviation after = %d, want <= %d", report.MaxDeviationAfter, DefaultThresholdBps)
	}
	if len(venue.swaps) != 2 {
		t.Fatalf("swaps = %d, want 2", len(venue.swaps))
	}
	if venue.swaps[0].TokenOut != accounting {
		t.Fatalf("first trade is not a sell: %+v", venue.swaps[0])
	}
	if venue.swaps[1].TokenIn != accounting {
		t.Fatalf("second trade is not a buy: %+v", venue.swaps[1])
	}

	if got := state.Balance(assetA); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("assetA = %s, want 60", got)
	}
	if got := state.Balance(assetB); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("assetB = %s, want 40", got)
	}
	if report.NAVBefore.Cmp(report.NAVAfter) != 0 {
		t.Fatalf("nav changed on lossless venue: %s -> %s", report.NAVBefore, report.NAVAfter)
	}
}

func TestRebalanceIdempotence(t *testing.T) {
	state := newSkewedState(t)
	venue := &flatVenue{}
	engine := newEngine(venue)

	if _, err := engine.Rebalance(context.Background(), "fund-1", state); err != nil {
		t.Fatalf("first rebalance: %v", err)
	}
	firstSwaps := len(venue.swaps)

	report, err := engine.Rebalance(context.Background(), "fund-1", state)
	if err != nil {
		t.Fatalf("second rebalance: %v", err)
	}
	if len(venue.swaps) != firstSwaps {
		t.Fatalf("second cycle traded: %d -> %d swaps", firstSwaps, len(venue.swaps))
	}
	if report.Executed() {
		t.Fatalf("second cycle reported trades: %+v", report.Trades)
	}
}

func TestRebalanceSwapFailure(t *testing.T) {
	state := newSkewedState(t)
	engine := newEngine(&flatVenue{failSwaps: true})

	_, err := engine.Rebalance(context.Background(), "fund-1", state)
	if !errors.Is(err, model.ErrSwapFailed) {
		t.Fatalf("err = %v, want ErrSwapFailed", err)
	}
}

func TestRebalanceWithoutTargets(t *testing.T) {
	state, err := portfolio.New(accounting, []common.Address{assetA})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	engine := newEngine(&flatVenue{})
	if _, err := engine.Rebalance(context.Background(), "fund-1", state); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRebalanceDeploysIdleCash(t *testing.T) {
	state, err := portfolio.New(accounting, []common.Address{assetA, assetB})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if err := state.SetTargets(map[common.Address]uint64{assetA: 6000, assetB: 4000}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	if err := state.Credit(accounting, big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	engine := newEngine(&flatVenue{})
	report, err := engine.Rebalance(context.Background(), "fund-1", state)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if !report.Executed() {
		t.Fatalf("idle cash not deployed")
	}
	if got := state.Balance(assetA); got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("assetA = %s, want 600", got)
	}
	if got := state.Balance(assetB); got.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("assetB = %s, want 400", got)
	}
	if got := state.AccountingBalance(); got.Sign() != 0 {
		t.Fatalf("idle cash left: %s", got)
	}
	if !state.Allocated() {
		t.Fatalf("allocation flag not set")
	}
}
