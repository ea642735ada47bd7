package nav

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
	"basketfund/internal/portfolio"
)

var (
	accounting = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assetB     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

// stubQuotes prices each asset at a fixed accounting-units-per-unit rate.
type stubQuotes struct {
	rates  map[common.Address]int64
	broken map[common.Address]bool
}

func (s *stubQuotes) Quote(_ context.Context, tokenIn, _ common.Address, amountIn *big.Int) (*big.Int, error) {
	if s.broken[tokenIn] {
		return nil, fmt.Errorf("no route")
	}
	rate, ok := s.rates[tokenIn]
	if !ok {
		return nil, fmt.Errorf("unknown token")
	}
	return new(big.Int).Mul(amountIn, big.NewInt(rate)), nil
}

func newState(t *testing.T) *portfolio.State {
	t.Helper()
	s, err := portfolio.New(accounting, []common.Address{assetA, assetB})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return s
}

func TestTotalNAVSumsHoldings(t *testing.T) {
	state := newState(t)
	if err := state.Credit(assetA, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := state.Credit(assetB, big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := state.Credit(accounting, big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	calc := NewCalculator(&stubQuotes{rates: map[common.Address]int64{assetA: 1, assetB: 3}})
	total, err := calc.TotalNAV(context.Background(), state)
	if err != nil {
		t.Fatalf("total nav: %v", err)
	}
	// 100*1 + 10*3 + 5
	if total.Cmp(big.NewInt(135)) != 0 {
		t.Fatalf("nav = %s, want 135", total)
	}
}

func TestTotalNAVFailsClosed(t *testing.T) {
	state := newState(t)
	if err := state.Credit(assetB, big.NewInt(1)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	calc := NewCalculator(&stubQuotes{
		rates:  map[common.Address]int64{assetA: 1},
		broken: map[common.Address]bool{assetB: true},
	})
	_, err := calc.TotalNAV(context.Background(), state)
	if !errors.Is(err, model.ErrValuationUnavailable) {
		t.Fatalf("err = %v, want ErrValuationUnavailable", err)
	}
}

func TestZeroBalancesNeedNoQuotes(t *testing.T) {
	state := newState(t)
	calc := NewCalculator(&stubQuotes{broken: map[common.Address]bool{assetA: true, assetB: true}})
	total, err := calc.TotalNAV(context.Background(), state)
	if err != nil {
		t.Fatalf("total nav: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("nav = %s, want 0", total)
	}
}

func TestSharePrice(t *testing.T) {
	state := newState(t)
	calc := NewCalculator(&stubQuotes{rates: map[common.Address]int64{assetA: 1, assetB: 1}})

	price, err := calc.SharePrice(context.Background(), state, big.NewInt(0))
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	if price.Cmp(OneShare) != 0 {
		t.Fatalf("empty-fund price = %s, want %s", price, OneShare)
	}

	if err := state.Credit(accounting, new(big.Int).Mul(big.NewInt(200), OneShare)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	supply := new(big.Int).Mul(big.NewInt(100), OneShare)
	price, err = calc.SharePrice(context.Background(), state, supply)
	if err != nil {
		t.Fatalf("share price: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(2), OneShare)
	if price.Cmp(want) != 0 {
		t.Fatalf("price = %s, want %s", price, want)
	}
}
