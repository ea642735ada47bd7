package portfolio

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
)

var (
	accounting = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	assetA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	assetB     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

func newState(t *testing.T) *State {
	t.Helper()
	s, err := New(accounting, []common.Address{assetA, assetB})
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return s
}

func TestNewRejectsBadAssetSets(t *testing.T) {
	cases := []struct {
		name   string
		assets []common.Address
	}{
		{"empty", nil},
		{"zero address", []common.Address{{}}},
		{"duplicate", []common.Address{assetA, assetA}},
		{"contains accounting", []common.Address{assetA, accounting}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(accounting, tc.assets); !errors.Is(err, model.ErrInvalidParameters) {
				t.Fatalf("err = %v, want ErrInvalidParameters", err)
			}
		})
	}
}

func TestSetTargetsValidation(t *testing.T) {
	cases := []struct {
		name    string
		weights map[common.Address]uint64
	}{
		{"sum below", map[common.Address]uint64{assetA: 5999, assetB: 4000}},
		{"sum above", map[common.Address]uint64{assetA: 6001, assetB: 4000}},
		{"zero entry", map[common.Address]uint64{assetA: 10000, assetB: 0}},
		{"missing asset", map[common.Address]uint64{assetA: 10000}},
		{"unknown asset", map[common.Address]uint64{assetA: 6000, common.HexToAddress("0xdead"): 4000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newState(t)
			if err := s.SetTargets(tc.weights); !errors.Is(err, model.ErrInvalidParameters) {
				t.Fatalf("err = %v, want ErrInvalidParameters", err)
			}
			if s.HasTargets() {
				t.Fatalf("targets set despite invalid weights")
			}
		})
	}
}

func TestSetTargetsKeepsPreviousOnFailure(t *testing.T) {
	s := newState(t)
	if err := s.SetTargets(map[common.Address]uint64{assetA: 6000, assetB: 4000}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	if err := s.SetTargets(map[common.Address]uint64{assetA: 9999, assetB: 0}); err == nil {
		t.Fatalf("expected error for invalid weights")
	}
	if got := s.Target(assetA); got != 6000 {
		t.Fatalf("target = %d, want previous 6000", got)
	}
}

func TestCreditDebit(t *testing.T) {
	s := newState(t)
	if err := s.Credit(assetA, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := s.Credit(accounting, big.NewInt(50)); err != nil {
		t.Fatalf("credit accounting: %v", err)
	}
	if err := s.Debit(assetA, big.NewInt(101)); !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if err := s.Debit(assetA, big.NewInt(40)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := s.Balance(assetA); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("balance = %s, want 60", got)
	}
	unknown := common.HexToAddress("0xdead")
	if err := s.Credit(unknown, big.NewInt(1)); !errors.Is(err, model.ErrInvalidParameters) {
		t.Fatalf("err = %v, want ErrInvalidParameters for unknown asset", err)
	}
}

func TestHoldingsShape(t *testing.T) {
	s := newState(t)
	if err := s.Credit(assetB, big.NewInt(7)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	holdings := s.Holdings()
	if len(holdings) != 3 {
		t.Fatalf("holdings = %d legs, want 3", len(holdings))
	}
	if holdings[0].Asset != assetA || holdings[1].Asset != assetB || holdings[2].Asset != accounting {
		t.Fatalf("holdings order unexpected: %+v", holdings)
	}
	if holdings[1].Amount.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("assetB amount = %s, want 7", holdings[1].Amount)
	}
}

func TestSnapshotRestore(t *testing.T) {
	s := newState(t)
	if err := s.SetTargets(map[common.Address]uint64{assetA: 6000, assetB: 4000}); err != nil {
		t.Fatalf("set targets: %v", err)
	}
	if err := s.Credit(assetA, big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	snap := s.TakeSnapshot()

	if err := s.Debit(assetA, big.NewInt(100)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := s.Credit(accounting, big.NewInt(999)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	s.MarkAllocated()

	s.Restore(snap)
	if got := s.Balance(assetA); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("assetA after restore = %s, want 100", got)
	}
	if got := s.AccountingBalance(); got.Sign() != 0 {
		t.Fatalf("accounting after restore = %s, want 0", got)
	}
	if s.Allocated() {
		t.Fatalf("allocated flag survived restore")
	}
}
