package portfolio

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
)

// WeightDenominator is the basis-point scale for target weights.
const WeightDenominator = 10_000

// State holds the allowed-asset set, per-asset target weights, and per-asset
// balances for one fund. The asset set is fixed at construction; only target
// weights and balances change afterwards. State carries no lock of its own:
// the owning fund serializes access.
type State struct {
	accounting        common.Address
	assets            []common.Address
	targets           map[common.Address]uint64
	balances          map[common.Address]*big.Int
	accountingBalance *big.Int
	allocated         bool
}

// Snapshot is a deep copy of the mutable portfolio state.
type Snapshot struct {
	targets           map[common.Address]uint64
	balances          map[common.Address]*big.Int
	accountingBalance *big.Int
	allocated         bool
}

// New builds a portfolio over a fixed, non-empty asset set. The accounting
// asset is held separately and must not appear in the allowed set.
func New(accounting common.Address, assets []common.Address) (*State, error) {
	if accounting == (common.Address{}) {
		return nil, fmt.Errorf("zero accounting asset: %w", model.ErrInvalidParameters)
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("empty asset set: %w", model.ErrInvalidParameters)
	}
	seen := make(map[common.Address]struct{}, len(assets))
	ordered := make([]common.Address, 0, len(assets))
	balances := make(map[common.Address]*big.Int, len(assets))
	for _, asset := range assets {
		if asset == (common.Address{}) {
			return nil, fmt.Errorf("zero asset address: %w", model.ErrInvalidParameters)
		}
		if asset == accounting {
			return nil, fmt.Errorf("accounting asset in allowed set: %w", model.ErrInvalidParameters)
		}
		if _, dup := seen[asset]; dup {
			return nil, fmt.Errorf("duplicate asset %s: %w", asset.Hex(), model.ErrInvalidParameters)
		}
		seen[asset] = struct{}{}
		ordered = append(ordered, asset)
		balances[asset] = big.NewInt(0)
	}
	return &State{
		accounting:        accounting,
		assets:            ordered,
		targets:           make(map[common.Address]uint64),
		balances:          balances,
		accountingBalance: big.NewInt(0),
	}, nil
}

// Accounting returns the accounting asset address.
func (s *State) Accounting() common.Address { return s.accounting }

// Assets returns the allowed assets in their fixed order.
func (s *State) Assets() []common.Address {
	out := make([]common.Address, len(s.assets))
	copy(out, s.assets)
	return out
}

// HasTargets reports whether target weights have been set.
func (s *State) HasTargets() bool { return len(s.targets) > 0 }

// Allocated reports whether the fund has completed its first allocation cycle.
func (s *State) Allocated() bool { return s.allocated }

// MarkAllocated records that the first allocation cycle has run.
func (s *State) MarkAllocated() { s.allocated = true }

// SetTargets replaces the target weights. Weights must cover exactly the
// allowed asset set, every weight must be positive, and the sum must equal
// WeightDenominator. On any violation the previous targets are untouched.
func (s *State) SetTargets(weights map[common.Address]uint64) error {
	if len(weights) != len(s.assets) {
		return fmt.Errorf("weights cover %d of %d assets: %w", len(weights), len(s.assets), model.ErrInvalidParameters)
	}
	var sum uint64
	for _, asset := range s.assets {
		w, ok := weights[asset]
		if !ok {
			return fmt.Errorf("missing weight for %s: %w", asset.Hex(), model.ErrInvalidParameters)
		}
		if w == 0 {
			return fmt.Errorf("zero weight for %s: %w", asset.Hex(), model.ErrInvalidParameters)
		}
		sum += w
	}
	if sum != WeightDenominator {
		return fmt.Errorf("weights sum to %d, want %d: %w", sum, WeightDenominator, model.ErrInvalidParameters)
	}
	next := make(map[common.Address]uint64, len(weights))
	for asset, w := range weights {
		next[asset] = w
	}
	s.targets = next
	return nil
}

// Target returns the target weight in bps for an asset (zero if unset).
func (s *State) Target(asset common.Address) uint64 { return s.targets[asset] }

// Targets returns a copy of the target weight map.
func (s *State) Targets() map[common.Address]uint64 {
	out := make(map[common.Address]uint64, len(s.targets))
	for asset, w := range s.targets {
		out[asset] = w
	}
	return out
}

// Balance returns the held balance of an allowed asset.
func (s *State) Balance(asset common.Address) *big.Int {
	if bal, ok := s.balances[asset]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// AccountingBalance returns the idle accounting-asset balance.
func (s *State) AccountingBalance() *big.Int {
	return new(big.Int).Set(s.accountingBalance)
}

// Credit adds to an asset balance. The accounting asset is accepted as well.
func (s *State) Credit(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("credit negative amount: %w", model.ErrInvalidParameters)
	}
	if asset == s.accounting {
		s.accountingBalance.Add(s.accountingBalance, amount)
		return nil
	}
	bal, ok := s.balances[asset]
	if !ok {
		return fmt.Errorf("asset %s not allowed: %w", asset.Hex(), model.ErrInvalidParameters)
	}
	bal.Add(bal, amount)
	return nil
}

// Debit removes from an asset balance, failing if it would go negative.
func (s *State) Debit(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("debit negative amount: %w", model.ErrInvalidParameters)
	}
	if asset == s.accounting {
		if s.accountingBalance.Cmp(amount) < 0 {
			return fmt.Errorf("accounting balance below %s: %w", amount, model.ErrInsufficientBalance)
		}
		s.accountingBalance.Sub(s.accountingBalance, amount)
		return nil
	}
	bal, ok := s.balances[asset]
	if !ok {
		return fmt.Errorf("asset %s not allowed: %w", asset.Hex(), model.ErrInvalidParameters)
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("balance of %s below %s: %w", asset.Hex(), amount, model.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	return nil
}

// Holdings returns every held position, allowed assets first and the
// accounting asset last. Zero balances are included so withdrawal baskets
// have a stable shape.
func (s *State) Holdings() []model.AssetAmount {
	out := make([]model.AssetAmount, 0, len(s.assets)+1)
	for _, asset := range s.assets {
		out = append(out, model.AssetAmount{Asset: asset, Amount: s.Balance(asset)})
	}
	out = append(out, model.AssetAmount{Asset: s.accounting, Amount: s.AccountingBalance()})
	return out
}

// TakeSnapshot deep-copies the mutable portfolio state.
func (s *State) TakeSnapshot() Snapshot {
	snap := Snapshot{
		targets:           make(map[common.Address]uint64, len(s.targets)),
		balances:          make(map[common.Address]*big.Int, len(s.balances)),
		accountingBalance: new(big.Int).Set(s.accountingBalance),
		allocated:         s.allocated,
	}
	for asset, w := range s.targets {
		snap.targets[asset] = w
	}
	for asset, bal := range s.balances {
		snap.balances[asset] = new(big.Int).Set(bal)
	}
	return snap
}

// Restore replaces the mutable state with a previously taken snapshot.
func (s *State) Restore(snap Snapshot) {
	s.targets = snap.targets
	s.balances = snap.balances
	s.accountingBalance = snap.accountingBalance
	s.allocated = snap.allocated
}
