package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
)

// Ledger tracks fund share balances with fungible-token semantics:
// transfer, allowance-based transferFrom, and engine-internal mint/burn.
type Ledger struct {
	mu          sync.RWMutex
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	totalSupply *big.Int
}

// Snapshot is a deep copy of ledger state, used for operation rollback.
type Snapshot struct {
	balances    map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]*big.Int
	totalSupply *big.Int
}

func New() *Ledger {
	return &Ledger{
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]*big.Int),
		totalSupply: big.NewInt(0),
	}
}

// TotalSupply returns the current share supply.
func (l *Ledger) TotalSupply() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.totalSupply)
}

// BalanceOf returns the share balance of a holder.
func (l *Ledger) BalanceOf(holder common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[holder]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Transfer moves shares from one holder to another.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := checkTransferArgs(to, amount); err != nil {
		return err
	}
	return l.move(from, to, amount)
}

// Approve sets the allowance of spender over owner's shares.
func (l *Ledger) Approve(owner, spender common.Address, amount *big.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve zero-address spender: %w", model.ErrInvalidParameters)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("approve negative amount: %w", model.ErrInvalidParameters)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	inner, ok := l.allowances[owner]
	if !ok {
		inner = make(map[common.Address]*big.Int)
		l.allowances[owner] = inner
	}
	inner[spender] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns the remaining allowance of spender over owner's shares.
func (l *Ledger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if inner, ok := l.allowances[owner]; ok {
		if a, ok := inner[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return big.NewInt(0)
}

// TransferFrom moves shares from owner to receiver, consuming spender's allowance.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := checkTransferArgs(to, amount); err != nil {
		return err
	}
	if err := l.spendAllowance(owner, spender, amount); err != nil {
		return err
	}
	return l.move(owner, to, amount)
}

// SpendAllowance consumes spender's allowance over owner without moving shares.
// Used by withdrawal, where the shares are burned rather than transferred.
func (l *Ledger) SpendAllowance(owner, spender common.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spendAllowance(owner, spender, amount)
}

// Mint creates new shares for a holder.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint to zero address: %w", model.ErrInvalidParameters)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("mint negative amount: %w", model.ErrInvalidParameters)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(to, amount)
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Burn destroys shares held by a holder.
func (l *Ledger) Burn(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("burn negative amount: %w", model.ErrInvalidParameters)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("burn %s exceeds balance: %w", amount, model.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	l.totalSupply.Sub(l.totalSupply, amount)
	return nil
}

// SumOfBalances totals all holder balances. It exists so callers can verify
// the supply conservation invariant.
func (l *Ledger) SumOfBalances() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := big.NewInt(0)
	for _, bal := range l.balances {
		sum.Add(sum, bal)
	}
	return sum
}

// TakeSnapshot deep-copies the ledger state.
func (l *Ledger) TakeSnapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	snap := Snapshot{
		balances:    make(map[common.Address]*big.Int, len(l.balances)),
		allowances:  make(map[common.Address]map[common.Address]*big.Int, len(l.allowances)),
		totalSupply: new(big.Int).Set(l.totalSupply),
	}
	for holder, bal := range l.balances {
		snap.balances[holder] = new(big.Int).Set(bal)
	}
	for owner, inner := range l.allowances {
		copied := make(map[common.Address]*big.Int, len(inner))
		for spender, a := range inner {
			copied[spender] = new(big.Int).Set(a)
		}
		snap.allowances[owner] = copied
	}
	return snap
}

// Restore replaces the ledger state with a previously taken snapshot.
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = snap.balances
	l.allowances = snap.allowances
	l.totalSupply = snap.totalSupply
}

func (l *Ledger) move(from, to common.Address, amount *big.Int) error {
	bal, ok := l.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s exceeds balance: %w", amount, model.ErrInsufficientBalance)
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

func (l *Ledger) credit(to common.Address, amount *big.Int) {
	if bal, ok := l.balances[to]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[to] = new(big.Int).Set(amount)
}

func (l *Ledger) spendAllowance(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("spend negative allowance: %w", model.ErrInvalidParameters)
	}
	if owner == spender {
		return nil
	}
	inner, ok := l.allowances[owner]
	if !ok {
		return fmt.Errorf("no allowance for spender: %w", model.ErrInsufficientBalance)
	}
	remaining, ok := inner[spender]
	if !ok || remaining.Cmp(amount) < 0 {
		return fmt.Errorf("allowance below %s: %w", amount, model.ErrInsufficientBalance)
	}
	remaining.Sub(remaining, amount)
	return nil
}

func checkTransferArgs(to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to zero address: %w", model.ErrInvalidParameters)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer negative amount: %w", model.ErrInvalidParameters)
	}
	return nil
}
