package exchange

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
)

const ammFeeDenominator = 1_000_000

// AMM is an in-memory constant-product venue. It backs the simulation
// command and the engine tests; swaps against it are atomic, matching the
// host-environment assumption the engine is built on.
type AMM struct {
	mu     sync.Mutex
	pools  map[pairKey]*pool
	feePPM uint64
	now    func() time.Time
}

type pairKey struct {
	a, b common.Address
}

type pool struct {
	reserveA *big.Int // reserve of pairKey.a
	reserveB *big.Int // reserve of pairKey.b
}

func orderedKey(x, y common.Address) (pairKey, bool) {
	if x.Cmp(y) < 0 {
		return pairKey{a: x, b: y}, false
	}
	return pairKey{a: y, b: x}, true
}

// NewAMM builds an empty venue charging feePPM parts-per-million per swap.
func NewAMM(feePPM uint64) *AMM {
	return &AMM{
		pools:  make(map[pairKey]*pool),
		feePPM: feePPM,
		now:    time.Now,
	}
}

// AddPool seeds liquidity for a token pair. One pool per pair.
func (a *AMM) AddPool(tokenA, tokenB common.Address, reserveA, reserveB *big.Int) error {
	if tokenA == tokenB {
		return fmt.Errorf("identical pool tokens: %w", model.ErrInvalidParameters)
	}
	if reserveA == nil || reserveB == nil || reserveA.Sign() <= 0 || reserveB.Sign() <= 0 {
		return fmt.Errorf("pool reserves must be positive: %w", model.ErrInvalidParameters)
	}
	key, swapped := orderedKey(tokenA, tokenB)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.pools[key]; exists {
		return fmt.Errorf("pool %s/%s exists: %w", tokenA.Hex(), tokenB.Hex(), model.ErrInvalidParameters)
	}
	p := &pool{reserveA: new(big.Int).Set(reserveA), reserveB: new(big.Int).Set(reserveB)}
	if swapped {
		p.reserveA, p.reserveB = new(big.Int).Set(reserveB), new(big.Int).Set(reserveA)
	}
	a.pools[key] = p
	return nil
}

// Quote returns the constant-product output for amountIn without trading.
func (a *AMM) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reserveIn, reserveOut, err := a.reserves(tokenIn, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrValuationUnavailable, err)
	}
	return amountOut(amountIn, reserveIn, reserveOut, a.feePPM)
}

// Swap executes a trade against the pool, enforcing minAmountOut and deadline.
func (a *AMM) Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, deadline time.Time) (*big.Int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !deadline.IsZero() && a.now().After(deadline) {
		return nil, fmt.Errorf("deadline passed: %w", model.ErrSwapFailed)
	}
	reserveIn, reserveOut, err := a.reserves(tokenIn, tokenOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrSwapFailed, err)
	}
	out, err := amountOut(amountIn, reserveIn, reserveOut, a.feePPM)
	if err != nil {
		return nil, err
	}
	if minAmountOut != nil && out.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("output %s below minimum %s: %w", out, minAmountOut, model.ErrSwapFailed)
	}
	reserveIn.Add(reserveIn, amountIn)
	reserveOut.Sub(reserveOut, out)
	return out, nil
}

// SetClock overrides the deadline clock. Tests only.
func (a *AMM) SetClock(now func() time.Time) { a.now = now }

func (a *AMM) reserves(tokenIn, tokenOut common.Address) (*big.Int, *big.Int, error) {
	key, _ := orderedKey(tokenIn, tokenOut)
	p, ok := a.pools[key]
	if !ok {
		return nil, nil, fmt.Errorf("no pool for %s/%s", tokenIn.Hex(), tokenOut.Hex())
	}
	if tokenIn == key.a {
		return p.reserveA, p.reserveB, nil
	}
	return p.reserveB, p.reserveA, nil
}

func amountOut(amountIn, reserveIn, reserveOut *big.Int, feePPM uint64) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amount in must be positive: %w", model.ErrInvalidParameters)
	}
	inAfterFee := new(big.Int).Mul(amountIn, big.NewInt(int64(ammFeeDenominator-feePPM)))
	inAfterFee.Div(inAfterFee, big.NewInt(ammFeeDenominator))

	num := new(big.Int).Mul(reserveOut, inAfterFee)
	den := new(big.Int).Add(reserveIn, inAfterFee)
	return num.Div(num, den), nil
}
