package exchange

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Exchange is the swap capability the fund engine trades through. Any venue
// satisfying it is acceptable; the engine never assumes a concrete AMM.
type Exchange interface {
	// Quote returns the expected output amount without side effects.
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	// Swap executes a trade. It fails if the realized output would be below
	// minAmountOut or the deadline has passed.
	Swap(ctx context.Context, tokenIn, tokenOut common.Address, amountIn, minAmountOut *big.Int, deadline time.Time) (*big.Int, error)
}
