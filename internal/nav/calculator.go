package nav

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/model"
	"basketfund/internal/portfolio"
)

// OneShare is one whole share in base units (18 decimals). SharePrice is
// quoted per whole share.
var OneShare = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// QuoteSource prices one asset in terms of another. Both the in-memory AMM
// and the on-chain router quoter satisfy it.
type QuoteSource interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
}

// Calculator values a portfolio in accounting-asset units. It is a pure
// read over a quote source and never mutates state.
type Calculator struct {
	quotes QuoteSource
}

func NewCalculator(quotes QuoteSource) *Calculator {
	return &Calculator{quotes: quotes}
}

// TotalNAV sums the accounting-asset value of every held asset plus the raw
// accounting balance. A broken quote path fails closed with
// ErrValuationUnavailable.
func (c *Calculator) TotalNAV(ctx context.Context, state *portfolio.State) (*big.Int, error) {
	total := state.AccountingBalance()
	for _, asset := range state.Assets() {
		value, err := c.AssetValue(ctx, state, asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, value)
	}
	return total, nil
}

// AssetValue converts one allowed asset's full balance into accounting units.
func (c *Calculator) AssetValue(ctx context.Context, state *portfolio.State, asset common.Address) (*big.Int, error) {
	balance := state.Balance(asset)
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	value, err := c.quotes.Quote(ctx, asset, state.Accounting(), balance)
	if err != nil {
		return nil, fmt.Errorf("quote %s: %w: %w", asset.Hex(), model.ErrValuationUnavailable, err)
	}
	return value, nil
}

// SharePrice returns the accounting-asset value of one whole share,
// defined as one accounting unit while no shares exist.
func (c *Calculator) SharePrice(ctx context.Context, state *portfolio.State, totalSupply *big.Int) (*big.Int, error) {
	if totalSupply == nil || totalSupply.Sign() == 0 {
		return new(big.Int).Set(OneShare), nil
	}
	total, err := c.TotalNAV(ctx, state)
	if err != nil {
		return nil, err
	}
	total.Mul(total, OneShare)
	return total.Div(total, totalSupply), nil
}

// Snapshot captures a consistent (NAV, supply) pair for one operation.
func (c *Calculator) Snapshot(ctx context.Context, state *portfolio.State, totalSupply *big.Int) (model.NAVSnapshot, error) {
	total, err := c.TotalNAV(ctx, state)
	if err != nil {
		return model.NAVSnapshot{}, err
	}
	return model.NAVSnapshot{
		TotalValue:  total,
		TotalSupply: new(big.Int).Set(totalSupply),
	}, nil
}
