package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetAmount pairs an asset with an integer amount in its base units.
type AssetAmount struct {
	Asset  common.Address
	Amount *big.Int
}

// NAVSnapshot is the consistent valuation a mutating operation works against.
// It is computed at the start of the operation and discarded afterwards.
type NAVSnapshot struct {
	TotalValue  *big.Int
	TotalSupply *big.Int
}

// Trade records one executed leg of a rebalance cycle.
type Trade struct {
	TokenIn      common.Address `json:"token_in"`
	TokenOut     common.Address `json:"token_out"`
	AmountIn     *big.Int       `json:"amount_in"`
	MinAmountOut *big.Int       `json:"min_amount_out"`
	AmountOut    *big.Int       `json:"amount_out"`
}

// RebalanceReport captures the observable cost of one rebalance cycle.
type RebalanceReport struct {
	FundID             string  `json:"fund_id"`
	Timestamp          int64   `json:"timestamp"`
	NAVBefore          *big.Int `json:"nav_before"`
	NAVAfter           *big.Int `json:"nav_after"`
	MaxDeviationBefore uint64  `json:"max_deviation_before_bps"`
	MaxDeviationAfter  uint64  `json:"max_deviation_after_bps"`
	Trades             []Trade `json:"trades"`
}

// Executed reports whether the cycle actually traded.
func (r *RebalanceReport) Executed() bool {
	return r != nil && len(r.Trades) > 0
}
