package exchange

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/chain"
)

const routerABIJSON = `[
  {"inputs": [{"internalType": "uint256", "name": "amountIn", "type": "uint256"}, {"internalType": "address[]", "name": "path", "type": "address[]"}], "name": "getAmountsOut", "outputs": [{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"}], "stateMutability": "view", "type": "function"}
]`

var (
	routerABI     abi.ABI
	routerABIOnce sync.Once
	routerABIErr  error
)

func getRouterABI() (abi.ABI, error) {
	routerABIOnce.Do(func() {
		routerABI, routerABIErr = abi.JSON(strings.NewReader(routerABIJSON))
	})
	return routerABI, routerABIErr
}

// RouterQuoter prices swaps against a V2-style router via eth_call. It is a
// read-only quote source for valuation; execution stays on the venue that
// holds the fund's liquidity.
type RouterQuoter struct {
	chainClient *chain.Client
	router      common.Address
}

func NewRouterQuoter(chainClient *chain.Client, router common.Address) (*RouterQuoter, error) {
	if chainClient == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if router == (common.Address{}) {
		return nil, fmt.Errorf("router address is zero")
	}
	return &RouterQuoter{chainClient: chainClient, router: router}, nil
}

// Quote calls getAmountsOut on the router for the direct pair path.
func (q *RouterQuoter) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	routerABI, err := getRouterABI()
	if err != nil {
		return nil, err
	}

	path := []common.Address{tokenIn, tokenOut}
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("pack getAmountsOut: %w", err)
	}

	msg := ethereum.CallMsg{To: &q.router, Data: data}
	resp, err := q.chainClient.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}

	values, err := routerABI.Unpack("getAmountsOut", resp)
	if err != nil {
		return nil, fmt.Errorf("unpack getAmountsOut: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("getAmountsOut return size %d", len(values))
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsOut unexpected type %T", values[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut path length %d, amounts %d", len(path), len(amounts))
	}
	return amounts[len(amounts)-1], nil
}
