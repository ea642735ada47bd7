package exchange

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"basketfund/internal/nav"
)

// RetryQuoter wraps a quote source with bounded exponential backoff. RPC
// quote paths fail transiently; valuation should not fail closed on the
// first blip.
type RetryQuoter struct {
	inner      nav.QuoteSource
	maxRetries int
	baseDelay  time.Duration
}

func NewRetryQuoter(inner nav.QuoteSource, maxRetries int, baseDelay time.Duration) *RetryQuoter {
	return &RetryQuoter{inner: inner, maxRetries: maxRetries, baseDelay: baseDelay}
}

func (q *RetryQuoter) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	var out *big.Int
	err := withRetry(ctx, q.maxRetries, q.baseDelay, func(ctx context.Context) error {
		var err error
		out, err = q.inner.Quote(ctx, tokenIn, tokenOut, amountIn)
		return err
	})
	return out, err
}

func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
