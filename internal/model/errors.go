package model

import "errors"

// Operation failure classes. Every engine error wraps exactly one of these,
// so callers can classify with errors.Is regardless of the wrapping detail.
var (
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidState         = errors.New("invalid state")
	ErrSwapFailed           = errors.New("swap failed")
	ErrValuationUnavailable = errors.New("valuation unavailable")
	ErrNothingToCollect     = errors.New("nothing to collect")
)
