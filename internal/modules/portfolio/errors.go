package portfolio

import "errors"

// Validation and precondition errors. All are rejected before any ledger
// mutation: a failed operation leaves the ledger exactly as it was.
var (
	ErrInvalidInitialCapital = errors.New("initial capital must be between 100 and 1000000")
	ErrAlreadyInitialized    = errors.New("ledger already initialized")
	ErrNotInitialized        = errors.New("ledger not initialized")
	ErrBelowMinimum          = errors.New("amount below minimum")
	ErrInsufficientFunds     = errors.New("insufficient available balance")
	ErrPositionNotFound      = errors.New("position not found")
	ErrInvalidPercentage     = errors.New("sell percentage must be in (0, 100]")
	ErrNonPositiveQuantity   = errors.New("sell quantity must be positive")
	ErrFeeExceedsAmount      = errors.New("withdrawal amount does not cover the fee")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrUnknownSymbol         = errors.New("unknown symbol")
)
