package wallet

import "errors"

// Sentinel errors shared across the ledger and engines. Callers test with
// errors.Is; store failures are wrapped separately and are the only class
// eligible for retry.
var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountBlocked    = errors.New("account is blocked")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrProductNotFound   = errors.New("product position not found")
	ErrTxNotFound        = errors.New("transaction record not found")
	ErrPermissionDenied  = errors.New("administrative permission required")
)
