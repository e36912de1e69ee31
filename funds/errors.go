package funds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/parametric-cover/cover"
)

var (
	// ErrInvalidTransfer is returned for zero amounts, empty accounts and
	// transfers from an account to itself.
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrDuplicateTransfer is returned when an idempotency key was already used.
	// It matches cover.ErrDuplicateRequest.
	ErrDuplicateTransfer = fmt.Errorf("%w: transfer idempotency key already used", cover.ErrDuplicateRequest)

	// ErrInsufficientFunds is returned when the source cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	Account   cover.Principal
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, requested %s",
		e.Account, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}
