package gasless

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced to the HTTP layer. Ledger causes stay wrapped so
// callers can still match ledger.ErrUnauthorized and friends.
var (
	// ErrInvalidInput is returned before any ledger call is attempted.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidAccount is the ErrInvalidInput raised for a malformed account address.
	ErrInvalidAccount = fmt.Errorf("%w: invalid account", ErrInvalidInput)
	ErrNotFound       = errors.New("voucher not found")
	// ErrLedger covers transport failures and ledger-side rejections. Never retried.
	ErrLedger = errors.New("ledger error")
)
