package ledger

import (
	"context"
	"math/big"
	"time"
)

// Client is the ledger's voucher subsystem as seen by the service.
// Every method is a remote call that may be slow or fail.
type Client interface {
	// IssueVoucher creates a voucher for spender, valid for program, funded
	// with amount from the sponsor and expiring after duration.
	IssueVoucher(ctx context.Context, spender AccountID, program ProgramID, amount *big.Int, duration time.Duration) (VoucherID, error)
	// GetVoucher returns ErrNotFound when the ledger has no such voucher.
	GetVoucher(ctx context.Context, id VoucherID) (*Voucher, error)
	// VouchersForAccount lists the account's vouchers in ledger enumeration order.
	VouchersForAccount(ctx context.Context, account AccountID) ([]Voucher, error)
	// UpdateVoucher adds balanceDelta to the balance and durationDelta to the expiry.
	UpdateVoucher(ctx context.Context, id VoucherID, account AccountID, balanceDelta *big.Int, durationDelta time.Duration) error
	RevokeVoucher(ctx context.Context, id VoucherID, account AccountID) error
}
