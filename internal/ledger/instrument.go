package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/0gfoundation/gasless-voucher/internal/metrics"
)

// Instrument wraps c so that every call is counted and timed.
func Instrument(c Client) Client { return &instrumented{next: c} }

type instrumented struct {
	next Client
}

func observe(op string, started time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRevoked), errors.Is(err, ErrExpired),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrUnknownProgram):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.ObserveLedgerCall(op, result, time.Since(started))
}

func (i *instrumented) IssueVoucher(ctx context.Context, spender AccountID, program ProgramID, amount *big.Int, duration time.Duration) (VoucherID, error) {
	start := time.Now()
	id, err := i.next.IssueVoucher(ctx, spender, program, amount, duration)
	observe("issue", start, err)
	return id, err
}

func (i *instrumented) GetVoucher(ctx context.Context, id VoucherID) (*Voucher, error) {
	start := time.Now()
	v, err := i.next.GetVoucher(ctx, id)
	observe("details", start, err)
	return v, err
}

func (i *instrumented) VouchersForAccount(ctx context.Context, account AccountID) ([]Voucher, error) {
	start := time.Now()
	vs, err := i.next.VouchersForAccount(ctx, account)
	observe("get_all_for_account", start, err)
	return vs, err
}

func (i *instrumented) UpdateVoucher(ctx context.Context, id VoucherID, account AccountID, balanceDelta *big.Int, durationDelta time.Duration) error {
	start := time.Now()
	err := i.next.UpdateVoucher(ctx, id, account, balanceDelta, durationDelta)
	observe("update", start, err)
	return err
}

func (i *instrumented) RevokeVoucher(ctx context.Context, id VoucherID, account AccountID) error {
	start := time.Now()
	err := i.next.RevokeVoucher(ctx, id, account)
	observe("revoke", start, err)
	return err
}
