package gasless

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

// fakeLedger is an in-memory ledger.Client that applies updates additively
// and counts every call.
type fakeLedger struct {
	mu       sync.Mutex
	now      func() time.Time
	vouchers map[ledger.VoucherID]*ledger.Voucher
	order    []ledger.VoucherID
	calls    int
	failWith error

	lastAmount   *big.Int
	lastDuration time.Duration
	lastProgram  ledger.ProgramID
}

func newFakeLedger(now func() time.Time) *fakeLedger {
	return &fakeLedger{now: now, vouchers: make(map[ledger.VoucherID]*ledger.Voucher)}
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// add inserts a voucher directly, bypassing IssueVoucher.
func (f *fakeLedger) add(v ledger.Voucher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vouchers[v.ID] = &v
	f.order = append(f.order, v.ID)
}

func (f *fakeLedger) begin() error {
	f.mu.Lock()
	f.calls++
	return f.failWith
}

func (f *fakeLedger) IssueVoucher(_ context.Context, spender ledger.AccountID, program ledger.ProgramID, amount *big.Int, duration time.Duration) (ledger.VoucherID, error) {
	err := f.begin()
	defer f.mu.Unlock()
	if err != nil {
		return ledger.VoucherID{}, err
	}
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(f.order)+1))
	id := common.BytesToHash(append(spender[:8], n[:]...))
	f.vouchers[id] = &ledger.Voucher{
		ID:        id,
		Owner:     spender,
		Programs:  []ledger.ProgramID{program},
		Balance:   new(big.Int).Set(amount),
		ExpiresAt: f.now().Add(duration),
	}
	f.order = append(f.order, id)
	f.lastAmount, f.lastDuration, f.lastProgram = amount, duration, program
	return id, nil
}

func (f *fakeLedger) GetVoucher(_ context.Context, id ledger.VoucherID) (*ledger.Voucher, error) {
	err := f.begin()
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	v, ok := f.vouchers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())
	}
	cp := *v
	cp.Balance = new(big.Int).Set(v.Balance)
	return &cp, nil
}

func (f *fakeLedger) VouchersForAccount(_ context.Context, account ledger.AccountID) ([]ledger.Voucher, error) {
	err := f.begin()
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []ledger.Voucher
	for _, id := range f.order {
		if v := f.vouchers[id]; v.Owner == account {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (f *fakeLedger) UpdateVoucher(_ context.Context, id ledger.VoucherID, account ledger.AccountID, balanceDelta *big.Int, durationDelta time.Duration) error {
	err := f.begin()
	defer f.mu.Unlock()
	if err != nil {
		return err
	}
	v, ok := f.vouchers[id]
	switch {
	case !ok:
		return ledger.ErrNotFound
	case v.Owner != account:
		return ledger.ErrUnauthorized
	case v.Revoked:
		return ledger.ErrRevoked
	}
	v.Balance.Add(v.Balance, balanceDelta)
	v.ExpiresAt = v.ExpiresAt.Add(durationDelta)
	return nil
}

func (f *fakeLedger) RevokeVoucher(_ context.Context, id ledger.VoucherID, account ledger.AccountID) error {
	err := f.begin()
	defer f.mu.Unlock()
	if err != nil {
		return err
	}
	v, ok := f.vouchers[id]
	switch {
	case !ok:
		return ledger.ErrNotFound
	case v.Owner != account:
		return ledger.ErrUnauthorized
	}
	v.Revoked = true
	return nil
}
