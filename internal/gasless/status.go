package gasless

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

// VoucherStatus is the service's view of one voucher, built fresh from the
// ledger on every query.
type VoucherStatus struct {
	ID       ledger.VoucherID   `json:"id"`
	Owner    ledger.AccountID   `json:"owner"`
	Programs []ledger.ProgramID `json:"programs"`
	Enabled  bool               `json:"enabled"`
	Revoked  bool               `json:"revoked"`
	// RawBalance is in the ledger's smallest unit; Balance is the same
	// amount in whole tokens.
	RawBalance    *big.Int `json:"rawBalance"`
	Balance       string   `json:"balance"`
	ExpiresAt     int64    `json:"expiresAt"`
	DurationInSec int64    `json:"durationInSec"`
}

// ProgramStatus answers "does this account already hold a voucher for this
// program". A missing voucher is a normal answer, not an error.
type ProgramStatus struct {
	ID          *ledger.VoucherID `json:"id"`
	Enabled     bool              `json:"enabled"`
	Duration    int64             `json:"duration"`
	VaraToIssue *big.Int          `json:"varaToIssue"`
}

func absentProgramStatus() *ProgramStatus {
	return &ProgramStatus{VaraToIssue: new(big.Int)}
}

func (s *Service) project(v *ledger.Voucher) *VoucherStatus {
	now := s.opts.Now()
	enabled := v.Enabled(now)
	var remaining int64
	if enabled {
		remaining = int64(v.ExpiresAt.Sub(now) / time.Second)
	}
	programs := v.Programs
	if programs == nil {
		programs = []ledger.ProgramID{}
	}
	return &VoucherStatus{
		ID:            v.ID,
		Owner:         v.Owner,
		Programs:      programs,
		Enabled:       enabled,
		Revoked:       v.Revoked,
		RawBalance:    new(big.Int).Set(v.Balance),
		Balance:       decimal.NewFromBigInt(v.Balance, -s.opts.TokenDecimals).String(),
		ExpiresAt:     v.ExpiresAt.Unix(),
		DurationInSec: remaining,
	}
}
