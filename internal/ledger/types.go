package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Ledger identifiers are 32 bytes, rendered as "0x" + 64 hex characters.
type (
	VoucherID = common.Hash
	AccountID = common.Hash
	ProgramID = common.Hash
)

// IDLength is the length of a canonical hex-encoded identifier, prefix included.
const IDLength = 2 + 2*common.HashLength

var (
	ErrMalformedID       = errors.New("malformed identifier")
	ErrNotFound          = errors.New("voucher not found")
	ErrUnauthorized      = errors.New("account is not the voucher owner")
	ErrRevoked           = errors.New("voucher revoked")
	ErrExpired           = errors.New("voucher expired")
	ErrInsufficientFunds = errors.New("insufficient sponsor funds")
	ErrUnknownProgram    = errors.New("unknown program")
)

// Voucher is the part of the ledger's voucher record the service works with.
type Voucher struct {
	ID        VoucherID
	Owner     AccountID
	Programs  []ProgramID
	Balance   *big.Int
	ExpiresAt time.Time
	Revoked   bool
}

// Enabled reports whether the voucher can still sponsor transactions at now.
func (v *Voucher) Enabled(now time.Time) bool {
	return !v.Revoked && now.Before(v.ExpiresAt)
}

// Covers reports whether the voucher is valid for program.
func (v *Voucher) Covers(program ProgramID) bool {
	for _, p := range v.Programs {
		if p == program {
			return true
		}
	}
	return false
}

// ParseVoucherID validates and decodes a voucher identifier.
func ParseVoucherID(s string) (VoucherID, error) { return parseID("voucher id", s) }

// ParseAccountID validates and decodes an account address.
func ParseAccountID(s string) (AccountID, error) { return parseID("account", s) }

// ParseProgramID validates and decodes a program identifier.
func ParseProgramID(s string) (ProgramID, error) { return parseID("program", s) }

func parseID(kind, s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != IDLength {
		return common.Hash{}, fmt.Errorf("%w: %s %q must be 0x-prefixed and %d characters long", ErrMalformedID, kind, s, IDLength)
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s %q: %v", ErrMalformedID, kind, s, err)
	}
	return common.BytesToHash(b), nil
}
