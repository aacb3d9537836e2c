package ledger

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// rpcVoucher is the voucher record as the gateway serialises it.
type rpcVoucher struct {
	ID       common.Hash    `json:"id"`
	Owner    common.Hash    `json:"owner"`
	Programs []common.Hash  `json:"programs"`
	Balance  *hexutil.Big   `json:"balance"`
	Expiry   hexutil.Uint64 `json:"expiry"` // unix seconds
	Revoked  bool           `json:"revoked"`
}

func (r *rpcVoucher) toVoucher() *Voucher {
	balance := new(big.Int)
	if r.Balance != nil {
		balance.Set(r.Balance.ToInt())
	}
	programs := make([]ProgramID, len(r.Programs))
	copy(programs, r.Programs)
	return &Voucher{
		ID:        r.ID,
		Owner:     r.Owner,
		Programs:  programs,
		Balance:   balance,
		ExpiresAt: time.Unix(int64(min(uint64(r.Expiry), maxExpiryUnix)), 0),
		Revoked:   r.Revoked,
	}
}

func fromVoucher(v *Voucher) rpcVoucher {
	programs := v.Programs
	if programs == nil {
		programs = []ProgramID{}
	}
	balance := new(big.Int)
	if v.Balance != nil {
		balance.Set(v.Balance)
	}
	return rpcVoucher{
		ID:       v.ID,
		Owner:    v.Owner,
		Programs: programs,
		Balance:  (*hexutil.Big)(balance),
		Expiry:   hexutil.Uint64(max(v.ExpiresAt.Unix(), 0)),
		Revoked:  v.Revoked,
	}
}

// maxExpiryUnix caps wire expiries so they stay representable as time.Time.
// It lies billions of years out, so capping never shortens a real voucher.
const maxExpiryUnix = uint64(1) << 62

// maxWireSeconds is the largest seconds count that fits a time.Duration.
const maxWireSeconds = uint64(math.MaxInt64 / int64(time.Second))

func seconds(d time.Duration) hexutil.Uint64 { return hexutil.Uint64(d / time.Second) }

// wireDuration converts a seconds count from the wire, rejecting values that
// would overflow time.Duration.
func wireDuration(s hexutil.Uint64) (time.Duration, error) {
	if uint64(s) > maxWireSeconds {
		return 0, fmt.Errorf("duration of %d seconds is out of range", uint64(s))
	}
	return time.Duration(s) * time.Second, nil
}

// JSON-RPC error codes used by the gateway for ledger-side rejections.
const (
	codeInsufficientFunds = 4002
	codeUnauthorized      = 4003
	codeNotFound          = 4004
	codeRevoked           = 4009
	codeExpired           = 4010
	codeUnknownProgram    = 4022
)

var errorCodes = []struct {
	err  error
	code int
}{
	{ErrInsufficientFunds, codeInsufficientFunds},
	{ErrUnauthorized, codeUnauthorized},
	{ErrNotFound, codeNotFound},
	{ErrRevoked, codeRevoked},
	{ErrExpired, codeExpired},
	{ErrUnknownProgram, codeUnknownProgram},
}

// rpcError satisfies rpc.Error so the server reports our code on the wire.
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string  { return e.msg }
func (e *rpcError) ErrorCode() int { return e.code }

func toRPCError(err error) error {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &rpcError{code: ec.code, msg: err.Error()}
		}
	}
	return err
}

func fromRPCError(err error) error {
	var re rpc.Error
	if errors.As(err, &re) {
		for _, ec := range errorCodes {
			if re.ErrorCode() == ec.code {
				return fmt.Errorf("%w: %s", ec.err, re.Error())
			}
		}
	}
	return err
}
