// Package sim is a Redis-backed stand-in for the ledger's voucher subsystem.
// It enforces the same rules the network does (sponsor funds, ownership,
// revocation, expiry) so the service can run end to end without a node.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

const (
	voucherKeyPrefix = "ledger:voucher:"
	sponsorKey       = "ledger:sponsor:balance"
	nonceKey         = "ledger:nonce"
	programsKey      = "ledger:programs"

	maxTxRetries = 16
)

func voucherKey(id ledger.VoucherID) string { return voucherKeyPrefix + id.Hex() }

func accountKey(a ledger.AccountID) string { return "ledger:account:" + a.Hex() + ":vouchers" }

// Ledger implements ledger.Client on top of Redis.
type Ledger struct {
	rdb *redis.Client
	now func() time.Time
}

// New returns a simulated ledger. now defaults to time.Now.
func New(rdb *redis.Client, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{rdb: rdb, now: now}
}

var _ ledger.Client = (*Ledger)(nil)

// reader is the subset of commands shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (l *Ledger) atomically(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := l.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("sim ledger: contention on %s", strings.Join(keys, ","))
}

// ── Sponsor & programs ─────────────────────────────────────────────────────

// Fund adds amount to the sponsor balance.
func (l *Ledger) Fund(ctx context.Context, amount *big.Int) error {
	return l.atomically(ctx, func(tx *redis.Tx) error {
		bal, err := getBig(ctx, tx, sponsorKey)
		if err != nil {
			return err
		}
		bal.Add(bal, amount)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, sponsorKey, bal.String(), 0)
			return nil
		})
		return err
	}, sponsorKey)
}

// FundIfEmpty seeds the sponsor balance unless one is already recorded.
func (l *Ledger) FundIfEmpty(ctx context.Context, amount *big.Int) (bool, error) {
	return l.rdb.SetNX(ctx, sponsorKey, amount.String(), 0).Result()
}

// SponsorBalance returns the funds still available for new vouchers.
func (l *Ledger) SponsorBalance(ctx context.Context) (*big.Int, error) {
	return getBig(ctx, l.rdb, sponsorKey)
}

// RegisterProgram marks program as deployed. While no program is registered
// every program id is accepted.
func (l *Ledger) RegisterProgram(ctx context.Context, program ledger.ProgramID) error {
	return l.rdb.SAdd(ctx, programsKey, program.Hex()).Err()
}

func (l *Ledger) checkProgram(ctx context.Context, program ledger.ProgramID) error {
	n, err := l.rdb.SCard(ctx, programsKey).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	ok, err := l.rdb.SIsMember(ctx, programsKey, program.Hex()).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownProgram, program.Hex())
	}
	return nil
}

// ── ledger.Client ──────────────────────────────────────────────────────────

func (l *Ledger) IssueVoucher(ctx context.Context, spender ledger.AccountID, program ledger.ProgramID, amount *big.Int, duration time.Duration) (ledger.VoucherID, error) {
	if amount == nil || amount.Sign() <= 0 {
		return ledger.VoucherID{}, errors.New("sim ledger: amount must be positive")
	}
	if err := l.checkProgram(ctx, program); err != nil {
		return ledger.VoucherID{}, err
	}
	nonce, err := l.rdb.Incr(ctx, nonceKey).Result()
	if err != nil {
		return ledger.VoucherID{}, fmt.Errorf("incr nonce: %w", err)
	}
	id := voucherID(spender, program, uint64(nonce))
	expiresAt := l.now().Add(duration).Unix()

	err = l.atomically(ctx, func(tx *redis.Tx) error {
		bal, err := getBig(ctx, tx, sponsorKey)
		if err != nil {
			return err
		}
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ledger.ErrInsufficientFunds, bal, amount)
		}
		bal.Sub(bal, amount)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, sponsorKey, bal.String(), 0)
			p.HSet(ctx, voucherKey(id),
				"id", id.Hex(),
				"owner", spender.Hex(),
				"programs", program.Hex(),
				"balance", amount.String(),
				"expires_at", expiresAt,
				"revoked", "0",
			)
			p.RPush(ctx, accountKey(spender), id.Hex())
			return nil
		})
		return err
	}, sponsorKey)
	if err != nil {
		return ledger.VoucherID{}, err
	}
	return id, nil
}

func (l *Ledger) GetVoucher(ctx context.Context, id ledger.VoucherID) (*ledger.Voucher, error) {
	return load(ctx, l.rdb, id)
}

func (l *Ledger) VouchersForAccount(ctx context.Context, account ledger.AccountID) ([]ledger.Voucher, error) {
	ids, err := l.rdb.LRange(ctx, accountKey(account), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w", err)
	}
	out := make([]ledger.Voucher, 0, len(ids))
	for _, raw := range ids {
		v, err := load(ctx, l.rdb, common.HexToHash(raw))
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

func (l *Ledger) UpdateVoucher(ctx context.Context, id ledger.VoucherID, account ledger.AccountID, balanceDelta *big.Int, durationDelta time.Duration) error {
	if balanceDelta == nil {
		balanceDelta = new(big.Int)
	}
	if balanceDelta.Sign() < 0 || durationDelta < 0 {
		return errors.New("sim ledger: negative update")
	}
	key := voucherKey(id)
	return l.atomically(ctx, func(tx *redis.Tx) error {
		v, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkMutable(v, account); err != nil {
			return err
		}
		// Expiry is terminal: an expired voucher cannot be topped up or extended.
		if !l.now().Before(v.ExpiresAt) {
			return fmt.Errorf("%w: %s", ledger.ErrExpired, v.ID.Hex())
		}
		bal, err := getBig(ctx, tx, sponsorKey)
		if err != nil {
			return err
		}
		if bal.Cmp(balanceDelta) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ledger.ErrInsufficientFunds, bal, balanceDelta)
		}
		bal.Sub(bal, balanceDelta)
		v.Balance.Add(v.Balance, balanceDelta)
		expiresAt := v.ExpiresAt.Add(durationDelta).Unix()
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, sponsorKey, bal.String(), 0)
			p.HSet(ctx, key, "balance", v.Balance.String(), "expires_at", expiresAt)
			return nil
		})
		return err
	}, key, sponsorKey)
}

// RevokeVoucher disables the voucher and returns its remaining balance to the
// sponsor. The record is kept so later reads report it as revoked.
func (l *Ledger) RevokeVoucher(ctx context.Context, id ledger.VoucherID, account ledger.AccountID) error {
	key := voucherKey(id)
	return l.atomically(ctx, func(tx *redis.Tx) error {
		v, err := load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkMutable(v, account); err != nil {
			return err
		}
		bal, err := getBig(ctx, tx, sponsorKey)
		if err != nil {
			return err
		}
		bal.Add(bal, v.Balance)
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, sponsorKey, bal.String(), 0)
			p.HSet(ctx, key, "revoked", "1", "balance", "0")
			return nil
		})
		return err
	}, key, sponsorKey)
}

// ── Helpers ────────────────────────────────────────────────────────────────

func checkMutable(v *ledger.Voucher, account ledger.AccountID) error {
	if v.Owner != account {
		return fmt.Errorf("%w: %s", ledger.ErrUnauthorized, v.ID.Hex())
	}
	if v.Revoked {
		return fmt.Errorf("%w: %s", ledger.ErrRevoked, v.ID.Hex())
	}
	return nil
}

// voucherID = keccak256(spender || program || nonce), unique per issuance.
func voucherID(spender ledger.AccountID, program ledger.ProgramID, nonce uint64) ledger.VoucherID {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256Hash(spender[:], program[:], n[:])
}

func getBig(ctx context.Context, r reader, key string) (*big.Int, error) {
	raw, err := r.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("get %s: invalid amount %q", key, raw)
	}
	return n, nil
}

func load(ctx context.Context, r reader, id ledger.VoucherID) (*ledger.Voucher, error) {
	vals, err := r.HGetAll(ctx, voucherKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get voucher: %w", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())
	}
	return voucherFromMap(vals)
}

func voucherFromMap(m map[string]string) (*ledger.Voucher, error) {
	balance, ok := new(big.Int).SetString(m["balance"], 10)
	if !ok {
		return nil, fmt.Errorf("voucher %s: invalid balance %q", m["id"], m["balance"])
	}
	expiresAt, err := strconv.ParseInt(m["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("voucher %s: invalid expiry: %w", m["id"], err)
	}
	var programs []ledger.ProgramID
	for _, p := range strings.Split(m["programs"], ",") {
		if p != "" {
			programs = append(programs, common.HexToHash(p))
		}
	}
	return &ledger.Voucher{
		ID:        common.HexToHash(m["id"]),
		Owner:     common.HexToHash(m["owner"]),
		Programs:  programs,
		Balance:   balance,
		ExpiresAt: time.Unix(expiresAt, 0),
		Revoked:   m["revoked"] == "1",
	}, nil
}
