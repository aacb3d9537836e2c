// Package gasless implements the voucher lifecycle: issuing, prolonging,
// revoking and reporting fee-sponsorship vouchers held on the ledger.
package gasless

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

// Defaults for optional request fields.
var (
	DefaultAmount   = big.NewInt(10_000_000_000_000)
	DefaultDuration = time.Hour
)

// Defaults are the values applied when a caller omits amount or duration.
// Duration is also the nominal duration reported by ProgramStatus.
type Defaults struct {
	Amount   *big.Int
	Duration time.Duration
}

// Apply fills in whichever of amount and duration was omitted (nil / zero).
func (d Defaults) Apply(amount *big.Int, duration time.Duration) (*big.Int, time.Duration) {
	if amount == nil {
		amount = new(big.Int).Set(d.Amount)
	}
	if duration == 0 {
		duration = d.Duration
	}
	return amount, duration
}

// Connector builds the ledger client. The service calls it lazily, once.
type Connector func(ctx context.Context) (ledger.Client, error)

type Options struct {
	// DefaultProgram is the hex program id used when Issue gets no program.
	DefaultProgram string
	Defaults       Defaults
	// TokenDecimals is the number of decimals between the raw balance unit
	// and a whole token.
	TokenDecimals int32
	Now           func() time.Time
}

// Service owns the voucher business rules. It keeps no voucher state; the
// ledger is the source of truth for every call.
type Service struct {
	connect Connector
	opts    Options
	log     *zap.Logger

	// initSem is held while the backend is built.
	initSem *semaphore.Weighted
	ready   atomic.Pointer[backend]
}

// backend is the process-wide state established on first use.
type backend struct {
	ledger         ledger.Client
	defaultProgram *ledger.ProgramID
}

func New(connect Connector, opts Options, log *zap.Logger) *Service {
	if opts.Defaults.Amount == nil {
		opts.Defaults.Amount = DefaultAmount
	}
	if opts.Defaults.Duration == 0 {
		opts.Defaults.Duration = DefaultDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{connect: connect, opts: opts, log: log, initSem: semaphore.NewWeighted(1)}
}

// Defaults returns the defaults applied to omitted request fields.
func (s *Service) Defaults() Defaults { return s.opts.Defaults }

// backend returns the ledger backend, constructing it on first use. Concurrent
// first callers queue on initSem so the connector runs once, and a caller
// whose context ends while queued gives up without waiting. A failed
// construction is not kept, so the next request tries again.
func (s *Service) backend(ctx context.Context) (*backend, error) {
	if b := s.ready.Load(); b != nil {
		return b, nil
	}
	if err := s.initSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for ledger client: %w", ErrLedger, err)
	}
	defer s.initSem.Release(1)
	if b := s.ready.Load(); b != nil {
		return b, nil
	}

	b := &backend{}
	if s.opts.DefaultProgram != "" {
		p, err := ledger.ParseProgramID(s.opts.DefaultProgram)
		if err != nil {
			return nil, fmt.Errorf("default program: %w", err)
		}
		b.defaultProgram = &p
	}
	client, err := s.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrLedger, err)
	}
	b.ledger = client
	s.ready.Store(b)
	s.log.Info("ledger client ready")
	return b, nil
}

// ── Issue ───────────────────────────────────────────────────────────────────

// Issue creates a voucher for account on program and returns its id. An empty
// program selects the configured default. Callers apply Defaults beforehand;
// amount and duration must be positive here.
func (s *Service) Issue(ctx context.Context, account, program string, amount *big.Int, duration time.Duration) (ledger.VoucherID, error) {
	spender, err := ledger.ParseAccountID(account)
	if err != nil {
		return ledger.VoucherID{}, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ledger.VoucherID{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if duration < time.Second {
		return ledger.VoucherID{}, fmt.Errorf("%w: duration must be at least one second", ErrInvalidInput)
	}
	var target *ledger.ProgramID
	if program != "" {
		p, err := ledger.ParseProgramID(program)
		if err != nil {
			return ledger.VoucherID{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		target = &p
	}

	b, err := s.backend(ctx)
	if err != nil {
		return ledger.VoucherID{}, err
	}
	if target == nil {
		if b.defaultProgram == nil {
			return ledger.VoucherID{}, fmt.Errorf("%w: no program given and no default program configured", ErrInvalidInput)
		}
		target = b.defaultProgram
	}

	id, err := b.ledger.IssueVoucher(ctx, spender, *target, amount, duration)
	if err != nil {
		return ledger.VoucherID{}, fmt.Errorf("issue voucher: %w: %w", ErrLedger, err)
	}
	s.log.Info("voucher issued",
		zap.String("voucher", id.Hex()),
		zap.String("account", spender.Hex()),
		zap.String("program", target.Hex()),
		zap.String("amount", amount.String()),
		zap.Duration("duration", duration),
	)
	return id, nil
}

// ── Status ──────────────────────────────────────────────────────────────────

// VoucherStatus reads the voucher from the ledger and projects it.
func (s *Service) VoucherStatus(ctx context.Context, voucherID string) (*VoucherStatus, error) {
	id, err := ledger.ParseVoucherID(voucherID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	v, err := b.ledger.GetVoucher(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher: %w: %w", ErrLedger, err)
	}
	return s.project(v), nil
}

// ProgramStatus reports the account's voucher for program. When the ledger
// lists several, the first one in ledger enumeration order wins.
func (s *Service) ProgramStatus(ctx context.Context, account, program string) (*ProgramStatus, error) {
	if account == "" {
		return nil, fmt.Errorf("%w: missing account", ErrInvalidInput)
	}
	owner, err := ledger.ParseAccountID(account)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	target, err := ledger.ParseProgramID(program)
	if err != nil {
		// A malformed program id cannot appear in any voucher.
		return absentProgramStatus(), nil
	}

	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	vouchers, err := b.ledger.VouchersForAccount(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list vouchers: %w: %w", ErrLedger, err)
	}
	var match *ledger.Voucher
	for i := range vouchers {
		if vouchers[i].Covers(target) {
			match = &vouchers[i]
			break
		}
	}
	if match == nil {
		return absentProgramStatus(), nil
	}

	v, err := b.ledger.GetVoucher(ctx, match.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return absentProgramStatus(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voucher: %w: %w", ErrLedger, err)
	}
	id := v.ID
	return &ProgramStatus{
		ID:          &id,
		Enabled:     v.Enabled(s.opts.Now()),
		Duration:    int64(s.opts.Defaults.Duration / time.Second),
		VaraToIssue: new(big.Int).Set(v.Balance),
	}, nil
}

// ── Prolong / Revoke ────────────────────────────────────────────────────────

// Prolong adds balance to the voucher and extends its expiry by duration.
// Each call is applied by the ledger; repeating it compounds the increase.
func (s *Service) Prolong(ctx context.Context, voucherID, account string, balance *big.Int, duration time.Duration) error {
	id, owner, err := parseTarget(voucherID, account)
	if err != nil {
		return err
	}
	if balance == nil {
		balance = new(big.Int)
	}
	if balance.Sign() < 0 || duration < 0 {
		return fmt.Errorf("%w: balance and duration must not be negative", ErrInvalidInput)
	}
	if balance.Sign() == 0 && duration == 0 {
		return fmt.Errorf("%w: nothing to prolong", ErrInvalidInput)
	}

	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	if err := b.ledger.UpdateVoucher(ctx, id, owner, balance, duration); err != nil {
		return fmt.Errorf("prolong voucher: %w: %w", ErrLedger, err)
	}
	s.log.Info("voucher prolonged",
		zap.String("voucher", id.Hex()),
		zap.String("account", owner.Hex()),
		zap.String("balance", balance.String()),
		zap.Duration("duration", duration),
	)
	return nil
}

// Revoke disables the voucher for good.
func (s *Service) Revoke(ctx context.Context, voucherID, account string) error {
	id, owner, err := parseTarget(voucherID, account)
	if err != nil {
		return err
	}
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	if err := b.ledger.RevokeVoucher(ctx, id, owner); err != nil {
		return fmt.Errorf("revoke voucher: %w: %w", ErrLedger, err)
	}
	s.log.Info("voucher revoked", zap.String("voucher", id.Hex()), zap.String("account", owner.Hex()))
	return nil
}

func parseTarget(voucherID, account string) (ledger.VoucherID, ledger.AccountID, error) {
	id, err := ledger.ParseVoucherID(voucherID)
	if err != nil {
		return ledger.VoucherID{}, ledger.AccountID{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	owner, err := ledger.ParseAccountID(account)
	if err != nil {
		return ledger.VoucherID{}, ledger.AccountID{}, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	return id, owner, nil
}
