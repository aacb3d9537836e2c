package gasless

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

// ── helpers ───────────────────────────────────────────────────────────────────

var (
	testAccount = "0x" + strings.Repeat("aa", 32)
	otherAcct   = "0x" + strings.Repeat("bb", 32)
	testProgram = "0x" + strings.Repeat("11", 32)
	otherProg   = "0x" + strings.Repeat("22", 32)
	testNow     = time.Unix(1_700_000_000, 0)
)

type harness struct {
	svc     *Service
	ledger  *fakeLedger
	connect *atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	now := func() time.Time { return testNow }
	fl := newFakeLedger(now)
	var n atomic.Int32
	connect := func(context.Context) (ledger.Client, error) {
		n.Add(1)
		return fl, nil
	}
	svc := New(connect, Options{
		DefaultProgram: testProgram,
		TokenDecimals:  12,
		Now:            now,
	}, zap.NewNop())
	return &harness{svc: svc, ledger: fl, connect: &n}
}

func mustIssue(t *testing.T, h *harness, amount int64, d time.Duration) ledger.VoucherID {
	t.Helper()
	id, err := h.svc.Issue(context.Background(), testAccount, "", big.NewInt(amount), d)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return id
}

// ── Issue ─────────────────────────────────────────────────────────────────────

func TestIssue_ThenStatusEnabledWithAmount(t *testing.T) {
	h := newHarness(t)
	id := mustIssue(t, h, 1000, time.Minute)

	st, err := h.svc.VoucherStatus(context.Background(), id.Hex())
	if err != nil {
		t.Fatalf("VoucherStatus: %v", err)
	}
	if !st.Enabled {
		t.Error("freshly issued voucher must be enabled")
	}
	if st.RawBalance.Int64() != 1000 {
		t.Errorf("RawBalance: got %s want 1000", st.RawBalance)
	}
	if st.DurationInSec != 60 {
		t.Errorf("DurationInSec: got %d want 60", st.DurationInSec)
	}
	if st.Balance != "0.000000001" {
		t.Errorf("Balance: got %q want 0.000000001", st.Balance)
	}
}

func TestIssue_UsesDefaultProgram(t *testing.T) {
	h := newHarness(t)
	mustIssue(t, h, 1, time.Hour)

	if got := h.ledger.lastProgram.Hex(); got != testProgram {
		t.Errorf("program: got %s want %s", got, testProgram)
	}
}

func TestIssue_ExplicitProgram(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Issue(context.Background(), testAccount, otherProg, big.NewInt(1), time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := h.ledger.lastProgram.Hex(); got != otherProg {
		t.Errorf("program: got %s want %s", got, otherProg)
	}
}

func TestIssue_DefaultsApplied(t *testing.T) {
	h := newHarness(t)
	amount, d := h.svc.Defaults().Apply(nil, 0)
	if _, err := h.svc.Issue(context.Background(), testAccount, "", amount, d); err != nil {
		t.Fatal(err)
	}
	if h.ledger.lastAmount.Cmp(big.NewInt(10_000_000_000_000)) != 0 {
		t.Errorf("amount: got %s want 10000000000000", h.ledger.lastAmount)
	}
	if h.ledger.lastDuration != time.Hour {
		t.Errorf("duration: got %v want 1h", h.ledger.lastDuration)
	}
}

func TestDefaults_ApplyKeepsExplicitValues(t *testing.T) {
	d := Defaults{Amount: big.NewInt(7), Duration: time.Minute}
	amount, dur := d.Apply(big.NewInt(3), 5*time.Second)
	if amount.Int64() != 3 || dur != 5*time.Second {
		t.Errorf("Apply overwrote explicit values: %s %v", amount, dur)
	}
	amount.SetInt64(99)
	if a, _ := d.Apply(nil, 0); a.Int64() != 7 {
		t.Errorf("defaults aliased by caller mutation: %s", a)
	}
}

func TestIssue_InvalidAccountNeverReachesLedger(t *testing.T) {
	h := newHarness(t)
	for _, acct := range []string{
		"",
		strings.Repeat("a", 66),
		"0x" + strings.Repeat("a", 63),
		"0x" + strings.Repeat("a", 65),
		"1x" + strings.Repeat("a", 64),
		"0x" + strings.Repeat("g", 64),
	} {
		_, err := h.svc.Issue(context.Background(), acct, "", big.NewInt(1), time.Hour)
		if !errors.Is(err, ErrInvalidAccount) {
			t.Errorf("Issue(%q): expected ErrInvalidAccount, got %v", acct, err)
		}
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Issue(%q): ErrInvalidAccount must be an ErrInvalidInput", acct)
		}
	}
	if n := h.ledger.callCount(); n != 0 {
		t.Errorf("ledger called %d times for invalid accounts", n)
	}
	if n := h.connect.Load(); n != 0 {
		t.Errorf("ledger client constructed %d times for invalid accounts", n)
	}
}

func TestIssue_InvalidAmountOrDuration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cases := []struct {
		amount *big.Int
		d      time.Duration
	}{
		{nil, time.Hour},
		{big.NewInt(0), time.Hour},
		{big.NewInt(-5), time.Hour},
		{big.NewInt(1), 0},
		{big.NewInt(1), -time.Second},
	}
	for _, tc := range cases {
		if _, err := h.svc.Issue(ctx, testAccount, "", tc.amount, tc.d); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Issue(amount=%v, d=%v): expected ErrInvalidInput, got %v", tc.amount, tc.d, err)
		}
	}
	if n := h.ledger.callCount(); n != 0 {
		t.Errorf("ledger called %d times", n)
	}
}

func TestIssue_NoDefaultProgram(t *testing.T) {
	fl := newFakeLedger(time.Now)
	svc := New(func(context.Context) (ledger.Client, error) { return fl, nil }, Options{}, zap.NewNop())

	_, err := svc.Issue(context.Background(), testAccount, "", big.NewInt(1), time.Hour)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if fl.callCount() != 0 {
		t.Error("ledger must not be called without a program")
	}
}

func TestIssue_LedgerErrorSurfaced(t *testing.T) {
	h := newHarness(t)
	h.ledger.failWith = ledger.ErrInsufficientFunds

	_, err := h.svc.Issue(context.Background(), testAccount, "", big.NewInt(1), time.Hour)
	if !errors.Is(err, ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Errorf("ledger cause lost: %v", err)
	}
	if n := h.ledger.callCount(); n != 1 {
		t.Errorf("issue must not be retried: %d ledger calls", n)
	}
}

// ── VoucherStatus ─────────────────────────────────────────────────────────────

func TestVoucherStatus_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.VoucherStatus(context.Background(), "0x"+strings.Repeat("ee", 32))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVoucherStatus_MalformedID(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.VoucherStatus(context.Background(), "not-a-voucher")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if h.ledger.callCount() != 0 {
		t.Error("ledger called for malformed id")
	}
}

func TestVoucherStatus_TransportError(t *testing.T) {
	h := newHarness(t)
	id := mustIssue(t, h, 1, time.Hour)
	h.ledger.failWith = errors.New("connection reset")

	_, err := h.svc.VoucherStatus(context.Background(), id.Hex())
	if !errors.Is(err, ErrLedger) || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrLedger only, got %v", err)
	}
}

func TestVoucherStatus_ReadsLedgerEveryTime(t *testing.T) {
	h := newHarness(t)
	id := mustIssue(t, h, 100, time.Hour)
	ctx := context.Background()

	h.svc.VoucherStatus(ctx, id.Hex()) //nolint:errcheck
	h.ledger.mu.Lock()
	h.ledger.vouchers[id].Balance.SetInt64(42)
	h.ledger.mu.Unlock()

	st, err := h.svc.VoucherStatus(ctx, id.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if st.RawBalance.Int64() != 42 {
		t.Errorf("status served stale balance %s", st.RawBalance)
	}
}

func TestVoucherStatus_Expired(t *testing.T) {
	h := newHarness(t)
	id := common.HexToHash("0x" + strings.Repeat("cd", 32))
	owner, _ := ledger.ParseAccountID(testAccount)
	h.ledger.add(ledger.Voucher{ID: id, Owner: owner, Balance: big.NewInt(5), ExpiresAt: testNow.Add(-time.Second)})

	st, err := h.svc.VoucherStatus(context.Background(), id.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if st.Enabled || st.DurationInSec != 0 {
		t.Errorf("expired voucher: enabled=%v duration=%d", st.Enabled, st.DurationInSec)
	}
}

// ── ProgramStatus ─────────────────────────────────────────────────────────────

func TestProgramStatus_Absent(t *testing.T) {
	h := newHarness(t)
	mustIssue(t, h, 1000, time.Hour) // voucher for testProgram only

	st, err := h.svc.ProgramStatus(context.Background(), testAccount, otherProg)
	if err != nil {
		t.Fatalf("ProgramStatus: %v", err)
	}
	if st.ID != nil || st.Enabled || st.Duration != 0 || st.VaraToIssue.Sign() != 0 {
		t.Errorf("expected zero projection, got %+v", st)
	}
}

func TestProgramStatus_Found(t *testing.T) {
	h := newHarness(t)
	id := mustIssue(t, h, 1000, time.Hour)

	st, err := h.svc.ProgramStatus(context.Background(), testAccount, testProgram)
	if err != nil {
		t.Fatalf("ProgramStatus: %v", err)
	}
	if st.ID == nil || *st.ID != id {
		t.Fatalf("ID: got %v want %s", st.ID, id.Hex())
	}
	if !st.Enabled {
		t.Error("Enabled: got false")
	}
	if st.Duration != 3600 {
		t.Errorf("Duration: got %d want 3600", st.Duration)
	}
	if st.VaraToIssue.Int64() != 1000 {
		t.Errorf("VaraToIssue: got %s want 1000", st.VaraToIssue)
	}
}

func TestProgramStatus_FirstMatchWins(t *testing.T) {
	h := newHarness(t)
	owner, _ := ledger.ParseAccountID(testAccount)
	prog, _ := ledger.ParseProgramID(testProgram)
	first := common.HexToHash("0x01")
	second := common.HexToHash("0x02")
	h.ledger.add(ledger.Voucher{ID: first, Owner: owner, Programs: []ledger.ProgramID{prog}, Balance: big.NewInt(1), ExpiresAt: testNow.Add(time.Hour)})
	h.ledger.add(ledger.Voucher{ID: second, Owner: owner, Programs: []ledger.ProgramID{prog}, Balance: big.NewInt(2), ExpiresAt: testNow.Add(time.Hour)})

	for i := 0; i < 3; i++ {
		st, err := h.svc.ProgramStatus(context.Background(), testAccount, testProgram)
		if err != nil {
			t.Fatal(err)
		}
		if st.ID == nil || *st.ID != first {
			t.Fatalf("run %d: expected first voucher %s, got %v", i, first.Hex(), st.ID)
		}
	}
}

func TestProgramStatus_MultiProgramVoucher(t *testing.T) {
	h := newHarness(t)
	owner, _ := ledger.ParseAccountID(testAccount)
	p1, _ := ledger.ParseProgramID(testProgram)
	p2, _ := ledger.ParseProgramID(otherProg)
	id := common.HexToHash("0x03")
	h.ledger.add(ledger.Voucher{ID: id, Owner: owner, Programs: []ledger.ProgramID{p1, p2}, Balance: big.NewInt(9), ExpiresAt: testNow.Add(time.Hour)})

	st, err := h.svc.ProgramStatus(context.Background(), testAccount, otherProg)
	if err != nil {
		t.Fatal(err)
	}
	if st.ID == nil || *st.ID != id {
		t.Errorf("expected %s, got %v", id.Hex(), st.ID)
	}
}

func TestProgramStatus_MissingAccount(t *testing.T) {
	h := newHarness(t)
	for _, acct := range []string{"", "0xshort"} {
		if _, err := h.svc.ProgramStatus(context.Background(), acct, testProgram); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ProgramStatus(%q): expected ErrInvalidInput, got %v", acct, err)
		}
	}
	if h.ledger.callCount() != 0 {
		t.Error("ledger called without a valid account")
	}
}

func TestProgramStatus_MalformedProgramIsAbsent(t *testing.T) {
	h := newHarness(t)
	st, err := h.svc.ProgramStatus(context.Background(), testAccount, "P1")
	if err != nil {
		t.Fatal(err)
	}
	if st.ID != nil {
		t.Errorf("expected absent projection, got %+v", st)
	}
}

func TestProgramStatus_LedgerError(t *testing.T) {
	h := newHarness(t)
	h.ledger.failWith = errors.New("node unreachable")
	if _, err := h.svc.ProgramStatus(context.Background(), testAccount, testProgram); !errors.Is(err, ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
}

// ── Prolong ───────────────────────────────────────────────────────────────────

func TestProlong_AddsExactly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := mustIssue(t, h, 1000, time.Hour)

	if err := h.svc.Prolong(ctx, id.Hex(), testAccount, big.NewInt(250), 30*time.Minute); err != nil {
		t.Fatalf("Prolong: %v", err)
	}
	st, _ := h.svc.VoucherStatus(ctx, id.Hex())
	if st.RawBalance.Int64() != 1250 {
		t.Errorf("RawBalance: got %s want 1250", st.RawBalance)
	}
	if st.DurationInSec != 5400 {
		t.Errorf("DurationInSec: got %d want 5400", st.DurationInSec)
	}
}

func TestProlong_NotIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := mustIssue(t, h, 1000, time.Hour)

	for i := 0; i < 2; i++ {
		if err := h.svc.Prolong(ctx, id.Hex(), testAccount, big.NewInt(100), 0); err != nil {
			t.Fatal(err)
		}
	}
	st, _ := h.svc.VoucherStatus(ctx, id.Hex())
	if st.RawBalance.Int64() != 1200 {
		t.Errorf("RawBalance: got %s want 1200", st.RawBalance)
	}
}

func TestProlong_InvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := mustIssue(t, h, 1000, time.Hour)
	calls := h.ledger.callCount()

	cases := []struct {
		name    string
		voucher string
		account string
		balance *big.Int
		d       time.Duration
	}{
		{"bad voucher", "0x1234", testAccount, big.NewInt(1), 0},
		{"bad account", id.Hex(), "alice", big.NewInt(1), 0},
		{"negative balance", id.Hex(), testAccount, big.NewInt(-1), 0},
		{"negative duration", id.Hex(), testAccount, big.NewInt(1), -time.Second},
		{"nothing to do", id.Hex(), testAccount, nil, 0},
	}
	for _, tc := range cases {
		if err := h.svc.Prolong(ctx, tc.voucher, tc.account, tc.balance, tc.d); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
	if h.ledger.callCount() != calls {
		t.Error("ledger called for invalid prolong input")
	}
}

func TestProlong_WrongOwner(t *testing.T) {
	h := newHarness(t)
	id := mustIssue(t, h, 1000, time.Hour)

	err := h.svc.Prolong(context.Background(), id.Hex(), otherAcct, big.NewInt(1), 0)
	if !errors.Is(err, ErrLedger) || !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrLedger wrapping ErrUnauthorized, got %v", err)
	}
}

// ── Revoke ────────────────────────────────────────────────────────────────────

func TestRevoke_DisablesVoucher(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := mustIssue(t, h, 1_000_000, time.Hour)

	if err := h.svc.Revoke(ctx, id.Hex(), testAccount); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	st, err := h.svc.VoucherStatus(ctx, id.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if st.Enabled || !st.Revoked {
		t.Errorf("after revoke: enabled=%v revoked=%v", st.Enabled, st.Revoked)
	}
}

func TestRevoke_LedgerRejection(t *testing.T) {
	h := newHarness(t)
	id := mustIssue(t, h, 1, time.Hour)

	err := h.svc.Revoke(context.Background(), id.Hex(), otherAcct)
	if !errors.Is(err, ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}
}

// ── Lazy initialisation ───────────────────────────────────────────────────────

func TestBackend_ConcurrentFirstRequestsConnectOnce(t *testing.T) {
	fl := newFakeLedger(time.Now)
	var constructed atomic.Int32
	release := make(chan struct{})
	connect := func(context.Context) (ledger.Client, error) {
		constructed.Add(1)
		<-release // hold construction open so every caller piles up
		return fl, nil
	}
	svc := New(connect, Options{DefaultProgram: testProgram}, zap.NewNop())

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), testAccount, "", big.NewInt(1), time.Hour)
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Issue: %v", err)
		}
	}
	if n := constructed.Load(); n != 1 {
		t.Errorf("ledger client constructed %d times, want 1", n)
	}
	if n := fl.callCount(); n != callers {
		t.Errorf("ledger calls: got %d want %d", n, callers)
	}
}

func TestBackend_FailedConnectIsRetried(t *testing.T) {
	fl := newFakeLedger(time.Now)
	var attempts atomic.Int32
	connect := func(context.Context) (ledger.Client, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("dial: connection refused")
		}
		return fl, nil
	}
	svc := New(connect, Options{DefaultProgram: testProgram}, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.ProgramStatus(ctx, testAccount, testProgram); !errors.Is(err, ErrLedger) {
		t.Fatalf("first call: expected ErrLedger, got %v", err)
	}
	if _, err := svc.ProgramStatus(ctx, testAccount, testProgram); err != nil {
		t.Fatalf("second call: %v", err)
	}
	svc.ProgramStatus(ctx, testAccount, testProgram) //nolint:errcheck
	if n := attempts.Load(); n != 2 {
		t.Errorf("connect attempts: got %d want 2", n)
	}
}

func TestBackend_QueuedCallerHonoursContext(t *testing.T) {
	fl := newFakeLedger(time.Now)
	started := make(chan struct{})
	release := make(chan struct{})
	connect := func(context.Context) (ledger.Client, error) {
		close(started)
		<-release // a dial that stalls until released
		return fl, nil
	}
	svc := New(connect, Options{DefaultProgram: testProgram}, zap.NewNop())

	first := make(chan error, 1)
	go func() {
		_, err := svc.ProgramStatus(context.Background(), testAccount, testProgram)
		first <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := svc.ProgramStatus(ctx, testAccount, testProgram)
	if !errors.Is(err, ErrLedger) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("queued caller: expected ErrLedger wrapping DeadlineExceeded, got %v", err)
	}
	if waited := time.Since(begin); waited > time.Second {
		t.Errorf("queued caller waited %v for a stalled connect", waited)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first caller: %v", err)
	}
	if _, err := svc.ProgramStatus(context.Background(), testAccount, testProgram); err != nil {
		t.Fatalf("after connect: %v", err)
	}
}
