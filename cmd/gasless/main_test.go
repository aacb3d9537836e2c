package main

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/gasless-voucher/internal/config"
	"github.com/0gfoundation/gasless-voucher/internal/ledger"
	"github.com/0gfoundation/gasless-voucher/internal/ledger/sim"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

var (
	testAccount = mustID("0x" + strings.Repeat("aa", 32))
	testProgram = mustID("0x" + strings.Repeat("01", 32))
)

func mustID(s string) ledger.AccountID {
	id, err := ledger.ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ── newConnector ──────────────────────────────────────────────────────────────

func TestNewConnector_SimSeedsSponsorOnce(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()
	cfg := &config.Config{Ledger: config.LedgerConfig{
		Mode:              config.LedgerModeSim,
		SimSponsorBalance: "5000",
	}}

	connect := newConnector(cfg, rdb, zap.NewNop())
	l, err := connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := l.IssueVoucher(ctx, testAccount, testProgram, big.NewInt(2000), time.Minute); err != nil {
		t.Fatalf("issue: %v", err)
	}

	// A restart must not top the sponsor back up.
	if _, err := connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	bal, err := sim.New(rdb, nil).SponsorBalance(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if bal.Int64() != 3000 {
		t.Errorf("sponsor balance: got %s want 3000", bal)
	}
}

func TestNewConnector_RPC(t *testing.T) {
	backend := sim.New(newTestRedis(t), nil)
	if err := backend.Fund(context.Background(), big.NewInt(1000)); err != nil {
		t.Fatal(err)
	}
	rpcSrv, err := ledger.NewServer(backend)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rpcSrv.Stop)

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		rpcSrv.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := &config.Config{Ledger: config.LedgerConfig{
		Mode:           config.LedgerModeRPC,
		RPCURL:         srv.URL,
		APIKey:         "k3y",
		CallTimeoutSec: 5,
	}}
	l, err := newConnector(cfg, nil, zap.NewNop())(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	id, err := l.IssueVoucher(context.Background(), testAccount, testProgram, big.NewInt(400), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	v, err := l.GetVoucher(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.Balance.Int64() != 400 || v.Owner != testAccount {
		t.Errorf("voucher: %+v", v)
	}
	if gotAuth != "Bearer k3y" {
		t.Errorf("Authorization header: %q", gotAuth)
	}
}

// ── newGuard ──────────────────────────────────────────────────────────────────

func TestNewGuard(t *testing.T) {
	if g := newGuard(&config.Config{}, nil); g != nil {
		t.Fatal("guard enabled without an operator address")
	}

	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Auth: config.AuthConfig{OperatorAddress: "0x" + strings.Repeat("11", 20)}}
	g := newGuard(cfg, newTestRedis(t))
	if g == nil {
		t.Fatal("guard disabled with an operator address")
	}

	r := gin.New()
	r.POST("/revoke", g("revoke"), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/revoke", strings.NewReader(`{}`)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request: expected 401, got %d", w.Code)
	}
}
