// cmd/simledger serves the Redis-backed simulated ledger over JSON-RPC so the
// gasless service can run end to end without a real network:
//
//	go run ./cmd/simledger/ \
//	  --redis   localhost:6379 \
//	  --listen  :8545 \
//	  --fund    1000000000000000000000 \
//	  --program 0x<program id>
//
// Point the service at it with LEDGER_MODE=rpc LEDGER_RPC_URL=http://localhost:8545.
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
	"github.com/0gfoundation/gasless-voucher/internal/ledger/sim"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	redisPass := flag.String("redis-password", "", "Redis password")
	listen := flag.String("listen", ":8545", "JSON-RPC listen address")
	fund := flag.String("fund", "", "add this many units to the sponsor balance on start")
	programs := flag.String("program", "", "comma-separated program ids to register (empty = accept any)")
	apiKey := flag.String("api-key", os.Getenv("LEDGER_API_KEY"), "required bearer token (empty = open)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, Password: *redisPass})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}
	defer rdb.Close()

	l := sim.New(rdb, nil)
	if err := setup(ctx, l, *fund, *programs); err != nil {
		log.Fatal("ledger setup failed", zap.Error(err))
	}
	bal, err := l.SponsorBalance(ctx)
	if err != nil {
		log.Fatal("read sponsor balance", zap.Error(err))
	}

	rpcSrv, err := ledger.NewServer(ledger.Instrument(l))
	if err != nil {
		log.Fatal("rpc server init failed", zap.Error(err))
	}
	defer rpcSrv.Stop()

	srv := &http.Server{
		Addr:              *listen,
		Handler:           requireBearer(*apiKey, rpcSrv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("simulated ledger listening",
			zap.String("addr", *listen),
			zap.String("sponsor_balance", bal.String()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
}

// setup funds the sponsor and registers programs.
func setup(ctx context.Context, l *sim.Ledger, fund, programs string) error {
	if fund != "" {
		amount, ok := new(big.Int).SetString(fund, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("invalid --fund %q", fund)
		}
		if err := l.Fund(ctx, amount); err != nil {
			return fmt.Errorf("fund sponsor: %w", err)
		}
	}
	for _, p := range strings.Split(programs, ",") {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		id, err := ledger.ParseProgramID(p)
		if err != nil {
			return fmt.Errorf("invalid --program: %w", err)
		}
		if err := l.RegisterProgram(ctx, id); err != nil {
			return fmt.Errorf("register program: %w", err)
		}
	}
	return nil
}

func requireBearer(key string, next http.Handler) http.Handler {
	if key == "" {
		return next
	}
	want := []byte("Bearer " + key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
