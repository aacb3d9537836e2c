package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/gasless-voucher/internal/api"
	"github.com/0gfoundation/gasless-voucher/internal/auth"
	"github.com/0gfoundation/gasless-voucher/internal/config"
	"github.com/0gfoundation/gasless-voucher/internal/gasless"
	"github.com/0gfoundation/gasless-voucher/internal/ledger"
	"github.com/0gfoundation/gasless-voucher/internal/ledger/sim"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis (simulated ledger, operator nonces) ─────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping failed", zap.Error(err))
		}
		defer rdb.Close()
	}

	// ── Voucher service (ledger client is built on first request) ─────────────
	svc := gasless.New(newConnector(cfg, rdb, log), gasless.Options{
		DefaultProgram: cfg.Voucher.ProgramID,
		Defaults: gasless.Defaults{
			Amount:   cfg.DefaultAmount(),
			Duration: cfg.DefaultDuration(),
		},
		TokenDecimals: cfg.Voucher.TokenDecimals,
	}, log)

	// ── HTTP server ───────────────────────────────────────────────────────────
	gin.SetMode(gin.ReleaseMode)
	handler := api.NewRouter(api.NewHandler(svc, log), api.RouterOptions{
		Guard:       newGuard(cfg, rdb),
		CORSOrigins: cfg.Server.CORSAllowedOrigins,
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("ledger_mode", cfg.Ledger.Mode),
			zap.Bool("operator_auth", cfg.Auth.OperatorAddress != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// newConnector returns the ledger constructor the service runs on first use:
// the JSON-RPC gateway in rpc mode, the Redis simulator in sim mode.
func newConnector(cfg *config.Config, rdb *redis.Client, log *zap.Logger) gasless.Connector {
	if cfg.Ledger.Mode == config.LedgerModeSim {
		return func(ctx context.Context) (ledger.Client, error) {
			l := sim.New(rdb, nil)
			funded, err := l.FundIfEmpty(ctx, cfg.SimSponsorBalance())
			if err != nil {
				return nil, fmt.Errorf("seed sponsor: %w", err)
			}
			if funded {
				log.Info("simulated sponsor funded", zap.String("balance", cfg.Ledger.SimSponsorBalance))
			}
			return ledger.Instrument(l), nil
		}
	}
	return func(ctx context.Context) (ledger.Client, error) {
		c, err := ledger.DialRPC(ctx, cfg.Ledger.RPCURL, cfg.Ledger.APIKey, cfg.CallTimeout())
		if err != nil {
			return nil, err
		}
		log.Info("ledger gateway connected", zap.String("url", cfg.Ledger.RPCURL))
		return ledger.Instrument(c), nil
	}
}

// newGuard enables operator signatures on the admin routes when an operator
// address is configured.
func newGuard(cfg *config.Config, rdb *redis.Client) api.Guard {
	if cfg.Auth.OperatorAddress == "" {
		return nil
	}
	operator := common.HexToAddress(cfg.Auth.OperatorAddress)
	return func(action string) gin.HandlerFunc {
		return auth.Operator(rdb, operator, action)
	}
}
