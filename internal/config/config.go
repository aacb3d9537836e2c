package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

const (
	LedgerModeRPC = "rpc"
	LedgerModeSim = "sim"
)

type Config struct {
	Server  ServerConfig
	Ledger  LedgerConfig
	Voucher VoucherConfig
	Redis   RedisConfig
	Auth    AuthConfig
}

type ServerConfig struct {
	Port               int      `mapstructure:"port"`
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

type LedgerConfig struct {
	Mode           string `mapstructure:"mode"`
	RPCURL         string `mapstructure:"rpc_url"`
	APIKey         string `mapstructure:"api_key"`
	CallTimeoutSec int64  `mapstructure:"call_timeout_sec"`
	// SimSponsorBalance seeds the simulated sponsor on first start.
	SimSponsorBalance string `mapstructure:"sim_sponsor_balance"`
}

type VoucherConfig struct {
	ProgramID          string `mapstructure:"program_id"`
	DefaultAmount      string `mapstructure:"default_amount"`
	DefaultDurationSec int64  `mapstructure:"default_duration_sec"`
	TokenDecimals      int32  `mapstructure:"token_decimals"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type AuthConfig struct {
	// OperatorAddress enables signature checks on /issue, /prolong and
	// /revoke when set.
	OperatorAddress string `mapstructure:"operator_address"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("ledger.mode", LedgerModeRPC)
	v.SetDefault("ledger.call_timeout_sec", 30)
	v.SetDefault("ledger.sim_sponsor_balance", "1000000000000000000000")
	v.SetDefault("voucher.default_amount", "10000000000000")
	v.SetDefault("voucher.default_duration_sec", 3600)
	v.SetDefault("voucher.token_decimals", 12)
	v.SetDefault("redis.addr", "redis:6379")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":                  "PORT",
		"server.cors_allowed_origins":  "CORS_ALLOWED_ORIGINS",
		"ledger.mode":                  "LEDGER_MODE",
		"ledger.rpc_url":               "LEDGER_RPC_URL",
		"ledger.api_key":               "LEDGER_API_KEY",
		"ledger.call_timeout_sec":      "LEDGER_CALL_TIMEOUT_SEC",
		"ledger.sim_sponsor_balance":   "SIM_SPONSOR_BALANCE",
		"voucher.program_id":           "PROGRAM_ID",
		"voucher.default_amount":       "VOUCHER_DEFAULT_AMOUNT",
		"voucher.default_duration_sec": "VOUCHER_DEFAULT_DURATION_SEC",
		"voucher.token_decimals":       "TOKEN_DECIMALS",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"auth.operator_address":        "OPERATOR_ADDRESS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Voucher.ProgramID == "" {
		return fmt.Errorf("required config missing: PROGRAM_ID")
	}
	if _, err := ledger.ParseProgramID(c.Voucher.ProgramID); err != nil {
		return fmt.Errorf("invalid PROGRAM_ID: %w", err)
	}
	switch c.Ledger.Mode {
	case LedgerModeRPC:
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("required config missing: LEDGER_RPC_URL")
		}
	case LedgerModeSim:
		if _, err := parseAmount(c.Ledger.SimSponsorBalance); err != nil {
			return fmt.Errorf("invalid SIM_SPONSOR_BALANCE: %w", err)
		}
	default:
		return fmt.Errorf("invalid LEDGER_MODE %q: want %q or %q", c.Ledger.Mode, LedgerModeRPC, LedgerModeSim)
	}
	if _, err := parseAmount(c.Voucher.DefaultAmount); err != nil {
		return fmt.Errorf("invalid VOUCHER_DEFAULT_AMOUNT: %w", err)
	}
	if c.Voucher.DefaultDurationSec <= 0 {
		return fmt.Errorf("invalid VOUCHER_DEFAULT_DURATION_SEC: must be positive")
	}
	if c.Voucher.TokenDecimals < 0 {
		return fmt.Errorf("invalid TOKEN_DECIMALS: must not be negative")
	}
	if c.Auth.OperatorAddress != "" && !common.IsHexAddress(c.Auth.OperatorAddress) {
		return fmt.Errorf("invalid OPERATOR_ADDRESS %q", c.Auth.OperatorAddress)
	}
	return nil
}

// NeedsRedis reports whether any enabled component keeps state in Redis.
func (c *Config) NeedsRedis() bool {
	return c.Ledger.Mode == LedgerModeSim || c.Auth.OperatorAddress != ""
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Ledger.CallTimeoutSec) * time.Second
}

func (c *Config) DefaultDuration() time.Duration {
	return time.Duration(c.Voucher.DefaultDurationSec) * time.Second
}

// DefaultAmount returns the parsed default voucher amount. Valid after Load.
func (c *Config) DefaultAmount() *big.Int {
	n, _ := parseAmount(c.Voucher.DefaultAmount)
	return n
}

// SimSponsorBalance returns the parsed initial sponsor balance. Valid after Load.
func (c *Config) SimSponsorBalance() *big.Int {
	n, _ := parseAmount(c.Ledger.SimSponsorBalance)
	return n
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() <= 0 {
		return nil, fmt.Errorf("%q is not a positive integer", s)
	}
	return n, nil
}
