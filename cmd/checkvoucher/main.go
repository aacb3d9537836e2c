// cmd/checkvoucher prints voucher records straight from the ledger gateway.
//
// Usage:
//
//	go run ./cmd/checkvoucher/ --rpc http://localhost:8545 --voucher 0x<id>
//	go run ./cmd/checkvoucher/ --rpc http://localhost:8545 --account 0x<account>
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/0gfoundation/gasless-voucher/internal/ledger"
)

func main() {
	rpcURL := flag.String("rpc", "http://localhost:8545", "ledger gateway JSON-RPC endpoint")
	apiKey := flag.String("api-key", os.Getenv("LEDGER_API_KEY"), "gateway bearer token")
	voucherHex := flag.String("voucher", "", "voucher id to show")
	accountHex := flag.String("account", "", "account whose vouchers to list")
	decimals := flag.Int("decimals", 12, "token decimals for the normalised balance")
	flag.Parse()

	if (*voucherHex == "") == (*accountHex == "") {
		fatalf("exactly one of --voucher or --account is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := ledger.DialRPC(ctx, *rpcURL, *apiKey, 0)
	if err != nil {
		fatalf("%v", err)
	}
	defer c.Close()

	if err := run(ctx, os.Stdout, c, *voucherHex, *accountHex, int32(*decimals)); err != nil {
		fatalf("%v", err)
	}
}

func run(ctx context.Context, out io.Writer, c ledger.Client, voucherHex, accountHex string, decimals int32) error {
	now := time.Now()
	if voucherHex != "" {
		id, err := ledger.ParseVoucherID(voucherHex)
		if err != nil {
			return err
		}
		v, err := c.GetVoucher(ctx, id)
		if err != nil {
			return err
		}
		printVoucher(out, v, now, decimals)
		return nil
	}

	account, err := ledger.ParseAccountID(accountHex)
	if err != nil {
		return err
	}
	vs, err := c.VouchersForAccount(ctx, account)
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		fmt.Fprintf(out, "no vouchers for %s\n", account.Hex())
		return nil
	}
	for i := range vs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		printVoucher(out, &vs[i], now, decimals)
	}
	return nil
}

func printVoucher(out io.Writer, v *ledger.Voucher, now time.Time, decimals int32) {
	fmt.Fprintf(out, "voucher:   %s\n", v.ID.Hex())
	fmt.Fprintf(out, "owner:     %s\n", v.Owner.Hex())
	for _, p := range v.Programs {
		fmt.Fprintf(out, "program:   %s\n", p.Hex())
	}
	fmt.Fprintf(out, "balance:   %s (%s tokens)\n", v.Balance, decimal.NewFromBigInt(v.Balance, -decimals))
	fmt.Fprintf(out, "expires:   %s\n", v.ExpiresAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "revoked:   %t\n", v.Revoked)
	fmt.Fprintf(out, "enabled:   %t\n", v.Enabled(now))
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
