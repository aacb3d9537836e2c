package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Integer is a whole number that may arrive as a JSON number or a decimal
// string. Balances are u128 on the ledger and do not survive float64.
type Integer big.Int

// Bounds on accepted integers. Values are at most 128 bits wide, so neither
// the text nor its exponent needs to be larger than this.
const (
	maxIntegerText     = 80
	maxIntegerExponent = 39
	maxIntegerBits     = 128
)

func (n *Integer) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" {
		return nil
	}
	if len(s) > 0 && s[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	if len(s) > maxIntegerText {
		return fmt.Errorf("integer longer than %d characters", maxIntegerText)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid integer %q", s)
	}
	// Checked before IsInteger and BigInt, whose cost grows with the exponent.
	if e := d.Exponent(); e > maxIntegerExponent || e < -maxIntegerText {
		return fmt.Errorf("integer %q out of range", s)
	}
	if !d.IsInteger() {
		return fmt.Errorf("%q is not a whole number", s)
	}
	v := d.BigInt()
	if v.BitLen() > maxIntegerBits {
		return fmt.Errorf("integer %q exceeds %d bits", s, maxIntegerBits)
	}
	(*big.Int)(n).Set(v)
	return nil
}

// Big returns the value, or nil when the field was omitted.
func (n *Integer) Big() *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set((*big.Int)(n))
}

// Seconds converts a seconds count to a duration; nil yields zero.
func (n *Integer) Seconds() (time.Duration, error) {
	v := n.Big()
	if v == nil {
		return 0, nil
	}
	if !v.IsInt64() || v.Int64() > math.MaxInt64/int64(time.Second) || v.Int64() < math.MinInt64/int64(time.Second) {
		return 0, fmt.Errorf("duration %s out of range", v)
	}
	return time.Duration(v.Int64()) * time.Second, nil
}

// voucherRequest is the body of POST /gasless/voucher/request and POST /issue.
// Program is optional; the configured program is used when it is empty.
type voucherRequest struct {
	Account       string   `json:"account"`
	Program       string   `json:"program"`
	Amount        *Integer `json:"amount"`
	DurationInSec *Integer `json:"durationInSec"`
}

type prolongRequest struct {
	VoucherID     string   `json:"voucherId"`
	Account       string   `json:"account"`
	Balance       *Integer `json:"balance"`
	DurationInSec *Integer `json:"durationInSec"`
}

type revokeRequest struct {
	VoucherID string `json:"voucherId"`
	Account   string `json:"account"`
}
