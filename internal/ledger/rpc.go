package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// RPCClient talks to the sponsor's voucher gateway over JSON-RPC. The gateway
// holds the sponsor key and submits the ledger transactions; this client only
// sends intents and reads voucher records.
type RPCClient struct {
	rpc     *rpc.Client
	timeout time.Duration
}

// DialRPC connects to the gateway at url. apiKey, when set, is sent as a bearer
// token on every request. timeout bounds each individual call (0 = no bound).
func DialRPC(ctx context.Context, url, apiKey string, timeout time.Duration) (*RPCClient, error) {
	var opts []rpc.ClientOption
	if apiKey != "" {
		opts = append(opts, rpc.WithHeader("Authorization", "Bearer "+apiKey))
	}
	c, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial ledger gateway: %w", err)
	}
	return NewRPCClient(c, timeout), nil
}

// NewRPCClient wraps an already connected rpc.Client.
func NewRPCClient(c *rpc.Client, timeout time.Duration) *RPCClient {
	return &RPCClient{rpc: c, timeout: timeout}
}

func (c *RPCClient) Close() { c.rpc.Close() }

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, fromRPCError(err))
	}
	return nil
}

func (c *RPCClient) IssueVoucher(ctx context.Context, spender AccountID, program ProgramID, amount *big.Int, duration time.Duration) (VoucherID, error) {
	var id common.Hash
	err := c.call(ctx, &id, "voucher_issue", spender, program, (*hexutil.Big)(amount), seconds(duration))
	return id, err
}

func (c *RPCClient) GetVoucher(ctx context.Context, id VoucherID) (*Voucher, error) {
	var raw *rpcVoucher
	if err := c.call(ctx, &raw, "voucher_details", id); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("voucher_details: %w: %s", ErrNotFound, id.Hex())
	}
	return raw.toVoucher(), nil
}

func (c *RPCClient) VouchersForAccount(ctx context.Context, account AccountID) ([]Voucher, error) {
	var raw []rpcVoucher
	if err := c.call(ctx, &raw, "voucher_getAllForAccount", account); err != nil {
		return nil, err
	}
	out := make([]Voucher, len(raw))
	for i := range raw {
		out[i] = *raw[i].toVoucher()
	}
	return out, nil
}

func (c *RPCClient) UpdateVoucher(ctx context.Context, id VoucherID, account AccountID, balanceDelta *big.Int, durationDelta time.Duration) error {
	if balanceDelta == nil {
		balanceDelta = new(big.Int)
	}
	return c.call(ctx, nil, "voucher_update", id, account, (*hexutil.Big)(balanceDelta), seconds(durationDelta))
}

func (c *RPCClient) RevokeVoucher(ctx context.Context, id VoucherID, account AccountID) error {
	return c.call(ctx, nil, "voucher_revoke", id, account)
}
