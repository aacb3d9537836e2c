package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// NewServer exposes c over JSON-RPC under the "voucher" namespace, speaking
// the same wire contract RPCClient consumes.
func NewServer(c Client) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("voucher", &rpcService{ledger: c}); err != nil {
		return nil, err
	}
	return srv, nil
}

type rpcService struct {
	ledger Client
}

var errMissingAmount = errors.New("missing amount")

func (s *rpcService) Issue(ctx context.Context, spender, program common.Hash, amount *hexutil.Big, duration hexutil.Uint64) (common.Hash, error) {
	if amount == nil {
		return common.Hash{}, errMissingAmount
	}
	d, err := wireDuration(duration)
	if err != nil {
		return common.Hash{}, err
	}
	id, err := s.ledger.IssueVoucher(ctx, spender, program, amount.ToInt(), d)
	if err != nil {
		return common.Hash{}, toRPCError(err)
	}
	return id, nil
}

func (s *rpcService) Details(ctx context.Context, id common.Hash) (*rpcVoucher, error) {
	v, err := s.ledger.GetVoucher(ctx, id)
	if err != nil {
		return nil, toRPCError(err)
	}
	out := fromVoucher(v)
	return &out, nil
}

func (s *rpcService) GetAllForAccount(ctx context.Context, account common.Hash) ([]rpcVoucher, error) {
	vs, err := s.ledger.VouchersForAccount(ctx, account)
	if err != nil {
		return nil, toRPCError(err)
	}
	out := make([]rpcVoucher, len(vs))
	for i := range vs {
		out[i] = fromVoucher(&vs[i])
	}
	return out, nil
}

func (s *rpcService) Update(ctx context.Context, id, account common.Hash, balance *hexutil.Big, duration hexutil.Uint64) error {
	if balance == nil {
		balance = new(hexutil.Big)
	}
	d, err := wireDuration(duration)
	if err != nil {
		return err
	}
	if err := s.ledger.UpdateVoucher(ctx, id, account, balance.ToInt(), d); err != nil {
		return toRPCError(err)
	}
	return nil
}

func (s *rpcService) Revoke(ctx context.Context, id, account common.Hash) error {
	if err := s.ledger.RevokeVoucher(ctx, id, account); err != nil {
		return toRPCError(err)
	}
	return nil
}
