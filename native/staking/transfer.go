package staking

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrNoReply is returned by a TokenTransferPort when the token contract never
// answered. The engine keeps such a transaction pending instead of aborting it.
var ErrNoReply = errors.New("staking: token transfer reply not received")

// Transfer describes a single token movement requested by the engine.
type Transfer struct {
	TxID   uint64
	Token  common.Address
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

// TokenTransferPort moves tokens on the external token contract. A nil error
// confirms the transfer executed; any other error is treated as a failure,
// except ErrNoReply and context cancellation which leave the outcome unknown.
type TokenTransferPort interface {
	Transfer(ctx context.Context, req Transfer) error
}

// FuncTransferPort adapts a function to the TokenTransferPort interface.
type FuncTransferPort func(ctx context.Context, req Transfer) error

// Transfer delegates to the wrapped function.
func (f FuncTransferPort) Transfer(ctx context.Context, req Transfer) error {
	if f == nil {
		return ErrNoReply
	}
	return f(ctx, req)
}

func isNoReply(err error) bool {
	return errors.Is(err, ErrNoReply) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
