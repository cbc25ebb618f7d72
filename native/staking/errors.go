package staking

import (
	"errors"
	"fmt"
)

var (
	ErrZeroAmount          = errors.New("staking: amount must be greater than zero")
	ErrZeroReward          = errors.New("staking: reward is zero")
	ErrZeroTime            = errors.New("staking: distribution time is zero")
	ErrNotOwner            = errors.New("staking: caller is not the pool owner")
	ErrStakerNotFound      = errors.New("staking: staker not found")
	ErrInsufficientBalance = errors.New("staking: insufficient staked balance")
	ErrUnknownTransaction  = errors.New("staking: unknown transaction")
	ErrTransferFailed      = errors.New("staking: token transfer failed")
	ErrInvariantViolation  = errors.New("staking: invariant violation")

	// ErrTransferPending reports a transfer that never replied. The
	// transaction stays pending and may be resumed with Continue.
	ErrTransferPending = errors.New("staking: token transfer did not complete")
	// ErrTransactionInFlight rejects a Continue for a transaction whose
	// transfer is still awaiting a reply.
	ErrTransactionInFlight = errors.New("staking: transaction transfer in flight")
	ErrNotInitialized      = errors.New("staking: pool not initialized")
	ErrAlreadyInitialized  = errors.New("staking: pool already initialized")

	errAlreadyProcessed = errors.New("staking: transaction already processed")
)

// TxError attaches the transaction id to a failure so callers can resume or
// correlate it.
type TxError struct {
	TxID uint64
	Err  error
}

func (e *TxError) Error() string {
	if e == nil || e.Err == nil {
		return "staking: transaction error"
	}
	return fmt.Sprintf("%v (txid %d)", e.Err, e.TxID)
}

func (e *TxError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// TxIDFromError extracts the transaction id carried by err, if any.
func TxIDFromError(err error) (uint64, bool) {
	var txErr *TxError
	if errors.As(err, &txErr) && txErr != nil {
		return txErr.TxID, true
	}
	return 0, false
}
