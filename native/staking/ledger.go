package staking

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Staker is the per-participant reward bookkeeping record.
type Staker struct {
	Balance *uint256.Int
	// RewardDebt excludes the accrual that happened before a deposit existed.
	RewardDebt *uint256.Int
	// RewardAllowed keeps the reward earned by withdrawn stake claimable.
	RewardAllowed *uint256.Int
	Distributed   *uint256.Int
}

func newStaker() *Staker {
	return &Staker{
		Balance:       new(uint256.Int),
		RewardDebt:    new(uint256.Int),
		RewardAllowed: new(uint256.Int),
		Distributed:   new(uint256.Int),
	}
}

// Clone returns a deep copy of the staker record.
func (s *Staker) Clone() *Staker {
	if s == nil {
		return newStaker()
	}
	return &Staker{
		Balance:       cloneAmount(s.Balance),
		RewardDebt:    cloneAmount(s.RewardDebt),
		RewardAllowed: cloneAmount(s.RewardAllowed),
		Distributed:   cloneAmount(s.Distributed),
	}
}

// StakerLedger holds staker records keyed by identity. Every mutating call
// expects the accumulator to have been refreshed immediately beforehand.
type StakerLedger struct {
	stakers map[common.Address]*Staker
}

// NewStakerLedger returns an empty ledger.
func NewStakerLedger() *StakerLedger {
	return &StakerLedger{stakers: make(map[common.Address]*Staker)}
}

// Get returns the live record for id.
func (l *StakerLedger) Get(id common.Address) (*Staker, bool) {
	staker, ok := l.stakers[id]
	return staker, ok
}

// OpenOrGet returns the record for id, creating a zeroed one when absent.
func (l *StakerLedger) OpenOrGet(id common.Address) *Staker {
	if staker, ok := l.stakers[id]; ok {
		return staker
	}
	staker := newStaker()
	l.stakers[id] = staker
	return staker
}

// RecordDeposit credits amount to id and charges the debt the amount would
// have earned had it been staked since inception. The debt is taken as the
// growth of RewardFor(balance) so truncation can never hand out dust.
func (l *StakerLedger) RecordDeposit(acc *Accumulator, id common.Address, amount *uint256.Int) *Staker {
	staker := l.OpenOrGet(id)
	before := acc.RewardFor(staker.Balance)
	staker.Balance = satAdd(staker.Balance, amount)
	staker.RewardDebt = satAdd(staker.RewardDebt, satSub(acc.RewardFor(staker.Balance), before))
	return staker
}

// RecordWithdrawal debits amount from id and preserves the reward already
// earned by the withdrawn portion.
func (l *StakerLedger) RecordWithdrawal(acc *Accumulator, id common.Address, amount *uint256.Int) (*Staker, error) {
	staker, ok := l.stakers[id]
	if !ok {
		return nil, ErrStakerNotFound
	}
	if staker.Balance.Lt(amount) {
		return nil, ErrInsufficientBalance
	}
	// Credit exactly what RewardFor(balance) loses. Crediting RewardFor(amount)
	// instead can fall one unit short after truncation and push the
	// claimable reward below what was already distributed.
	before := acc.RewardFor(staker.Balance)
	staker.Balance = new(uint256.Int).Sub(staker.Balance, amount)
	staker.RewardAllowed = satAdd(staker.RewardAllowed, satSub(before, acc.RewardFor(staker.Balance)))
	return staker, nil
}

// Claimable returns the reward id can collect under the current index.
func (l *StakerLedger) Claimable(acc *Accumulator, id common.Address) (*uint256.Int, error) {
	staker, ok := l.stakers[id]
	if !ok {
		return nil, ErrStakerNotFound
	}
	return claimableOf(acc, staker)
}

func claimableOf(acc *Accumulator, staker *Staker) (*uint256.Int, error) {
	earned := satAdd(acc.RewardFor(staker.Balance), staker.RewardAllowed)
	owed := satAdd(staker.RewardDebt, staker.Distributed)
	if earned.Lt(owed) {
		return nil, fmt.Errorf("%w: claimable reward below zero (earned %s, owed %s)", ErrInvariantViolation, earned.Dec(), owed.Dec())
	}
	return new(uint256.Int).Sub(earned, owed), nil
}

// RecordDistribution marks amount as paid out to id.
func (l *StakerLedger) RecordDistribution(id common.Address, amount *uint256.Int) error {
	staker, ok := l.stakers[id]
	if !ok {
		return ErrStakerNotFound
	}
	staker.Distributed = satAdd(staker.Distributed, amount)
	return nil
}

// Len reports the number of stakers.
func (l *StakerLedger) Len() int { return len(l.stakers) }

// TotalBalance sums every staker balance.
func (l *StakerLedger) TotalBalance() *uint256.Int {
	total := new(uint256.Int)
	for _, staker := range l.stakers {
		total = satAdd(total, staker.Balance)
	}
	return total
}

// Snapshot returns deep copies of all staker records.
func (l *StakerLedger) Snapshot() map[common.Address]*Staker {
	out := make(map[common.Address]*Staker, len(l.stakers))
	for id, staker := range l.stakers {
		out[id] = staker.Clone()
	}
	return out
}

func (l *StakerLedger) restore(id common.Address, staker *Staker) {
	l.stakers[id] = staker.Clone()
}
