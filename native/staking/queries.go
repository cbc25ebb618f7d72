package staking

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolState is a read-only view of the pool singleton.
type PoolState struct {
	Initialized         bool
	Pool                common.Address
	Owner               common.Address
	StakingToken        common.Address
	RewardToken         common.Address
	RewardTotal         *uint256.Int
	DistributionTime    uint64
	EmissionStartedAt   uint64
	AllTimeEmitted      *uint256.Int
	RewardEmitted       *uint256.Int
	RewardPerShare      *uint256.Int
	TotalStaked         *uint256.Int
	Stakers             int
	PendingTransactions int
}

// StakerView is a staker record together with its current claimable reward.
type StakerView struct {
	Address   common.Address
	Staker    *Staker
	Claimable *uint256.Int
}

// Pool returns the pool summary without refreshing the index.
func (e *Engine) Pool() PoolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PoolState{
		Initialized:         e.initialized,
		Pool:                e.pool,
		Owner:               e.owner,
		StakingToken:        e.stakingToken,
		RewardToken:         e.rewardToken,
		RewardTotal:         cloneAmount(e.acc.RewardTotal),
		DistributionTime:    e.acc.DistributionTime,
		EmissionStartedAt:   e.acc.EmissionStartedAt,
		AllTimeEmitted:      cloneAmount(e.acc.AllTimeEmitted),
		RewardEmitted:       cloneAmount(e.acc.RewardEmitted),
		RewardPerShare:      cloneAmount(e.acc.RewardPerShare),
		TotalStaked:         cloneAmount(e.acc.TotalStaked),
		Stakers:             e.stakers.Len(),
		PendingTransactions: e.txs.PendingCount(),
	}
}

// Stakers returns copies of every staker record.
func (e *Engine) Stakers() map[common.Address]*Staker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stakers.Snapshot()
}

// Staker returns a copy of the record for id along with the reward it could
// claim right now. The live index is not modified.
func (e *Engine) Staker(id common.Address) (StakerView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	staker, ok := e.stakers.Get(id)
	if !ok {
		return StakerView{}, ErrStakerNotFound
	}
	acc := e.acc.Clone()
	acc.Refresh(e.now())
	claimable, err := claimableOf(acc, staker)
	if err != nil {
		return StakerView{}, err
	}
	return StakerView{Address: id, Staker: staker.Clone(), Claimable: claimable}, nil
}

// PendingReward previews the reward id could claim now, net of claims that
// are already pending.
func (e *Engine) PendingReward(id common.Address) (*uint256.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	staker, ok := e.stakers.Get(id)
	if !ok {
		return nil, ErrStakerNotFound
	}
	acc := e.acc.Clone()
	acc.Refresh(e.now())
	claimable, err := claimableOf(acc, staker)
	if err != nil {
		return nil, err
	}
	return satSub(claimable, e.txs.Reserved(id, ActionClaim, ^uint64(0))), nil
}

// Transactions returns copies of every transaction record ordered by id.
func (e *Engine) Transactions() []*Transaction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.txs.Snapshot()
}

// Transaction returns a copy of the record for id.
func (e *Engine) Transaction(id uint64) (*Transaction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx, ok := e.txs.Lookup(id)
	if !ok {
		return nil, false
	}
	return tx.Clone(), true
}
