package staking

import "github.com/holiman/uint256"

// Accumulator tracks the linear reward emission schedule and the
// reward-per-share index derived from it. It performs no I/O.
type Accumulator struct {
	// RewardTotal is the amount emitted linearly over DistributionTime.
	RewardTotal      *uint256.Int
	DistributionTime uint64
	// EmissionStartedAt is when the current schedule was installed.
	EmissionStartedAt uint64
	// AllTimeEmitted freezes the emission of every previous schedule.
	AllTimeEmitted *uint256.Int
	// RewardEmitted is the emission already folded into RewardPerShare.
	RewardEmitted  *uint256.Int
	RewardPerShare *uint256.Int
	TotalStaked    *uint256.Int
}

// NewAccumulator returns an accumulator with every figure at zero.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		RewardTotal:    new(uint256.Int),
		AllTimeEmitted: new(uint256.Int),
		RewardEmitted:  new(uint256.Int),
		RewardPerShare: new(uint256.Int),
		TotalStaked:    new(uint256.Int),
	}
}

// EmittedAt returns the cumulative reward emitted by every schedule as of now.
func (a *Accumulator) EmittedAt(now uint64) *uint256.Int {
	if a.DistributionTime == 0 {
		return cloneAmount(a.AllTimeEmitted)
	}
	var elapsed uint64
	if now > a.EmissionStartedAt {
		elapsed = now - a.EmissionStartedAt
	}
	if elapsed > a.DistributionTime {
		elapsed = a.DistributionTime
	}
	current := mulDiv(a.RewardTotal, uint256.NewInt(elapsed), uint256.NewInt(a.DistributionTime))
	return satAdd(a.AllTimeEmitted, current)
}

// Refresh folds the emission since the last refresh into the index. It must
// run before TotalStaked changes and before any staker baseline is read.
func (a *Accumulator) Refresh(now uint64) {
	emitted := a.EmittedAt(now)
	if !emitted.Gt(a.RewardEmitted) {
		return
	}
	delta := new(uint256.Int).Sub(emitted, a.RewardEmitted)
	if !a.TotalStaked.IsZero() {
		a.RewardPerShare = satAdd(a.RewardPerShare, mulDiv(delta, Scale, a.TotalStaked))
	}
	a.RewardEmitted = satAdd(a.RewardEmitted, delta)
}

// RewardFor is the reward a balance of amount would have earned since pool
// inception under the current index.
func (a *Accumulator) RewardFor(amount *uint256.Int) *uint256.Int {
	return mulDiv(amount, a.RewardPerShare, Scale)
}

// Reschedule freezes accrual under the current schedule and installs a new one
// starting at now.
func (a *Accumulator) Reschedule(now uint64, rewardTotal *uint256.Int, distributionTime uint64) {
	a.Refresh(now)
	a.AllTimeEmitted = cloneAmount(a.RewardEmitted)
	a.EmissionStartedAt = now
	a.RewardTotal = cloneAmount(rewardTotal)
	a.DistributionTime = distributionTime
}

// Clone returns a deep copy of the accumulator.
func (a *Accumulator) Clone() *Accumulator {
	if a == nil {
		return NewAccumulator()
	}
	return &Accumulator{
		RewardTotal:       cloneAmount(a.RewardTotal),
		DistributionTime:  a.DistributionTime,
		EmissionStartedAt: a.EmissionStartedAt,
		AllTimeEmitted:    cloneAmount(a.AllTimeEmitted),
		RewardEmitted:     cloneAmount(a.RewardEmitted),
		RewardPerShare:    cloneAmount(a.RewardPerShare),
		TotalStaked:       cloneAmount(a.TotalStaked),
	}
}
