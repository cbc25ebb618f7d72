package staking

import "github.com/holiman/uint256"

// ScaleDecimals is the number of decimal places carried by the reward-per-share index.
const ScaleDecimals = 20

var (
	// Scale is the fixed-point unit of the reward-per-share index (10^20).
	Scale = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(ScaleDecimals))

	maxAmount = new(uint256.Int).SetAllOne()
)

// Arithmetic on balances and accumulators never wraps: results that would
// exceed 2^256-1 saturate to it and differences that would go below zero
// clamp at zero.

func satAdd(a, b *uint256.Int) *uint256.Int {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return new(uint256.Int).Set(maxAmount)
	}
	return out
}

func satSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// mulDiv returns a*b/d truncated toward zero. The product is computed at
// 512-bit width, so only a quotient that does not fit 256 bits saturates.
func mulDiv(a, b, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return new(uint256.Int)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(a, b, d)
	if overflow {
		return new(uint256.Int).Set(maxAmount)
	}
	return out
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
