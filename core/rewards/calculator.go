// Package rewards applies the active benefit multiplier to base reward
// amounts.
package rewards

import "math"

// MultiplierSource resolves the reward multiplier for an account. The
// benefit ledger is the only production implementation; everything that
// doubles a reward must route through it.
type MultiplierSource interface {
	ActiveMultiplier(accountID string) float64
}

// Calculator derives payable amounts. It is deterministic and performs no
// I/O beyond the multiplier lookup.
type Calculator struct {
	source MultiplierSource
}

// NewCalculator constructs a calculator over the given multiplier source.
func NewCalculator(source MultiplierSource) *Calculator {
	return &Calculator{source: source}
}

// Reward computes floor(base × multiplier) for the account and returns the
// multiplier that was applied.
func (c *Calculator) Reward(base int64, accountID string) (int64, float64) {
	multiplier := 1.0
	if c.source != nil {
		multiplier = c.source.ActiveMultiplier(accountID)
	}
	if base <= 0 {
		return 0, multiplier
	}
	return int64(math.Floor(float64(base) * multiplier)), multiplier
}
