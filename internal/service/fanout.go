package service

import (
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"
)

// sharePlaces is the precision each fan-out proportion is rounded to.
const sharePlaces = 2

var one = decimal.NewFromInt(1)

// share is one scheduled credit of a fan-out.
type share struct {
	amount decimal.Decimal
	delay  time.Duration
}

// splitShares draws k proportions that sum to exactly one.
// k-1 uniform weights are normalized and rounded; the last proportion
// absorbs the rounding residual.
func splitShares(rng *rand.Rand, k int) []decimal.Decimal {
	if k <= 1 {
		return []decimal.Decimal{one}
	}

	weights := make([]float64, k-1)
	var total float64
	for i := range weights {
		w := rng.Float64()
		for w == 0 {
			w = rng.Float64()
		}
		weights[i] = w
		total += w
	}

	props := make([]float64, len(weights))
	for i, w := range weights {
		props[i] = w / total
	}
	return roundShares(props)
}

// roundShares rounds each proportion to sharePlaces and appends the
// residual 1 - sum(rounded). The residual is negative when the rounded
// proportions overshoot one; it is not clamped.
func roundShares(props []float64) []decimal.Decimal {
	shares := make([]decimal.Decimal, 0, len(props)+1)
	sum := decimal.Zero
	for _, p := range props {
		s := decimal.NewFromFloat(p).Round(sharePlaces)
		shares = append(shares, s)
		sum = sum.Add(s)
	}
	return append(shares, one.Sub(sum))
}

// shareAmounts scales proportions by net. Decimal multiplication is exact,
// so the amounts sum to net whenever the proportions sum to one.
func shareAmounts(net decimal.Decimal, shares []decimal.Decimal) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		amounts[i] = s.Mul(net)
	}
	return amounts
}

// randomDelay returns a duration uniform in [0, limit].
func randomDelay(rng *rand.Rand, limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rng.Int64N(int64(limit) + 1))
}

// planFanOut splits net into k credits. The first credit has no delay.
func planFanOut(rng *rand.Rand, k int, net decimal.Decimal, maxDelay time.Duration) []share {
	amounts := shareAmounts(net, splitShares(rng, k))
	plan := make([]share, len(amounts))
	for i, a := range amounts {
		plan[i].amount = a
		if i > 0 {
			plan[i].delay = randomDelay(rng, maxDelay)
		}
	}
	return plan
}

// splitCount draws the number of credits for the remote ledger, which has
// no private address count to go by.
func splitCount(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.IntN(hi-lo+1)
}
