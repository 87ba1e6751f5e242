package onetap

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Multipliers are scaled by 100: 110 pays 1.10x.
const (
	BaseMultiplier = 110
	MaxMultiplier  = 10000

	// MinTimeDiff floors the time-to-target in seconds so very short bets
	// cannot blow the multiplier up.
	MinTimeDiff = 10

	distanceWeight = 3
	timeScale      = 60
	bpsScale       = 10000
)

// CalculateMultiplier prices a one-tap bet from its entry and target. Prices
// carry 8 implied decimals, times are unix seconds. The result is integer
// arithmetic only, so the same inputs always give the same output:
//
//	distanceBps = |target - entry| * 10000 / entry
//	timeDiff    = max(targetTime - entryTime, 10)
//	multiplier  = min(110 + distanceBps * 3 * 60 / timeDiff, 10000)
func CalculateMultiplier(entryPrice, targetPrice *big.Int, entryTime, targetTime int64) uint64 {
	if entryPrice == nil || targetPrice == nil || entryPrice.Sign() <= 0 {
		return BaseMultiplier
	}

	distance := new(big.Int).Sub(targetPrice, entryPrice)
	distance.Abs(distance)
	distanceBps := distance.Mul(distance, big.NewInt(bpsScale))
	distanceBps.Quo(distanceBps, entryPrice)

	timeDiff := targetTime - entryTime
	if timeDiff < MinTimeDiff {
		timeDiff = MinTimeDiff
	}

	bonus := distanceBps.Mul(distanceBps, big.NewInt(distanceWeight*timeScale))
	bonus.Quo(bonus, big.NewInt(timeDiff))

	total := bonus.Add(bonus, big.NewInt(BaseMultiplier))
	if total.Cmp(big.NewInt(MaxMultiplier)) > 0 {
		return MaxMultiplier
	}
	return total.Uint64()
}

// DisplayMultiplier renders a scaled multiplier as "1.10x".
func DisplayMultiplier(m uint64) string {
	return decimal.NewFromInt(int64(m)).Shift(-2).StringFixed(2) + "x"
}

// Payout is the gross return of a winning bet in collateral base units.
func Payout(betAmount *big.Int, multiplier uint64) *big.Int {
	p := new(big.Int).Mul(betAmount, new(big.Int).SetUint64(multiplier))
	return p.Quo(p, big.NewInt(100))
}
