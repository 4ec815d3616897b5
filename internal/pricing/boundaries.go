// Package pricing holds the boundary-price math for a ritual session.
//
// The liquidation formula is a deliberate UX approximation of the
// exchange's margin mechanics, not a margin-call-accurate computation.
package pricing

import "perp-ritual-lab/internal/domain"

// LiquidationPrice approximates total loss of margin at the given leverage.
// LONG: entry * (1 - 1/leverage). SHORT: entry * (1 + 1/leverage).
func LiquidationPrice(entry float64, side domain.TradeSide, leverage float64) float64 {
	if side == domain.SideLong {
		return entry * (1 - 1/leverage)
	}
	return entry * (1 + 1/leverage)
}

// TargetPrice is the price at which the position's profit equals
// targetProfit. Position size is notional/entry in base units.
func TargetPrice(entry float64, side domain.TradeSide, targetProfit, leverage, margin float64) float64 {
	notional := margin * leverage
	positionSize := notional / entry
	if side == domain.SideLong {
		return entry + targetProfit/positionSize
	}
	return entry - targetProfit/positionSize
}

// Luck normalizes price to its position in the [liquidation, target]
// interval: 0 at liquidation, 1 at target, clamped to [0,1].
func Luck(price, liq, target float64, side domain.TradeSide) float64 {
	var v float64
	if side == domain.SideLong {
		if target == liq {
			return 0.5
		}
		v = (price - liq) / (target - liq)
	} else {
		if liq == target {
			return 0.5
		}
		v = (liq - price) / (liq - target)
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
