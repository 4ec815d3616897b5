package hyperliquid

import (
	"math"
	"strconv"

	"perp-ritual-lab/internal/signing"
)

// Wire numeric conventions for perp order entry.
const (
	// SlippagePct bounds the limit price of a market-style order, applied
	// against the trader so an IOC fill cannot be worse than this.
	SlippagePct = 0.005

	// maxSigFigs is the maximum significant figures on a wire price.
	maxSigFigs = 5

	// maxPxDecimalBudget minus szDecimals is the maximum decimal places
	// on a perp wire price.
	maxPxDecimalBudget = 6
)

// FloatToWire renders a float as a canonical decimal wire string:
// 8 decimal places, trailing zeros trimmed, "-0" normalized to "0".
func FloatToWire(v float64) string {
	s := strconv.FormatFloat(v, 'f', 8, 64)
	return signing.TrimTrailingZeros(s)
}

// RoundSize quantizes an order size to the instrument's size decimals.
// A size must be quantized before signing: signing a value that differs
// from the server-side comparison is a correctness bug.
func RoundSize(size float64, szDecimals int) float64 {
	scale := math.Pow10(szDecimals)
	return math.Round(size*scale) / scale
}

// RoundPrice quantizes a price to at most 5 significant figures and at
// most 6-szDecimals decimal places, whichever is tighter. Integer prices
// are exempt from the significant-figure cap.
func RoundPrice(px float64, szDecimals int) float64 {
	if px <= 0 {
		return px
	}

	maxDecimals := maxPxDecimalBudget - szDecimals
	if maxDecimals < 0 {
		maxDecimals = 0
	}

	rounded := px
	if px != math.Trunc(px) {
		digits := int(math.Floor(math.Log10(px))) + 1
		if decimals := maxSigFigs - digits; decimals < maxDecimals {
			if decimals < 0 {
				decimals = 0
			}
			maxDecimals = decimals
		}
		scale := math.Pow10(maxDecimals)
		rounded = math.Round(px*scale) / scale
	}
	return rounded
}

// SlippagePrice computes the bounded limit price for a market-style
// order: the reference price moved SlippagePct against the trader and
// rounded to wire conventions.
func SlippagePrice(referencePx float64, isBuy bool, szDecimals int) float64 {
	px := referencePx
	if isBuy {
		px *= 1 + SlippagePct
	} else {
		px *= 1 - SlippagePct
	}
	return RoundPrice(px, szDecimals)
}
