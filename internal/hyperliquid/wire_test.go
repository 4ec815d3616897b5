package hyperliquid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatToWire(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{68850, "68850"},
		{68850.5, "68850.5"},
		{0.0029, "0.0029"},
		{100.50000000, "100.5"},
		{0, "0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FloatToWire(tc.in), "input %v", tc.in)
	}
}

func TestRoundSize(t *testing.T) {
	assert.InDelta(t, 0.00294, RoundSize(0.0029411764, 5), 1e-12)
	assert.InDelta(t, 0.003, RoundSize(0.0029511764, 3), 1e-12)
	assert.InDelta(t, 3.0, RoundSize(2.9999, 0), 1e-12)
}

func TestRoundPrice(t *testing.T) {
	// Five-digit integer part consumes the significant figures.
	assert.InDelta(t, 68341, RoundPrice(68340.73, 5), 1e-9)
	// Integer prices are exempt from the significant-figure cap.
	assert.InDelta(t, 123456, RoundPrice(123456, 5), 1e-9)
	// Small prices keep 6-szDecimals decimals.
	assert.InDelta(t, 0.07423, RoundPrice(0.0742349, 1), 1e-12)
}

func TestSlippagePrice(t *testing.T) {
	// Buy: price moves up against the trader; 68000 * 1.005 = 68340.
	assert.InDelta(t, 68340, SlippagePrice(68000, true, 5), 1e-9)
	// Sell: price moves down; 68000 * 0.995 = 67660.
	assert.InDelta(t, 67660, SlippagePrice(68000, false, 5), 1e-9)
}
