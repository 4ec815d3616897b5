package signing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimTrailingZeros(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"100.50000000", "100.5"},
		{"100.5", "100.5"},
		{"68850.00000000", "68850"},
		{"68850", "68850"},
		{"0.00100000", "0.001"},
		{"0.00000000", "0"},
		{"-0.00000000", "0"},
		{"-2.50000000", "-2.5"},
		{"10", "10"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TrimTrailingZeros(tc.in), "input %q", tc.in)
	}
}
