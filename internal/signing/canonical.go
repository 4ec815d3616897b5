package signing

import "strings"

// TrimTrailingZeros normalizes a decimal wire string so semantically equal
// values hash identically. Rule: when the string contains a decimal point,
// strip trailing zeros after it, then a trailing bare point; "-0" becomes
// "0". Integer strings are returned unchanged.
//
//	"100.50000000" -> "100.5"
//	"68850.00000000" -> "68850"
//	"68850" -> "68850"
func TrimTrailingZeros(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-0" || s == "-" {
		return "0"
	}
	return s
}
