package detections

import (
	"math"
	"strconv"
	"strings"
)

// FormatFloat renders v the way stored detection values have always been
// written: the shortest round-trip representation, always carrying a decimal
// point ("1.0", not "1"), and switching to exponent form ("1e-05") below 1e-4
// or at 1e16 and above.
func FormatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	abs := math.Abs(v)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// RoundTo rounds v to the given number of decimal places. Rounding is done on
// the exact binary value with ties to even, so 0.015 (stored just below the
// tie) becomes 0.01 and 0.125 becomes 0.12.
func RoundTo(v float64, places int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', places, 64), 64)
	if err != nil {
		return v
	}
	return r
}
