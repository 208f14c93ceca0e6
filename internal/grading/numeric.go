package grading

import (
	"math"
	"strconv"
	"strings"
)

// numericMatch reports whether v hits target exactly, within an absolute
// tolerance, or within a relative tolerance expressed as a percentage.
// The relative check is skipped for a target of 0 to avoid dividing by zero.
func numericMatch(v, target, tolerance, tolerancePercent float64) bool {
	if v == target {
		return true
	}
	diff := math.Abs(v - target)
	if tolerance > 0 && diff <= tolerance {
		return true
	}
	if tolerancePercent > 0 && target != 0 && diff <= math.Abs(target)*tolerancePercent/100 {
		return true
	}
	return false
}

// formatAmount renders a point value or dollar amount without trailing
// zeros, matching how the authoring side writes answer keys.
func formatAmount(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}
