package schema

import (
	"strconv"
	"strings"
)

// ParseNumber parses a spreadsheet numeric cell. Thousands separators
// ("1,250.50") and surrounding whitespace are accepted.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsNumeric reports whether f holds an integer or decimal quantity.
func IsNumeric(f Field) bool {
	k := f.Kind()
	return k == KindInteger || k == KindDecimal
}
