// internal/app/money.go
package app

import (
	"fmt"
	"math"
	"strings"
)

// maxWholeDigits matches the NUMERIC(10,2) receipt column: 8 whole digits.
const maxWholeDigits = 8

// ParseCents parses a user-supplied dollar amount ("100", "33.3", "$99.95")
// into integer cents. The whole part needs at least one digit and at most
// eight, and at most two fractional digits are accepted.
func ParseCents(s string) (int64, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac := cleaned, ""
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		whole, frac = cleaned[:i], cleaned[i+1:]
	}
	if whole == "" || len(whole) > maxWholeDigits || len(frac) > 2 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var cents int64
	for _, part := range []string{whole, frac} {
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
			cents = cents*10 + int64(ch-'0')
		}
	}
	return cents, nil
}

// SplitCents divides a total among n participants, rounded to the nearest
// cent (half away from zero). The sum of shares may differ from the total by
// under one cent per participant; the purchaser absorbs the slack.
func SplitCents(totalCents int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	return int64(math.Round(float64(totalCents) / float64(n)))
}

// FormatCents renders cents as a dollar string, e.g. 3333 -> "$33.33".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
