// internal/domain/dates/dates.go
package dates

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Layout is the calendar-date wire format used everywhere in the bot.
// All phase comparisons happen on tz-local date strings, never raw instants,
// so midnight boundaries cannot cause off-by-one transitions.
const Layout = "2006-01-02"

// unicode dash variants people paste from phones and rich-text editors.
var dashReplacer = strings.NewReplacer(
	"‐", "-", // hyphen
	"‑", "-", // non-breaking hyphen
	"‒", "-", // figure dash
	"–", "-", // en dash
	"—", "-", // em dash
	"―", "-", // horizontal bar
	"−", "-", // minus sign
)

// LocalDate formats an instant as a calendar date in the given location.
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(Layout)
}

// ParseDate parses a strict YYYY-MM-DD string into a midnight time in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// ParseBirthday validates user-supplied birthday input. It normalizes Unicode
// dash variants, requires the exact YYYY-MM-DD shape, and rejects dates that
// do not round-trip through date construction (e.g. 2024-02-30, which Go's
// time.Parse would otherwise normalize to a March date).
func ParseBirthday(s string, loc *time.Location) (time.Time, error) {
	cleaned := dashReplacer.Replace(strings.TrimSpace(s))
	t, err := time.ParseInLocation(Layout, cleaned, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid birthday %q: expected YYYY-MM-DD", s)
	}
	if t.Format(Layout) != cleaned {
		return time.Time{}, fmt.Errorf("invalid birthday %q: no such calendar date", s)
	}
	return t, nil
}

// AddDays shifts a date by a whole number of calendar days (can be negative).
func AddDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// DaysBetween returns the integer calendar-day offset from 'from' to 'to'
// (positive when 'to' is later). Both are truncated to midnight in loc first;
// rounding absorbs the 23/25-hour days around DST changes.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	f := Midnight(from, loc)
	t := Midnight(to, loc)
	return int(math.Round(t.Sub(f).Hours() / 24))
}

// Midnight truncates an instant to the start of its calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// UpcomingBirthday maps a stored birthday onto the given year, keeping only
// month and day. A Feb-29 birthday in a non-leap year normalizes to Mar 1.
func UpcomingBirthday(birthday time.Time, year int, loc *time.Location) time.Time {
	return time.Date(year, birthday.Month(), birthday.Day(), 0, 0, 0, 0, loc)
}
