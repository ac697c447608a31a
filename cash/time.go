/*
time.go - Timezones and calendar days

PURPOSE:
  Zone parsing (IANA names and fixed offsets) and the calendar day type
  the history query iterates over.

SEE ALSO:
  - history/history.go: end-of-day snapshots per Date
*/
package cash

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// =============================================================================
// TIMEZONES
// =============================================================================

// ParseZone resolves an IANA zone name or a fixed offset ("Z", "+02:00",
// "-0530", "UTC+2", "GMT+03:00"). Empty names are an error so the caller
// decides the fallback.
func ParseZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty zone id")
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if loc, ok := parseOffsetZone(name); ok {
		return loc, nil
	}
	return nil, fmt.Errorf("unknown zone id %q: %w", name, err)
}

const maxOffset = 18 * 60 * 60

// parseOffsetZone handles "Z", a bare ±offset, or an offset behind one of
// the UTC, GMT or UT prefixes. A bare prefix is UTC.
func parseOffsetZone(name string) (*time.Location, bool) {
	if name == "Z" {
		return time.UTC, true
	}
	prefix := ""
	for _, p := range []string{"UTC", "GMT", "UT"} {
		if strings.HasPrefix(name, p) {
			prefix, name = p, name[len(p):]
			break
		}
	}
	if name == "" {
		if prefix == "" {
			return nil, false
		}
		return time.FixedZone(prefix, 0), true
	}
	secs, ok := parseOffset(name)
	if !ok {
		return nil, false
	}
	return time.FixedZone(prefix+formatOffset(secs), secs), true
}

// parseOffset reads ±H, ±HH, ±HHMM, ±HH:MM, ±HHMMSS or ±HH:MM:SS.
func parseOffset(s string) (int, bool) {
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return 0, false
	}
	sign, body := 1, s[1:]
	if s[0] == '-' {
		sign = -1
	}

	var parts []string
	switch {
	case len(body) <= 2:
		parts = []string{body}
	case len(body) == 4:
		parts = []string{body[:2], body[2:]}
	case len(body) == 5 && body[2] == ':':
		parts = []string{body[:2], body[3:]}
	case len(body) == 6:
		parts = []string{body[:2], body[2:4], body[4:]}
	case len(body) == 8 && body[2] == ':' && body[5] == ':':
		parts = []string{body[:2], body[3:5], body[6:]}
	default:
		return 0, false
	}

	var hms [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || p[0] == '+' || p[0] == '-' {
			return 0, false
		}
		hms[i] = v
	}
	if hms[1] > 59 || hms[2] > 59 {
		return 0, false
	}
	secs := hms[0]*3600 + hms[1]*60 + hms[2]
	if secs > maxOffset {
		return 0, false
	}
	return sign * secs, true
}

func formatOffset(secs int) string {
	sign := '+'
	if secs < 0 {
		sign, secs = '-', -secs
	}
	out := fmt.Sprintf("%c%02d:%02d", sign, secs/3600, secs/60%60)
	if s := secs % 60; s != 0 {
		out += fmt.Sprintf(":%02d", s)
	}
	return out
}

// ZoneOrUTC returns the named zone, or UTC with ok=false when the name is
// missing or unparseable.
func ZoneOrUTC(name string) (loc *time.Location, ok bool) {
	loc, err := ParseZone(name)
	if err != nil {
		return time.UTC, false
	}
	return loc, true
}

// =============================================================================
// DATE - Calendar day in some location
// =============================================================================

type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// Start is midnight at the beginning of the day in loc.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// End is the first instant of the following day in loc. Records strictly
// before End belong to the day or earlier.
func (d Date) End(loc *time.Location) time.Time {
	return d.Next().Start(loc)
}

func (d Date) Next() Date {
	t := time.Date(d.Year, d.Month, d.Day+1, 12, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

func (d Date) After(other Date) bool { return other.Before(d) }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DaysBetween counts calendar days from a to b inclusive. It returns 0
// when b is before a.
func DaysBetween(a, b Date) int {
	if b.Before(a) {
		return 0
	}
	ta := time.Date(a.Year, a.Month, a.Day, 12, 0, 0, 0, time.UTC)
	tb := time.Date(b.Year, b.Month, b.Day, 12, 0, 0, 0, time.UTC)
	return int(tb.Sub(ta).Hours()/24) + 1
}
