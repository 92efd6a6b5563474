// Package calendar normalises travel dates.  Dates may arrive in the
// Jalaali or Gregorian calendar and in Persian, Arabic-Indic or ASCII
// digits; everything past this package works with Gregorian civil dates
// at 00:00 UTC.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// DefaultZone is the service time zone used for "is this day in the past".
const DefaultZone = "Asia/Tehran"

// jalaaliYearLimit separates the two calendars: years below it are read
// as Jalaali.
const jalaaliYearLimit = 1700

// ErrInvalidDate is wrapped by every parse failure.
var ErrInvalidDate = errors.New("invalid date")

var toASCII = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	}
	return r
})

var toPersian = runes.Map(func(r rune) rune {
	if r >= '0' && r <= '9' {
		return '۰' + (r - '0')
	}
	return r
})

var toArabicIndic = runes.Map(func(r rune) rune {
	if r >= '0' && r <= '9' {
		return '٠' + (r - '0')
	}
	return r
})

// Digits is a digit script.
type Digits int

const (
	ASCIIDigits Digits = iota
	PersianScript
	ArabicIndicScript
)

// DateStyle is how a caller wrote a date, so that dates echoed back to
// them read the same way.
type DateStyle struct {
	Sep    byte
	Digits Digits
}

// DefaultStyle is used when there is no caller input to follow.
var DefaultStyle = DateStyle{Sep: '/', Digits: ASCIIDigits}

// StyleOf reports the separator and digit script of a raw date.  Anything
// it cannot tell falls back to DefaultStyle.
func StyleOf(raw string) DateStyle {
	st := DefaultStyle
	for _, r := range raw {
		switch {
		case r == 'T' || r == ' ':
			return st
		case r == '-' || r == '/':
			st.Sep = byte(r)
		case r >= '۰' && r <= '۹':
			st.Digits = PersianScript
		case r >= '٠' && r <= '٩':
			st.Digits = ArabicIndicScript
		}
	}
	return st
}

// NormalizeDigits maps Persian and Arabic-Indic digits to ASCII.
func NormalizeDigits(s string) string {
	out, _, err := transform.String(toASCII, s)
	if err != nil {
		return s
	}
	return out
}

// PersianDigits maps ASCII digits to Persian digits.
func PersianDigits(s string) string {
	out, _, err := transform.String(toPersian, s)
	if err != nil {
		return s
	}
	return out
}

// ParseTravelDate accepts YYYY-MM-DD or YYYY/MM/DD in either calendar and
// any digit script.  A trailing time component (RFC 3339) is ignored.
// The result is the Gregorian civil date at 00:00 UTC.
func ParseTravelDate(s string) (time.Time, error) {
	raw := strings.TrimSpace(NormalizeDigits(s))
	if i := strings.IndexAny(raw, "T "); i > 0 {
		raw = raw[:i]
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '-' || r == '/' })
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		nums[i] = n
	}
	y, m, d := nums[0], nums[1], nums[2]

	if y < jalaaliYearLimit {
		if !ValidJalaali(y, m, d) {
			return time.Time{}, fmt.Errorf("%w: %q is not a jalaali date", ErrInvalidDate, s)
		}
		return ToGregorian(JalaaliDate{Year: y, Month: m, Day: d})
	}
	if m < 1 || m > 12 || d < 1 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow (Feb 30 -> Mar 2); reject it.
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// FormatGregorian renders d as YYYY-MM-DD.
func FormatGregorian(d time.Time) string { return d.Format("2006-01-02") }

// FormatJalaali renders the civil date of d as YYYY/MM/DD in the Jalaali
// calendar with ASCII digits.
func FormatJalaali(d time.Time) (string, error) {
	return FormatJalaaliStyle(d, DefaultStyle)
}

// FormatJalaaliPersian is FormatJalaali with Persian digits.
func FormatJalaaliPersian(d time.Time) (string, error) {
	return FormatJalaaliStyle(d, DateStyle{Sep: '/', Digits: PersianScript})
}

// FormatJalaaliStyle renders the civil date of d in the Jalaali calendar
// with st's separator and digits.
func FormatJalaaliStyle(d time.Time, st DateStyle) (string, error) {
	j, err := ToJalaali(d)
	if err != nil {
		return "", err
	}
	if st.Sep != '-' && st.Sep != '/' {
		st.Sep = DefaultStyle.Sep
	}
	out := fmt.Sprintf("%04d%c%02d%c%02d", j.Year, st.Sep, j.Month, st.Sep, j.Day)
	switch st.Digits {
	case PersianScript:
		return PersianDigits(out), nil
	case ArabicIndicScript:
		if s, _, err := transform.String(toArabicIndic, out); err == nil {
			return s, nil
		}
	}
	return out, nil
}

// DayRange returns the inclusive UTC bounds of d's civil day.
func DayRange(d time.Time) (start, end time.Time) {
	y, m, day := d.Date()
	start = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	end = start.Add(24*time.Hour - time.Nanosecond)
	return start, end
}

// IsPast reports whether the civil date d is before today in loc.  d is
// taken as a civil date; only its year, month and day are read.
func IsPast(d, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ty, tm, td := now.In(loc).Date()
	today := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC).Before(today)
}

// Today returns the civil date of now in loc at 00:00 UTC.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SaturdayIndex maps a weekday to a Saturday-first index (Saturday = 0,
// Friday = 6).
func SaturdayIndex(w time.Weekday) int {
	return (int(w) + 1) % 7
}

// WeekdayFromSaturdayIndex is the inverse of SaturdayIndex.
func WeekdayFromSaturdayIndex(i int) (time.Weekday, bool) {
	if i < 0 || i > 6 {
		return 0, false
	}
	return time.Weekday((i + 6) % 7), true
}

// LoadZone loads name, falling back to Iran Standard Time (+03:30) when
// the zone database is unavailable.
func LoadZone(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("IRST", 3*3600+30*60)
	}
	return loc
}
