package calendar

import (
	"fmt"
	"time"

	jalaali "github.com/jalaali/go-jalaali"
)

// JalaaliDate is a civil date in the Jalaali (Solar Hijri) calendar.
type JalaaliDate struct {
	Year  int
	Month int
	Day   int
}

func (d JalaaliDate) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

// jalaaliToGregorian and gregorianToJalaali take the library's month
// types down to plain ints.
func jalaaliToGregorian[JM, GM ~int](conv func(int, JM, int) (int, GM, int, error), jy, jm, jd int) (int, int, int, error) {
	gy, gm, gd, err := conv(jy, JM(jm), jd)
	return gy, int(gm), gd, err
}

func gregorianToJalaali[GM, JM ~int](conv func(int, GM, int) (int, JM, int, error), gy, gm, gd int) (int, int, int, error) {
	jy, jm, jd, err := conv(gy, GM(gm), gd)
	return jy, int(jm), jd, err
}

// ValidJalaali reports whether (jy, jm, jd) is a real Jalaali date.  The
// conversion does not range-check month and day, so a date is valid when
// it survives the round trip unchanged.
func ValidJalaali(jy, jm, jd int) bool {
	if jm < 1 || jm > 12 || jd < 1 || jd > 31 {
		return false
	}
	gy, gm, gd, err := jalaaliToGregorian(jalaali.ToGregorian, jy, jm, jd)
	if err != nil {
		return false
	}
	by, bm, bd, err := gregorianToJalaali(jalaali.ToJalaali, gy, gm, gd)
	return err == nil && by == jy && bm == jm && bd == jd
}

// JalaaliMonthLength returns the number of days in month jm of year jy,
// or 0 for a year or month out of range.
func JalaaliMonthLength(jy, jm int) int {
	for d := 31; d >= 29; d-- {
		if ValidJalaali(jy, jm, d) {
			return d
		}
	}
	return 0
}

// IsLeapJalaali reports whether jy has 30 days in Esfand.
func IsLeapJalaali(jy int) bool {
	return JalaaliMonthLength(jy, 12) == 30
}

// ToGregorian converts a Jalaali date to the Gregorian civil date at
// 00:00 UTC.
func ToGregorian(d JalaaliDate) (time.Time, error) {
	if !ValidJalaali(d.Year, d.Month, d.Day) {
		return time.Time{}, fmt.Errorf("invalid jalaali date %s", d)
	}
	gy, gm, gd, err := jalaaliToGregorian(jalaali.ToGregorian, d.Year, d.Month, d.Day)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(gy, time.Month(gm), gd, 0, 0, 0, 0, time.UTC), nil
}

// ToJalaali converts the civil date of t (in t's own location) to Jalaali.
func ToJalaali(t time.Time) (JalaaliDate, error) {
	y, m, d := t.Date()
	jy, jm, jd, err := gregorianToJalaali(jalaali.ToJalaali, y, int(m), d)
	if err != nil {
		return JalaaliDate{}, err
	}
	return JalaaliDate{Year: jy, Month: jm, Day: jd}, nil
}
