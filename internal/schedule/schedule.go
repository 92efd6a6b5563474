// Package schedule answers calendar questions about recurring trip
// templates: does a trip run on a day, where does the traveller get off,
// and how long does the leg take.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// ErrNoDays is returned by Validate for a specific-days trip without days.
var ErrNoDays = errors.New("specific-days trip must list at least one weekday")

// Duration is a wall-clock leg duration.  Known is false when either end
// time was missing or malformed.
type Duration struct {
	Minutes int
	Known   bool
}

// Unknown is the zero Duration.
var Unknown = Duration{}

func (d Duration) String() string {
	if !d.Known {
		return "unknown"
	}
	return fmt.Sprintf("%dh%02dm", d.Minutes/60, d.Minutes%60)
}

// Leg is the part of a trip a traveller actually rides.
type Leg struct {
	From          model.Terminal
	To            model.Terminal
	DepartureTime string
	ArrivalTime   string
	Duration      Duration
}

// RunsOn reports whether trip operates on the civil date d.
func RunsOn(trip model.TripSchedule, d time.Time) bool {
	if trip.Frequency != model.FrequencySpecificDays {
		return true
	}
	wd := d.Weekday()
	for _, day := range trip.Days {
		if day == wd {
			return true
		}
	}
	return false
}

// Validate checks the template invariants the booking flow relies on.
func Validate(trip model.TripSchedule) error {
	switch trip.Frequency {
	case model.FrequencyDaily:
	case model.FrequencySpecificDays:
		if len(trip.Days) == 0 {
			return ErrNoDays
		}
	default:
		return fmt.Errorf("unknown frequency %q", trip.Frequency)
	}
	return nil
}

// parseClock reads "HH:MM" or "HH:MM:SS" into seconds after midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(calendar.NormalizeDigits(s)), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, false
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total, true
}

// ComputeDuration returns the wall-clock time from start to end.  An end
// earlier than start wraps past midnight.
func ComputeDuration(start, end string) Duration {
	s, ok := parseClock(start)
	if !ok {
		return Unknown
	}
	e, ok := parseClock(end)
	if !ok {
		return Unknown
	}
	if e < s {
		e += 24 * 3600
	}
	return Duration{Minutes: (e - s) / 60, Known: true}
}

// ResolveLeg picks the stop where a traveller heading to one of
// destinations gets off.  A direct trip ends at trip.To.  For a multi-stop
// trip the first matching stop wins; the final destination is used when
// it matches and no stop does.
func ResolveLeg(trip model.TripSchedule, destinations map[uint64]bool) (Leg, bool) {
	leg := Leg{From: trip.From, DepartureTime: trip.DepartureTime}
	if len(destinations) == 0 {
		leg.To = trip.To
		leg.ArrivalTime = trip.ArrivalTime
		leg.Duration = ComputeDuration(leg.DepartureTime, leg.ArrivalTime)
		return leg, true
	}
	for _, stop := range trip.Stops {
		if destinations[stop.Terminal.ID] {
			leg.To = stop.Terminal
			leg.ArrivalTime = stop.Time
			leg.Duration = ComputeDuration(leg.DepartureTime, leg.ArrivalTime)
			return leg, true
		}
	}
	if destinations[trip.To.ID] {
		leg.To = trip.To
		leg.ArrivalTime = trip.ArrivalTime
		leg.Duration = ComputeDuration(leg.DepartureTime, leg.ArrivalTime)
		return leg, true
	}
	return Leg{}, false
}

var dayNames = map[string]time.Weekday{
	"sat": time.Saturday, "saturday": time.Saturday,
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
}

// ParseDays reads a comma separated weekday list.  Entries are English
// names (short or long) or Saturday-first indices 0..6.  Duplicates are
// dropped; order follows the Saturday-first week.
func ParseDays(s string) ([]time.Weekday, error) {
	seen := make(map[time.Weekday]bool)
	for _, raw := range strings.Split(s, ",") {
		p := strings.ToLower(strings.TrimSpace(calendar.NormalizeDigits(raw)))
		if p == "" {
			continue
		}
		if wd, ok := dayNames[p]; ok {
			seen[wd] = true
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("unknown weekday %q", raw)
		}
		wd, ok := calendar.WeekdayFromSaturdayIndex(n)
		if !ok {
			return nil, fmt.Errorf("weekday index %d out of range", n)
		}
		seen[wd] = true
	}
	out := make([]time.Weekday, 0, len(seen))
	for i := 0; i < 7; i++ {
		wd, _ := calendar.WeekdayFromSaturdayIndex(i)
		if seen[wd] {
			out = append(out, wd)
		}
	}
	return out, nil
}

// FormatDays renders days as a comma separated list of short names, the
// inverse of ParseDays.
func FormatDays(days []time.Weekday) string {
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, strings.ToLower(d.String()[:3]))
	}
	return strings.Join(names, ",")
}
