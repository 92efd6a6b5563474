package model

import "time"

// Province is the search granularity exposed to travellers.  A province
// contains one or more terminals.
type Province struct {
	ID   uint64 // provinces.id
	Name string // provinces.name
}

// Terminal is a bus station.
type Terminal struct {
	ID         uint64 // terminals.id
	ProvinceID uint64 // terminals.province_id
	Name       string // terminals.name
	Province   string // provinces.name (joined)
}

// Frequency says on which calendar days a trip template runs.
type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencySpecificDays Frequency = "specific_days"
)

// TripStop is an intermediate or final stop of a trip template.  Time is
// a wall-clock time of day ("HH:MM"); the calendar date never enters the
// stored schedule.
type TripStop struct {
	Order    int      // trip_stops.stop_order
	Terminal Terminal // trip_stops.terminal_id (joined)
	Time     string   // trip_stops.stop_time
}

// TripSchedule is a recurring service template, not a single occurrence.
// A trip occurrence is identified by (TripSchedule.ID, calendar date).
//
// Fields:
//  ID            – primary key identifier.
//  Name          – operator facing label.
//  From / To     – origin and final destination terminals.
//  DepartureTime – departure time of day at the origin ("HH:MM").
//  ArrivalTime   – arrival time of day at the final destination (may be empty).
//  Stops         – ordered intermediate stops (empty for a direct trip).
//  Frequency     – daily or specific_days.
//  Days          – weekdays the trip runs on (specific_days only).
//  Price         – price per seat in rials.
//  Bus           – assigned bus; Bus.BusTypeID selects the layout.
//  IsActive      – inactive trips cannot be booked.
type TripSchedule struct {
	ID            uint64         // trips.id
	Name          string         // trips.name
	From          Terminal       // trips.from_terminal_id
	To            Terminal       // trips.to_terminal_id
	DepartureTime string         // trips.departure_time
	ArrivalTime   string         // trips.arrival_time (nullable)
	Stops         []TripStop     // trip_stops
	Frequency     Frequency      // trips.frequency
	Days          []time.Weekday // trips.days
	Price         int64          // trips.price
	Bus           Bus            // trips.bus_id (joined)
	IsActive      bool           // trips.is_active
	CreatedAt     time.Time      // trips.created_at
	UpdatedAt     time.Time      // trips.updated_at
}
