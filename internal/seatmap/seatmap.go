// Package seatmap derives the live status of every seat of a trip day
// from the bus layout and the reservations that are still active.  All
// functions are pure: the same inputs always yield the same map.
package seatmap

import (
	"time"

	"github.com/Fahm-Gah/hesarak-backend/internal/layout"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// Status is the derived bookability of a seat.
type Status string

const (
	StatusAvailable     Status = "available"
	StatusSelected      Status = "selected" // client side only
	StatusCurrentTicket Status = "currentTicket"
	StatusBooked        Status = "booked"
	StatusUnpaid        Status = "unpaid"
)

// Holder describes the reservation blocking a seat.
type Holder struct {
	TicketNumber    string     `json:"ticket_number"`
	PassengerName   string     `json:"passenger_name"`
	PaymentDeadline *time.Time `json:"payment_deadline,omitempty"`
}

// Seat is one seat cell of the rendered map.  Disabled seats carry no
// status.
type Seat struct {
	ID       uint64  `json:"id"`
	Number   string  `json:"seat_number"`
	Row      int     `json:"row"`
	Col      int     `json:"col"`
	RowSpan  int     `json:"row_span"`
	ColSpan  int     `json:"col_span"`
	Disabled bool    `json:"disabled,omitempty"`
	Status   Status  `json:"status,omitempty"`
	Holder   *Holder `json:"holder,omitempty"`
}

// SoftExpired reports whether an unpaid hold has passed its payment
// deadline.  Such seats may be selected again; the server does not sweep
// them.
func (s Seat) SoftExpired(now time.Time) bool {
	return s.Status == StatusUnpaid && s.Holder != nil &&
		s.Holder.PaymentDeadline != nil && s.Holder.PaymentDeadline.Before(now)
}

// Fixture is a non-seat cell (driver, wc, door).
type Fixture struct {
	ID      uint64            `json:"id"`
	Type    model.ElementType `json:"type"`
	Row     int               `json:"row"`
	Col     int               `json:"col"`
	RowSpan int               `json:"row_span"`
	ColSpan int               `json:"col_span"`
}

// Map is the seat map of one (trip, date).
type Map struct {
	Rows           int       `json:"rows"`
	Cols           int       `json:"cols"`
	Seats          []Seat    `json:"seats"`
	Fixtures       []Fixture `json:"fixtures"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	BookedSeats    int       `json:"booked_seats"`
	UnpaidSeats    int       `json:"unpaid_seats"`
}

// Seat looks a seat up by id.
func (m Map) Seat(id uint64) (Seat, bool) {
	for _, s := range m.Seats {
		if s.ID == id {
			return s, true
		}
	}
	return Seat{}, false
}

// BlockMap flattens active reservations into seat id -> owning
// reservation, skipping cancelled reservations and the one with id
// excluding (0 excludes nothing).  When legacy data has two reservations
// on one seat the first one wins.
func BlockMap(reservations []model.Reservation, excluding uint64) map[uint64]*model.Reservation {
	out := make(map[uint64]*model.Reservation)
	for i := range reservations {
		r := &reservations[i]
		if r.IsCancelled || (excluding != 0 && r.ID == excluding) {
			continue
		}
		for _, s := range r.BookedSeats {
			if _, taken := out[s.ID]; !taken {
				out[s.ID] = r
			}
		}
	}
	return out
}

// Compute builds the seat map.  editing is the id of the reservation
// being edited, or 0.  Seats of the edited reservation are reported as
// currentTicket and count as available.  Reserved seats that are missing
// from the layout are ignored.
func Compute(l *layout.Layout, reservations []model.Reservation, editing uint64) Map {
	blocks := BlockMap(reservations, editing)
	mine := make(map[uint64]bool)
	if editing != 0 {
		for _, r := range reservations {
			if r.ID == editing && !r.IsCancelled {
				for _, s := range r.BookedSeats {
					mine[s.ID] = true
				}
			}
		}
	}

	m := Map{Seats: []Seat{}, Fixtures: []Fixture{}}
	m.Rows, m.Cols = l.Dimensions()
	for _, f := range l.Fixtures() {
		m.Fixtures = append(m.Fixtures, Fixture{
			ID: f.ID, Type: f.Type, Row: f.Row, Col: f.Col, RowSpan: f.RowSpan, ColSpan: f.ColSpan,
		})
	}

	for _, s := range l.Seats() {
		out := Seat{
			ID: s.ID, Number: s.Number, Row: s.Row, Col: s.Col, RowSpan: s.RowSpan, ColSpan: s.ColSpan,
		}
		if s.Disabled {
			out.Disabled = true
			m.Seats = append(m.Seats, out)
			continue
		}
		m.TotalSeats++
		if owner, held := blocks[s.ID]; held {
			out.Holder = &Holder{
				TicketNumber:    owner.TicketNumber,
				PassengerName:   owner.Passenger.FullName,
				PaymentDeadline: owner.PaymentDeadline,
			}
			if owner.IsPaid {
				out.Status = StatusBooked
				m.BookedSeats++
			} else {
				out.Status = StatusUnpaid
				m.UnpaidSeats++
			}
		} else if mine[s.ID] {
			out.Status = StatusCurrentTicket
		} else {
			out.Status = StatusAvailable
		}
		m.Seats = append(m.Seats, out)
	}
	m.AvailableSeats = m.TotalSeats - m.BookedSeats - m.UnpaidSeats
	return m
}

// Availability returns only the counts, for search results.
func Availability(l *layout.Layout, reservations []model.Reservation) (total, available int) {
	m := Compute(l, reservations, 0)
	return m.TotalSeats, m.AvailableSeats
}

// HeldBy counts the seats userID holds across active reservations,
// skipping the reservation excluding.  Seats no longer in the layout still
// count.
func HeldBy(reservations []model.Reservation, userID, excluding uint64) int {
	n := 0
	for _, r := range reservations {
		if r.IsCancelled || r.BookedBy != userID || (excluding != 0 && r.ID == excluding) {
			continue
		}
		n += len(r.BookedSeats)
	}
	return n
}

// RemainingAllowance is how many more seats userID may book, never
// negative.
func RemainingAllowance(reservations []model.Reservation, userID, excluding uint64, max int) int {
	left := max - HeldBy(reservations, userID, excluding)
	if left < 0 {
		return 0
	}
	return left
}
