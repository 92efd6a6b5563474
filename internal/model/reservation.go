package model

import "time"

// PaymentMethod records how the passenger intends to pay.  The service
// does not process payments; it only tracks the method and deadline.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
)

// Passenger is the profile snapshot printed on a ticket.
type Passenger struct {
	FullName string // reservations.passenger_name
	Phone    string // reservations.passenger_phone
}

// Reservation records the seats held on one trip for one calendar day.
// TotalPrice is computed once at creation and never recomputed.  A
// cancelled reservation is kept for audit but no longer blocks seats.
//
// Fields:
//  ID              – primary key identifier.
//  TicketNumber    – globally unique, printed on the ticket.
//  TripID          – trip template the seats are held on.
//  Date            – Gregorian travel day (00:00 UTC).
//  BookedSeats     – seat references resolved against the bus layout.
//  BookedBy        – acting user.
//  Passenger       – profile snapshot.
//  PricePerSeat    – trip price at booking time.
//  TotalPrice      – PricePerSeat × len(BookedSeats).
//  PaymentMethod   – cash or online.
//  IsPaid          – set by the explicit payment transition.
//  IsCancelled     – set by cancellation.
//  PaymentDeadline – advisory deadline for unpaid tickets (nullable).
type Reservation struct {
	ID              uint64        // reservations.id
	TicketNumber    string        // reservations.ticket_number
	TripID          uint64        // reservations.trip_id
	Date            time.Time     // reservations.travel_date
	BookedSeats     []SeatRef     // reservations.booked_seats (JSON)
	BookedBy        uint64        // reservations.booked_by
	Passenger       Passenger     // reservations.passenger_*
	PricePerSeat    int64         // reservations.price_per_seat
	TotalPrice      int64         // reservations.total_price
	PaymentMethod   PaymentMethod // reservations.payment_method
	IsPaid          bool          // reservations.is_paid
	IsCancelled     bool          // reservations.is_cancelled
	PaymentDeadline *time.Time    // reservations.payment_deadline (nullable)
	CreatedAt       time.Time     // reservations.created_at
	UpdatedAt       time.Time     // reservations.updated_at
}

// SeatIDs returns the ids of the booked seats in booking order.
func (r Reservation) SeatIDs() []uint64 {
	out := make([]uint64, 0, len(r.BookedSeats))
	for _, s := range r.BookedSeats {
		out = append(out, s.ID)
	}
	return out
}

// PaymentExpired reports whether an unpaid reservation's deadline is
// before now.  Paid reservations and reservations without a deadline
// never expire.
func (r Reservation) PaymentExpired(now time.Time) bool {
	if r.IsPaid || r.PaymentDeadline == nil {
		return false
	}
	return r.PaymentDeadline.Before(now)
}
