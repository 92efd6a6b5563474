// Package queue defines message payloads exchanged over the message broker
// and the publishers and consumer that move them.
package queue

import "context"

// Event types carried in TicketEvent.Type.
const (
	TicketBooked    = "ticket.booked"
	TicketCancelled = "ticket.cancelled"
	TicketPaid      = "ticket.paid"
)

// TicketEvent is published after a reservation changes state.  It carries
// enough information for downstream consumers to notify the passenger
// without querying the primary database.
type TicketEvent struct {
	Type            string   `json:"type"`
	ReservationID   uint64   `json:"reservation_id"`
	TicketNumber    string   `json:"ticket_number"`
	UserID          uint64   `json:"user_id"`
	TripID          uint64   `json:"trip_id"`
	TripName        string   `json:"trip_name"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	TravelDate      string   `json:"travel_date"`
	TravelDateLocal string   `json:"travel_date_local"`
	DepartureTime   string   `json:"departure_time"`
	Seats           []string `json:"seats"`
	PassengerName   string   `json:"passenger_name"`
	PassengerPhone  string   `json:"passenger_phone"`
	TotalPrice      int64    `json:"total_price"`
	PaymentMethod   string   `json:"payment_method"`
	PaymentDeadline string   `json:"payment_deadline,omitempty"`
	OccurredAt      string   `json:"occurred_at"`
}

// Publisher sends ticket events to a broker.  Implementations must be
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev TicketEvent) error
	Close() error
}

// NopPublisher drops every event.  Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, TicketEvent) error { return nil }
func (NopPublisher) Close() error                               { return nil }
