package booking

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/layout"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/queue"
	"github.com/Fahm-Gah/hesarak-backend/internal/repository"
)

// TicketDetail bundles a reservation with its trip and layout, for
// renderers that need more than the receipt (the PDF ticket).
type TicketDetail struct {
	Receipt     Receipt
	Reservation model.Reservation
	Trip        model.TripSchedule
}

// loadTicket fetches a reservation the actor may see.
func (s *Service) loadTicket(ctx context.Context, number string, actor Actor) (model.Reservation, error) {
	number = strings.ToUpper(strings.TrimSpace(number))
	if number == "" {
		return model.Reservation{}, ValidationError{Field: "ticket_number", Msg: "ticket number is required"}
	}
	res, err := s.store.ReservationByTicket(ctx, number)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Reservation{}, NotFoundError{Resource: "ticket", Err: err}
	}
	if err != nil {
		return model.Reservation{}, s.internal(ctx, "could not load ticket", err)
	}
	if res.BookedBy != actor.ID && !actor.IsOperator() {
		return model.Reservation{}, ForbiddenError{Msg: "ticket belongs to another user"}
	}
	return res, nil
}

// tripAndLayout loads the trip of res regardless of its active flag, so
// that old tickets stay readable.
func (s *Service) tripAndLayout(ctx context.Context, tripID uint64) (model.TripSchedule, *layout.Layout, error) {
	trip, err := s.store.TripByID(ctx, tripID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.TripSchedule{}, nil, NotFoundError{Resource: "trip", Err: err}
	}
	if err != nil {
		return model.TripSchedule{}, nil, s.internal(ctx, "could not load trip", err)
	}
	lay, err := s.layout(ctx, trip)
	if err != nil {
		return model.TripSchedule{}, nil, err
	}
	return trip, lay, nil
}

// Ticket returns one ticket of the actor (any ticket for operators).
func (s *Service) Ticket(ctx context.Context, number string, actor Actor) (*TicketDetail, error) {
	res, err := s.loadTicket(ctx, number, actor)
	if err != nil {
		return nil, err
	}
	trip, lay, err := s.tripAndLayout(ctx, res.TripID)
	if err != nil {
		return nil, err
	}
	return &TicketDetail{Receipt: s.receipt(res, trip, lay), Reservation: res, Trip: trip}, nil
}

// MyTickets lists the actor's tickets, newest travel date first.
func (s *Service) MyTickets(ctx context.Context, actor Actor) ([]Receipt, error) {
	list, err := s.store.ReservationsByUser(ctx, actor.ID)
	if err != nil {
		return nil, s.internal(ctx, "could not load tickets", err)
	}
	type tripInfo struct {
		trip model.TripSchedule
		lay  *layout.Layout
	}
	trips := make(map[uint64]tripInfo)
	out := make([]Receipt, 0, len(list))
	for _, res := range list {
		info, ok := trips[res.TripID]
		if !ok {
			trip, lay, err := s.tripAndLayout(ctx, res.TripID)
			if err != nil {
				return nil, err
			}
			info = tripInfo{trip: trip, lay: lay}
			trips[res.TripID] = info
		}
		out = append(out, s.receipt(res, info.trip, info.lay))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Trip.Date > out[j].Trip.Date })
	return out, nil
}

// Cancel cancels a ticket and frees its seats.  Cancelling a cancelled
// ticket succeeds without effect.  Tickets for past days cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, number string, actor Actor) (*Receipt, error) {
	res, err := s.loadTicket(ctx, number, actor)
	if err != nil {
		return nil, err
	}
	trip, lay, err := s.tripAndLayout(ctx, res.TripID)
	if err != nil {
		return nil, err
	}
	if res.IsCancelled {
		r := s.receipt(res, trip, lay)
		return &r, nil
	}
	if calendar.IsPast(res.Date, s.now(), s.cfg.Location) {
		return nil, ValidationError{Field: "date", Msg: "tickets for past trips cannot be cancelled"}
	}
	if err := s.store.CancelReservation(ctx, res.ID); err != nil {
		return nil, s.internal(ctx, "could not cancel ticket", err)
	}
	res.IsCancelled = true
	res.UpdatedAt = s.now().UTC()

	s.log.LogTicketCancelled(ctx, res.TicketNumber, actor.ID)
	s.afterWrite(ctx, queue.TicketCancelled, res, trip, lay)
	r := s.receipt(res, trip, lay)
	return &r, nil
}

// ConfirmPayment records that a ticket was paid.  Only operators may call
// it.  Paying a paid ticket succeeds without effect; a cancelled ticket
// cannot be paid.
func (s *Service) ConfirmPayment(ctx context.Context, number string, actor Actor) (*Receipt, error) {
	if !actor.IsOperator() {
		return nil, ForbiddenError{Msg: "only operators can confirm payments"}
	}
	res, err := s.loadTicket(ctx, number, actor)
	if err != nil {
		return nil, err
	}
	trip, lay, err := s.tripAndLayout(ctx, res.TripID)
	if err != nil {
		return nil, err
	}
	if res.IsCancelled {
		return nil, ConflictError{Resource: "ticket", Msg: "ticket is cancelled"}
	}
	if !res.IsPaid {
		err := s.store.MarkPaid(ctx, res.ID)
		if errors.Is(err, repository.ErrConflict) {
			return nil, ConflictError{Resource: "ticket", Msg: "ticket is cancelled", Err: err}
		}
		if err != nil {
			return nil, s.internal(ctx, "could not confirm payment", err)
		}
		res.IsPaid = true
		s.log.LogTicketPaid(ctx, res.TicketNumber)
		s.afterWrite(ctx, queue.TicketPaid, res, trip, lay)
	}
	r := s.receipt(res, trip, lay)
	return &r, nil
}

// ChangeSeats replaces the seats of a ticket.  The old reservation is
// cancelled and a new one created in the same transaction; the old seats
// do not count as conflicts or toward the cap.  A paid ticket stays paid
// when the total does not change.
func (s *Service) ChangeSeats(ctx context.Context, number string, seatIDs []uint64, actor Actor) (*Receipt, error) {
	ids, err := normaliseSeatIDs(seatIDs)
	if err != nil {
		return nil, err
	}
	old, err := s.loadTicket(ctx, number, actor)
	if err != nil {
		return nil, err
	}
	if old.IsCancelled {
		return nil, ConflictError{Resource: "ticket", Msg: "ticket is cancelled"}
	}
	if calendar.IsPast(old.Date, s.now(), s.cfg.Location) {
		return nil, ValidationError{Field: "date", Msg: "tickets for past trips cannot be changed"}
	}
	trip, lay, err := s.bookableTrip(ctx, old.TripID, old.Date)
	if err != nil {
		return nil, err
	}
	if _, invalid := lay.Resolve(ids); len(invalid) > 0 {
		return nil, NotFoundError{Resource: "seat", IDs: invalid}
	}

	draft := model.Reservation{
		TripID:        trip.ID,
		Date:          old.Date,
		BookedSeats:   model.SeatRefs(ids),
		BookedBy:      old.BookedBy,
		Passenger:     old.Passenger,
		PricePerSeat:  trip.Price,
		TotalPrice:    trip.Price * int64(len(ids)),
		PaymentMethod: old.PaymentMethod,
	}
	if old.IsPaid && draft.TotalPrice == old.TotalPrice {
		draft.IsPaid = true
	} else {
		deadline := s.now().UTC().Add(s.cfg.PaymentWindow)
		draft.PaymentDeadline = &deadline
	}

	res, err := s.commit(ctx, trip, lay, draft, old.ID)
	if err != nil {
		return nil, err
	}
	old.IsCancelled = true
	s.log.LogTicketCancelled(ctx, old.TicketNumber, actor.ID)
	s.log.LogTicketBooked(ctx, res.TicketNumber, trip.ID, res.BookedBy, len(ids))
	s.afterWrite(ctx, queue.TicketCancelled, old, trip, lay)
	s.afterWrite(ctx, queue.TicketBooked, res, trip, lay)
	r := s.receipt(res, trip, lay)
	return &r, nil
}
