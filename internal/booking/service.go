// Package booking turns a seat selection into a reservation.  It checks
// every precondition in a fixed order, decides conflicts and the per-user
// cap against the reservations loaded inside the store's transaction, and
// reports failures with the typed errors in errors.go.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/layout"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/queue"
	"github.com/Fahm-Gah/hesarak-backend/internal/repository"
	"github.com/Fahm-Gah/hesarak-backend/internal/schedule"
	"github.com/Fahm-Gah/hesarak-backend/internal/seatmap"
)

// MaxSeatsPerBooking is the hard cap on seats in one request, independent
// of the per-user cap.
const MaxSeatsPerBooking = 2

// MaxSeatsPerUser is how many seats one user may hold on a trip day,
// across all of their active reservations.
const MaxSeatsPerUser = 2

const ticketNumberAttempts = 5

// ErrTripNotRunning is wrapped by the validation error returned when a
// trip has no occurrence on the requested date.
var ErrTripNotRunning = errors.New("trip does not run on this date")

// Store is the persistence the service needs.  Reserve must run decide and
// the resulting writes in one transaction that serialises all bookings
// of the trip.
type Store interface {
	TripByID(ctx context.Context, id uint64) (model.TripSchedule, error)
	SearchTrips(ctx context.Context, fromProvince, toProvince string) ([]model.TripSchedule, error)
	TerminalsInProvince(ctx context.Context, province string) ([]model.Terminal, error)
	UserByID(ctx context.Context, id uint64) (model.User, error)
	ReservationByTicket(ctx context.Context, number string) (model.Reservation, error)
	ReservationsByUser(ctx context.Context, userID uint64) ([]model.Reservation, error)
	Reserve(ctx context.Context, tripID uint64, date time.Time, decide repository.DecideFunc) (model.Reservation, error)
	CancelReservation(ctx context.Context, id uint64) error
	MarkPaid(ctx context.Context, id uint64) error
}

// Inventory serves the read side: layouts and active reservations, which
// may be cached, plus invalidation after every write.
type Inventory interface {
	Layout(ctx context.Context, busTypeID uint64) (*layout.Layout, error)
	ActiveReservations(ctx context.Context, tripID uint64, date time.Time) ([]model.Reservation, error)
	InvalidateTripDay(ctx context.Context, tripID uint64, date time.Time) error
}

// Config holds the booking policy.
type Config struct {
	PaymentWindow time.Duration
	Location      *time.Location
}

// Actor is the authenticated caller.
type Actor struct {
	ID   uint64
	Role string
}

// IsOperator reports whether the actor may act on other users' tickets.
func (a Actor) IsOperator() bool { return a.Role == model.RoleOperator }

// Request is a booking request as received from the client.  Date may be
// in either calendar and any digit script.
type Request struct {
	TripID        uint64
	Date          string
	SeatIDs       []uint64
	PaymentMethod model.PaymentMethod
	Passenger     *model.Passenger
}

// TripSummary is the trip part of a receipt.
type TripSummary struct {
	ID            uint64 `json:"id"`
	Name          string `json:"name"`
	From          string `json:"from"`
	To            string `json:"to"`
	DepartureTime string `json:"departure_time"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
	Date          string `json:"date"`
	DateLocal     string `json:"date_local"`
}

// Receipt is the client view of a reservation.
type Receipt struct {
	ID              uint64              `json:"id"`
	TicketNumber    string              `json:"ticket_number"`
	Trip            TripSummary         `json:"trip"`
	Seats           []string            `json:"seats"`
	SeatIDs         []uint64            `json:"seat_ids"`
	PassengerName   string              `json:"passenger_name"`
	PassengerPhone  string              `json:"passenger_phone"`
	PricePerSeat    int64               `json:"price_per_seat"`
	TotalPrice      int64               `json:"total_price"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
	IsPaid          bool                `json:"is_paid"`
	IsCancelled     bool                `json:"is_cancelled"`
	PaymentDeadline *time.Time          `json:"payment_deadline,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Service implements the booking operations.
type Service struct {
	store Store
	inv   Inventory
	pub   queue.Publisher
	log   *logger.Logger
	cfg   Config

	now             func() time.Time
	newTicketNumber func() string
	pending         sync.WaitGroup
}

// NewService wires a Service.  A nil publisher drops events; a nil logger
// discards logs.
func NewService(store Store, inv Inventory, pub queue.Publisher, log *logger.Logger, cfg Config) *Service {
	if pub == nil {
		pub = queue.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = calendar.LoadZone(calendar.DefaultZone)
	}
	return &Service{
		store:           store,
		inv:             inv,
		pub:             pub,
		log:             log,
		cfg:             cfg,
		now:             time.Now,
		newTicketNumber: NewTicketNumber,
	}
}

// Drain waits for in-flight event publications.  Call before shutdown.
func (s *Service) Drain() { s.pending.Wait() }

// NewTicketNumber returns a 12 character upper-case ticket number.
func NewTicketNumber() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}

// CreateReservation books req.SeatIDs on (req.TripID, req.Date) for actor.
func (s *Service) CreateReservation(ctx context.Context, req Request, actor Actor) (*Receipt, error) {
	seatIDs, err := normaliseSeatIDs(req.SeatIDs)
	if err != nil {
		return nil, err
	}
	method, err := paymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}
	date, err := s.travelDate(req.Date, true)
	if err != nil {
		return nil, err
	}
	trip, lay, err := s.bookableTrip(ctx, req.TripID, date)
	if err != nil {
		return nil, err
	}
	if _, invalid := lay.Resolve(seatIDs); len(invalid) > 0 {
		return nil, NotFoundError{Resource: "seat", IDs: invalid}
	}

	passenger, err := s.passenger(ctx, req.Passenger, actor)
	if err != nil {
		return nil, err
	}

	deadline := s.now().UTC().Add(s.cfg.PaymentWindow)
	draft := model.Reservation{
		TripID:          trip.ID,
		Date:            date,
		BookedSeats:     model.SeatRefs(seatIDs),
		BookedBy:        actor.ID,
		Passenger:       passenger,
		PricePerSeat:    trip.Price,
		TotalPrice:      trip.Price * int64(len(seatIDs)),
		PaymentMethod:   method,
		PaymentDeadline: &deadline,
	}
	res, err := s.commit(ctx, trip, lay, draft, 0)
	if err != nil {
		return nil, err
	}

	s.log.LogTicketBooked(ctx, res.TicketNumber, trip.ID, actor.ID, len(seatIDs))
	s.afterWrite(ctx, queue.TicketBooked, res, trip, lay)
	r := s.receiptIn(res, trip, lay, calendar.StyleOf(req.Date))
	return &r, nil
}

// commit runs the locked read-decide-insert.  replacing is the id of a
// reservation cancelled in the same transaction (seat change), or 0.
func (s *Service) commit(ctx context.Context, trip model.TripSchedule, lay *layout.Layout, draft model.Reservation, replacing uint64) (model.Reservation, error) {
	seatIDs := draft.SeatIDs()
	decide := func(active []model.Reservation) (repository.ReservePlan, error) {
		if replacing != 0 && !containsReservation(active, replacing) {
			return repository.ReservePlan{}, ConflictError{Resource: "ticket", Msg: "ticket is no longer active"}
		}
		blocks := seatmap.BlockMap(active, replacing)
		var taken []string
		for _, id := range seatIDs {
			if _, held := blocks[id]; held {
				taken = append(taken, lay.Numbers([]uint64{id})...)
			}
		}
		if len(taken) > 0 {
			return repository.ReservePlan{}, ConflictError{Resource: "seat", Seats: taken}
		}
		held := seatmap.HeldBy(active, draft.BookedBy, replacing)
		if held+len(seatIDs) > MaxSeatsPerUser {
			remaining := MaxSeatsPerUser - held
			if remaining < 0 {
				remaining = 0
			}
			return repository.ReservePlan{}, LimitError{Max: MaxSeatsPerUser, Remaining: remaining}
		}
		if trip.Price <= 0 {
			return repository.ReservePlan{}, InternalError{
				Msg: "trip pricing is misconfigured",
				Err: fmt.Errorf("trip %d has non-positive price %d", trip.ID, trip.Price),
			}
		}
		return repository.ReservePlan{Insert: draft, Cancel: replacing}, nil
	}

	for attempt := 0; attempt < ticketNumberAttempts; attempt++ {
		draft.TicketNumber = s.newTicketNumber()
		res, err := s.store.Reserve(ctx, trip.ID, draft.Date, decide)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, repository.ErrDuplicateTicket):
			continue
		case errors.Is(err, repository.ErrSeatTaken):
			seats := lay.Numbers(seatIDs)
			s.log.LogSeatConflict(ctx, trip.ID, calendar.FormatGregorian(draft.Date), seats)
			return model.Reservation{}, ConflictError{Resource: "seat", Seats: seats, Err: err}
		case errors.Is(err, repository.ErrNotFound):
			return model.Reservation{}, NotFoundError{Resource: "trip", Err: err}
		default:
			var ce ConflictError
			if errors.As(err, &ce) && len(ce.Seats) > 0 {
				s.log.LogSeatConflict(ctx, trip.ID, calendar.FormatGregorian(draft.Date), ce.Seats)
			}
			return model.Reservation{}, s.internal(ctx, "could not save reservation", err)
		}
	}
	return model.Reservation{}, s.internal(ctx, "could not allocate a ticket number", repository.ErrDuplicateTicket)
}

// internal passes typed errors through and logs anything else as an
// internal fault.
func (s *Service) internal(ctx context.Context, msg string, err error) error {
	if isTyped(err) {
		var ie InternalError
		if errors.As(err, &ie) {
			s.log.ErrorWithContext(ctx, ie.Error(), err, nil)
		}
		return err
	}
	s.log.ErrorWithContext(ctx, msg, err, nil)
	return InternalError{Msg: msg, Err: err}
}

func isTyped(err error) bool {
	return IsValidation(err) || IsNotFound(err) || IsConflict(err) ||
		IsLimit(err) || IsForbidden(err) || IsInternal(err)
}

func containsReservation(list []model.Reservation, id uint64) bool {
	for _, r := range list {
		if r.ID == id {
			return true
		}
	}
	return false
}

// normaliseSeatIDs enforces 1..MaxSeatsPerBooking unique, non-zero ids.
func normaliseSeatIDs(ids []uint64) ([]uint64, error) {
	if len(ids) == 0 {
		return nil, ValidationError{Field: "seat_ids", Msg: "select at least one seat"}
	}
	if len(ids) > MaxSeatsPerBooking {
		return nil, ValidationError{Field: "seat_ids", Msg: fmt.Sprintf("at most %d seats per booking", MaxSeatsPerBooking)}
	}
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			return nil, ValidationError{Field: "seat_ids", Msg: "seat id must be positive"}
		}
		if seen[id] {
			return nil, ValidationError{Field: "seat_ids", Msg: "duplicate seat id"}
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// travelDate parses raw and, when future is set, rejects past days.
func (s *Service) travelDate(raw string, future bool) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, ValidationError{Field: "date", Msg: "date is required"}
	}
	d, err := calendar.ParseTravelDate(raw)
	if err != nil {
		return time.Time{}, ValidationError{Field: "date", Msg: "invalid date", Err: err}
	}
	if future && calendar.IsPast(d, s.now(), s.cfg.Location) {
		return time.Time{}, ValidationError{Field: "date", Msg: "date is in the past"}
	}
	return d, nil
}

// bookableTrip loads an active trip that runs on date, with its layout.
func (s *Service) bookableTrip(ctx context.Context, tripID uint64, date time.Time) (model.TripSchedule, *layout.Layout, error) {
	if tripID == 0 {
		return model.TripSchedule{}, nil, ValidationError{Field: "trip_id", Msg: "trip id is required"}
	}
	trip, err := s.store.TripByID(ctx, tripID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.TripSchedule{}, nil, NotFoundError{Resource: "trip", Err: err}
	}
	if err != nil {
		return model.TripSchedule{}, nil, s.internal(ctx, "could not load trip", err)
	}
	if !trip.IsActive {
		return model.TripSchedule{}, nil, NotFoundError{Resource: "trip"}
	}
	if !schedule.RunsOn(trip, date) {
		return model.TripSchedule{}, nil, ValidationError{Field: "date", Msg: ErrTripNotRunning.Error(), Err: ErrTripNotRunning}
	}
	lay, err := s.layout(ctx, trip)
	if err != nil {
		return model.TripSchedule{}, nil, err
	}
	return trip, lay, nil
}

func (s *Service) layout(ctx context.Context, trip model.TripSchedule) (*layout.Layout, error) {
	if trip.Bus.BusTypeID == 0 {
		return nil, s.internal(ctx, "bus configuration is missing", fmt.Errorf("trip %d has no bus type", trip.ID))
	}
	lay, err := s.inv.Layout(ctx, trip.Bus.BusTypeID)
	if err != nil {
		return nil, s.internal(ctx, "bus configuration is missing", err)
	}
	return lay, nil
}

func paymentMethod(m model.PaymentMethod) (model.PaymentMethod, error) {
	switch m {
	case "":
		return model.PaymentCash, nil
	case model.PaymentCash, model.PaymentOnline:
		return m, nil
	}
	return "", ValidationError{Field: "payment_method", Msg: "must be cash or online"}
}

// passenger returns the explicit passenger or the actor's profile.
func (s *Service) passenger(ctx context.Context, p *model.Passenger, actor Actor) (model.Passenger, error) {
	if p != nil && strings.TrimSpace(p.FullName) != "" {
		return model.Passenger{FullName: strings.TrimSpace(p.FullName), Phone: strings.TrimSpace(p.Phone)}, nil
	}
	u, err := s.store.UserByID(ctx, actor.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Passenger{}, ValidationError{Field: "passenger", Msg: "passenger name is required"}
	}
	if err != nil {
		return model.Passenger{}, s.internal(ctx, "could not load profile", err)
	}
	if strings.TrimSpace(u.FullName) == "" {
		return model.Passenger{}, ValidationError{Field: "passenger", Msg: "passenger name is required"}
	}
	return u.Profile(), nil
}

// summary renders the trip of a response.  DateLocal follows st, the way
// the caller wrote the date.
func (s *Service) summary(trip model.TripSchedule, date time.Time, st calendar.DateStyle) TripSummary {
	local, _ := calendar.FormatJalaaliStyle(date, st)
	return TripSummary{
		ID:            trip.ID,
		Name:          trip.Name,
		From:          trip.From.Name,
		To:            trip.To.Name,
		DepartureTime: trip.DepartureTime,
		ArrivalTime:   trip.ArrivalTime,
		Date:          calendar.FormatGregorian(date),
		DateLocal:     local,
	}
}

func (s *Service) receipt(res model.Reservation, trip model.TripSchedule, lay *layout.Layout) Receipt {
	return s.receiptIn(res, trip, lay, calendar.DefaultStyle)
}

func (s *Service) receiptIn(res model.Reservation, trip model.TripSchedule, lay *layout.Layout, st calendar.DateStyle) Receipt {
	ids := res.SeatIDs()
	var seats []string
	if lay != nil {
		seats = lay.Numbers(ids)
	}
	return Receipt{
		ID:              res.ID,
		TicketNumber:    res.TicketNumber,
		Trip:            s.summary(trip, res.Date, st),
		Seats:           seats,
		SeatIDs:         ids,
		PassengerName:   res.Passenger.FullName,
		PassengerPhone:  res.Passenger.Phone,
		PricePerSeat:    res.PricePerSeat,
		TotalPrice:      res.TotalPrice,
		PaymentMethod:   res.PaymentMethod,
		IsPaid:          res.IsPaid,
		IsCancelled:     res.IsCancelled,
		PaymentDeadline: res.PaymentDeadline,
		CreatedAt:       res.CreatedAt,
	}
}

// afterWrite invalidates the trip-day inventory and publishes an event.
// Neither failure is reported to the caller.
func (s *Service) afterWrite(ctx context.Context, kind string, res model.Reservation, trip model.TripSchedule, lay *layout.Layout) {
	if err := s.inv.InvalidateTripDay(ctx, res.TripID, res.Date); err != nil {
		s.log.ErrorWithContext(ctx, "inventory invalidation failed", err, map[string]interface{}{"trip_id": res.TripID})
	}

	r := s.receipt(res, trip, lay)
	ev := queue.TicketEvent{
		Type:            kind,
		ReservationID:   res.ID,
		TicketNumber:    res.TicketNumber,
		UserID:          res.BookedBy,
		TripID:          trip.ID,
		TripName:        trip.Name,
		From:            trip.From.Name,
		To:              trip.To.Name,
		TravelDate:      r.Trip.Date,
		TravelDateLocal: r.Trip.DateLocal,
		DepartureTime:   trip.DepartureTime,
		Seats:           r.Seats,
		PassengerName:   res.Passenger.FullName,
		PassengerPhone:  res.Passenger.Phone,
		TotalPrice:      res.TotalPrice,
		PaymentMethod:   string(res.PaymentMethod),
		OccurredAt:      s.now().UTC().Format(time.RFC3339),
	}
	if res.PaymentDeadline != nil {
		ev.PaymentDeadline = res.PaymentDeadline.UTC().Format(time.RFC3339)
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.pub.Publish(pctx, ev); err != nil {
			s.log.ErrorWithContext(pctx, "publish ticket event failed", err, map[string]interface{}{
				"type":   kind,
				"ticket": res.TicketNumber,
			})
		}
	}()
}
