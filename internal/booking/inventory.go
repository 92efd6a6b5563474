package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/repository"
	"github.com/Fahm-Gah/hesarak-backend/internal/schedule"
	"github.com/Fahm-Gah/hesarak-backend/internal/seatmap"
)

// searchConcurrency bounds the per-trip availability lookups of a search.
const searchConcurrency = 8

// SeatMapQuery asks for the seat map of one trip day.  EditingTicket, when
// set, is the ticket whose seats are shown as currentTicket.  Viewer is
// nil for anonymous callers.
type SeatMapQuery struct {
	TripID        uint64
	Date          string
	EditingTicket string
	Viewer        *Actor
}

// LegView is the rider-facing part of a trip.
type LegView struct {
	From            string `json:"from"`
	To              string `json:"to"`
	DepartureTime   string `json:"departure_time"`
	ArrivalTime     string `json:"arrival_time,omitempty"`
	Duration        string `json:"duration"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
}

func legView(l schedule.Leg) LegView {
	v := LegView{
		From:          l.From.Name,
		To:            l.To.Name,
		DepartureTime: l.DepartureTime,
		ArrivalTime:   l.ArrivalTime,
		Duration:      l.Duration.String(),
	}
	if l.Duration.Known {
		m := l.Duration.Minutes
		v.DurationMinutes = &m
	}
	return v
}

// SeatMapView is the seat map response.
type SeatMapView struct {
	Trip               TripSummary `json:"trip"`
	Leg                LegView     `json:"leg"`
	Price              int64       `json:"price"`
	Layout             seatmap.Map `json:"layout"`
	EditingTicket      string      `json:"editing_ticket,omitempty"`
	MaxSeatsPerUser    int         `json:"max_seats_per_user"`
	RemainingAllowance *int        `json:"remaining_allowance,omitempty"`
}

// SeatMap returns the live seat map of (q.TripID, q.Date).  A trip that
// does not run on the date fails with a validation error wrapping
// ErrTripNotRunning.
func (s *Service) SeatMap(ctx context.Context, q SeatMapQuery) (*SeatMapView, error) {
	date, err := s.travelDate(q.Date, false)
	if err != nil {
		return nil, err
	}
	trip, lay, err := s.bookableTrip(ctx, q.TripID, date)
	if err != nil {
		return nil, err
	}

	var editing model.Reservation
	if strings.TrimSpace(q.EditingTicket) != "" {
		if q.Viewer == nil {
			return nil, ForbiddenError{Msg: "sign in to edit a ticket"}
		}
		editing, err = s.loadTicket(ctx, q.EditingTicket, *q.Viewer)
		if err != nil {
			return nil, err
		}
		if editing.IsCancelled {
			return nil, ConflictError{Resource: "ticket", Msg: "ticket is cancelled"}
		}
		if editing.TripID != trip.ID || !editing.Date.Equal(date) {
			return nil, ValidationError{Field: "editing", Msg: "ticket belongs to another trip or date"}
		}
	}

	active, err := s.inv.ActiveReservations(ctx, trip.ID, date)
	if err != nil {
		return nil, s.internal(ctx, "could not load reservations", err)
	}

	leg, _ := schedule.ResolveLeg(trip, nil)
	view := &SeatMapView{
		Trip:            s.summary(trip, date, calendar.StyleOf(q.Date)),
		Leg:             legView(leg),
		Price:           trip.Price,
		Layout:          seatmap.Compute(lay, active, editing.ID),
		EditingTicket:   editing.TicketNumber,
		MaxSeatsPerUser: MaxSeatsPerUser,
	}
	if q.Viewer != nil {
		owner := q.Viewer.ID
		if editing.ID != 0 {
			owner = editing.BookedBy
		}
		left := seatmap.RemainingAllowance(active, owner, editing.ID, MaxSeatsPerUser)
		view.RemainingAllowance = &left
	}
	return view, nil
}

// SearchQuery is a province-level trip search.
type SearchQuery struct {
	From string
	To   string
	Date string
}

// SearchResult is one bookable trip of a search.
type SearchResult struct {
	Trip           TripSummary `json:"trip"`
	Leg            LegView     `json:"leg"`
	Price          int64       `json:"price"`
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
}

// Search lists active trips from province q.From that reach province q.To
// on q.Date, with live availability.
func (s *Service) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	from, to := strings.TrimSpace(q.From), strings.TrimSpace(q.To)
	if from == "" {
		return nil, ValidationError{Field: "from", Msg: "origin is required"}
	}
	if to == "" {
		return nil, ValidationError{Field: "to", Msg: "destination is required"}
	}
	date, err := s.travelDate(q.Date, true)
	if err != nil {
		return nil, err
	}
	style := calendar.StyleOf(q.Date)

	terminals, err := s.store.TerminalsInProvince(ctx, to)
	if errors.Is(err, repository.ErrNotFound) {
		return []SearchResult{}, nil
	}
	if err != nil {
		return nil, s.internal(ctx, "could not load terminals", err)
	}
	dests := make(map[uint64]bool, len(terminals))
	for _, t := range terminals {
		dests[t.ID] = true
	}

	trips, err := s.store.SearchTrips(ctx, from, to)
	if err != nil {
		return nil, s.internal(ctx, "could not search trips", err)
	}

	type candidate struct {
		trip model.TripSchedule
		leg  schedule.Leg
	}
	var cands []candidate
	for _, trip := range trips {
		if !trip.IsActive || !schedule.RunsOn(trip, date) {
			continue
		}
		leg, ok := schedule.ResolveLeg(trip, dests)
		if !ok {
			continue
		}
		cands = append(cands, candidate{trip: trip, leg: leg})
	}

	results := make([]SearchResult, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchConcurrency)
	for i, c := range cands {
		i, c := i, c
		g.Go(func() error {
			total, available, err := s.availability(gctx, c.trip, date)
			if err != nil {
				return err
			}
			results[i] = SearchResult{
				Trip:           s.summary(c.trip, date, style),
				Leg:            legView(c.leg),
				Price:          c.trip.Price,
				TotalSeats:     total,
				AvailableSeats: available,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.internal(ctx, "could not load availability", err)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Leg.DepartureTime < results[j].Leg.DepartureTime
	})
	return results, nil
}

func (s *Service) availability(ctx context.Context, trip model.TripSchedule, date time.Time) (int, int, error) {
	lay, err := s.layout(ctx, trip)
	if err != nil {
		return 0, 0, err
	}
	active, err := s.inv.ActiveReservations(ctx, trip.ID, date)
	if err != nil {
		return 0, 0, err
	}
	total, available := seatmap.Availability(lay, active)
	return total, available, nil
}
