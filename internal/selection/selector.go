// Package selection is the client side of seat booking: a per-trip-day
// selector that holds the user's tentative seats, mirrors them into the
// outgoing form value and revalidates them against the server after every
// change.  Nothing is held on the server until Submit succeeds.
package selection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/seatmap"
)

// Phase is the selector's synchronisation state.
type Phase int

const (
	Idle Phase = iota
	PendingToggle
	Reconciling
)

func (p Phase) String() string {
	switch p {
	case PendingToggle:
		return "pending_toggle"
	case Reconciling:
		return "reconciling"
	default:
		return "idle"
	}
}

var (
	ErrNotLoaded      = errors.New("seat map not loaded")
	ErrUnknownSeat    = errors.New("unknown seat")
	ErrSeatDisabled   = errors.New("seat is disabled")
	ErrEmptySelection = errors.New("no seats selected")
)

// NoticeKind says why a toggle was refused.
type NoticeKind string

const (
	NoticeHeld  NoticeKind = "held"
	NoticeLimit NoticeKind = "limit"
)

// Notice is the informational message shown instead of changing the
// selection: who holds a seat, or how many seats are still allowed.
type Notice struct {
	Kind          NoticeKind
	SeatNumber    string
	TicketNumber  string
	PassengerName string
	Remaining     int
}

// State is a snapshot of a selector.
type State struct {
	Key      Key
	Phase    Phase
	Selected []uint64
	Form     []uint64
	View     *booking.SeatMapView
}

// Options tunes a Selector.  Zero values pick the defaults.
type Options struct {
	Debounce time.Duration
	Now      func() time.Time
}

// Selector is the seat selection state machine of one booking flow:
// Idle -> PendingToggle -> Reconciling -> Idle.  Every accepted toggle
// replaces the previous reconciliation task, so at most one is in flight.
type Selector struct {
	cache    *Cache
	sub      Submitter
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	key      Key
	phase    Phase
	view     *booking.SeatMapView
	selected []uint64
	form     []uint64
	gen      uint64
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSelector(cache *Cache, sub Submitter, key Key, opts Options) *Selector {
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Selector{cache: cache, sub: sub, key: key, debounce: opts.Debounce, now: opts.Now}
}

// Snapshot returns the current state.
func (s *Selector) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Key:      s.key,
		Phase:    s.phase,
		Selected: append([]uint64(nil), s.selected...),
		Form:     append([]uint64(nil), s.form...),
		View:     s.view,
	}
}

// Load fetches the seat map of the current key and reconciles the
// selection with it.
func (s *Selector) Load(ctx context.Context) error {
	s.mu.Lock()
	key := s.key
	s.mu.Unlock()

	view, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key == key {
		s.apply(view)
	}
	return nil
}

// SetTrip switches the selector to another trip day.  The selection is
// always cleared, even when the key is unchanged.
func (s *Selector) SetTrip(tripID uint64, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.key = Key{TripID: tripID, Date: date}
	s.view = nil
	s.selected = nil
	s.form = nil
	s.phase = Idle
}

// Toggle selects or deselects seatID.  A seat held by someone else is
// not selectable unless its payment deadline has passed; a Notice
// describing the holder is returned instead.  Selecting beyond the
// remaining allowance is refused with a NoticeLimit.
func (s *Selector) Toggle(ctx context.Context, seatID uint64) (*Notice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.view == nil {
		return nil, ErrNotLoaded
	}
	seat, ok := s.view.Layout.Seat(seatID)
	if !ok {
		return nil, ErrUnknownSeat
	}
	if seat.Disabled {
		return nil, ErrSeatDisabled
	}

	if i := indexOf(s.selected, seatID); i >= 0 {
		s.selected = append(s.selected[:i], s.selected[i+1:]...)
		s.scheduleLocked(ctx)
		return nil, nil
	}

	if !selectable(seat, s.now()) {
		n := &Notice{Kind: NoticeHeld, SeatNumber: seat.Number}
		if seat.Holder != nil {
			n.TicketNumber = seat.Holder.TicketNumber
			n.PassengerName = seat.Holder.PassengerName
		}
		return n, nil
	}
	if left := allowance(s.view); len(s.selected) >= left {
		return &Notice{Kind: NoticeLimit, SeatNumber: seat.Number, Remaining: left}, nil
	}

	s.selected = append(s.selected, seatID)
	s.scheduleLocked(ctx)
	return nil, nil
}

// Wait blocks until the in-flight reconciliation, if any, has finished.
func (s *Selector) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Submit books the selection, or replaces the edited ticket's seats.  On
// success the selection is reset and the seat map must be loaded again.
// When the server reports a conflict the seat map is reloaded so stale
// seats drop out before the user retries.
func (s *Selector) Submit(ctx context.Context, method model.PaymentMethod, passenger *model.Passenger) (*booking.Receipt, error) {
	s.mu.Lock()
	s.stopLocked()
	key := s.key
	seats := append([]uint64(nil), s.selected...)
	s.phase = Idle
	s.mu.Unlock()

	if len(seats) == 0 {
		return nil, ErrEmptySelection
	}

	var (
		receipt *booking.Receipt
		err     error
	)
	if key.Editing != "" {
		receipt, err = s.sub.ChangeSeats(ctx, key.Editing, seats)
	} else {
		receipt, err = s.sub.Book(ctx, Submission{
			TripID:        key.TripID,
			Date:          key.Date,
			SeatIDs:       seats,
			PaymentMethod: method,
			Passenger:     passenger,
		})
	}
	s.cache.Invalidate(key)

	if err != nil {
		if IsConflict(err) {
			if lerr := s.Load(ctx); lerr != nil {
				return nil, errors.Join(err, lerr)
			}
		}
		return nil, err
	}

	s.mu.Lock()
	if s.key == key {
		s.selected = nil
		s.form = nil
		s.view = nil
	}
	s.mu.Unlock()
	return receipt, nil
}

// scheduleLocked replaces the pending reconciliation with a new one.
func (s *Selector) scheduleLocked(ctx context.Context) {
	s.stopLocked()
	gen := s.gen
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.phase = PendingToggle
	go s.reconcile(rctx, gen, s.key, done)
}

// stopLocked cancels the pending reconciliation and makes its result
// stale.
func (s *Selector) stopLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Selector) reconcile(ctx context.Context, gen uint64, key Key, done chan struct{}) {
	defer close(done)

	t := time.NewTimer(s.debounce)
	select {
	case <-ctx.Done():
		t.Stop()
		s.finish(gen, key, nil, ctx.Err())
		return
	case <-t.C:
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.form = append([]uint64(nil), s.selected...)
	s.phase = Reconciling
	s.mu.Unlock()

	s.cache.Invalidate(key)
	view, err := s.cache.Get(ctx, key)
	s.finish(gen, key, view, err)
}

// finish ends reconciliation gen unless a newer one superseded it.
func (s *Selector) finish(gen uint64, key Key, view *booking.SeatMapView, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.key != key {
		return
	}
	if err == nil && view != nil {
		s.apply(view)
	}
	s.phase = Idle
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// apply adopts a fresh view and drops whatever it no longer allows.
func (s *Selector) apply(view *booking.SeatMapView) {
	s.view = view
	now := s.now()
	kept := s.selected[:0]
	for _, id := range s.selected {
		seat, ok := view.Layout.Seat(id)
		if ok && !seat.Disabled && selectable(seat, now) {
			kept = append(kept, id)
		}
	}
	left := allowance(view)
	switch {
	case left <= 0:
		kept = kept[:0]
	case len(kept) > left:
		kept = kept[:left]
	}
	s.selected = kept
	s.form = append([]uint64(nil), kept...)
}

func selectable(seat seatmap.Seat, now time.Time) bool {
	switch seat.Status {
	case seatmap.StatusAvailable, seatmap.StatusCurrentTicket, seatmap.StatusSelected:
		return true
	case seatmap.StatusBooked, seatmap.StatusUnpaid:
		return seat.SoftExpired(now)
	}
	return false
}

func allowance(view *booking.SeatMapView) int {
	if view.RemainingAllowance != nil {
		return *view.RemainingAllowance
	}
	return view.MaxSeatsPerUser
}

func indexOf(ids []uint64, id uint64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
