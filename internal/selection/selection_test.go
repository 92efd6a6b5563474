package selection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
	"github.com/Fahm-Gah/hesarak-backend/internal/seatmap"
)

var now = time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	view  *booking.SeatMapView
	err   error
	calls int
	gate  chan struct{}
}

func (f *fakeFetcher) SeatMap(ctx context.Context, key Key) (*booking.SeatMapView, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view, f.err
}

func (f *fakeFetcher) set(v *booking.SeatMapView) {
	f.mu.Lock()
	f.view = v
	f.mu.Unlock()
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSubmitter struct {
	got     Submission
	ticket  string
	seats   []uint64
	err     error
	receipt *booking.Receipt
}

func (f *fakeSubmitter) Book(_ context.Context, sub Submission) (*booking.Receipt, error) {
	f.got = sub
	return f.receipt, f.err
}

func (f *fakeSubmitter) ChangeSeats(_ context.Context, ticket string, ids []uint64) (*booking.Receipt, error) {
	f.ticket, f.seats = ticket, ids
	return f.receipt, f.err
}

func seat(id uint64, number string, status seatmap.Status) seatmap.Seat {
	return seatmap.Seat{ID: id, Number: number, Row: 1, Col: int(id), RowSpan: 1, ColSpan: 1, Status: status}
}

func held(id uint64, number string, status seatmap.Status, deadline *time.Time) seatmap.Seat {
	s := seat(id, number, status)
	s.Holder = &seatmap.Holder{TicketNumber: "T-" + number, PassengerName: "Holder " + number, PaymentDeadline: deadline}
	return s
}

func view(allowance *int, seats ...seatmap.Seat) *booking.SeatMapView {
	return &booking.SeatMapView{
		Layout:             seatmap.Map{Rows: 1, Cols: len(seats), Seats: seats},
		MaxSeatsPerUser:    2,
		RemainingAllowance: allowance,
	}
}

func intp(n int) *int { return &n }

func freshView() *booking.SeatMapView {
	disabled := seat(4, "B2", "")
	disabled.Disabled = true
	return view(intp(2),
		seat(1, "A1", seatmap.StatusAvailable),
		seat(2, "A2", seatmap.StatusAvailable),
		seat(3, "B1", seatmap.StatusAvailable),
		disabled,
	)
}

func newSelector(t *testing.T, f *fakeFetcher, sub Submitter) *Selector {
	t.Helper()
	s := NewSelector(NewCache(f, time.Minute), sub, Key{TripID: 3, Date: "2024-03-25"},
		Options{Debounce: 5 * time.Millisecond, Now: func() time.Time { return now }})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

func TestToggleSelectsAndReconciles(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	s := newSelector(t, f, nil)

	if n, err := s.Toggle(context.Background(), 1); n != nil || err != nil {
		t.Fatalf("Toggle = %v, %v", n, err)
	}
	if st := s.Snapshot(); st.Phase != PendingToggle || !reflect.DeepEqual(st.Selected, []uint64{1}) {
		t.Fatalf("after toggle: %+v", st)
	}
	s.Wait()

	st := s.Snapshot()
	if st.Phase != Idle || !reflect.DeepEqual(st.Selected, []uint64{1}) || !reflect.DeepEqual(st.Form, []uint64{1}) {
		t.Fatalf("after reconcile: %+v", st)
	}
	if f.count() != 2 {
		t.Fatalf("fetches = %d, want load + reconcile", f.count())
	}

	if _, err := s.Toggle(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if st := s.Snapshot(); len(st.Selected) != 0 || len(st.Form) != 0 {
		t.Fatalf("deselect: %+v", st)
	}
}

func TestToggleRejectsUnknownAndDisabled(t *testing.T) {
	s := newSelector(t, &fakeFetcher{view: freshView()}, nil)
	if _, err := s.Toggle(context.Background(), 99); !errors.Is(err, ErrUnknownSeat) {
		t.Fatalf("unknown: %v", err)
	}
	if _, err := s.Toggle(context.Background(), 4); !errors.Is(err, ErrSeatDisabled) {
		t.Fatalf("disabled: %v", err)
	}

	empty := NewSelector(NewCache(&fakeFetcher{}, time.Minute), nil, Key{TripID: 3}, Options{})
	if _, err := empty.Toggle(context.Background(), 1); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("not loaded: %v", err)
	}
}

func TestToggleHeldSeatReturnsNotice(t *testing.T) {
	future := now.Add(time.Hour)
	f := &fakeFetcher{view: view(intp(2),
		held(1, "A1", seatmap.StatusBooked, nil),
		held(2, "A2", seatmap.StatusUnpaid, &future),
	)}
	s := newSelector(t, f, nil)

	for _, id := range []uint64{1, 2} {
		n, err := s.Toggle(context.Background(), id)
		if err != nil || n == nil || n.Kind != NoticeHeld {
			t.Fatalf("seat %d: notice %+v err %v", id, n, err)
		}
		if n.TicketNumber == "" || n.PassengerName == "" {
			t.Fatalf("seat %d: notice lacks holder: %+v", id, n)
		}
	}
	if st := s.Snapshot(); len(st.Selected) != 0 || st.Phase != Idle {
		t.Fatalf("held seats changed state: %+v", st)
	}
}

func TestSoftExpiredSeatIsSelectable(t *testing.T) {
	past := now.Add(-time.Minute)
	v := view(intp(2), held(1, "A1", seatmap.StatusUnpaid, &past))
	s := newSelector(t, &fakeFetcher{view: v}, nil)

	if n, err := s.Toggle(context.Background(), 1); n != nil || err != nil {
		t.Fatalf("Toggle = %+v, %v", n, err)
	}
	s.Wait()
	if st := s.Snapshot(); !reflect.DeepEqual(st.Selected, []uint64{1}) {
		t.Fatalf("soft-expired seat dropped: %+v", st.Selected)
	}
}

func TestToggleRefusesPastAllowance(t *testing.T) {
	v := freshView()
	v.RemainingAllowance = intp(1)
	s := newSelector(t, &fakeFetcher{view: v}, nil)

	if _, err := s.Toggle(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	n, err := s.Toggle(context.Background(), 2)
	if err != nil || n == nil || n.Kind != NoticeLimit || n.Remaining != 1 {
		t.Fatalf("second toggle: %+v %v", n, err)
	}
	s.Wait()
	if st := s.Snapshot(); !reflect.DeepEqual(st.Selected, []uint64{1}) {
		t.Fatalf("selected = %v", st.Selected)
	}
}

func TestReconcileDropsJustTakenSeats(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	s := newSelector(t, f, nil)

	taken := freshView()
	taken.Layout.Seats[0] = held(1, "A1", seatmap.StatusUnpaid, nil)
	f.set(taken)

	for _, id := range []uint64{1, 2} {
		if _, err := s.Toggle(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()
	if st := s.Snapshot(); !reflect.DeepEqual(st.Selected, []uint64{2}) || !reflect.DeepEqual(st.Form, []uint64{2}) {
		t.Fatalf("state = %+v", st)
	}
}

func TestReconcileClearsWhenAllowanceExhausted(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	s := newSelector(t, f, nil)

	exhausted := freshView()
	exhausted.RemainingAllowance = intp(0)
	f.set(exhausted)

	if _, err := s.Toggle(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	if st := s.Snapshot(); len(st.Selected) != 0 {
		t.Fatalf("selection survived exhausted allowance: %v", st.Selected)
	}
}

func TestReconcileTrimsToAllowance(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	s := newSelector(t, f, nil)

	one := freshView()
	one.RemainingAllowance = intp(1)
	f.set(one)

	for _, id := range []uint64{1, 3} {
		if _, err := s.Toggle(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()
	if st := s.Snapshot(); !reflect.DeepEqual(st.Selected, []uint64{1}) {
		t.Fatalf("selected = %v", st.Selected)
	}
}

func TestRapidTogglesShareOneReconciliation(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	s := NewSelector(NewCache(f, time.Minute), nil, Key{TripID: 3, Date: "2024-03-25"},
		Options{Debounce: 50 * time.Millisecond, Now: func() time.Time { return now }})
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, id := range []uint64{1, 2, 2} {
		if _, err := s.Toggle(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()
	if f.count() != 2 {
		t.Fatalf("fetches = %d, want 2", f.count())
	}
	if st := s.Snapshot(); !reflect.DeepEqual(st.Selected, []uint64{1}) {
		t.Fatalf("selected = %v", st.Selected)
	}
}

func TestSetTripClearsSelection(t *testing.T) {
	s := newSelector(t, &fakeFetcher{view: freshView()}, nil)
	if _, err := s.Toggle(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	s.SetTrip(3, "2024-03-25")
	s.Wait()

	st := s.Snapshot()
	if len(st.Selected) != 0 || len(st.Form) != 0 || st.View != nil || st.Phase != Idle {
		t.Fatalf("state after SetTrip = %+v", st)
	}
}

func TestSubmitBooksAndResets(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	sub := &fakeSubmitter{receipt: &booking.Receipt{TicketNumber: "ABC"}}
	s := newSelector(t, f, sub)

	if _, err := s.Submit(context.Background(), model.PaymentCash, nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("empty submit: %v", err)
	}

	for _, id := range []uint64{1, 2} {
		if _, err := s.Toggle(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	r, err := s.Submit(context.Background(), model.PaymentCash, nil)
	if err != nil || r.TicketNumber != "ABC" {
		t.Fatalf("Submit = %+v, %v", r, err)
	}
	want := Submission{TripID: 3, Date: "2024-03-25", SeatIDs: []uint64{1, 2}, PaymentMethod: model.PaymentCash}
	if !reflect.DeepEqual(sub.got, want) {
		t.Fatalf("submission = %+v", sub.got)
	}
	s.Wait()
	if st := s.Snapshot(); len(st.Selected) != 0 || st.View != nil {
		t.Fatalf("state after submit = %+v", st)
	}

	before := f.count()
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.count() != before+1 {
		t.Fatal("submit did not invalidate the cached seat map")
	}
}

func TestSubmitEditingChangesSeats(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	sub := &fakeSubmitter{receipt: &booking.Receipt{TicketNumber: "NEW"}}
	s := NewSelector(NewCache(f, time.Minute), sub, Key{TripID: 3, Date: "2024-03-25", Editing: "OLD"},
		Options{Debounce: time.Millisecond, Now: func() time.Time { return now }})
	if err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Toggle(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(context.Background(), "", nil); err != nil {
		t.Fatal(err)
	}
	if sub.ticket != "OLD" || !reflect.DeepEqual(sub.seats, []uint64{3}) {
		t.Fatalf("ChangeSeats(%q, %v)", sub.ticket, sub.seats)
	}
}

func TestSubmitConflictReconciles(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	sub := &fakeSubmitter{err: &APIError{Status: http.StatusConflict, Code: "seats_taken"}}
	s := newSelector(t, f, sub)

	for _, id := range []uint64{1, 2} {
		if _, err := s.Toggle(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	s.Wait()

	taken := freshView()
	taken.Layout.Seats[1] = held(2, "A2", seatmap.StatusBooked, nil)
	f.set(taken)

	if _, err := s.Submit(context.Background(), model.PaymentCash, nil); !IsConflict(err) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if st := s.Snapshot(); !reflect.DeepEqual(st.Selected, []uint64{1}) {
		t.Fatalf("selected after conflict = %v", st.Selected)
	}
}

func TestCacheTTLAndInvalidate(t *testing.T) {
	f := &fakeFetcher{view: freshView()}
	c := NewCache(f, time.Minute)
	clock := now
	c.now = func() time.Time { return clock }
	key := Key{TripID: 3, Date: "2024-03-25"}

	for i := 0; i < 3; i++ {
		if _, err := c.Get(context.Background(), key); err != nil {
			t.Fatal(err)
		}
	}
	if f.count() != 1 {
		t.Fatalf("fetches = %d, want 1", f.count())
	}

	clock = clock.Add(2 * time.Minute)
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if f.count() != 2 {
		t.Fatalf("expired entry not refetched: %d", f.count())
	}

	c.Invalidate(key)
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	if f.count() != 3 {
		t.Fatalf("invalidated entry not refetched: %d", f.count())
	}
}

func TestCacheCollapsesConcurrentMisses(t *testing.T) {
	f := &fakeFetcher{view: freshView(), gate: make(chan struct{})}
	c := NewCache(f, time.Minute)
	key := Key{TripID: 3, Date: "2024-03-25"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), key); err != nil {
				t.Error(err)
			}
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if f.count() != 1 {
		t.Fatalf("fetches = %d, want 1", f.count())
	}
}

func TestCacheDoesNotKeepErrors(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	c := NewCache(f, time.Minute)
	key := Key{TripID: 3}
	if _, err := c.Get(context.Background(), key); err == nil {
		t.Fatal("expected error")
	}
	f.mu.Lock()
	f.err, f.view = nil, freshView()
	f.mu.Unlock()
	if v, err := c.Get(context.Background(), key); err != nil || v == nil {
		t.Fatalf("retry = %v, %v", v, err)
	}
}

func TestAPIClient(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, gotPath = r.Header.Get("Authorization"), r.URL.RequestURI()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(freshView())
		case r.URL.Path == "/book-ticket":
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"seats already taken: A1","code":"seats_taken","details":{"seats":["A1"]}}`))
		default:
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			_ = json.NewEncoder(w).Encode(booking.Receipt{TicketNumber: "NEW", SeatIDs: []uint64{3}})
		}
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/", "tok")

	v, err := c.SeatMap(context.Background(), Key{TripID: 3, Date: "2024-03-25", Editing: "OLD"})
	if err != nil {
		t.Fatalf("SeatMap: %v", err)
	}
	if gotPath != "/trips/3/date/2024-03-25?editing=OLD" || gotAuth != "Bearer tok" {
		t.Fatalf("request = %s auth %q", gotPath, gotAuth)
	}
	if len(v.Layout.Seats) != 4 || *v.RemainingAllowance != 2 || !v.Layout.Seats[3].Disabled {
		t.Fatalf("decoded view = %+v", v)
	}

	_, err = c.Book(context.Background(), Submission{TripID: 3, Date: "2024-03-25", SeatIDs: []uint64{1}, PaymentMethod: model.PaymentCash})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "seats_taken" || !IsConflict(err) {
		t.Fatalf("Book err = %v", err)
	}
	if apiErr.Message != "seats already taken: A1" {
		t.Fatalf("message = %q", apiErr.Message)
	}
	if gotBody["trip_id"] != float64(3) || gotBody["payment_method"] != "cash" {
		t.Fatalf("book body = %v", gotBody)
	}

	r, err := c.ChangeSeats(context.Background(), "OLD", []uint64{3})
	if err != nil || r.TicketNumber != "NEW" {
		t.Fatalf("ChangeSeats = %+v, %v", r, err)
	}
	if gotPath != "/tickets/OLD/seats" {
		t.Fatalf("path = %s", gotPath)
	}
}
