package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Fahm-Gah/hesarak-backend/internal/config"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// tripDaySource serves a mutable reservation list.  When hold is set, the
// next load snapshots the list, signals loading and waits for hold.
type tripDaySource struct {
	mu      sync.Mutex
	list    []model.Reservation
	loads   int
	hold    chan struct{}
	loading chan struct{}
}

func (s *tripDaySource) ElementsByBusType(_ context.Context, busTypeID uint64) ([]model.BusLayoutElement, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	return []model.BusLayoutElement{
		{ID: 1, BusTypeID: busTypeID, Type: model.ElementSeat, Row: 1, Col: 1, SeatNumber: "1"},
	}, nil
}

func (s *tripDaySource) ActiveReservations(context.Context, uint64, time.Time) ([]model.Reservation, error) {
	s.mu.Lock()
	s.loads++
	snapshot := append([]model.Reservation(nil), s.list...)
	hold, loading := s.hold, s.loading
	s.hold = nil
	s.mu.Unlock()

	if hold != nil {
		close(loading)
		<-hold
	}
	return snapshot, nil
}

func (s *tripDaySource) book(res model.Reservation) {
	s.mu.Lock()
	s.list = append(s.list, res)
	s.mu.Unlock()
}

func (s *tripDaySource) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func newRedisInventory(t *testing.T, src Source) (*Inventory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	inv := NewInventory(src, rdb, config.CacheConfig{Enabled: true, TTL: 30 * time.Second, Prefix: "inv"}, nil)
	return inv, mr
}

var cacheDay = time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)

func seatsOf(list []model.Reservation) int {
	n := 0
	for _, r := range list {
		n += len(r.BookedSeats)
	}
	return n
}

func TestInventory_RedisHitAfterMiss(t *testing.T) {
	src := &tripDaySource{list: []model.Reservation{{ID: 1, TripID: 3, Date: cacheDay, BookedSeats: []model.SeatRef{{ID: 11}}}}}
	inv, mr := newRedisInventory(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := inv.ActiveReservations(ctx, 3, cacheDay)
		if err != nil {
			t.Fatalf("ActiveReservations: %v", err)
		}
		if len(got) != 1 || got[0].BookedSeats[0].ID != 11 {
			t.Fatalf("reservations = %+v", got)
		}
	}
	if n := src.loadCount(); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
	key := inv.TripDayKey(3, cacheDay)
	if !mr.Exists(key) {
		t.Fatalf("%s not stored", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > 30*time.Second {
		t.Fatalf("ttl = %s", ttl)
	}
}

func TestInventory_RedisReloadsAfterInvalidate(t *testing.T) {
	src := &tripDaySource{}
	inv, mr := newRedisInventory(t, src)
	ctx := context.Background()

	if got, _ := inv.ActiveReservations(ctx, 3, cacheDay); len(got) != 0 {
		t.Fatalf("expected empty trip day, got %+v", got)
	}
	src.book(model.Reservation{ID: 2, TripID: 3, Date: cacheDay, BookedSeats: []model.SeatRef{{ID: 12}}})
	if err := inv.InvalidateTripDay(ctx, 3, cacheDay); err != nil {
		t.Fatalf("InvalidateTripDay: %v", err)
	}
	if mr.Exists(inv.TripDayKey(3, cacheDay)) {
		t.Fatal("key survived invalidation")
	}

	got, err := inv.ActiveReservations(ctx, 3, cacheDay)
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if seatsOf(got) != 1 {
		t.Fatalf("reservations after booking = %+v", got)
	}
	if n := src.loadCount(); n != 2 {
		t.Fatalf("loads = %d, want 2", n)
	}
}

func TestInventory_RedisLayoutInvalidate(t *testing.T) {
	src := &tripDaySource{}
	inv, _ := newRedisInventory(t, src)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := inv.Layout(ctx, 7); err != nil {
			t.Fatalf("Layout: %v", err)
		}
	}
	if err := inv.InvalidateLayout(ctx, 7); err != nil {
		t.Fatalf("InvalidateLayout: %v", err)
	}
	if _, err := inv.Layout(ctx, 7); err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if n := src.loadCount(); n != 2 {
		t.Fatalf("loads = %d, want 2", n)
	}
}

func TestInventory_RedisDropsUndecodableEntry(t *testing.T) {
	src := &tripDaySource{list: []model.Reservation{{ID: 1, TripID: 3, Date: cacheDay, BookedSeats: []model.SeatRef{{ID: 11}}}}}
	inv, mr := newRedisInventory(t, src)
	key := inv.TripDayKey(3, cacheDay)
	if err := mr.Set(key, "{not json"); err != nil {
		t.Fatal(err)
	}

	got, err := inv.ActiveReservations(context.Background(), 3, cacheDay)
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if seatsOf(got) != 1 {
		t.Fatalf("reservations = %+v", got)
	}
	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("entry not rewritten: %v", err)
	}
	var stored []model.Reservation
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || seatsOf(stored) != 1 {
		t.Fatalf("stored entry = %q (%v)", raw, err)
	}
}

// A load that started before a booking must not write its snapshot back
// once the booking has invalidated the trip day, and readers arriving
// after the invalidation must not share that load.
func TestInventory_StaleLoadIsNotStoredAfterInvalidate(t *testing.T) {
	src := &tripDaySource{hold: make(chan struct{}), loading: make(chan struct{})}
	hold, loading := src.hold, src.loading
	inv, mr := newRedisInventory(t, src)
	ctx := context.Background()
	key := inv.TripDayKey(3, cacheDay)

	type result struct {
		list []model.Reservation
		err  error
	}
	early := make(chan result, 1)
	go func() {
		list, err := inv.ActiveReservations(ctx, 3, cacheDay)
		early <- result{list, err}
	}()
	<-loading

	src.book(model.Reservation{ID: 9, TripID: 3, Date: cacheDay, BookedSeats: []model.SeatRef{{ID: 14}}})
	if err := inv.InvalidateTripDay(ctx, 3, cacheDay); err != nil {
		t.Fatalf("InvalidateTripDay: %v", err)
	}

	late, err := inv.ActiveReservations(ctx, 3, cacheDay)
	if err != nil {
		t.Fatalf("ActiveReservations: %v", err)
	}
	if seatsOf(late) != 1 {
		t.Fatalf("reader after the booking got %+v, want the booked seat", late)
	}

	close(hold)
	r := <-early
	if r.err != nil {
		t.Fatalf("early read: %v", r.err)
	}
	if seatsOf(r.list) != 0 {
		t.Fatalf("early read = %+v, want the pre-booking snapshot", r.list)
	}

	raw, err := mr.Get(key)
	if err != nil {
		t.Fatalf("fresh entry missing: %v", err)
	}
	var stored []model.Reservation
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || seatsOf(stored) != 1 {
		t.Fatalf("cache holds %q, want the post-booking list", raw)
	}

	got, err := inv.ActiveReservations(ctx, 3, cacheDay)
	if err != nil || seatsOf(got) != 1 {
		t.Fatalf("cached read = %+v, %v", got, err)
	}
	if n := src.loadCount(); n != 2 {
		t.Fatalf("loads = %d, want 2", n)
	}
}
