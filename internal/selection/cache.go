package selection

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Fahm-Gah/hesarak-backend/internal/booking"
)

// Cache holds recently fetched seat maps per Key.  Entries live for TTL
// and are dropped by Invalidate after every mutation.  Concurrent misses
// for one key share a single fetch.
type Cache struct {
	fetch Fetcher
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[Key]cacheEntry
	gens    map[Key]uint64
	group   singleflight.Group
}

type cacheEntry struct {
	view    *booking.SeatMapView
	fetched time.Time
}

func NewCache(fetch Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Cache{
		fetch:   fetch,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[Key]cacheEntry),
		gens:    make(map[Key]uint64),
	}
}

// Get returns the cached view for key or fetches it.  Returned views are
// shared and must not be modified.
func (c *Cache) Get(ctx context.Context, key Key) (*booking.SeatMapView, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && c.now().Sub(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.view, nil
	}
	gen := c.gens[key]
	c.mu.Unlock()

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		view, err := c.fetch.SeatMap(ctx, key)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// An Invalidate during the fetch makes this result stale.
		if c.gens[key] == gen {
			c.entries[key] = cacheEntry{view: view, fetched: c.now()}
		}
		c.mu.Unlock()
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*booking.SeatMapView), nil
}

// Invalidate drops key so the next Get fetches again.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	c.group.Forget(key.String())
}
