// Package cache keeps the read side of the seat inventory in Redis: bus
// layouts per bus type and the active reservations of each trip day.
// Bookings never read through it; they load reservations inside their
// own transaction.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Fahm-Gah/hesarak-backend/internal/calendar"
	"github.com/Fahm-Gah/hesarak-backend/internal/config"
	"github.com/Fahm-Gah/hesarak-backend/internal/layout"
	"github.com/Fahm-Gah/hesarak-backend/internal/logger"
	"github.com/Fahm-Gah/hesarak-backend/internal/model"
)

// Source is where misses are loaded from.
type Source interface {
	ElementsByBusType(ctx context.Context, busTypeID uint64) ([]model.BusLayoutElement, error)
	ActiveReservations(ctx context.Context, tripID uint64, date time.Time) ([]model.Reservation, error)
}

// Inventory is a read-through cache over Source.  A nil Redis client or a
// disabled config turns it into a pass-through that still collapses
// concurrent identical loads.
type Inventory struct {
	src   Source
	rdb   *redis.Client
	cfg   config.CacheConfig
	log   *logger.Logger
	group singleflight.Group
}

func NewInventory(src Source, rdb *redis.Client, cfg config.CacheConfig, log *logger.Logger) *Inventory {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.LayoutTTL <= 0 {
		cfg.LayoutTTL = 10 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "inv"
	}
	return &Inventory{src: src, rdb: rdb, cfg: cfg, log: log}
}

func (c *Inventory) enabled() bool { return c.cfg.Enabled && c.rdb != nil }

func (c *Inventory) layoutKey(busTypeID uint64) string {
	return fmt.Sprintf("%s:layout:%d", c.cfg.Prefix, busTypeID)
}

// TripDayKey is the key holding the active reservations of (tripID, date).
func (c *Inventory) TripDayKey(tripID uint64, date time.Time) string {
	return fmt.Sprintf("%s:trip:%d:%s", c.cfg.Prefix, tripID, calendar.FormatGregorian(date))
}

// Layout returns the validated layout of a bus type.
func (c *Inventory) Layout(ctx context.Context, busTypeID uint64) (*layout.Layout, error) {
	var els []model.BusLayoutElement
	err := c.readThrough(ctx, c.layoutKey(busTypeID), c.cfg.LayoutTTL, &els, func() (any, error) {
		return c.src.ElementsByBusType(ctx, busTypeID)
	})
	if err != nil {
		return nil, err
	}
	return layout.New(els)
}

// ActiveReservations returns the non-cancelled reservations of a trip day.
func (c *Inventory) ActiveReservations(ctx context.Context, tripID uint64, date time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	err := c.readThrough(ctx, c.TripDayKey(tripID, date), c.cfg.TTL, &out, func() (any, error) {
		return c.src.ActiveReservations(ctx, tripID, date)
	})
	return out, err
}

// InvalidateTripDay drops the cached reservations of (tripID, date).
func (c *Inventory) InvalidateTripDay(ctx context.Context, tripID uint64, date time.Time) error {
	return c.invalidate(ctx, c.TripDayKey(tripID, date))
}

// InvalidateLayout drops a cached layout.
func (c *Inventory) InvalidateLayout(ctx context.Context, busTypeID uint64) error {
	return c.invalidate(ctx, c.layoutKey(busTypeID))
}

func versionKey(key string) string { return key + ":ver" }

// versionTTL keeps a version alive far longer than any load can take.
const versionTTL = time.Hour

// invalidate bumps the version of key and deletes it.  Loads that read
// the old version can no longer store their result, and new readers stop
// sharing a load that started before the write.
func (c *Inventory) invalidate(ctx context.Context, key string) error {
	defer c.group.Forget(key)
	if !c.enabled() {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(key))
		pipe.Expire(ctx, versionKey(key), versionTTL)
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

// storeIfCurrent sets KEYS[1] only while KEYS[2] still holds the version
// read before the load.  A missing version counts as "0".
var storeIfCurrent = redis.NewScript(`
local v = redis.call('GET', KEYS[2]) or '0'
if v ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// version returns the current version of key.  ok is false when Redis
// could not answer, and the load result is then not stored.
func (c *Inventory) version(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, versionKey(key)).Result()
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return "0", true
	}
	c.log.ErrorWithContext(ctx, "cache version read failed", err, map[string]interface{}{"key": key})
	return "", false
}

// readThrough fills dest from key, or from load on a miss.  Redis errors
// are logged and treated as misses.
func (c *Inventory) readThrough(ctx context.Context, key string, ttl time.Duration, dest any, load func() (any, error)) error {
	var (
		ver      string
		storable bool
	)
	if c.enabled() {
		bs, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			if jerr := json.Unmarshal(bs, dest); jerr == nil {
				return nil
			}
			c.log.Warn("dropping undecodable cache entry", "key", key)
		case !errors.Is(err, redis.Nil):
			c.log.ErrorWithContext(ctx, "cache read failed", err, map[string]interface{}{"key": key})
		}
		ver, storable = c.version(ctx, key)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		fresh, err := load()
		if err != nil {
			return nil, err
		}
		bs, err := json.Marshal(fresh)
		if err != nil {
			return nil, err
		}
		if storable {
			err := storeIfCurrent.Run(ctx, c.rdb, []string{key, versionKey(key)}, ver, bs, ttl.Milliseconds()).Err()
			if err != nil {
				c.log.ErrorWithContext(ctx, "cache write failed", err, map[string]interface{}{"key": key})
			}
		}
		return bs, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}
