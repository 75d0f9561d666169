package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/availability"
	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

// ErrMiss is returned when the requested day grid is not cached.
var ErrMiss = errors.New("cache miss")

// DayGrid is the cached form of one tutor-day of resolved slots, computed for
// one lesson duration. The grid itself is duration-independent but the
// bookable starts are not, so the cache keys on (tutor, date, duration).
type DayGrid struct {
	TutorID         string                      `json:"tutor_id"`
	Date            string                      `json:"date"`
	DurationMinutes int                         `json:"duration_minutes"`
	BookableStarts  []int                       `json:"bookable_starts"`
	Slots           []availability.ResolvedSlot `json:"slots"`
}

// SlotCache caches resolved day grids in Redis. A nil client degrades to
// always-miss, so the service runs without Redis in local setups.
//
// The TTL never crosses the next slot boundary: the Past flag inside a
// cached grid would otherwise go stale the moment a half-hour ticks over.
type SlotCache struct {
	client *redis.Client
	logger *slog.Logger
	maxTTL time.Duration
	now    func() time.Time
}

func NewSlotCache(client *redis.Client, logger *slog.Logger, maxTTL time.Duration) *SlotCache {
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &SlotCache{client: client, logger: logger, maxTTL: maxTTL, now: time.Now}
}

// WithClock overrides the cache's clock. Tests pin it to fixed instants.
func (c *SlotCache) WithClock(now func() time.Time) *SlotCache {
	c.now = now
	return c
}

func dayKey(tutorID string, date time.Time, durationMinutes int) string {
	return fmt.Sprintf("slots:%s:%s:%d", tutorID, date.Format("2006-01-02"), durationMinutes)
}

func (c *SlotCache) Get(ctx context.Context, tutorID string, date time.Time, durationMinutes int) (DayGrid, error) {
	if c.client == nil {
		return DayGrid{}, ErrMiss
	}
	raw, err := c.client.Get(ctx, dayKey(tutorID, date, durationMinutes)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return DayGrid{}, ErrMiss
		}
		return DayGrid{}, fmt.Errorf("redis get day grid: %w", err)
	}
	var grid DayGrid
	if err := json.Unmarshal(raw, &grid); err != nil {
		return DayGrid{}, fmt.Errorf("decode cached day grid: %w", err)
	}
	return grid, nil
}

func (c *SlotCache) Set(ctx context.Context, grid DayGrid) error {
	if c.client == nil {
		return nil
	}
	payload, err := json.Marshal(grid)
	if err != nil {
		return fmt.Errorf("encode day grid: %w", err)
	}
	date, err := time.ParseInLocation("2006-01-02", grid.Date, time.UTC)
	if err != nil {
		return fmt.Errorf("bad day grid date %q: %w", grid.Date, err)
	}
	ttl := c.TTL(date)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, dayKey(grid.TutorID, date, grid.DurationMinutes), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set day grid: %w", err)
	}
	return nil
}

// TTL returns the lifetime for a cached grid of the given date: the
// configured maximum, clipped to the next half-hour boundary when the grid
// covers today.
func (c *SlotCache) TTL(date time.Time) time.Duration {
	ttl := c.maxTTL
	now := c.now().UTC()
	if now.Year() == date.Year() && now.YearDay() == date.YearDay() {
		elapsed := time.Duration(timegrid.MinuteOf(now))*time.Minute +
			time.Duration(now.Second())*time.Second
		untilBoundary := time.Duration(timegrid.SlotMinutes)*time.Minute -
			elapsed%(time.Duration(timegrid.SlotMinutes)*time.Minute)
		if untilBoundary < ttl {
			ttl = untilBoundary
		}
	}
	return ttl
}

// Invalidate drops the cached grids for the given tutor-dates across all
// durations. Called after any write that changes what a day should render:
// bookings, cancellations, schedule edits.
func (c *SlotCache) Invalidate(ctx context.Context, tutorID string, dates ...time.Time) {
	if c.client == nil || len(dates) == 0 {
		return
	}
	for _, d := range dates {
		c.deleteByPattern(ctx, fmt.Sprintf("slots:%s:%s:*", tutorID, d.Format("2006-01-02")))
	}
}

// InvalidateAll drops every cached day for the tutor, used after weekly
// template saves where the affected date set is unbounded.
func (c *SlotCache) InvalidateAll(ctx context.Context, tutorID string) {
	if c.client == nil {
		return
	}
	c.deleteByPattern(ctx, fmt.Sprintf("slots:%s:*", tutorID))
}

func (c *SlotCache) deleteByPattern(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil && c.logger != nil {
			c.logger.Warn("slot cache invalidation failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil && c.logger != nil {
		c.logger.Warn("slot cache scan failed", "pattern", pattern, "error", err)
	}
}

func (c *SlotCache) ReadyCheck() func(context.Context) error {
	return func(ctx context.Context) error {
		if c.client == nil {
			return nil
		}
		return c.client.Ping(ctx).Err()
	}
}
