package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTTL_ClippedToSlotBoundaryToday(t *testing.T) {
	c := NewSlotCache(nil, nil, 5*time.Minute)
	today := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	// 10:12:30 -> next boundary at 10:30, 17m30s away, above the 5m cap.
	c.WithClock(func() time.Time { return today.Add(10*time.Hour + 12*time.Minute + 30*time.Second) })
	if got := c.TTL(today); got != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m", got)
	}

	// 10:27:00 -> boundary 3m away clips the cap.
	c.WithClock(func() time.Time { return today.Add(10*time.Hour + 27*time.Minute) })
	if got := c.TTL(today); got != 3*time.Minute {
		t.Errorf("TTL = %v, want 3m", got)
	}
}

func TestTTL_OtherDaysKeepFullTTL(t *testing.T) {
	c := NewSlotCache(nil, nil, 5*time.Minute)
	today := time.Date(2026, 2, 2, 10, 29, 0, 0, time.UTC)
	c.WithClock(func() time.Time { return today })

	tomorrow := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	if got := c.TTL(tomorrow); got != 5*time.Minute {
		t.Errorf("TTL = %v, want 5m for a non-today date", got)
	}
}

func TestSlotCache_NilClientDegrades(t *testing.T) {
	c := NewSlotCache(nil, nil, time.Minute)
	ctx := context.Background()
	date := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	if _, err := c.Get(ctx, "tutor-1", date, 60); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get with nil client = %v, want ErrMiss", err)
	}
	if err := c.Set(ctx, DayGrid{TutorID: "tutor-1", Date: "2026-02-02", DurationMinutes: 60}); err != nil {
		t.Fatalf("Set with nil client = %v, want nil", err)
	}
	c.Invalidate(ctx, "tutor-1", date)
	c.InvalidateAll(ctx, "tutor-1")
}
