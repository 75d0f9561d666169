package availability

import (
	"time"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

// BookableStarts subtracts busy intervals from the open slots and returns the
// start minutes where a lesson of durationMinutes can actually be booked.
//
// Three rules apply on top of the resolved open set:
//
//   - Overlap: the candidate [start, start+duration) must not intersect any
//     busy interval (half-open, touching endpoints are fine).
//   - Range fit: a template-derived start must fit the whole lesson inside one
//     template range (a 9am-5pm day with 60-minute lessons ends at 16:00).
//     Add-derived and bridged starts are explicit offers and are exempt.
//   - Remove suppression: a Remove at T also suppresses starts in
//     [T, T+duration); the tutor struck that time, so no lesson may begin
//     inside the struck window even if its own slot looks open.
func (d DaySchedule) BookableStarts(busy []Interval, durationMinutes int) []int {
	if durationMinutes <= 0 {
		return nil
	}

	var out []int
	for _, m := range d.open {
		start := d.slotTime(m)
		end := start.Add(time.Duration(durationMinutes) * time.Minute)
		if OverlapsAny(start, end, busy) {
			continue
		}
		if d.suppressedByRemove(m, durationMinutes) {
			continue
		}
		if !d.explicitStart(m) && !d.fitsTemplateRange(m, durationMinutes) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (d DaySchedule) fitsTemplateRange(m, durationMinutes int) bool {
	for _, r := range d.ranges {
		if r.StartMinute <= m && m+durationMinutes <= r.EndMinute {
			return true
		}
	}
	return false
}

func (d DaySchedule) suppressedByRemove(m, durationMinutes int) bool {
	for t := range d.removes {
		if t <= m && m < t+durationMinutes {
			return true
		}
	}
	return false
}

// IsStartBooked is the single-slot predicate the booking transaction runs
// immediately before commit, closing the window between the advisory slot
// listing and the insert.
func IsStartBooked(busy []Interval, start time.Time, durationMinutes int) bool {
	return OverlapsAny(start, start.Add(time.Duration(durationMinutes)*time.Minute), busy)
}

// Grid renders the full 48-slot day for calendar views. Booked marks slots
// whose half-hour window intersects a busy interval; Past marks slots already
// begun when the date is today.
func (d DaySchedule) Grid(busy []Interval, now time.Time) []ResolvedSlot {
	cutoff := -1
	if sameDate(d.Date, now) {
		cutoff = timegrid.MinuteOf(now)
	}

	slots := make([]ResolvedSlot, 0, timegrid.SlotsPerDay)
	for m := 0; m < timegrid.MinutesPerDay; m += timegrid.SlotMinutes {
		start := d.slotTime(m)
		end := start.Add(timegrid.SlotMinutes * time.Minute)
		slots = append(slots, ResolvedSlot{
			StartMinute: m,
			Clock:       timegrid.FormatClock(m),
			Available:   d.IsOpen(m),
			Booked:      OverlapsAny(start, end, busy),
			Past:        cutoff >= 0 && m < cutoff,
		})
	}
	return slots
}
