package availability

import (
	"sort"
	"time"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

// DaySchedule is the resolved open-slot set for one tutor-day. It is a pure
// function of (template, exceptions, date, now) and carries enough context for
// the reconciler to apply the range-fit and Remove-suppression rules.
type DaySchedule struct {
	Date time.Time // midnight in the calendar's location

	open    []int
	ranges  []TimeRange
	adds    map[int]bool
	removes map[int]bool
	bridged map[int]bool
}

// ResolveDay computes the nominally open half-hour slots for date, before
// bookings are considered.
//
// A slot is open when it is covered by the weekly template or forced open by
// an Add exception, and not struck by a Remove exception (Remove always wins,
// including over a conflicting Add — the storage key makes that pair
// impossible, but the resolver does not rely on it). When the day carries Add
// exceptions, slots strictly between two Adds at most an hour apart are opened
// too: tutors mark whole hours ("free at 9, 10, 11") and the resolver
// backfills the implied half-hours. Slots already begun (date == today, start
// before now) are excluded unconditionally.
func ResolveDay(template WeeklyTemplate, exceptions []Exception, date time.Time, now time.Time) DaySchedule {
	day := DaySchedule{
		Date:    time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location()),
		adds:    map[int]bool{},
		removes: map[int]bool{},
		bridged: map[int]bool{},
	}
	day.ranges = template[day.Date.Weekday()]

	for _, e := range exceptions {
		if !sameDate(e.Date, day.Date) {
			continue
		}
		slot := timegrid.SlotFloor(e.StartMinute)
		switch e.Kind {
		case ExceptionAdd:
			day.adds[slot] = true
		case ExceptionRemove:
			day.removes[slot] = true
		}
	}

	var addStarts []int
	for m := range day.adds {
		addStarts = append(addStarts, m)
	}
	sort.Ints(addStarts)

	cutoff := -1
	if sameDate(day.Date, now) {
		cutoff = timegrid.MinuteOf(now)
	}

	for m := 0; m < timegrid.MinutesPerDay; m += timegrid.SlotMinutes {
		open := day.inTemplate(m) || day.adds[m]
		if !open && len(addStarts) > 0 && bridgedBetweenAdds(m, addStarts) {
			open = true
			day.bridged[m] = true
		}
		if day.removes[m] {
			open = false
		}
		if cutoff >= 0 && m < cutoff {
			open = false
		}
		if open {
			day.open = append(day.open, m)
		}
	}
	return day
}

func (d DaySchedule) inTemplate(slotStart int) bool {
	for _, r := range d.ranges {
		if r.contains(slotStart) {
			return true
		}
	}
	return false
}

// bridgedBetweenAdds reports whether slot m lies strictly between a preceding
// and a following Add that are at most 60 minutes apart.
func bridgedBetweenAdds(m int, addStarts []int) bool {
	prev, next := -1, -1
	for _, a := range addStarts {
		if a < m {
			prev = a
		}
		if a > m {
			next = a
			break
		}
	}
	return prev >= 0 && next >= 0 && next-prev <= 60
}

// OpenStarts returns the open slot starts in ascending minute order.
func (d DaySchedule) OpenStarts() []int {
	out := make([]int, len(d.open))
	copy(out, d.open)
	return out
}

// IsOpen reports whether the slot starting at minute m is open.
func (d DaySchedule) IsOpen(m int) bool {
	for _, s := range d.open {
		if s == m {
			return true
		}
	}
	return false
}

// explicitStart reports whether slot m was opened by an Add exception or by
// Add-bridging rather than by the weekly template. Explicit starts are exact
// lesson start offers, so the reconciler exempts them from the range-fit rule.
func (d DaySchedule) explicitStart(m int) bool {
	return d.adds[m] || d.bridged[m]
}

// slotTime materializes a minute-of-day on the schedule's date.
func (d DaySchedule) slotTime(m int) time.Time {
	return d.Date.Add(time.Duration(m) * time.Minute)
}
