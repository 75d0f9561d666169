package availability

import (
	"time"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

// TimeRange is a half-open [StartMinute, EndMinute) window within a day,
// expressed in minutes from midnight.
type TimeRange struct {
	StartMinute int
	EndMinute   int
}

func (r TimeRange) contains(slotStart int) bool {
	return r.StartMinute <= slotStart && slotStart+timegrid.SlotMinutes <= r.EndMinute
}

// WeeklyTemplate is a tutor's recurring default availability: ranges per
// weekday. Overlapping ranges are treated as their union; an absent weekday
// means no recurring availability that day.
type WeeklyTemplate map[time.Weekday][]TimeRange

type ExceptionKind string

const (
	// ExceptionAdd forces a slot open even if the template says closed.
	ExceptionAdd ExceptionKind = "add"
	// ExceptionRemove forces a slot closed; it always wins.
	ExceptionRemove ExceptionKind = "remove"
)

// Exception is a one-off dated override of the weekly template, keyed by
// (Date, StartMinute). Storage enforces at most one exception per key.
type Exception struct {
	Date        time.Time
	StartMinute int
	Kind        ExceptionKind
}

// Interval is an occupied [Start, End) span of real time, typically derived
// from an active lesson.
type Interval struct {
	Start time.Time
	End   time.Time
}

// ResolvedSlot is the per-slot view served to calendars. It is derived fresh
// on every query; lesson state changes concurrently, so it is never persisted
// and only briefly cached.
type ResolvedSlot struct {
	StartMinute int    `json:"start_minute"`
	Clock       string `json:"clock"`
	Available   bool   `json:"available"`
	Booked      bool   `json:"booked"`
	Past        bool   `json:"past"`
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// OverlapsAny reports whether [start, end) intersects any busy interval.
// Half-open semantics: touching endpoints do not collide.
func OverlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

// BusyLesson is an occupied span tagged with its lesson so a reschedule can
// ignore the lesson being moved.
type BusyLesson struct {
	LessonID string
	Start    time.Time
	End      time.Time
}

// FitsExistingSchedule reports whether a lesson of durationMinutes starting at
// start clears every occupied span except excludeLessonID's own.
func FitsExistingSchedule(lessons []BusyLesson, start time.Time, durationMinutes int, excludeLessonID string) bool {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	for _, l := range lessons {
		if l.LessonID == excludeLessonID {
			continue
		}
		if start.Before(l.End) && l.Start.Before(end) {
			return false
		}
	}
	return true
}
