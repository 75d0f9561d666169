package model

import "time"

// Lesson statuses. A lesson is created as a pending_payment hold that
// occupies its slot until paid, expired, or reaped; once confirmed it is
// immutable except for the reschedule/cancel/complete transitions.
const (
	StatusPendingPayment = "pending_payment"
	StatusScheduled      = "scheduled"
	StatusRescheduled    = "rescheduled"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
)

// ActiveStatuses are the statuses that occupy tutor time. Completed and
// cancelled lessons never block a slot.
var ActiveStatuses = []string{StatusPendingPayment, StatusScheduled, StatusRescheduled}

type Lesson struct {
	ID                string
	TutorID           string
	StudentID         string
	StartTime         time.Time
	DurationMinutes   int
	Status            string
	PriceCents        int64
	OriginalStartTime *time.Time
	HoldExpiresAt     *time.Time
	CancelledAt       *time.Time
	CancelReason      string
	CreatedAt         time.Time
}

func (l Lesson) EndTime() time.Time {
	return l.StartTime.Add(time.Duration(l.DurationMinutes) * time.Minute)
}

func (l Lesson) IsActive() bool {
	switch l.Status {
	case StatusPendingPayment, StatusScheduled, StatusRescheduled:
		return true
	}
	return false
}
