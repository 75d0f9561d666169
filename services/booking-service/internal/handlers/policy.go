package handlers

import "time"

// CancellationWindow is how far before a lesson's start a student may still
// cancel or reschedule it. Inside the window the operation is refused
// outright; there is no partial path.
const CancellationWindow = 24 * time.Hour

// withinCancellationWindow reports whether now is already inside the
// no-cancel window for a lesson starting at start. Lessons that have already
// started are inside by definition.
func withinCancellationWindow(start, now time.Time) bool {
	return now.After(start.Add(-CancellationWindow))
}
