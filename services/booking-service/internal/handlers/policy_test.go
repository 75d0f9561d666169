package handlers

import (
	"testing"
	"time"
)

func TestWithinCancellationWindow(t *testing.T) {
	start := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"two days out", start.Add(-48 * time.Hour), false},
		{"exactly 24h out", start.Add(-24 * time.Hour), false},
		{"just inside", start.Add(-24*time.Hour + time.Minute), true},
		{"an hour before", start.Add(-time.Hour), true},
		{"already started", start.Add(time.Minute), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := withinCancellationWindow(start, tc.now); got != tc.want {
				t.Errorf("withinCancellationWindow(start, %v) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}
