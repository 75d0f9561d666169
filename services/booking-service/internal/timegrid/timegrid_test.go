package timegrid

import (
	"errors"
	"testing"
	"time"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"9 am", 9 * 60},
		{"9am", 9 * 60},
		{"12 am", 0},
		{"12 pm", 12 * 60},
		{"12:30 am", 30},
		{"11:30 pm", 23*60 + 30},
		{"1:05 pm", 13*60 + 5},
		{"  10 AM ", 10 * 60},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if err != nil {
			t.Fatalf("ParseClock(%q) error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseClock_Malformed(t *testing.T) {
	for _, in := range []string{"", "9", "25 am", "0 pm", "13 pm", "9:75 am", "am", "nine am"} {
		_, err := ParseClock(in)
		if err == nil {
			t.Errorf("ParseClock(%q) should fail", in)
		}
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Errorf("ParseClock(%q) error should be *ParseError, got %T", in, err)
		}
	}
}

func TestFormatClock_RoundTrip(t *testing.T) {
	for minute := 0; minute < MinutesPerDay; minute += SlotMinutes {
		s := FormatClock(minute)
		got, err := ParseClock(s)
		if err != nil {
			t.Fatalf("round trip %d -> %q failed: %v", minute, s, err)
		}
		if got != minute {
			t.Errorf("round trip %d -> %q -> %d", minute, s, got)
		}
	}
	if got := FormatClock(0); got != "12 am" {
		t.Errorf("FormatClock(0) = %q", got)
	}
	if got := FormatClock(12 * 60); got != "12 pm" {
		t.Errorf("FormatClock(720) = %q", got)
	}
}

func TestSlotKey(t *testing.T) {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if got := SlotKey(date, 9*60+30); got != "2026-03-02-9:30 am" {
		t.Errorf("SlotKey = %q", got)
	}
}

func TestParseLegacySlotKey_NearestYear(t *testing.T) {
	cases := []struct {
		key      string
		ref      time.Time
		wantDate string
		wantMin  int
	}{
		// Mid-year: same year.
		{"6/24-9 am", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), "2026-06-24", 9 * 60},
		// December reference, January key: next year.
		{"1/5-2 pm", time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC), "2027-01-05", 14 * 60},
		// January reference, December key: previous year.
		{"12/30-11:30 pm", time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC), "2025-12-30", 23*60 + 30},
	}
	for _, tc := range cases {
		date, minute, err := ParseLegacySlotKey(tc.key, tc.ref)
		if err != nil {
			t.Fatalf("ParseLegacySlotKey(%q) error: %v", tc.key, err)
		}
		if got := date.Format("2006-01-02"); got != tc.wantDate {
			t.Errorf("ParseLegacySlotKey(%q) date = %s, want %s", tc.key, got, tc.wantDate)
		}
		if minute != tc.wantMin {
			t.Errorf("ParseLegacySlotKey(%q) minute = %d, want %d", tc.key, minute, tc.wantMin)
		}
	}
}

func TestParseLegacySlotKey_Malformed(t *testing.T) {
	ref := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, key := range []string{"", "6/24", "-9 am", "6-24-9 am", "13/1-9 am", "2/30-9 am", "6/24-9"} {
		if _, _, err := ParseLegacySlotKey(key, ref); err == nil {
			t.Errorf("ParseLegacySlotKey(%q) should fail", key)
		}
	}
}
