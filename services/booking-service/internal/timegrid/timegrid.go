package timegrid

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The booking grid is fixed at 30-minute slots: 48 candidate lesson starts per
// day. Minute-of-day integers (0..1439) are the internal currency for all
// ordering and overlap arithmetic; 12-hour clock strings exist only at the
// storage and API boundary.
const (
	SlotMinutes   = 30
	SlotsPerDay   = 24 * 60 / SlotMinutes
	MinutesPerDay = 24 * 60
)

// ParseError reports a clock or slot-key string that could not be parsed.
// Callers treat a parse failure as "slot unavailable", never as midnight.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timegrid: cannot parse %q: %s", e.Input, e.Reason)
}

// ParseClock converts a 12-hour clock string with optional minutes ("9 am",
// "11:30 pm", "12 am") into a minute-of-day value.
func ParseClock(text string) (int, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, &ParseError{Input: text, Reason: "empty"}
	}

	var pm bool
	switch {
	case strings.HasSuffix(s, "pm"):
		pm = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "pm"))
	case strings.HasSuffix(s, "am"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "am"))
	default:
		return 0, &ParseError{Input: text, Reason: "missing am/pm suffix"}
	}
	if s == "" {
		return 0, &ParseError{Input: text, Reason: "missing hour"}
	}

	hourPart := s
	minutePart := ""
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hourPart = s[:i]
		minutePart = s[i+1:]
	}

	hour, err := strconv.Atoi(strings.TrimSpace(hourPart))
	if err != nil || hour < 1 || hour > 12 {
		return 0, &ParseError{Input: text, Reason: "hour out of range"}
	}

	minute := 0
	if minutePart != "" {
		minute, err = strconv.Atoi(strings.TrimSpace(minutePart))
		if err != nil || minute < 0 || minute > 59 {
			return 0, &ParseError{Input: text, Reason: "minutes out of range"}
		}
	}

	if hour == 12 {
		hour = 0
	}
	if pm {
		hour += 12
	}
	return hour*60 + minute, nil
}

// FormatClock is the canonical inverse of ParseClock ("9 am", "11:30 pm").
// Minutes are omitted when zero so formatted values are stable key components.
func FormatClock(minuteOfDay int) string {
	minuteOfDay = ((minuteOfDay % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	hour := minuteOfDay / 60
	minute := minuteOfDay % 60

	suffix := "am"
	if hour >= 12 {
		suffix = "pm"
	}
	h12 := hour % 12
	if h12 == 0 {
		h12 = 12
	}
	if minute == 0 {
		return fmt.Sprintf("%d %s", h12, suffix)
	}
	return fmt.Sprintf("%d:%02d %s", h12, minute, suffix)
}

// SlotFloor snaps a minute-of-day down to its slot start.
func SlotFloor(minuteOfDay int) int {
	return minuteOfDay - minuteOfDay%SlotMinutes
}

// MinuteOf extracts the minute-of-day of t in its own location.
func MinuteOf(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// SlotKey builds the canonical exception key: full ISO date plus canonical
// clock string. Full dates replaced the legacy year-less month/day keys.
func SlotKey(date time.Time, minuteOfDay int) string {
	return date.Format("2006-01-02") + "-" + FormatClock(minuteOfDay)
}

// ParseLegacySlotKey parses the historical "{M/D}-{clock}" key shape, which
// carried no year. The year is resolved to the occurrence of that month/day
// nearest to ref, so keys written up to ~6 months either side of ref land on
// the intended date. Imports of older data should run through this once and
// persist full dates.
func ParseLegacySlotKey(key string, ref time.Time) (time.Time, int, error) {
	dash := strings.IndexByte(key, '-')
	if dash <= 0 || dash == len(key)-1 {
		return time.Time{}, 0, &ParseError{Input: key, Reason: "expected {month/day}-{clock}"}
	}

	datePart := key[:dash]
	slash := strings.IndexByte(datePart, '/')
	if slash <= 0 || slash == len(datePart)-1 {
		return time.Time{}, 0, &ParseError{Input: key, Reason: "expected month/day date"}
	}
	month, err := strconv.Atoi(datePart[:slash])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, 0, &ParseError{Input: key, Reason: "month out of range"}
	}
	day, err := strconv.Atoi(datePart[slash+1:])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, 0, &ParseError{Input: key, Reason: "day out of range"}
	}

	minute, err := ParseClock(key[dash+1:])
	if err != nil {
		return time.Time{}, 0, err
	}

	loc := ref.Location()
	best := time.Time{}
	var bestDiff time.Duration
	for _, year := range []int{ref.Year() - 1, ref.Year(), ref.Year() + 1} {
		candidate := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
		// Reject rollover (e.g. 2/30 normalizing into March).
		if candidate.Month() != time.Month(month) || candidate.Day() != day {
			continue
		}
		diff := candidate.Sub(ref)
		if diff < 0 {
			diff = -diff
		}
		if best.IsZero() || diff < bestDiff {
			best = candidate
			bestDiff = diff
		}
	}
	if best.IsZero() {
		return time.Time{}, 0, &ParseError{Input: key, Reason: "no such calendar date"}
	}
	return best, minute, nil
}
