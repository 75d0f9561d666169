package availability

import (
	"testing"
	"time"
)

func busyAt(day time.Time, startMinute, durationMinutes int) Interval {
	start := day.Add(time.Duration(startMinute) * time.Minute)
	return Interval{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}
}

func TestBookableStarts_FullWorkday(t *testing.T) {
	// Monday 9am-5pm, 60-minute lessons. The last start that still
	// ends by 5pm is 4pm: 15 starts.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 17 * 60}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	starts := day.BookableStarts(nil, 60)

	if len(starts) != 15 {
		t.Fatalf("expected 15 starts, got %d (%v)", len(starts), starts)
	}
	if starts[0] != 9*60 {
		t.Errorf("first start = %d, want 540", starts[0])
	}
	if starts[len(starts)-1] != 16*60 {
		t.Errorf("last start = %d, want 960", starts[len(starts)-1])
	}
}

func TestBookableStarts_BookingOverlap(t *testing.T) {
	// A 60-minute booking at 11:00 blocks every candidate whose lesson would
	// cross it: 10:30, 11:00, and 11:30 (11:30-12:30 overlaps 11:00-12:00).
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 17 * 60}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	busy := []Interval{busyAt(monday, 11*60, 60)}
	starts := day.BookableStarts(busy, 60)

	if len(starts) != 12 {
		t.Fatalf("expected 12 starts, got %d (%v)", len(starts), starts)
	}
	for _, m := range starts {
		if m == 10*60+30 || m == 11*60 || m == 11*60+30 {
			t.Errorf("start %d should be blocked by the 11:00 booking", m)
		}
	}
	// 10:00 ends exactly at 11:00 and 12:00 starts exactly at the booking end;
	// half-open intervals keep both.
	has := func(m int) bool {
		for _, s := range starts {
			if s == m {
				return true
			}
		}
		return false
	}
	if !has(10 * 60) {
		t.Error("10:00 should remain bookable (ends exactly at booking start)")
	}
	if !has(12 * 60) {
		t.Error("12:00 should remain bookable (starts exactly at booking end)")
	}
}

func TestBookableStarts_HalfOpenIntervals(t *testing.T) {
	// A booking 14:00+60 blocks 13:30 through 14:30; 13:00 ends exactly at
	// the booking start and 15:00 begins exactly at its end, so both survive.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 12 * 60, EndMinute: 17 * 60}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	busy := []Interval{busyAt(monday, 14*60, 60)}
	starts := day.BookableStarts(busy, 60)

	want := map[int]bool{13 * 60: true, 15 * 60: true}
	blocked := map[int]bool{13*60 + 30: true, 14 * 60: true, 14*60 + 30: true}
	for _, m := range starts {
		if blocked[m] {
			t.Errorf("start %d should be blocked", m)
		}
		delete(want, m)
	}
	for m := range want {
		t.Errorf("start %d should be bookable", m)
	}
}

func TestBookableStarts_IsolatedAdd(t *testing.T) {
	// A lone Add at 2pm offers exactly one start, exempt from the
	// range-fit rule.
	exceptions := []Exception{
		{Date: monday, StartMinute: 14 * 60, Kind: ExceptionAdd},
	}
	day := ResolveDay(nil, exceptions, monday, farPast)
	starts := day.BookableStarts(nil, 60)
	if !equalInts(starts, minutes(840)) {
		t.Fatalf("starts = %v, want [840]", starts)
	}
}

func TestBookableStarts_RemoveSuppression(t *testing.T) {
	// Template 9am-12pm, Remove at 10am, 60-minute lessons. The
	// Remove strikes 10:00 directly and suppresses any start inside
	// [10:00, 11:00); 9:30 (ends 10:30) survives, and 11:30 is cut by the
	// range-fit rule.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 12 * 60}},
	}
	exceptions := []Exception{
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionRemove},
	}
	day := ResolveDay(tpl, exceptions, monday, farPast)
	starts := day.BookableStarts(nil, 60)
	if !equalInts(starts, minutes(540, 570, 660)) {
		t.Fatalf("starts = %v, want [540 570 660]", starts)
	}
}

func TestBookableStarts_DurationFromBooking(t *testing.T) {
	// 30-minute lessons pack twice as densely as 90-minute ones; duration is
	// always a parameter, never assumed.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 11 * 60}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)

	if got := day.BookableStarts(nil, 30); len(got) != 4 {
		t.Errorf("30-minute lessons: got %v, want 4 starts", got)
	}
	if got := day.BookableStarts(nil, 90); !equalInts(got, minutes(540, 570)) {
		t.Errorf("90-minute lessons: got %v, want [540 570]", got)
	}
	if got := day.BookableStarts(nil, 0); got != nil {
		t.Errorf("non-positive duration: got %v, want nil", got)
	}
}

func TestBookableStarts_BusyWithVaryingDurations(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 13 * 60}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	// A 90-minute booking at 10:00 blocks candidate 60-minute lessons from
	// 9:30 through 11:00.
	busy := []Interval{busyAt(monday, 10*60, 90)}
	starts := day.BookableStarts(busy, 60)
	if !equalInts(starts, minutes(540, 690, 720)) {
		t.Fatalf("starts = %v, want [540 690 720]", starts)
	}
}

func TestIsStartBooked(t *testing.T) {
	busy := []Interval{busyAt(monday, 14*60, 60)}

	if !IsStartBooked(busy, monday.Add(14*time.Hour), 60) {
		t.Error("exact overlap should be booked")
	}
	if !IsStartBooked(busy, monday.Add(13*time.Hour+30*time.Minute), 60) {
		t.Error("13:30+60 overlaps 14:00 booking")
	}
	if IsStartBooked(busy, monday.Add(13*time.Hour), 60) {
		t.Error("13:00+60 touches but does not overlap")
	}
	if IsStartBooked(busy, monday.Add(15*time.Hour), 60) {
		t.Error("15:00 starts at booking end")
	}
}

func TestFitsExistingSchedule_ExcludesSelf(t *testing.T) {
	// A lesson rescheduled onto its own current time must not collide with
	// itself; any other occupant still blocks.
	busy := []BusyLesson{
		{LessonID: "self", Start: monday.Add(10 * time.Hour), End: monday.Add(11 * time.Hour)},
		{LessonID: "other", Start: monday.Add(13 * time.Hour), End: monday.Add(14 * time.Hour)},
	}

	if !FitsExistingSchedule(busy, monday.Add(10*time.Hour), 60, "self") {
		t.Error("moving onto own slot should fit")
	}
	if FitsExistingSchedule(busy, monday.Add(13*time.Hour+30*time.Minute), 60, "self") {
		t.Error("overlap with another lesson should not fit")
	}
	if !FitsExistingSchedule(busy, monday.Add(14*time.Hour), 60, "self") {
		t.Error("start at another lesson's end should fit (half-open)")
	}
}

func TestGrid(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 10 * 60}},
	}
	now := monday.Add(9*time.Hour + 10*time.Minute)
	day := ResolveDay(tpl, nil, monday, now)
	busy := []Interval{busyAt(monday, 9*60+30, 30)}

	grid := day.Grid(busy, now)
	if len(grid) != 48 {
		t.Fatalf("grid length = %d, want 48", len(grid))
	}

	byMinute := map[int]ResolvedSlot{}
	for _, s := range grid {
		byMinute[s.StartMinute] = s
	}

	nine := byMinute[9*60]
	if nine.Available || !nine.Past {
		t.Errorf("9:00 already begun: %+v", nine)
	}
	nineThirty := byMinute[9*60+30]
	if !nineThirty.Available || !nineThirty.Booked {
		t.Errorf("9:30 should be available and booked: %+v", nineThirty)
	}
	if nineThirty.Clock != "9:30 am" {
		t.Errorf("clock = %q", nineThirty.Clock)
	}
	ten := byMinute[10*60]
	if ten.Available || ten.Booked {
		t.Errorf("10:00 outside template: %+v", ten)
	}
}
