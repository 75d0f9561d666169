package availability

import (
	"testing"
	"time"
)

var utc = time.UTC

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, utc)
}

// Monday 2026-02-02.
var monday = date(2026, 2, 2)

// farPast is a "now" well before any test date, so past-exclusion never fires
// unless a test wants it to.
var farPast = date(2020, 1, 1)

func minutes(hm ...int) []int { return hm }

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolveDay_TemplateCoverage(t *testing.T) {
	// Every half-hour slot inside the range is open, everything outside is
	// closed.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 12 * 60}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)

	want := minutes(540, 570, 600, 630, 660, 690)
	if got := day.OpenStarts(); !equalInts(got, want) {
		t.Fatalf("OpenStarts = %v, want %v", got, want)
	}
	if day.IsOpen(510) || day.IsOpen(720) {
		t.Fatal("slots outside the range should be closed")
	}
}

func TestResolveDay_SlotMustFitRange(t *testing.T) {
	// A range ending at 9:45 cannot hold the 9:30 slot in full.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 9*60 + 45}},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(540)) {
		t.Fatalf("OpenStarts = %v, want [540]", got)
	}
}

func TestResolveDay_OverlappingRangesUnion(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {
			{StartMinute: 9 * 60, EndMinute: 11 * 60},
			{StartMinute: 10 * 60, EndMinute: 12 * 60},
		},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(540, 570, 600, 630, 660, 690)) {
		t.Fatalf("OpenStarts = %v", got)
	}
}

func TestResolveDay_RemoveWins(t *testing.T) {
	// Remove beats template coverage and beats a conflicting Add.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 11 * 60}},
	}
	exceptions := []Exception{
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionRemove},
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionAdd},
	}
	day := ResolveDay(tpl, exceptions, monday, farPast)
	if day.IsOpen(600) {
		t.Fatal("Remove must win over template and Add")
	}
	if !day.IsOpen(570) || !day.IsOpen(630) {
		t.Fatal("neighboring slots should stay open")
	}
}

func TestResolveDay_AddOpensOutsideTemplate(t *testing.T) {
	exceptions := []Exception{
		{Date: monday, StartMinute: 14 * 60, Kind: ExceptionAdd},
	}
	day := ResolveDay(nil, exceptions, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(840)) {
		t.Fatalf("OpenStarts = %v, want [840]", got)
	}
}

func TestResolveDay_AddBridging(t *testing.T) {
	// Adds at 10am and 11am bridge 10:30; Adds two hours apart bridge
	// nothing.
	near := []Exception{
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 11 * 60, Kind: ExceptionAdd},
	}
	day := ResolveDay(nil, near, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(600, 630, 660)) {
		t.Fatalf("bridged OpenStarts = %v, want [600 630 660]", got)
	}

	far := []Exception{
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 12 * 60, Kind: ExceptionAdd},
	}
	day = ResolveDay(nil, far, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(600, 720)) {
		t.Fatalf("unbridged OpenStarts = %v, want [600 720]", got)
	}
}

func TestResolveDay_BridgingNeedsAdds(t *testing.T) {
	// The bridging rule only activates when the day has Add exceptions; a
	// template-only day never bridges its gaps.
	tpl := WeeklyTemplate{
		time.Monday: {
			{StartMinute: 9 * 60, EndMinute: 10 * 60},
			{StartMinute: 10*60 + 30, EndMinute: 11*60 + 30},
		},
	}
	day := ResolveDay(tpl, nil, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(540, 570, 630, 660)) {
		t.Fatalf("OpenStarts = %v", got)
	}
}

func TestResolveDay_RemoveBeatsBridging(t *testing.T) {
	exceptions := []Exception{
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 11 * 60, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 10*60 + 30, Kind: ExceptionRemove},
	}
	day := ResolveDay(nil, exceptions, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(600, 660)) {
		t.Fatalf("OpenStarts = %v, want [600 660]", got)
	}
}

func TestResolveDay_ExceptionsOtherDatesIgnored(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 10 * 60}},
	}
	exceptions := []Exception{
		{Date: monday.AddDate(0, 0, 1), StartMinute: 9 * 60, Kind: ExceptionRemove},
	}
	day := ResolveDay(tpl, exceptions, monday, farPast)
	if got := day.OpenStarts(); !equalInts(got, minutes(540, 570)) {
		t.Fatalf("OpenStarts = %v", got)
	}
}

func TestResolveDay_PastExclusion(t *testing.T) {
	// For today, slots already begun are excluded regardless of flags.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 12 * 60}},
	}
	now := monday.Add(10*time.Hour + 15*time.Minute)
	day := ResolveDay(tpl, nil, monday, now)
	if got := day.OpenStarts(); !equalInts(got, minutes(630, 660, 690)) {
		t.Fatalf("OpenStarts = %v, want [630 660 690]", got)
	}

	// A different day is unaffected by the clock.
	nextMonday := monday.AddDate(0, 0, 7)
	day = ResolveDay(tpl, nil, nextMonday, now)
	if got := len(day.OpenStarts()); got != 6 {
		t.Fatalf("future day should keep all 6 slots, got %d", got)
	}
}

func TestResolveDay_EmptyTemplate(t *testing.T) {
	// A missing template is not an error: nothing opens without Adds.
	day := ResolveDay(nil, nil, monday, farPast)
	if got := day.OpenStarts(); len(got) != 0 {
		t.Fatalf("OpenStarts = %v, want empty", got)
	}
}
