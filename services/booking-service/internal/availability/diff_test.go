package availability

import (
	"testing"
	"time"
)

// desiredFromDay builds the explicit open-slot grid a calendar UI would
// submit after the tutor made no edits.
func desiredFromDay(day DaySchedule) map[int]bool {
	desired := map[int]bool{}
	for _, m := range day.OpenStarts() {
		desired[m] = true
	}
	return desired
}

func TestDiffExceptions_NoChangeIsEmpty(t *testing.T) {
	// Saving an untouched grid writes nothing.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 12 * 60}},
	}
	current := []Exception{
		{Date: monday, StartMinute: 10 * 60, Kind: ExceptionRemove},
		{Date: monday, StartMinute: 14 * 60, Kind: ExceptionAdd},
	}
	day := ResolveDay(tpl, current, monday, farPast)

	diff := DiffExceptions(tpl, current, desiredFromDay(day), monday)
	if !diff.Empty() {
		t.Fatalf("no-change diff should be empty, got %+v", diff)
	}
}

func TestDiffExceptions_OpenOutsideTemplate(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 10 * 60}},
	}
	desired := map[int]bool{540: true, 570: true, 14 * 60: true}

	diff := DiffExceptions(tpl, nil, desired, monday)
	if len(diff.ToRemove) != 0 {
		t.Fatalf("unexpected removals: %+v", diff.ToRemove)
	}
	if len(diff.ToAdd) != 1 {
		t.Fatalf("ToAdd = %+v, want one Add", diff.ToAdd)
	}
	e := diff.ToAdd[0]
	if e.Kind != ExceptionAdd || e.StartMinute != 14*60 {
		t.Fatalf("ToAdd[0] = %+v", e)
	}
}

func TestDiffExceptions_CloseTemplateSlot(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 11 * 60}},
	}
	// Tutor closes 10:00.
	desired := map[int]bool{540: true, 570: true, 630: true}

	diff := DiffExceptions(tpl, nil, desired, monday)
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].Kind != ExceptionRemove || diff.ToAdd[0].StartMinute != 600 {
		t.Fatalf("ToAdd = %+v, want one Remove at 600", diff.ToAdd)
	}
}

func TestDiffExceptions_ReopenRemovedSlot(t *testing.T) {
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 11 * 60}},
	}
	current := []Exception{
		{Date: monday, StartMinute: 600, Kind: ExceptionRemove},
	}
	// Tutor re-opens 10:00: the stored Remove must be deleted, nothing added.
	desired := map[int]bool{540: true, 570: true, 600: true, 630: true}

	diff := DiffExceptions(tpl, current, desired, monday)
	if len(diff.ToAdd) != 0 {
		t.Fatalf("unexpected adds: %+v", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].StartMinute != 600 {
		t.Fatalf("ToRemove = %+v, want the stored Remove at 600", diff.ToRemove)
	}
}

func TestDiffExceptions_FlipAddToRemove(t *testing.T) {
	// The slot is outside the template with a stored Add; the tutor closes it.
	// One delete, no new exception (closed-outside-template is the default).
	current := []Exception{
		{Date: monday, StartMinute: 840, Kind: ExceptionAdd},
	}
	diff := DiffExceptions(nil, current, map[int]bool{}, monday)
	if len(diff.ToAdd) != 0 {
		t.Fatalf("unexpected adds: %+v", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].StartMinute != 840 {
		t.Fatalf("ToRemove = %+v", diff.ToRemove)
	}
}

func TestDiffExceptions_RedundantExceptionCleanedUp(t *testing.T) {
	// A stored Add for a slot the template already covers is noise; an
	// unchanged save deletes it.
	tpl := WeeklyTemplate{
		time.Monday: {{StartMinute: 9 * 60, EndMinute: 10 * 60}},
	}
	current := []Exception{
		{Date: monday, StartMinute: 540, Kind: ExceptionAdd},
	}
	desired := map[int]bool{540: true, 570: true}

	diff := DiffExceptions(tpl, current, desired, monday)
	if len(diff.ToAdd) != 0 {
		t.Fatalf("unexpected adds: %+v", diff.ToAdd)
	}
	if len(diff.ToRemove) != 1 || diff.ToRemove[0].StartMinute != 540 {
		t.Fatalf("ToRemove = %+v", diff.ToRemove)
	}
}

func TestDiffExceptions_BridgedDayNoChangeIsEmpty(t *testing.T) {
	// Adds at 10:00 and 11:00 bridge 10:30 open without a stored exception.
	// Resubmitting the displayed grid must not manufacture an Add for the
	// bridged slot.
	current := []Exception{
		{Date: monday, StartMinute: 600, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 660, Kind: ExceptionAdd},
	}
	day := ResolveDay(nil, current, monday, farPast)
	if !day.IsOpen(630) {
		t.Fatal("630 should be bridged open")
	}

	diff := DiffExceptions(nil, current, desiredFromDay(day), monday)
	if !diff.Empty() {
		t.Fatalf("no-change diff on a bridged day should be empty, got %+v", diff)
	}
}

func TestDiffExceptions_BridgedDayPartialEdit(t *testing.T) {
	// Opening one more slot on a bridged day writes only that slot.
	current := []Exception{
		{Date: monday, StartMinute: 600, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 660, Kind: ExceptionAdd},
	}
	desired := map[int]bool{600: true, 630: true, 660: true, 900: true}

	diff := DiffExceptions(nil, current, desired, monday)
	if len(diff.ToRemove) != 0 {
		t.Fatalf("unexpected removals: %+v", diff.ToRemove)
	}
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].StartMinute != 900 || diff.ToAdd[0].Kind != ExceptionAdd {
		t.Fatalf("ToAdd = %+v, want one Add at 900", diff.ToAdd)
	}
}

func TestDiffExceptions_CloseBridgedSlot(t *testing.T) {
	// A bridged slot has no stored exception to delete; closing it needs an
	// explicit Remove, which wins over bridging in the resolver.
	current := []Exception{
		{Date: monday, StartMinute: 600, Kind: ExceptionAdd},
		{Date: monday, StartMinute: 660, Kind: ExceptionAdd},
	}
	desired := map[int]bool{600: true, 660: true}

	diff := DiffExceptions(nil, current, desired, monday)
	if len(diff.ToRemove) != 0 {
		t.Fatalf("unexpected removals: %+v", diff.ToRemove)
	}
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].StartMinute != 630 || diff.ToAdd[0].Kind != ExceptionRemove {
		t.Fatalf("ToAdd = %+v, want one Remove at 630", diff.ToAdd)
	}
}

func TestDiffExceptions_OtherDatesUntouched(t *testing.T) {
	current := []Exception{
		{Date: monday.AddDate(0, 0, 1), StartMinute: 600, Kind: ExceptionAdd},
	}
	diff := DiffExceptions(nil, current, map[int]bool{}, monday)
	if !diff.Empty() {
		t.Fatalf("diff should not touch other dates: %+v", diff)
	}
}
