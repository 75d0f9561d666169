package availability

import (
	"sort"
	"time"

	"github.com/nabil-hasan/tutorlane/services/booking-service/internal/timegrid"
)

// Diff is the minimal set of exception writes needed to move the stored state
// to the tutor's edited grid. ToAdd entries are upserted (same key replaces);
// ToRemove entries are deleted.
type Diff struct {
	ToAdd    []Exception
	ToRemove []Exception
}

func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// DiffExceptions compares the desired open-slot set for one day against what
// the template and currently stored exceptions already resolve to, and emits
// writes only where the resolved openness actually changes. Slots the resolver
// opens by Add-bridging therefore need no exception of their own, and
// resubmitting an unedited grid yields an empty diff.
//
// Opening a slot prefers deleting a stored Remove over writing an Add, and
// closing one prefers deleting a stored Add over writing a Remove; stored
// exceptions whose deletion changes nothing are cleaned up along the way.
func DiffExceptions(template WeeklyTemplate, current []Exception, desired map[int]bool, date time.Time) Diff {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

	existing := map[int]ExceptionKind{}
	for _, e := range current {
		if sameDate(e.Date, day) {
			existing[timegrid.SlotFloor(e.StartMinute)] = e.Kind
		}
	}

	work := make(map[int]ExceptionKind, len(existing))
	for m, kind := range existing {
		work[m] = kind
	}

	// Resolved with a reference time before the day so past-exclusion never
	// interferes: the diff is about stored state, not the wall clock.
	resolve := func(w map[int]ExceptionKind) map[int]bool {
		excs := make([]Exception, 0, len(w))
		for m, kind := range w {
			excs = append(excs, Exception{Date: day, StartMinute: m, Kind: kind})
		}
		open := map[int]bool{}
		for _, m := range ResolveDay(template, excs, day, day.AddDate(0, 0, -1)).OpenStarts() {
			open[m] = true
		}
		return open
	}
	resolved := resolve(work)

	// Drop stored exceptions whose deletion leaves the whole resolved day
	// unchanged (an Add the template already covers, a Remove outside it).
	storedSlots := make([]int, 0, len(existing))
	for m := range existing {
		storedSlots = append(storedSlots, m)
	}
	sort.Ints(storedSlots)
	for _, m := range storedSlots {
		kind := work[m]
		delete(work, m)
		if trimmed := resolve(work); sameOpenSet(trimmed, resolved) {
			resolved = trimmed
			continue
		}
		work[m] = kind
	}

	// Force each slot whose resolved openness disagrees with the grid. A new
	// Add can bridge a neighbour open, so iterate to a fixpoint; the exception
	// set only grows toward explicit slots, so this terminates well inside the
	// slot count.
	for iter := 0; iter < timegrid.SlotsPerDay; iter++ {
		changed := false
		for m := 0; m < timegrid.MinutesPerDay; m += timegrid.SlotMinutes {
			want := desired[m]
			if resolved[m] == want {
				continue
			}
			changed = true
			if kind, ok := work[m]; ok {
				delete(work, m)
				if trimmed := resolve(work); trimmed[m] == want {
					resolved = trimmed
					continue
				}
				work[m] = kind
			}
			if want {
				work[m] = ExceptionAdd
			} else {
				work[m] = ExceptionRemove
			}
			resolved = resolve(work)
		}
		if !changed {
			break
		}
	}

	var diff Diff
	for m := 0; m < timegrid.MinutesPerDay; m += timegrid.SlotMinutes {
		stored, had := existing[m]
		wanted, have := work[m]
		switch {
		case have && (!had || stored != wanted):
			diff.ToAdd = append(diff.ToAdd, Exception{Date: day, StartMinute: m, Kind: wanted})
		case had && !have:
			diff.ToRemove = append(diff.ToRemove, Exception{Date: day, StartMinute: m, Kind: stored})
		}
	}
	return diff
}

func sameOpenSet(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for m := range a {
		if !b[m] {
			return false
		}
	}
	return true
}
