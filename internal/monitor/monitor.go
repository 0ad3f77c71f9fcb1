package monitor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/timetable"
)

const (
	report_monitor_check = "monitor.check"
	report_monitor_diff  = "monitor.changes"
)

// DefaultWeeks are the week offsets watched by default, this week and the
// next one.
var DefaultWeeks = []int{0, 1}

// WeekSource is the part of the timetable service the monitor reads.
type WeekSource interface {
	Cached(ctx context.Context, offset int) ([]timetable.LectureEvent, bool, error)
	Week(ctx context.Context, offset int, force bool) ([]timetable.LectureEvent, error)
}

type Modification struct {
	Old timetable.LectureEvent
	New timetable.LectureEvent
}

type ChangeSet struct {
	Added    []timetable.LectureEvent
	Removed  []timetable.LectureEvent
	Modified []Modification
}

func (c ChangeSet) Count() int {
	return len(c.Added) + len(c.Removed) + len(c.Modified)
}

func (c ChangeSet) Empty() bool {
	return c.Count() == 0
}

type Result struct {
	Changes ChangeSet
	// HadSnapshot is false when none of the watched weeks was synced before
	// the check, every lecture is then new and nothing should be announced.
	HadSnapshot bool
}

type Monitor struct {
	weeks WeekSource
	tel   telemetry.API
	// offsets of the watched weeks
	offsets []int
}

// NewMonitor watches the weeks at `offsets`, DefaultWeeks when empty.
func NewMonitor(weeks WeekSource, tel telemetry.API, offsets ...int) Monitor {
	assert.NotNil(weeks)
	assert.NotNil(tel)
	if len(offsets) == 0 {
		offsets = DefaultWeeks
	}
	return Monitor{
		weeks:   weeks,
		tel:     telemetry.NewScopedAPI("monitor", tel),
		offsets: offsets,
	}
}

// CheckForChanges refreshes every watched week and compares it with what
// was cached before. Weeks never synced before contribute no changes.
//
// A failing week does not stop the others: the refreshed weeks are already
// cached, so their changes are returned together with the joined error and
// the failed weeks are compared again on the next check.
func (m Monitor) CheckForChanges(ctx context.Context) (Result, error) {
	var result Result
	var errlist []error
	for _, offset := range m.offsets {
		old, synced, err := m.weeks.Cached(ctx, offset)
		if err != nil {
			m.tel.ReportBroken(report_monitor_check, err, offset)
			errlist = append(errlist, fmt.Errorf("week %d: %w", offset, err))
			continue
		}

		fresh, err := m.weeks.Week(ctx, offset, true)
		if err != nil {
			m.tel.ReportWarning(report_monitor_check, err, offset)
			errlist = append(errlist, fmt.Errorf("week %d: %w", offset, err))
			continue
		}
		if !synced {
			m.tel.ReportDebug("first sync of week, not comparing", offset, len(fresh))
			continue
		}
		result.HadSnapshot = true

		changes := Diff(old, fresh)
		result.Changes.Added = append(result.Changes.Added, changes.Added...)
		result.Changes.Removed = append(result.Changes.Removed, changes.Removed...)
		result.Changes.Modified = append(result.Changes.Modified, changes.Modified...)
	}
	m.tel.ReportCount(report_monitor_diff, int64(result.Changes.Count()))
	return result, errors.Join(errlist...)
}

// Diff compares two snapshots by lecture identity.
func Diff(old, fresh []timetable.LectureEvent) ChangeSet {
	before := make(map[string]timetable.LectureEvent, len(old))
	for _, e := range old {
		before[e.Identity()] = e
	}
	after := make(map[string]timetable.LectureEvent, len(fresh))
	for _, e := range fresh {
		after[e.Identity()] = e
	}

	var changes ChangeSet
	for _, e := range fresh {
		prev, ok := before[e.Identity()]
		if !ok {
			changes.Added = append(changes.Added, e)
			continue
		}
		if modified(prev, e) {
			changes.Modified = append(changes.Modified, Modification{Old: prev, New: e})
		}
	}
	for _, e := range old {
		if _, ok := after[e.Identity()]; !ok {
			changes.Removed = append(changes.Removed, e)
		}
	}

	sortEvents(changes.Added)
	sortEvents(changes.Removed)
	sort.SliceStable(changes.Modified, func(i, j int) bool {
		return less(changes.Modified[i].New, changes.Modified[j].New)
	})
	return changes
}

func modified(a, b timetable.LectureEvent) bool {
	return a.Location != b.Location ||
		a.IsTest != b.IsTest ||
		!sameLecturers(a, b)
}

func sameLecturers(a, b timetable.LectureEvent) bool {
	normalize := func(e timetable.LectureEvent) []string {
		names := make([]string, 0, len(e.Lecturers))
		for _, l := range e.Lecturers {
			names = append(names, timetable.NormalizeLecturer(l.Name))
		}
		slices.Sort(names)
		return names
	}
	return slices.Equal(normalize(a), normalize(b))
}

func less(a, b timetable.LectureEvent) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.SubjectShortName < b.SubjectShortName
}

func sortEvents(events []timetable.LectureEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return less(events[i], events[j])
	})
}
