package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"portalsync/internal/portal"
	"portalsync/internal/portal/portaltest"
	"portalsync/internal/testutil/harness"
	"portalsync/internal/timetable"

	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, time.October, 13, 8, 15, 0, 0, time.UTC)

func event(short string, start time.Time, location string, lecturers ...string) timetable.LectureEvent {
	end := start.Add(90 * time.Minute)
	e := timetable.LectureEvent{
		ID:               timetable.EventID(short, start, end),
		SubjectShortName: short,
		Start:            start,
		End:              end,
		Location:         location,
	}
	for _, name := range lecturers {
		e.Lecturers = append(e.Lecturers, timetable.Lecturer{Name: name})
	}
	return e
}

func TestDiffRoomChange(t *testing.T) {
	old := []timetable.LectureEvent{
		event("MA1", base, "A 1.01", "Lovelace"),
		event("PRG", base.Add(2*time.Hour), "B 2.13", "Turing"),
	}
	fresh := []timetable.LectureEvent{
		event("MA1", base, "A 1.02", "Lovelace"),
		event("PRG", base.Add(2*time.Hour), "B 2.13", "Turing"),
	}

	changes := Diff(old, fresh)
	require.Empty(t, changes.Added)
	require.Empty(t, changes.Removed)
	require.Len(t, changes.Modified, 1)
	require.Equal(t, "A 1.01", changes.Modified[0].Old.Location)
	require.Equal(t, "A 1.02", changes.Modified[0].New.Location)
}

func TestDiffMovedLecture(t *testing.T) {
	old := []timetable.LectureEvent{event("MA1", base, "A 1.01")}
	fresh := []timetable.LectureEvent{event("MA1", base.Add(24*time.Hour), "A 1.01")}

	changes := Diff(old, fresh)
	require.Len(t, changes.Added, 1)
	require.Len(t, changes.Removed, 1)
	require.Empty(t, changes.Modified)
	require.Equal(t, 2, changes.Count())
}

func TestDiffLecturersAndTestFlag(t *testing.T) {
	old := []timetable.LectureEvent{
		event("MA1", base, "A", "Lovelace", "Turing"),
		event("PRG", base.Add(time.Hour), "B", "Turing"),
		event("TI1", base.Add(2*time.Hour), "C", "Hopper"),
	}
	exam := event("TI1", base.Add(2*time.Hour), "C", "Hopper")
	exam.IsTest = true
	fresh := []timetable.LectureEvent{
		// order and case of lecturers do not matter
		event("MA1", base, "A", "turing", "Lovelace"),
		event("PRG", base.Add(time.Hour), "B", "Hopper"),
		exam,
	}

	changes := Diff(old, fresh)
	require.Len(t, changes.Modified, 2)
	require.Equal(t, "PRG", changes.Modified[0].New.SubjectShortName)
	require.Equal(t, "TI1", changes.Modified[1].New.SubjectShortName)
}

func TestDiffIdentical(t *testing.T) {
	snapshot := []timetable.LectureEvent{event("MA1", base, "A")}
	require.True(t, Diff(snapshot, snapshot).Empty())
	require.True(t, Diff(nil, nil).Empty())
}

type fakeWeeks struct {
	cached map[int][]timetable.LectureEvent
	fresh  map[int][]timetable.LectureEvent
	err    error
}

func (f fakeWeeks) Cached(ctx context.Context, offset int) ([]timetable.LectureEvent, bool, error) {
	events, ok := f.cached[offset]
	return events, ok, nil
}

func (f fakeWeeks) Week(ctx context.Context, offset int, force bool) ([]timetable.LectureEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.fresh[offset], nil
}

func TestCheckWithoutSnapshot(t *testing.T) {
	h := harness.New(t, base)
	weeks := fakeWeeks{
		cached: map[int][]timetable.LectureEvent{},
		fresh: map[int][]timetable.LectureEvent{
			0: {event("MA1", base, "A"), event("PRG", base.Add(time.Hour), "B")},
		},
	}
	result, err := NewMonitor(weeks, h.Tel).CheckForChanges(context.Background())
	require.NoError(t, err)
	require.False(t, result.HadSnapshot)
	require.True(t, result.Changes.Empty())
}

func TestCheckOnlyComparesSyncedWeeks(t *testing.T) {
	h := harness.New(t, base)
	next := base.AddDate(0, 0, 7)
	weeks := fakeWeeks{
		cached: map[int][]timetable.LectureEvent{
			0: {event("MA1", base, "A")},
		},
		fresh: map[int][]timetable.LectureEvent{
			0: {event("MA1", base, "A"), event("PRG", base.Add(time.Hour), "B")},
			1: {event("MA1", next, "A"), event("PRG", next.Add(time.Hour), "B")},
		},
	}
	result, err := NewMonitor(weeks, h.Tel).CheckForChanges(context.Background())
	require.NoError(t, err)
	require.True(t, result.HadSnapshot)
	require.Len(t, result.Changes.Added, 1)
	require.Equal(t, "PRG", result.Changes.Added[0].SubjectShortName)
}

func TestCheckFailure(t *testing.T) {
	h := harness.New(t, base)
	boom := errors.New("boom")
	_, err := NewMonitor(fakeWeeks{err: boom}, h.Tel).CheckForChanges(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestCheckAgainstPortal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.October, 15, 8, 0, 0, 0, time.UTC)
	h := harness.New(t, now)
	h.Login(t)
	service := timetable.NewService(h.Auth, h.Client, h.Queries, h.MakeTx, h.Clock, h.Tel, timetable.Config{})
	monitor := NewMonitor(service, h.Tel)

	monday := time.Date(2025, time.October, 13, 8, 15, 0, 0, h.Portal.Location)
	lectures := []portaltest.Lecture{
		{ShortName: "MA1", FullName: "Mathematik 1", Start: monday, End: monday.Add(90 * time.Minute), Room: "A 1.01", Lecturers: []string{"Lovelace"}},
		{ShortName: "PRG", FullName: "Programmieren", Start: monday.Add(2 * time.Hour), End: monday.Add(210 * time.Minute), Room: "B 2.13"},
	}
	h.Portal.SetWeek(monday, lectures)

	result, err := monitor.CheckForChanges(ctx)
	require.NoError(t, err)
	require.False(t, result.HadSnapshot)

	lectures[0].Room = "A 1.02"
	h.Portal.SetWeek(monday, lectures)

	result, err = monitor.CheckForChanges(ctx)
	require.NoError(t, err)
	require.True(t, result.HadSnapshot)
	require.Len(t, result.Changes.Modified, 1)
	require.Empty(t, result.Changes.Added)
	require.Empty(t, result.Changes.Removed)
	require.Equal(t, "A 1.02", result.Changes.Modified[0].New.Location)
}

// flakyWeeks fails the refresh of one week a number of times.
type flakyWeeks struct {
	WeekSource
	offset   int
	failures int
}

func (f *flakyWeeks) Week(ctx context.Context, offset int, force bool) ([]timetable.LectureEvent, error) {
	if offset == f.offset && f.failures > 0 {
		f.failures--
		return nil, &portal.NetworkError{Url: "http://portal", Err: errors.New("connection reset")}
	}
	return f.WeekSource.Week(ctx, offset, force)
}

func TestCheckKeepsChangesOfRefreshedWeeks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.October, 15, 8, 0, 0, 0, time.UTC)
	h := harness.New(t, now)
	h.Login(t)
	service := timetable.NewService(h.Auth, h.Client, h.Queries, h.MakeTx, h.Clock, h.Tel, timetable.Config{})
	weeks := &flakyWeeks{WeekSource: service, offset: 1}
	monitor := NewMonitor(weeks, h.Tel, 0, 1)

	monday := time.Date(2025, time.October, 13, 8, 15, 0, 0, h.Portal.Location)
	next := monday.AddDate(0, 0, 7)
	thisWeek := []portaltest.Lecture{
		{ShortName: "MA1", FullName: "Mathematik 1", Start: monday, End: monday.Add(90 * time.Minute), Room: "A 1.01"},
	}
	h.Portal.SetWeek(monday, thisWeek)
	h.Portal.SetWeek(next, []portaltest.Lecture{
		{ShortName: "PRG", FullName: "Programmieren", Start: next, End: next.Add(90 * time.Minute), Room: "B 2.13"},
	})

	_, err := monitor.CheckForChanges(ctx)
	require.NoError(t, err)

	thisWeek[0].Room = "A 1.02"
	h.Portal.SetWeek(monday, thisWeek)
	weeks.failures = 1

	result, err := monitor.CheckForChanges(ctx)
	var networkErr *portal.NetworkError
	require.ErrorAs(t, err, &networkErr)
	require.True(t, result.HadSnapshot)
	require.Len(t, result.Changes.Modified, 1)
	require.Equal(t, "A 1.02", result.Changes.Modified[0].New.Location)

	// the failed week is compared on the next check, week 0 is not reported twice
	result, err = monitor.CheckForChanges(ctx)
	require.NoError(t, err)
	require.True(t, result.Changes.Empty())
}
