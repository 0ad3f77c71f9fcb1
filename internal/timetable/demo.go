package timetable

import "time"

type demoLecture struct {
	day       int
	hour      int
	minutes   int
	duration  time.Duration
	short     string
	full      string
	location  string
	lecturers []string
	test      bool
}

var demoLectures = []demoLecture{
	{0, 8, 15, 90 * time.Minute, "MA1", "Mathematik 1", "A 1.01", []string{"Prof. Dr. Ada Lovelace"}, false},
	{0, 10, 0, 90 * time.Minute, "PRG", "Programmieren", "B 2.13", []string{"Dr. Alan Turing"}, false},
	{1, 9, 45, 90 * time.Minute, "TI1", "Technische Informatik 1", "C 0.07", []string{"Prof. Dr. Grace Hopper", "Dr. Alan Turing"}, false},
	{2, 13, 0, 90 * time.Minute, "LA", "Lineare Algebra", "A 1.01", []string{"Prof. Dr. Emmy Noether"}, false},
	{3, 8, 15, 180 * time.Minute, "PRG", "Programmieren Praktikum", "Labor 3", []string{"Dr. Alan Turing"}, false},
	{4, 10, 0, 120 * time.Minute, "MA1", "Mathematik 1 Klausur", "Audimax", nil, true},
}

// DemoWeek returns the canned lectures of the week starting at `weekStart`
// served in demo mode.
func DemoWeek(weekStart, now time.Time) []LectureEvent {
	events := make([]LectureEvent, 0, len(demoLectures))
	for _, d := range demoLectures {
		start := time.Date(
			weekStart.Year(), weekStart.Month(), weekStart.Day()+d.day,
			d.hour, d.minutes, 0, 0,
			weekStart.Location(),
		)
		end := start.Add(d.duration)
		e := LectureEvent{
			ID:               EventID(d.short, start, end),
			SubjectShortName: d.short,
			SubjectFullName:  d.full,
			Start:            start,
			End:              end,
			Location:         d.location,
			IsTest:           d.test,
			FetchedAt:        now,
		}
		for i, name := range d.lecturers {
			e.Lecturers = append(e.Lecturers, Lecturer{ID: int64(i + 1), Name: name})
		}
		events = append(events, e)
	}
	return events
}
