package chrono

import (
	"sync"
	"time"
	_ "time/tzdata"
)

// DefaultLocation is the timezone the portal renders its dates in.
const DefaultLocation = "Europe/Berlin"

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in Location().
	Now() time.Time
	Location() *time.Location
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	location *time.Location
}

// NewStandardTime is the constructor of StandardTime, an empty `tz` means DefaultLocation.
func NewStandardTime(tz string) (StandardTime, error) {
	if tz == "" {
		tz = DefaultLocation
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{location: location}, nil
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardTime) Location() *time.Location {
	return s.location
}

// FixedTime is a manually advanced clock for tests.
type FixedTime struct {
	mutex    sync.Mutex
	now      time.Time
	location *time.Location
}

func NewFixedTime(now time.Time) *FixedTime {
	return &FixedTime{now: now, location: now.Location()}
}

func (f *FixedTime) Now() time.Time {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.now
}

func (f *FixedTime) Location() *time.Location {
	return f.location
}

func (f *FixedTime) Set(now time.Time) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = now
}

func (f *FixedTime) Advance(d time.Duration) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.now = f.now.Add(d)
}

// WeekStart returns midnight of the Monday of the week containing `t`,
// shifted by `offset` weeks, in t's location.
func WeekStart(t time.Time, offset int) time.Time {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	monday := time.Date(t.Year(), t.Month(), t.Day()-daysSinceMonday, 0, 0, 0, 0, t.Location())
	return monday.AddDate(0, 0, 7*offset)
}

// WeekEnd is the exclusive end of the week starting at `start`.
func WeekEnd(start time.Time) time.Time {
	return start.AddDate(0, 0, 7)
}
