package parse

import (
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"portalsync/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// Lecture is one appointment of the week view.
type Lecture struct {
	ShortName string
	FullName  string
	Start     time.Time
	End       time.Time
	Location  string
	Lecturers []string
	IsTest    bool
}

var weekdays = map[string]int{
	"montag": 0, "monday": 0, "mo": 0,
	"dienstag": 1, "tuesday": 1, "di": 1, "tu": 1,
	"mittwoch": 2, "wednesday": 2, "mi": 2, "we": 2,
	"donnerstag": 3, "thursday": 3, "do": 3, "th": 3,
	"freitag": 4, "friday": 4, "fr": 4,
	"samstag": 5, "saturday": 5, "sa": 5,
	"sonntag": 6, "sunday": 6, "so": 6, "su": 6,
}

var (
	dateRegex       = regexp.MustCompile(`(\d{1,2})\.(\d{1,2})\.(\d{4})`)
	timePeriodRegex = regexp.MustCompile(`^(\d{1,2}):(\d{2})\s*-\s*(\d{1,2}):(\d{2})\s*(.*)$`)
	testCueRegex    = regexp.MustCompile(`(?i)klausur|prüfung|\bexam\b|\btest\b`)
)

// ParseWeek parses the week view into lectures ordered by start time then
// subject. Times are interpreted in `loc`.
func ParseWeek(html string, loc *time.Location) ([]Lecture, error) {
	lectures, _, err := ParseWeekWithStats(html, loc)
	return lectures, err
}

// ParseWeekWithStats is ParseWeek that also returns how many appointment
// cells were skipped because they did not yield a valid time interval.
func ParseWeekWithStats(html string, loc *time.Location) ([]Lecture, int, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, 0, err
	}

	table := doc.Find(`table[summary="Stundenplan"]`).First()
	if table.Length() == 0 {
		return nil, 0, unexpectedPage(doc)
	}

	var days []time.Time
	table.Find("th.weekday").Each(func(_ int, th *goquery.Selection) {
		groups := dateRegex.FindStringSubmatch(htmlutil.Text(th))
		if len(groups) != 4 {
			return
		}
		day, _ := strconv.Atoi(groups[1])
		month, _ := strconv.Atoi(groups[2])
		year, _ := strconv.Atoi(groups[3])
		days = append(days, time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc))
	})
	if len(days) == 0 {
		return nil, 0, ErrUnrecognizedPage
	}

	var lectures []Lecture
	skipped := 0
	seen := map[string]int{}
	table.Find("td.appointment").Each(func(_ int, cell *goquery.Selection) {
		lecture, ok := parseAppointment(cell, days)
		if !ok {
			skipped++
			return
		}
		key := lecture.ShortName + "|" + lecture.Start.String() + "|" + lecture.End.String()
		if idx, ok := seen[key]; ok {
			lectures[idx] = mergeAppointments(lectures[idx], lecture)
			return
		}
		seen[key] = len(lectures)
		lectures = append(lectures, lecture)
	})

	sort.SliceStable(lectures, func(i, j int) bool {
		if !lectures[i].Start.Equal(lectures[j].Start) {
			return lectures[i].Start.Before(lectures[j].Start)
		}
		return lectures[i].ShortName < lectures[j].ShortName
	})

	return lectures, skipped, nil
}

// mergeAppointments folds a second cell of the same lecture (ex. a lecture
// held in two rooms at once) into the first one.
func mergeAppointments(into, other Lecture) Lecture {
	if other.Location != "" && !slices.Contains(strings.Split(into.Location, ", "), other.Location) {
		if into.Location == "" {
			into.Location = other.Location
		} else {
			into.Location += ", " + other.Location
		}
	}
	for _, name := range other.Lecturers {
		if !slices.Contains(into.Lecturers, name) {
			into.Lecturers = append(into.Lecturers, name)
		}
	}
	into.IsTest = into.IsTest || other.IsTest
	return into
}

// weekdayOf maps the abbr of a cell ("Montag Spalte 1") to a day index.
func weekdayOf(abbr string) (int, bool) {
	fields := strings.Fields(strings.ToLower(abbr))
	if len(fields) == 0 {
		return 0, false
	}
	day, ok := weekdays[strings.TrimSuffix(fields[0], ",")]
	return day, ok
}

func parseAppointment(cell *goquery.Selection, days []time.Time) (Lecture, bool) {
	dayIdx, ok := weekdayOf(cell.AttrOr("abbr", ""))
	if !ok {
		return Lecture{}, false
	}
	// weekday headers may start later than monday or leave out the weekend
	var day time.Time
	found := false
	for _, d := range days {
		if (int(d.Weekday())+6)%7 == dayIdx {
			day = d
			found = true
			break
		}
	}
	if !found {
		return Lecture{}, false
	}

	period := timePeriodRegex.FindStringSubmatch(htmlutil.Text(cell.Find("span.timePeriod").First()))
	if len(period) != 6 {
		return Lecture{}, false
	}
	startH, _ := strconv.Atoi(period[1])
	startM, _ := strconv.Atoi(period[2])
	endH, _ := strconv.Atoi(period[3])
	endM, _ := strconv.Atoi(period[4])
	if startH > 23 || endH > 24 || startM > 59 || endM > 59 {
		return Lecture{}, false
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, day.Location())
	end := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, day.Location())
	if !start.Before(end) {
		return Lecture{}, false
	}

	anchor := cell.Find("a").First()
	shortName := htmlutil.Text(anchor)
	fullName := htmlutil.Clean(anchor.AttrOr("title", ""))
	if shortName == "" {
		shortName = fullName
	}
	if shortName == "" {
		return Lecture{}, false
	}

	var lecturers []string
	cell.Find("span.lecturer").Each(func(_ int, sel *goquery.Selection) {
		name := htmlutil.Text(sel)
		if name != "" {
			lecturers = append(lecturers, name)
		}
	})

	isTest := cell.HasClass("test") ||
		cell.Find("span.test").Length() > 0 ||
		testCueRegex.MatchString(fullName) ||
		testCueRegex.MatchString(shortName)

	return Lecture{
		ShortName: shortName,
		FullName:  fullName,
		Start:     start,
		End:       end,
		Location:  strings.TrimSpace(period[5]),
		Lecturers: lecturers,
		IsTest:    isTest,
	}, true
}
