package parse

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"portalsync/internal/portal/portaltest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T, name string) string {
	t.Helper()
	contents, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(contents)
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func TestParseAuthToken(t *testing.T) {
	cases := []struct {
		name  string
		input string
		token string
		err   error
	}{
		{
			name:  "refresh header",
			input: "0; URL=/scripts/mgrqispi.dll?APPNAME=CampusNet&PRGNAME=STARTPAGE_DISPATCH&ARGUMENTS=-N123456789012345,-N000019,-N000000000000000",
			token: "123456789012345",
		},
		{
			name:  "redirect url",
			input: "https://portal.example/scripts/mgrqispi.dll?APPNAME=CampusNet&PRGNAME=MLSSTART&ARGUMENTS=-N987654321098765,-N000019,",
			token: "987654321098765",
		},
		{
			name:  "url encoded arguments",
			input: "/scripts/mgrqispi.dll?APPNAME=CampusNet&PRGNAME=MLSSTART&ARGUMENTS=-N555%2C-N000019",
			token: "555",
		},
		{
			name:  "meta refresh",
			input: fixture(t, "login_redirect.html"),
			token: "123456789012345",
		},
		{
			name:  "anonymous links only",
			input: fixture(t, "login.html"),
			err:   ErrTokenNotFound,
		},
		{
			name:  "login failure page",
			input: fixture(t, "login_failed.html"),
			err:   ErrTokenNotFound,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			token, err := ParseAuthToken(c.input)
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, c.token, token)
		})
	}
}

func TestParseDisplayName(t *testing.T) {
	require.Equal(t, "Jane Doe", ParseDisplayName(fixture(t, "start.html")))
	require.Equal(t, "Max Mustermann", ParseDisplayName(`<div class="loginDataName"><b>Name:</b> Max Mustermann</div>`))
	require.Equal(t, "John Smith", ParseDisplayName(`<h1>Welcome, John Smith!</h1>`))
	require.Equal(t, "", ParseDisplayName(fixture(t, "login.html")))
	require.Equal(t, "", ParseDisplayName(""))
}

func TestParseLoginFailure(t *testing.T) {
	require.True(t, ParseLoginFailure(fixture(t, "login_failed.html")))
	require.False(t, ParseLoginFailure(fixture(t, "login.html")))
	require.False(t, ParseLoginFailure(fixture(t, "start.html")))
}

func TestParseWeek(t *testing.T) {
	loc := berlin(t)
	at := func(day, hour, minute int) time.Time {
		return time.Date(2025, 10, day, hour, minute, 0, 0, loc)
	}

	lectures, skipped, err := ParseWeekWithStats(fixture(t, "week.html"), loc)
	require.NoError(t, err)
	require.Equal(t, 1, skipped)

	expected := []Lecture{
		{
			ShortName: "MA1", FullName: "Mathematik I",
			Start: at(13, 8, 30), End: at(13, 10, 0),
			Location:  "Raum 1.23",
			Lecturers: []string{"Prof. Dr. Maier", "Dr. Lena Vogt"},
		},
		{
			ShortName: "TI1", FullName: "Theoretische Informatik I",
			Start: at(13, 10, 15), End: at(13, 11, 45),
			Location:  "Raum 2.04",
			Lecturers: []string{"Prof. Dr. Anna Schmidt"},
		},
		{
			ShortName: "PRG", FullName: "Programmieren",
			Start: at(15, 13, 0), End: at(15, 14, 30),
		},
		{
			ShortName: "LA", FullName: "Lineare Algebra",
			Start: at(16, 9, 0), End: at(16, 11, 0),
			Location:  "Audimax",
			Lecturers: []string{"Prof. Dr. Maier"},
			IsTest:    true,
		},
		{
			ShortName: "RA", FullName: "Klausur Rechnerarchitektur",
			Start: at(17, 8, 0), End: at(17, 9, 30),
			Location: "Labor 3",
			IsTest:   true,
		},
	}
	if diff := cmp.Diff(expected, lectures); diff != "" {
		t.Fatalf("unexpected lectures (-want +got):\n%s", diff)
	}

	for _, l := range lectures {
		require.True(t, l.Start.Before(l.End), l.ShortName)
	}
}

func TestParseWeekEmpty(t *testing.T) {
	lectures, err := ParseWeek(fixture(t, "week_empty.html"), berlin(t))
	require.NoError(t, err)
	require.Empty(t, lectures)
}

func TestParseWeekFailures(t *testing.T) {
	_, err := ParseWeek(fixture(t, "login.html"), berlin(t))
	require.ErrorIs(t, err, ErrLoginPage)

	_, err = ParseWeek(fixture(t, "access_denied.html"), berlin(t))
	require.ErrorIs(t, err, ErrLoginPage)

	_, err = ParseWeek(fixture(t, "grades.html"), berlin(t))
	require.ErrorIs(t, err, ErrUnrecognizedPage)

	_, err = ParseWeek(`<table summary="Stundenplan"><tr><th class="weekday">Montag</th></tr></table>`, berlin(t))
	require.ErrorIs(t, err, ErrUnrecognizedPage)
}

func ptr(f float64) *float64 {
	return &f
}

func TestParseGrades(t *testing.T) {
	rows, err := ParseGrades(fixture(t, "grades.html"))
	require.NoError(t, err)

	expected := []GradeRow{
		{ModuleNumber: "T3INF1001", ModuleName: "Mathematik I", Grade: ptr(1.3), Credits: 8, Status: "bestanden"},
		{ModuleNumber: "T3INF1002", ModuleName: "Theoretische Informatik I", Credits: 5},
		{ModuleNumber: "T3INF1003", ModuleName: "Programmieren", Grade: ptr(2.7), Credits: 9, Status: "bestanden"},
		{ModuleNumber: "T3INF1004", ModuleName: "Web Engineering", Credits: 5, Status: "offen"},
	}
	if diff := cmp.Diff(expected, rows); diff != "" {
		t.Fatalf("unexpected grades (-want +got):\n%s", diff)
	}
}

func TestParseGradesFailures(t *testing.T) {
	_, err := ParseGrades(fixture(t, "access_denied.html"))
	require.ErrorIs(t, err, ErrLoginPage)

	_, err = ParseGrades(fixture(t, "week.html"))
	require.ErrorIs(t, err, ErrUnrecognizedPage)

	rows, err := ParseGrades(`<select id="semester"><option value="1">WiSe</option></select>`)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestParseDecimal(t *testing.T) {
	value, ok := ParseDecimal("1,3")
	require.True(t, ok)
	require.Equal(t, 1.3, value)

	value, ok = ParseDecimal(" 4.0 ")
	require.True(t, ok)
	require.Equal(t, 4.0, value)

	for _, placeholder := range []string{"", "-", "noch nicht gesetzt", "n.a.", "1,3,4", "b"} {
		_, ok := ParseDecimal(placeholder)
		require.False(t, ok, placeholder)
	}
}

func TestParseSemesters(t *testing.T) {
	semesters, err := ParseSemesters(fixture(t, "grades.html"))
	require.NoError(t, err)
	require.Equal(t, []Semester{
		{ID: "000000015048000", Name: "WiSe 2025/26", Selected: true},
		{ID: "000000015038000", Name: "SoSe 2025"},
	}, semesters)

	_, err = ParseSemesters(fixture(t, "login.html"))
	require.ErrorIs(t, err, ErrLoginPage)
}

func TestParseWeekMergesSplitRooms(t *testing.T) {
	loc := berlin(t)
	monday := time.Date(2025, 10, 13, 0, 0, 0, 0, loc)
	start := time.Date(2025, 10, 13, 8, 30, 0, 0, loc)
	end := start.Add(90 * time.Minute)

	page := portaltest.RenderWeek(monday, []portaltest.Lecture{
		{ShortName: "MA1", FullName: "Mathematik I", Start: start, End: end, Room: "Raum 1.23", Lecturers: []string{"Prof. Dr. Maier"}},
		{ShortName: "MA1", FullName: "Mathematik I", Start: start, End: end, Room: "Raum 1.24", Lecturers: []string{"Dr. Lena Vogt"}},
		{ShortName: "MA1", FullName: "Mathematik I", Start: start, End: end, Room: "Raum 1.24", Lecturers: []string{"Dr. Lena Vogt"}},
	})

	lectures, skipped, err := ParseWeekWithStats(page, loc)
	require.NoError(t, err)
	require.Zero(t, skipped)
	require.Len(t, lectures, 1)
	require.Equal(t, "Raum 1.23, Raum 1.24", lectures[0].Location)
	require.Equal(t, []string{"Prof. Dr. Maier", "Dr. Lena Vogt"}, lectures[0].Lecturers)
}
