package portaltest

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// Lecture is an appointment served by the fake week view.
type Lecture struct {
	ShortName string
	FullName  string
	Start     time.Time
	End       time.Time
	Room      string
	Lecturers []string
	Test      bool
}

// Module is a row of the fake grade view, Grade and Credits are rendered
// as is so placeholders can be served.
type Module struct {
	Number  string
	Name    string
	Grade   string
	Credits string
	Status  string
}

type Semester struct {
	ID   string
	Name string
}

var germanWeekdays = []string{"Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag", "Sonntag"}
var shortWeekdays = []string{"Mo", "Di", "Mi", "Do", "Fr", "Sa", "So"}

// RenderWeek renders the week view of the week starting on `monday`.
func RenderWeek(monday time.Time, lectures []Lecture) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html lang="de"><body><div id="pageContent">`)
	b.WriteString(`<table class="nb" rules="all" summary="Stundenplan"><caption>Stundenplan</caption>`)
	b.WriteString(`<tr><td class="scheduleMarginRow"></td>`)
	for i := 0; i < 7; i++ {
		day := monday.AddDate(0, 0, i)
		fmt.Fprintf(&b, `<th class="weekday"><a href="#">%s, %s</a></th>`, shortWeekdays[i], day.Format("02.01.2006"))
	}
	b.WriteString(`</tr><tr><th class="scheduleTime">08:00</th>`)

	columns := map[int]int{}
	for _, l := range lectures {
		dayIdx := (int(l.Start.Weekday()) + 6) % 7
		columns[dayIdx]++
		class := "appointment"
		if l.Test {
			class += " test"
		}
		fmt.Fprintf(
			&b,
			`<td class="%s" rowspan="6" abbr="%s Spalte %d"><span class="timePeriod">%s - %s %s</span><br><a title="%s" href="#">%s</a>`,
			class,
			germanWeekdays[dayIdx],
			columns[dayIdx],
			l.Start.Format("15:04"),
			l.End.Format("15:04"),
			html.EscapeString(l.Room),
			html.EscapeString(l.FullName),
			html.EscapeString(l.ShortName),
		)
		for _, name := range l.Lecturers {
			fmt.Fprintf(&b, `<span class="lecturer">%s</span>`, html.EscapeString(name))
		}
		b.WriteString(`</td>`)
	}
	b.WriteString(`</tr></table></div></body></html>`)
	return b.String()
}

// RenderGrades renders the grade view with `selected` as the chosen semester.
func RenderGrades(semesters []Semester, selected string, modules []Module) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html lang="de"><body><form><select id="semester" name="semester">`)
	for _, s := range semesters {
		attr := ""
		if s.ID == selected {
			attr = ` selected="selected"`
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, s.ID, attr, html.EscapeString(s.Name))
	}
	b.WriteString(`</select></form>`)
	b.WriteString(`<table class="nb list"><thead><tr><th>Nr.</th><th>Name</th><th>Endnote</th><th>Credits</th><th>Status</th></tr></thead><tbody>`)
	for _, m := range modules {
		fmt.Fprintf(
			&b,
			`<tr><td class="tbdata">%s</td><td class="tbdata">%s</td><td class="tbdata_numeric">%s</td><td class="tbdata_numeric">%s</td><td class="tbdata">%s</td></tr>`,
			html.EscapeString(m.Number),
			html.EscapeString(m.Name),
			html.EscapeString(m.Grade),
			html.EscapeString(m.Credits),
			html.EscapeString(m.Status),
		)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func RenderStartPage(displayName string) string {
	return fmt.Sprintf(
		`<!DOCTYPE html><html lang="de"><body><div id="pageContent"><h1>Herzlich willkommen, %s!</h1></div></body></html>`,
		html.EscapeString(displayName),
	)
}

// RenderLoginPage renders the login form, with an error message when
// `failed` is true.
func RenderLoginPage(failed bool) string {
	message := ""
	if failed {
		message = `<div class="loginError">Benutzername oder Passwort falsch.</div>`
	}
	return `<!DOCTYPE html><html lang="de"><body><form id="cn_loginForm" action="/scripts/mgrqispi.dll" method="post">` +
		message +
		`<input type="text" name="usrname"><input type="password" name="pass"><input type="submit" value="Anmelden"></form></body></html>`
}

func RenderAccessDenied() string {
	return `<!DOCTYPE html><html lang="de"><body><h1>Zugang verweigert</h1><p>Ihre Sitzung ist abgelaufen.</p></body></html>`
}
