package parse

import (
	"regexp"
	"strconv"
	"strings"

	"portalsync/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// GradeRow is one module of the grade view. Grade is nil when the grade is
// not released yet.
type GradeRow struct {
	ModuleNumber string
	ModuleName   string
	Grade        *float64
	Credits      float64
	Status       string
}

type Semester struct {
	ID       string
	Name     string
	Selected bool
}

var decimalRegex = regexp.MustCompile(`^\d+([.,]\d+)?$`)

// ParseDecimal parses a number written with either decimal separator, ok is
// false for placeholders ("-", "noch nicht gesetzt", ...).
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if !decimalRegex.MatchString(s) {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func isGradesPage(doc *goquery.Document) bool {
	return doc.Find("table.nb.list").Length() > 0 || doc.Find("select#semester").Length() > 0
}

func cellText(cell *goquery.Selection) string {
	text := htmlutil.Text(cell)
	if text != "" {
		return text
	}
	// status cells render an icon with a title
	return htmlutil.Clean(cell.Find("img").AttrOr("title", ""))
}

// ParseGrades parses one row per module of the grade view.
func ParseGrades(html string) ([]GradeRow, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	if !isGradesPage(doc) {
		return nil, unexpectedPage(doc)
	}

	rows := []GradeRow{}
	doc.Find("table.nb.list tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td.tbdata, td.tbdata_numeric")
		if cells.Length() < 4 {
			return
		}
		row := GradeRow{
			ModuleNumber: cellText(cells.Eq(0)),
			ModuleName:   cellText(cells.Eq(1)),
		}
		if row.ModuleNumber == "" && row.ModuleName == "" {
			return
		}
		if grade, ok := ParseDecimal(cellText(cells.Eq(2))); ok {
			row.Grade = &grade
		}
		if credits, ok := ParseDecimal(cellText(cells.Eq(3))); ok {
			row.Credits = credits
		}
		if cells.Length() > 4 {
			row.Status = cellText(cells.Eq(4))
		}
		rows = append(rows, row)
	})

	return rows, nil
}

// ParseSemesters reads the options of the grade view's semester selector.
func ParseSemesters(html string) ([]Semester, error) {
	doc, err := newDocument(html)
	if err != nil {
		return nil, err
	}
	selector := doc.Find("select#semester")
	if selector.Length() == 0 {
		return nil, unexpectedPage(doc)
	}

	semesters := []Semester{}
	selector.Find("option").Each(func(_ int, option *goquery.Selection) {
		id := strings.TrimSpace(option.AttrOr("value", ""))
		if id == "" {
			return
		}
		_, selected := option.Attr("selected")
		semesters = append(semesters, Semester{
			ID:       id,
			Name:     htmlutil.Text(option),
			Selected: selected,
		})
	})
	return semesters, nil
}
