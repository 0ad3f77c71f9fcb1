// Package parse turns portal pages into records. Every function is pure, the
// markup assumptions about the portal live here and nowhere else.
package parse

import (
	"errors"
	"regexp"
	"strings"

	"portalsync/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrTokenNotFound means no session token could be found, usually because
	// the portal answered with its login page instead of a redirect.
	ErrTokenNotFound = errors.New("parse: session token not found")
	// ErrLoginPage means the portal served its login page or an access denied
	// page instead of the requested one, the session has expired.
	ErrLoginPage = errors.New("parse: got login page, session expired")
	// ErrUnrecognizedPage means the page is not the expected kind of page.
	ErrUnrecognizedPage = errors.New("parse: unrecognized page")
)

func newDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

var accessDeniedRegex = regexp.MustCompile(`(?i)zugang verweigert|access denied|sitzung ist abgelaufen|session has expired`)

func isLoginPage(doc *goquery.Document) bool {
	if doc.Find(`input[name="usrname"], input[name="pass"]`).Length() > 0 {
		return true
	}
	return accessDeniedRegex.MatchString(htmlutil.Text(doc.Find("body")))
}

// IsLoginPage reports whether `html` is the login page or an access denied
// page.
func IsLoginPage(html string) bool {
	doc, err := newDocument(html)
	if err != nil {
		return false
	}
	return isLoginPage(doc)
}

// unexpectedPage classifies a page missing the expected structure.
func unexpectedPage(doc *goquery.Document) error {
	if isLoginPage(doc) {
		return ErrLoginPage
	}
	return ErrUnrecognizedPage
}

var tokenRegex = regexp.MustCompile(`ARGUMENTS=-N(\d+)`)

// anonymousClientId is passed in ARGUMENTS by pages served without a session.
const anonymousClientId = "000000000000001"

// ParseAuthToken finds the session token in a redirect url, a REFRESH header
// value or an html fragment (ex. a meta refresh).
func ParseAuthToken(s string) (string, error) {
	for _, groups := range tokenRegex.FindAllStringSubmatch(s, -1) {
		token := groups[1]
		if token == anonymousClientId || strings.Trim(token, "0") == "" {
			continue
		}
		return token, nil
	}
	return "", ErrTokenNotFound
}

var greetingRegex = regexp.MustCompile(`(?i)(?:herzlich willkommen|willkommen|welcome),?\s+([^!]+?)\s*!`)

// ParseDisplayName reads the user's name off the start page, it returns ""
// when the page carries none.
func ParseDisplayName(html string) string {
	doc, err := newDocument(html)
	if err != nil {
		return ""
	}

	name := ""
	doc.Find("h1, h2, .pageElementTop").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		groups := greetingRegex.FindStringSubmatch(htmlutil.Text(sel))
		if len(groups) == 2 {
			name = strings.TrimSpace(groups[1])
			return false
		}
		return true
	})
	if name != "" {
		return name
	}

	name = htmlutil.Text(doc.Find(".loginDataName").First())
	if _, after, found := strings.Cut(name, ":"); found {
		name = after
	}
	return strings.TrimSpace(name)
}

var loginErrorRegex = regexp.MustCompile(`(?i)benutzername oder passwort|username or password|anmeldung fehlgeschlagen|login failed`)

// ParseLoginFailure reports whether `html` is a login page telling the user
// that their credentials were rejected.
func ParseLoginFailure(html string) bool {
	doc, err := newDocument(html)
	if err != nil {
		return false
	}
	if !isLoginPage(doc) {
		return false
	}
	if doc.Find(".loginError, #errorMessage, .error").Length() > 0 {
		return true
	}
	return loginErrorRegex.MatchString(htmlutil.Text(doc.Find("body")))
}
