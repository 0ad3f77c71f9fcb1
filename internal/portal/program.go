package portal

import (
	"net/url"
	"strings"

	"portalsync/internal/components/telemetry"
)

// CampusNet serves every page through a single dispatcher script, the page
// is selected by PRGNAME and its parameters are passed in ARGUMENTS.
const (
	ScriptPath = "/scripts/mgrqispi.dll"
	AppName    = "CampusNet"

	// SessionCookie is the cookie carrying the server-side session.
	SessionCookie = "cnsc"
)

const (
	ProgramLoginCheck    = "LOGINCHECK"
	ProgramExternalPages = "EXTERNALPAGES"
	ProgramStartPage     = "STARTPAGE_DISPATCH"
	ProgramStart         = "MLSSTART"
	ProgramScheduler     = "SCHEDULER"
	ProgramCourseResults = "COURSERESULTS"
	ProgramLogout        = "LOGOUT"
)

// menu ids of the pages the client visits
const (
	MenuLogin   = "-N000324"
	MenuStart   = "-N000019"
	MenuWeek    = "-N000028"
	MenuResults = "-N000307"
	MenuLogout  = "-N001"
	ClientId    = "-N000000000000001"
)

// ProgramQuery builds the query selecting `program` with `arguments`.
func ProgramQuery(program string, arguments ...string) url.Values {
	q := url.Values{}
	q.Set("APPNAME", AppName)
	q.Set("PRGNAME", program)
	q.Set("ARGUMENTS", strings.Join(arguments, ","))
	return q
}

// TokenArgument formats a session token as a CampusNet argument.
func TokenArgument(token string) string {
	return "-N" + token
}

// RedactedQuery returns a copy of `query` with the session token hidden.
// Every program reached after login takes the token as its first argument.
func RedactedQuery(query url.Values) url.Values {
	switch strings.ToUpper(query.Get("PRGNAME")) {
	case "", ProgramExternalPages, ProgramLoginCheck:
		return query
	}
	arguments := strings.Split(query.Get("ARGUMENTS"), ",")
	token, ok := strings.CutPrefix(arguments[0], "-N")
	if !ok || token == "" {
		return query
	}
	arguments[0] = "-N" + telemetry.Redacted(token)

	redacted := url.Values{}
	for key, vals := range query {
		redacted[key] = append([]string(nil), vals...)
	}
	redacted.Set("ARGUMENTS", strings.Join(arguments, ","))
	return redacted
}

// RedactUrl hides the session token in the query of `rawUrl`.
func RedactUrl(rawUrl string) string {
	u, err := url.Parse(rawUrl)
	if err != nil || u.RawQuery == "" {
		return rawUrl
	}
	query := u.Query()
	redacted := RedactedQuery(query)
	if redacted.Get("ARGUMENTS") == query.Get("ARGUMENTS") {
		return rawUrl
	}
	u.RawQuery = redacted.Encode()
	return u.String()
}

// Program returns the PRGNAME of a portal url, it is empty for urls not
// pointing at the dispatcher script.
func Program(u *url.URL) string {
	if u == nil || !strings.EqualFold(u.Path, ScriptPath) {
		return ""
	}
	return strings.ToUpper(u.Query().Get("PRGNAME"))
}

// IsLoginURL reports whether `u` points at the login page or the login
// form handler.
func IsLoginURL(u *url.URL) bool {
	switch Program(u) {
	case ProgramExternalPages, ProgramLoginCheck:
		return true
	}
	return false
}

// LoginForm returns the form fields of a login submission.
func LoginForm(username, password string) url.Values {
	form := url.Values{}
	form.Set("usrname", username)
	form.Set("pass", password)
	form.Set("APPNAME", AppName)
	form.Set("PRGNAME", ProgramLoginCheck)
	form.Set("ARGUMENTS", "clino,usrname,pass,menuno,menu_type,browser,platform")
	form.Set("clino", "000000000000001")
	form.Set("menuno", "000324")
	form.Set("menu_type", "classic")
	form.Set("browser", "")
	form.Set("platform", "")
	return form
}
