// Package portaltest serves a fake CampusNet portal for tests.
package portaltest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portalsync/internal/portal"
)

type ExpiryMode int

const (
	// ExpireRedirect redirects requests of expired sessions to the login page.
	ExpireRedirect ExpiryMode = iota
	// ExpireAccessDenied answers requests of expired sessions with an access
	// denied page.
	ExpireAccessDenied
)

type Server struct {
	*httptest.Server

	Username    string
	Password    string
	DisplayName string
	Location    *time.Location

	mutex        sync.Mutex
	weeks        map[string][]Lecture
	semesters    []Semester
	grades       map[string][]Module
	sessions     map[string]string
	expiryMode   ExpiryMode
	failStatus   int
	failCount    int
	loginDelay   time.Duration
	tokenCounter int64

	loginAttempts atomic.Int64
	pageRequests  atomic.Int64
	logouts       atomic.Int64
}

// NewServer starts a fake portal accepting `username`/`password`, it is
// closed when the test ends.
func NewServer(t testing.TB, username, password string) *Server {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{
		Username:    username,
		Password:    password,
		DisplayName: "Jane Doe",
		Location:    loc,
		weeks:       map[string][]Lecture{},
		grades:      map[string][]Module{},
		sessions:    map[string]string{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func weekKey(t time.Time) string {
	daysSinceMonday := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-daysSinceMonday, 0, 0, 0, 0, t.Location()).Format("2006-01-02")
}

// SetWeek replaces the lectures of the week containing `day`.
func (s *Server) SetWeek(day time.Time, lectures []Lecture) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.weeks[weekKey(day)] = lectures
}

// SetGrades replaces the semesters and the grades of each semester.
func (s *Server) SetGrades(semesters []Semester, grades map[string][]Module) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.semesters = semesters
	s.grades = grades
}

// SetPassword changes the accepted password, existing sessions stay valid.
func (s *Server) SetPassword(password string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Password = password
}

func (s *Server) SetExpiryMode(mode ExpiryMode) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.expiryMode = mode
}

// ExpireSessions invalidates every session, the next page request of each
// client is treated as expired.
func (s *Server) ExpireSessions() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sessions = map[string]string{}
}

// FailNext answers the next `count` page requests with `status`.
func (s *Server) FailNext(status, count int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.failStatus = status
	s.failCount = count
}

// SetLoginDelay delays every login submission, used to widen races.
func (s *Server) SetLoginDelay(d time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.loginDelay = d
}

// LoginAttempts counts login form submissions, successful or not.
func (s *Server) LoginAttempts() int64 {
	return s.loginAttempts.Load()
}

// PageRequests counts requests of authenticated pages.
func (s *Server) PageRequests() int64 {
	return s.pageRequests.Load()
}

func (s *Server) Logouts() int64 {
	return s.logouts.Load()
}

func programUrl(program string, arguments ...string) string {
	return portal.ScriptPath + "?" + portal.ProgramQuery(program, arguments...).Encode()
}

func writeHtml(w http.ResponseWriter, status int, body string) {
	w.Header().Set("content-type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != portal.ScriptPath {
		http.NotFound(w, r)
		return
	}
	err := r.ParseForm()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	program := strings.ToUpper(r.Form.Get("PRGNAME"))
	arguments := strings.Split(r.Form.Get("ARGUMENTS"), ",")

	switch program {
	case portal.ProgramExternalPages:
		http.SetCookie(w, &http.Cookie{Name: portal.SessionCookie, Value: "0", Path: "/"})
		writeHtml(w, http.StatusOK, RenderLoginPage(false))
	case portal.ProgramLoginCheck:
		s.handleLogin(w, r)
	case portal.ProgramLogout:
		s.logouts.Add(1)
		s.endSession(r)
		http.Redirect(w, r, programUrl(portal.ProgramExternalPages, portal.ClientId, portal.MenuLogin, "-Awelcome"), http.StatusFound)
	case portal.ProgramStartPage:
		if !s.authorize(w, r, arguments) {
			return
		}
		http.Redirect(w, r, programUrl(portal.ProgramStart, arguments...), http.StatusFound)
	case portal.ProgramStart:
		if !s.authorize(w, r, arguments) {
			return
		}
		writeHtml(w, http.StatusOK, RenderStartPage(s.DisplayName))
	case portal.ProgramScheduler:
		if !s.authorize(w, r, arguments) || !s.injectFailure(w) {
			return
		}
		s.handleWeek(w, arguments)
	case portal.ProgramCourseResults:
		if !s.authorize(w, r, arguments) || !s.injectFailure(w) {
			return
		}
		s.handleGrades(w, arguments)
	default:
		writeHtml(w, http.StatusOK, "<html><body><p>Unbekannte Seite</p></body></html>")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.loginAttempts.Add(1)

	s.mutex.Lock()
	delay := s.loginDelay
	expected := s.Password
	s.mutex.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	if r.Method != http.MethodPost ||
		r.PostForm.Get("usrname") != s.Username ||
		r.PostForm.Get("pass") != expected {
		writeHtml(w, http.StatusOK, RenderLoginPage(true))
		return
	}

	raw := make([]byte, 16)
	rand.Read(raw)
	cookie := hex.EncodeToString(raw)

	s.mutex.Lock()
	s.tokenCounter++
	token := fmt.Sprintf("%015d", 100000000000000+s.tokenCounter)
	s.sessions[cookie] = token
	s.mutex.Unlock()

	http.SetCookie(w, &http.Cookie{Name: portal.SessionCookie, Value: cookie, Path: "/"})
	w.Header().Set(
		"REFRESH",
		"0; URL="+programUrl(portal.ProgramStartPage, "-N"+token, portal.MenuStart, "-N000000000000000"),
	)
	writeHtml(w, http.StatusOK, "<html><body></body></html>")
}

func (s *Server) endSession(r *http.Request) {
	cookie, err := r.Cookie(portal.SessionCookie)
	if err != nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.sessions, cookie.Value)
}

// authorize checks that the session cookie and the token argument belong
// together, it answers the request itself when they do not.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, arguments []string) bool {
	s.pageRequests.Add(1)

	token := strings.TrimPrefix(arguments[0], "-N")
	cookie, err := r.Cookie(portal.SessionCookie)

	s.mutex.Lock()
	valid := err == nil && token != "" && s.sessions[cookie.Value] == token
	mode := s.expiryMode
	s.mutex.Unlock()
	if valid {
		return true
	}

	if mode == ExpireAccessDenied {
		writeHtml(w, http.StatusOK, RenderAccessDenied())
		return false
	}
	http.Redirect(w, r, programUrl(portal.ProgramExternalPages, portal.ClientId, portal.MenuLogin, "-Awelcome"), http.StatusFound)
	return false
}

func (s *Server) injectFailure(w http.ResponseWriter) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.failCount <= 0 {
		return true
	}
	s.failCount--
	writeHtml(w, s.failStatus, fmt.Sprintf("<html><body>%d</body></html>", s.failStatus))
	return false
}

func argument(arguments []string, idx int) string {
	if idx >= len(arguments) {
		return ""
	}
	arg := strings.TrimPrefix(arguments[idx], "-A")
	return strings.TrimPrefix(arg, "-N")
}

func (s *Server) handleWeek(w http.ResponseWriter, arguments []string) {
	day, err := time.ParseInLocation("02.01.2006", argument(arguments, 2), s.Location)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	daysSinceMonday := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -daysSinceMonday)

	s.mutex.Lock()
	lectures := s.weeks[weekKey(day)]
	s.mutex.Unlock()

	writeHtml(w, http.StatusOK, RenderWeek(monday, lectures))
}

func (s *Server) handleGrades(w http.ResponseWriter, arguments []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	selected := argument(arguments, 2)
	if selected == "" && len(s.semesters) > 0 {
		selected = s.semesters[0].ID
	}
	writeHtml(w, http.StatusOK, RenderGrades(s.semesters, selected, s.grades[selected]))
}
