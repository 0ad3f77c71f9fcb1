package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/portal"
	"portalsync/internal/portal/parse"
	"portalsync/internal/session"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("portalsync/auth")

const (
	report_service_login   = "service.login"
	report_service_logout  = "service.logout"
	report_service_reauth  = "service.reauth"
	report_service_restore = "service.restore"
)

// Demo credentials log into a canned offline session without touching the
// portal.
const (
	DemoUsername    = "demo@portalsync.app"
	DemoPassword    = "demo"
	DemoDisplayName = "Demo Student"
)

var (
	// ErrInvalidCredentials is terminal, the login must not be retried with
	// the same credentials.
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	// ErrSessionExpired means the session is gone and could not be renewed.
	ErrSessionExpired = errors.New("auth: session expired")
	// ErrNoCredentials means a re-login was needed but no credentials are
	// stored.
	ErrNoCredentials = fmt.Errorf("%w: no stored credentials", ErrSessionExpired)
)

const logoutTimeout = 5 * time.Second

// Purger drops cached data belonging to the user, run on logout.
type Purger interface {
	Purge(ctx context.Context) error
}

type Service struct {
	client  *portal.Client
	session *session.Manager
	tel     telemetry.API

	purgersMutex sync.Mutex
	purgers      []Purger
}

func NewService(client *portal.Client, sessions *session.Manager, tel telemetry.API) *Service {
	assert.NotNil(client)
	assert.NotNil(sessions)
	assert.NotNil(tel)
	return &Service{
		client:  client,
		session: sessions,
		tel:     telemetry.NewScopedAPI("auth", tel),
	}
}

// RegisterPurger adds a cache to be purged on logout.
func (s *Service) RegisterPurger(p Purger) {
	s.purgersMutex.Lock()
	defer s.purgersMutex.Unlock()
	s.purgers = append(s.purgers, p)
}

func (s *Service) Session() *session.Manager {
	return s.session
}

// Restore loads the persisted session and hands its cookie back to the
// portal client.
func (s *Service) Restore(ctx context.Context) error {
	err := s.session.Restore(ctx)
	if err != nil {
		s.tel.ReportBroken(report_service_restore, err)
		return err
	}
	data, ok := s.session.AuthData()
	if ok && data.Cookie != nil && !s.session.IsDemoMode() {
		s.client.SetCookie(data.Cookie)
		s.tel.ReportDebug("restored session cookie", data.Cookie.Name)
	}
	return nil
}

// IsDemoLogin reports whether the credentials are the demo sentinel.
func IsDemoLogin(username, password string) bool {
	return strings.EqualFold(strings.TrimSpace(username), DemoUsername) && password == DemoPassword
}

// Login authenticates against the portal and stores the credentials and the
// session. ErrInvalidCredentials is returned when the portal rejected the
// credentials, *portal.NetworkError and *portal.HttpError when it could not
// be reached.
func (s *Service) Login(ctx context.Context, username, password string) (session.AuthData, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()
	span.SetAttributes(attribute.String("username", username))

	if IsDemoLogin(username, password) {
		return s.loginDemo(ctx)
	}

	data, err := s.login(ctx, session.Credentials{Username: username, Password: password})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return session.AuthData{}, err
	}
	return data, nil
}

func (s *Service) loginDemo(ctx context.Context) (session.AuthData, error) {
	id, err := random.String(16)
	if err != nil {
		return session.AuthData{}, err
	}
	token, err := random.String(16)
	if err != nil {
		return session.AuthData{}, err
	}
	data := session.AuthData{
		SessionID:    "demo-" + id,
		AuthToken:    "demo-" + token,
		UserFullName: DemoDisplayName,
	}

	err = s.session.StoreCredentials(ctx, session.Credentials{Username: DemoUsername, Password: DemoPassword})
	if err != nil {
		return session.AuthData{}, err
	}
	err = s.session.StoreAuthData(ctx, data)
	if err != nil {
		return session.AuthData{}, err
	}
	err = s.session.SetDemoMode(ctx, true)
	if err != nil {
		return session.AuthData{}, err
	}
	s.tel.ReportDebug("demo login", DemoUsername)
	return data, nil
}

// login runs the portal's login flow and stores its outcome.
func (s *Service) login(ctx context.Context, credentials session.Credentials) (session.AuthData, error) {
	s.tel.ReportDebug("login", credentials.Username, telemetry.Redacted(credentials.Password))

	// visiting the login page first hands out the initial cookie
	_, err := s.client.Get(
		ctx,
		portal.ScriptPath,
		portal.ProgramQuery(portal.ProgramExternalPages, portal.ClientId, portal.MenuLogin, "-Awelcome"),
		nil,
	)
	if err != nil {
		s.tel.ReportWarning(report_service_login, fmt.Errorf("fetch login page: %w", err))
		return session.AuthData{}, err
	}

	res, err := s.client.PostForm(
		ctx,
		portal.ScriptPath,
		portal.LoginForm(credentials.Username, credentials.Password),
	)
	if err != nil {
		s.tel.ReportWarning(report_service_login, fmt.Errorf("submit login form: %w", err))
		return session.AuthData{}, err
	}

	token, err := tokenFromResponse(res)
	if err != nil {
		if parse.ParseLoginFailure(res.Body) || parse.IsLoginPage(res.Body) {
			s.tel.ReportDebug("login rejected", credentials.Username)
			return session.AuthData{}, ErrInvalidCredentials
		}
		s.tel.ReportBroken(report_service_login, err, res.StatusCode)
		return session.AuthData{}, err
	}

	displayName := ""
	startPage, err := s.client.Get(
		ctx,
		portal.ScriptPath,
		portal.ProgramQuery(portal.ProgramStartPage, portal.TokenArgument(token), portal.MenuStart, "-N000000000000000"),
		nil,
	)
	switch {
	case errors.Is(err, portal.ErrLoginRedirect):
		err = fmt.Errorf("auth: portal rejected the new session: %w", err)
		s.tel.ReportBroken(report_service_login, err)
		return session.AuthData{}, err
	case err != nil:
		// the display name is optional
		s.tel.ReportWarning(report_service_login, fmt.Errorf("fetch start page: %w", err))
	default:
		displayName = parse.ParseDisplayName(startPage)
	}

	data := session.AuthData{
		AuthToken:    token,
		UserFullName: displayName,
	}
	if cookie := s.client.Cookie(portal.SessionCookie); cookie != nil {
		data.SessionID = cookie.Value
		data.Cookie = cookie
	}

	err = s.session.StoreCredentials(ctx, credentials)
	if err != nil {
		return session.AuthData{}, err
	}
	err = s.session.StoreAuthData(ctx, data)
	if err != nil {
		return session.AuthData{}, err
	}
	err = s.session.SetDemoMode(ctx, false)
	if err != nil {
		return session.AuthData{}, err
	}
	return data, nil
}

// tokenFromResponse looks for the session token in every place the portal
// has been seen to put it.
func tokenFromResponse(res portal.Response) (string, error) {
	candidates := []string{
		res.Header.Get("REFRESH"),
		res.Header.Get("Location"),
	}
	if res.Url != nil {
		candidates = append(candidates, res.Url.String())
	}
	candidates = append(candidates, res.Body)

	for _, c := range candidates {
		if c == "" {
			continue
		}
		token, err := parse.ParseAuthToken(c)
		if err == nil {
			return token, nil
		}
	}
	return "", parse.ErrTokenNotFound
}

// IsAuthenticated reports whether a session or demo mode is held, it never
// contacts the portal.
func (s *Service) IsAuthenticated() bool {
	return s.session.IsAuthenticated()
}

// IsSessionExpired reports whether err signals an expired portal session.
func IsSessionExpired(err error) bool {
	return errors.Is(err, parse.ErrLoginPage) || errors.Is(err, portal.ErrLoginRedirect)
}

// Authorized runs fn with a valid session. A missing session is established
// from the stored credentials first. When fn fails because the session
// expired, the session is renewed once and fn is retried exactly once.
// Concurrent callers share a single re-login.
func (s *Service) Authorized(ctx context.Context, fn func(ctx context.Context, data session.AuthData) error) error {
	data, generation, ok := s.session.Snapshot()
	if s.session.IsDemoMode() {
		return fn(ctx, data)
	}
	if !ok {
		err := s.reauthenticate(ctx, generation)
		if err != nil {
			return err
		}
		data, generation, ok = s.session.Snapshot()
		if !ok {
			return ErrSessionExpired
		}
	}

	err := fn(ctx, data)
	if !IsSessionExpired(err) {
		return err
	}
	s.tel.ReportDebug("session expired, re-authenticating", generation)

	err = s.reauthenticate(ctx, generation)
	if err != nil {
		return err
	}
	data, _, ok = s.session.Snapshot()
	if !ok {
		return ErrSessionExpired
	}
	return fn(ctx, data)
}

// reauthenticate logs in again with the stored credentials unless the
// session was already renewed after `failedGeneration`.
func (s *Service) reauthenticate(ctx context.Context, failedGeneration uint64) error {
	release, ok := s.session.BeginReAuth()
	if !ok {
		err := s.session.WaitReAuth(ctx)
		if err != nil {
			return err
		}
		if s.session.Generation() != failedGeneration {
			return nil
		}
		return fmt.Errorf("%w: concurrent re-login failed", ErrSessionExpired)
	}
	defer release()

	if s.session.Generation() != failedGeneration {
		return nil
	}

	credentials, ok := s.session.Credentials()
	if !ok {
		return ErrNoCredentials
	}
	_, err := s.login(ctx, credentials)
	if err != nil {
		s.tel.ReportWarning(report_service_reauth, err)
		return err
	}
	return nil
}

// Logout ends the portal session (best effort), forgets the local session
// and purges every registered cache.
func (s *Service) Logout(ctx context.Context) error {
	data, ok := s.session.AuthData()
	if ok && !s.session.IsDemoMode() && data.AuthToken != "" {
		logoutCtx, cancel := context.WithTimeout(ctx, logoutTimeout)
		_, err := s.client.Get(
			logoutCtx,
			portal.ScriptPath,
			portal.ProgramQuery(portal.ProgramLogout, portal.TokenArgument(data.AuthToken), portal.MenuLogout),
			nil,
		)
		cancel()
		// the portal answers a logout with its login page
		if err != nil && !errors.Is(err, portal.ErrLoginRedirect) {
			s.tel.ReportWarning(report_service_logout, err)
		}
	}

	var errs []error
	err := s.client.ClearCookies()
	if err != nil {
		errs = append(errs, err)
	}
	err = s.session.Logout(ctx)
	if err != nil {
		errs = append(errs, err)
	}

	s.purgersMutex.Lock()
	purgers := append([]Purger(nil), s.purgers...)
	s.purgersMutex.Unlock()
	for _, p := range purgers {
		err := p.Purge(ctx)
		if err != nil {
			s.tel.ReportBroken(report_service_logout, fmt.Errorf("purge: %w", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
