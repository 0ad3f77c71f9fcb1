package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"portalsync/internal/components/assert"
	"portalsync/internal/components/keystore"
	"portalsync/internal/components/telemetry"
)

const (
	report_manager_restore = "manager.restore"
	report_manager_persist = "manager.persist"
)

// keys of the secure key-value store
const (
	keyUsername = "session.username"
	keyPassword = "session.password"
	keyId       = "session.id"
	keyToken    = "session.token"
	keyName     = "session.name"
	keyCookie   = "session.cookie"
	keyDemo     = "session.demo"
)

var sessionKeys = []string{keyUsername, keyPassword, keyId, keyToken, keyName, keyCookie, keyDemo}

type State int

const (
	NoCredentials State = iota
	CredentialsOnly
	Authenticated
	DemoMode
)

func (s State) String() string {
	switch s {
	case NoCredentials:
		return "no credentials"
	case CredentialsOnly:
		return "credentials only"
	case Authenticated:
		return "authenticated"
	case DemoMode:
		return "demo mode"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Credentials struct {
	Username string
	Password string
}

// AuthData describes an established portal session. SessionID is the value
// of the session cookie and AuthToken the token passed in page arguments.
type AuthData struct {
	SessionID    string
	AuthToken    string
	UserFullName string
	Cookie       *http.Cookie
}

// Valid reports whether the data identifies a session at all.
func (a AuthData) Valid() bool {
	return a.SessionID != "" || a.AuthToken != ""
}

var ErrInvalidAuthData = errors.New("session: auth data carries neither a session id nor a token")

// Manager owns the credentials and the session of the user. Every change is
// written to the key-value store before it becomes visible in memory.
type Manager struct {
	store keystore.Store
	tel   telemetry.API

	mutex       sync.RWMutex
	credentials *Credentials
	authData    *AuthData
	demo        bool
	generation  uint64

	reauthMutex sync.Mutex
	reauthing   bool
	reauthDone  chan struct{}
}

func NewManager(store keystore.Store, tel telemetry.API) *Manager {
	assert.NotNil(store)
	assert.NotNil(tel)
	return &Manager{
		store: store,
		tel:   telemetry.NewScopedAPI("session", tel),
	}
}

type persistedCookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Path   string `json:"path,omitempty"`
	Domain string `json:"domain,omitempty"`
}

// Restore loads the persisted state from the key-value store, replacing
// whatever is held in memory.
func (m *Manager) Restore(ctx context.Context) error {
	values := map[string]string{}
	for _, key := range sessionKeys {
		value, err := m.store.GetString(ctx, key, "")
		if err != nil {
			m.tel.ReportBroken(report_manager_restore, err, key)
			return fmt.Errorf("session: restore %s: %w", key, err)
		}
		values[key] = value
	}

	var credentials *Credentials
	if values[keyUsername] != "" {
		credentials = &Credentials{Username: values[keyUsername], Password: values[keyPassword]}
	}

	var authData *AuthData
	candidate := AuthData{
		SessionID:    values[keyId],
		AuthToken:    values[keyToken],
		UserFullName: values[keyName],
	}
	if values[keyCookie] != "" {
		var cookie persistedCookie
		err := json.Unmarshal([]byte(values[keyCookie]), &cookie)
		if err != nil {
			m.tel.ReportWarning(report_manager_restore, fmt.Errorf("discarding persisted cookie: %w", err))
		} else {
			candidate.Cookie = &http.Cookie{Name: cookie.Name, Value: cookie.Value, Path: cookie.Path, Domain: cookie.Domain}
		}
	}
	if candidate.Valid() {
		authData = &candidate
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.credentials = credentials
	m.authData = authData
	m.demo = values[keyDemo] == "true"
	if authData != nil {
		m.generation++
	}
	return nil
}

func (m *Manager) set(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		var err error
		if value == "" {
			err = m.store.Remove(ctx, key)
		} else {
			err = m.store.SetString(ctx, key, value)
		}
		if err != nil {
			m.tel.ReportBroken(report_manager_persist, err, key)
			return fmt.Errorf("session: persist %s: %w", key, err)
		}
	}
	return nil
}

// StoreCredentials keeps the credentials for silent re-logins.
func (m *Manager) StoreCredentials(ctx context.Context, credentials Credentials) error {
	err := m.set(ctx, map[string]string{
		keyUsername: credentials.Username,
		keyPassword: credentials.Password,
	})
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.credentials = &credentials
	return nil
}

// StoreAuthData records a freshly established session and bumps the
// generation.
func (m *Manager) StoreAuthData(ctx context.Context, data AuthData) error {
	if !data.Valid() {
		return ErrInvalidAuthData
	}

	cookie := ""
	if data.Cookie != nil {
		encoded, err := json.Marshal(persistedCookie{
			Name:   data.Cookie.Name,
			Value:  data.Cookie.Value,
			Path:   data.Cookie.Path,
			Domain: data.Cookie.Domain,
		})
		if err != nil {
			return err
		}
		cookie = string(encoded)
	}
	err := m.set(ctx, map[string]string{
		keyId:     data.SessionID,
		keyToken:  data.AuthToken,
		keyName:   data.UserFullName,
		keyCookie: cookie,
	})
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.authData = &data
	m.generation++
	return nil
}

// ClearAuthData forgets the session but keeps the credentials.
func (m *Manager) ClearAuthData(ctx context.Context) error {
	err := m.set(ctx, map[string]string{keyId: "", keyToken: "", keyName: "", keyCookie: ""})
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.authData = nil
	return nil
}

// Logout forgets everything, including the demo flag.
func (m *Manager) Logout(ctx context.Context) error {
	values := map[string]string{}
	for _, key := range sessionKeys {
		values[key] = ""
	}
	err := m.set(ctx, values)

	// memory is cleared even when persisting failed
	m.mutex.Lock()
	m.credentials = nil
	m.authData = nil
	m.demo = false
	m.mutex.Unlock()

	return err
}

func (m *Manager) SetDemoMode(ctx context.Context, enabled bool) error {
	value := ""
	if enabled {
		value = "true"
	}
	err := m.set(ctx, map[string]string{keyDemo: value})
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.demo = enabled
	return nil
}

// IsAuthenticated is true when a session is held or demo mode is on, it
// never contacts the portal.
func (m *Manager) IsAuthenticated() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.demo || (m.authData != nil && m.authData.Valid())
}

func (m *Manager) IsDemoMode() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.demo
}

func (m *Manager) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	switch {
	case m.demo:
		return DemoMode
	case m.authData != nil && m.authData.Valid():
		return Authenticated
	case m.credentials != nil:
		return CredentialsOnly
	}
	return NoCredentials
}

func (m *Manager) Credentials() (Credentials, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.credentials == nil {
		return Credentials{}, false
	}
	return *m.credentials, true
}

func (m *Manager) AuthData() (AuthData, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.authData == nil {
		return AuthData{}, false
	}
	return *m.authData, true
}

// Snapshot returns the auth data together with the generation it belongs to.
func (m *Manager) Snapshot() (AuthData, uint64, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if m.authData == nil {
		return AuthData{}, m.generation, false
	}
	return *m.authData, m.generation, true
}

// Generation increases every time auth data is stored, a caller whose
// request failed under generation N can skip its re-login when the
// generation moved past N meanwhile.
func (m *Manager) Generation() uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.generation
}

// BeginReAuth claims the re-authentication guard. When ok is false another
// caller holds it and WaitReAuth should be used instead. `release` must be
// called exactly once, typically deferred, calling it again is a no-op.
func (m *Manager) BeginReAuth() (release func(), ok bool) {
	m.reauthMutex.Lock()
	defer m.reauthMutex.Unlock()
	if m.reauthing {
		return nil, false
	}
	m.reauthing = true
	done := make(chan struct{})
	m.reauthDone = done

	var once sync.Once
	return func() {
		once.Do(func() {
			m.reauthMutex.Lock()
			defer m.reauthMutex.Unlock()
			m.reauthing = false
			close(done)
		})
	}, true
}

// WaitReAuth blocks until the re-authentication in flight (if any) has
// finished.
func (m *Manager) WaitReAuth(ctx context.Context) error {
	m.reauthMutex.Lock()
	if !m.reauthing {
		m.reauthMutex.Unlock()
		return nil
	}
	done := m.reauthDone
	m.reauthMutex.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) ReAuthenticating() bool {
	m.reauthMutex.Lock()
	defer m.reauthMutex.Unlock()
	return m.reauthing
}
