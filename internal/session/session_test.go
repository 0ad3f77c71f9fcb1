package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portalsync/internal/components/keystore"
	"portalsync/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) (*Manager, keystore.Store) {
	store := keystore.NewMemory()
	return NewManager(store, telemetry.NewRecordingAPI()), store
}

func TestTransitions(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.Equal(t, NoCredentials, m.State())
	require.False(t, m.IsAuthenticated())

	require.NoError(t, m.StoreCredentials(ctx, Credentials{Username: "jane", Password: "hunter2"}))
	require.Equal(t, CredentialsOnly, m.State())

	require.ErrorIs(t, m.StoreAuthData(ctx, AuthData{UserFullName: "Jane"}), ErrInvalidAuthData)

	require.NoError(t, m.StoreAuthData(ctx, AuthData{SessionID: "abc", AuthToken: "123"}))
	require.Equal(t, Authenticated, m.State())
	require.True(t, m.IsAuthenticated())
	require.Equal(t, uint64(1), m.Generation())

	// storing credentials again keeps the session
	require.NoError(t, m.StoreCredentials(ctx, Credentials{Username: "jane", Password: "hunter3"}))
	require.Equal(t, Authenticated, m.State())

	require.NoError(t, m.ClearAuthData(ctx))
	require.Equal(t, CredentialsOnly, m.State())
	require.False(t, m.IsAuthenticated())
	credentials, ok := m.Credentials()
	require.True(t, ok)
	require.Equal(t, "hunter3", credentials.Password)

	require.NoError(t, m.SetDemoMode(ctx, true))
	require.Equal(t, DemoMode, m.State())
	require.True(t, m.IsAuthenticated())
	_, ok = m.AuthData()
	require.False(t, ok)

	require.NoError(t, m.Logout(ctx))
	require.Equal(t, NoCredentials, m.State())
	require.False(t, m.IsAuthenticated())
	require.False(t, m.IsDemoMode())
}

func TestClearAuthDataWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	require.NoError(t, m.StoreAuthData(ctx, AuthData{AuthToken: "123"}))
	require.NoError(t, m.ClearAuthData(ctx))
	require.Equal(t, NoCredentials, m.State())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t)
	require.NoError(t, store.SetString(ctx, "preferences.notifications", "true"))

	require.NoError(t, m.StoreCredentials(ctx, Credentials{Username: "jane", Password: "hunter2"}))
	require.NoError(t, m.StoreAuthData(ctx, AuthData{
		SessionID:    "abc",
		AuthToken:    "123",
		UserFullName: "Jane Doe",
		Cookie:       &http.Cookie{Name: "cnsc", Value: "abc", Path: "/"},
	}))

	restored := NewManager(store, telemetry.NewRecordingAPI())
	require.NoError(t, restored.Restore(ctx))
	require.Equal(t, Authenticated, restored.State())

	data, ok := restored.AuthData()
	require.True(t, ok)
	require.Equal(t, "Jane Doe", data.UserFullName)
	require.Equal(t, "abc", data.Cookie.Value)

	// logout only removes session keys
	require.NoError(t, restored.Logout(ctx))
	value, err := store.GetString(ctx, "preferences.notifications", "")
	require.NoError(t, err)
	require.Equal(t, "true", value)
	value, err = store.GetString(ctx, "session.password", "")
	require.NoError(t, err)
	require.Equal(t, "", value)

	empty := NewManager(store, telemetry.NewRecordingAPI())
	require.NoError(t, empty.Restore(ctx))
	require.Equal(t, NoCredentials, empty.State())
}

type failingStore struct {
	keystore.Store
}

func (failingStore) SetString(context.Context, string, string) error {
	return errors.New("disk full")
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	tel := telemetry.NewRecordingAPI()
	m := NewManager(failingStore{Store: keystore.NewMemory()}, tel)
	err := m.StoreCredentials(context.Background(), Credentials{Username: "jane", Password: "x"})
	require.Error(t, err)
	require.Equal(t, NoCredentials, m.State())
	require.Len(t, tel.Reports("broken"), 1)
}

func TestReAuthGuard(t *testing.T) {
	m, _ := newManager(t)

	release, ok := m.BeginReAuth()
	require.True(t, ok)
	require.True(t, m.ReAuthenticating())

	_, ok = m.BeginReAuth()
	require.False(t, ok)

	var waited atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.WaitReAuth(context.Background()); err != nil {
			t.Error(err)
		}
		waited.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	require.False(t, waited.Load())
	release()
	release()
	wg.Wait()
	require.True(t, waited.Load())
	require.False(t, m.ReAuthenticating())

	// the guard can be claimed again once released
	release, ok = m.BeginReAuth()
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.WaitReAuth(ctx), context.DeadlineExceeded)
	release()
	require.NoError(t, m.WaitReAuth(context.Background()))
}
