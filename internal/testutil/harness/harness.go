// Package harness wires the services against a fake portal and an
// in-memory cache for tests.
package harness

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"portalsync/internal/auth"
	"portalsync/internal/components/chrono"
	"portalsync/internal/components/db"
	"portalsync/internal/components/keystore"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/portal"
	"portalsync/internal/portal/portaltest"
	"portalsync/internal/session"
	"portalsync/internal/testutil"
)

const (
	Username = "jane.doe"
	Password = "hunter2"
)

type Harness struct {
	Portal  *portaltest.Server
	Client  *portal.Client
	Store   keystore.Store
	Session *session.Manager
	Auth    *auth.Service
	DB      *sql.DB
	Queries *db.Queries
	MakeTx  db.MakeTx
	Clock   *chrono.FixedTime
	Tel     *telemetry.RecordingAPI
}

// New returns a harness whose clock reads `now`, nobody is logged in yet.
func New(t testing.TB, now time.Time) Harness {
	t.Helper()

	setup := testutil.SetupService(t, testutil.ServiceParams{DbSchema: db.Schema})
	srv := portaltest.NewServer(t, Username, Password)

	client, err := portal.NewClient(portal.Config{
		BaseUrl:           srv.URL,
		RequestsPerSecond: 1000,
	}, setup.Tel)
	if err != nil {
		t.Fatal(err)
	}

	store := keystore.NewMemory()
	sessions := session.NewManager(store, setup.Tel)

	return Harness{
		Portal:  srv,
		Client:  client,
		Store:   store,
		Session: sessions,
		Auth:    auth.NewService(client, sessions, setup.Tel),
		DB:      setup.DB,
		Queries: db.New(setup.DB),
		MakeTx:  db.NewMakeTx(setup.DB),
		Clock:   chrono.NewFixedTime(now.In(srv.Location)),
		Tel:     setup.Tel,
	}
}

// Login logs into the fake portal with the harness credentials.
func (h Harness) Login(t testing.TB) {
	t.Helper()
	_, err := h.Auth.Login(context.Background(), Username, Password)
	if err != nil {
		t.Fatal(err)
	}
}

// LoginDemo enters demo mode.
func (h Harness) LoginDemo(t testing.TB) {
	t.Helper()
	_, err := h.Auth.Login(context.Background(), auth.DemoUsername, auth.DemoPassword)
	if err != nil {
		t.Fatal(err)
	}
}
