package keystore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"portalsync/internal/components/telemetry"
	"portalsync/pkg/migrations"
)

//go:embed schema.sql
var Schema string

// Store is an opaque string map, implementations may encrypt values at rest.
type Store interface {
	SetString(ctx context.Context, key, value string) error
	// GetString returns `def` when `key` is not present.
	GetString(ctx context.Context, key, def string) (string, error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

var ErrWrongPassphrase = errors.New("keystore: wrong passphrase")
var ErrNoPassphrase = errors.New("keystore: no passphrase configured")

// PassphraseEnv is read when the configuration carries no passphrase.
const PassphraseEnv = "PORTALSYNC_KEYSTORE_PASSPHRASE"

type Config struct {
	// Path of the sqlite file (or libsql url) holding sealed entries.
	Path       string `json:"path"`
	Passphrase string `json:"passphrase"`
	// AllowMemoryFallback opts into a non-persistent store when the secure
	// store cannot be opened, ex. sandboxed test runs.
	AllowMemoryFallback bool `json:"allow_memory_fallback"`
}

const report_open = "open"

// Open opens the sealed sqlite store described by `config`. A failure is
// returned as is unless AllowMemoryFallback is set, then it is reported and
// an empty Memory store is returned instead.
func Open(ctx context.Context, config Config, tel telemetry.API) (Store, error) {
	tel = telemetry.NewScopedAPI("keystore", tel)

	store, err := openSQLite(ctx, config, tel)
	if err == nil {
		return store, nil
	}
	if !config.AllowMemoryFallback {
		return nil, err
	}
	tel.ReportWarning(report_open, fmt.Errorf("using in-memory fallback: %w", err))
	return NewMemory(), nil
}

func openSQLite(ctx context.Context, config Config, tel telemetry.API) (*SQLite, error) {
	passphrase := config.Passphrase
	if passphrase == "" {
		passphrase = os.Getenv(PassphraseEnv)
	}
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	database, err := migrations.OpenAndMigrateDB(ctx, Schema, config.Path)
	if err != nil {
		return nil, fmt.Errorf("keystore: %w", err)
	}
	store, err := NewSQLite(ctx, database, passphrase, tel)
	if err != nil {
		database.Close()
		return nil, err
	}
	return store, nil
}
