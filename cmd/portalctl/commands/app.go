package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"portalsync/internal/auth"
	"portalsync/internal/components/chrono"
	"portalsync/internal/components/db"
	"portalsync/internal/components/keystore"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/grades"
	"portalsync/internal/monitor"
	"portalsync/internal/notify"
	"portalsync/internal/portal"
	"portalsync/internal/scheduler"
	"portalsync/internal/session"
	"portalsync/internal/timetable"
	"portalsync/pkg/configutil"
	"portalsync/pkg/migrations"
)

type DatabaseConfig struct {
	// Path of the cache database, a file path or a libsql url.
	Path string `json:"path"`
}

type NotificationsConfig struct {
	notify.PipelineConfig
	// Weeks are the week offsets watched for changes, defaults to this week
	// and the next one.
	Weeks []int              `json:"weeks"`
	Email notify.EmailConfig `json:"email"`
}

type TelemetryConfig struct {
	PerfStatsSeconds int `json:"perf_stats_seconds"`
}

type Config struct {
	Timezone      string              `json:"timezone"`
	Portal        portal.Config       `json:"portal"`
	Database      DatabaseConfig      `json:"database"`
	Keystore      keystore.Config     `json:"keystore"`
	Timetable     timetable.Config    `json:"timetable"`
	Grades        grades.Config       `json:"grades"`
	Notifications NotificationsConfig `json:"notifications"`
	Scheduler     scheduler.Config    `json:"scheduler"`
	Telemetry     TelemetryConfig     `json:"telemetry"`
}

const (
	defaultDatabasePath = ".portalsync/cache.db"
	defaultKeystorePath = ".portalsync/keystore.db"
)

func readConfig(name string) (Config, error) {
	config, err := configutil.ReadConfig[Config](name)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("no configuration file found, using defaults", "name", name)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}
	if config.Database.Path == "" {
		config.Database.Path = defaultDatabasePath
	}
	if config.Keystore.Path == "" {
		config.Keystore.Path = defaultKeystorePath
	}
	return config, nil
}

// App is every service of portalsync wired together.
type App struct {
	Config Config
	Tel    telemetry.API

	Store     keystore.Store
	Client    *portal.Client
	Auth      *auth.Service
	Timetable *timetable.Service
	Grades    *grades.Service
	Prefs     *notify.Preferences

	database  *sql.DB
	providers telemetry.Providers
}

func setupTelemetry(ctx context.Context) (telemetry.API, telemetry.Providers) {
	providers, err := telemetry.SetupFromEnv(ctx, "portalctl")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to setup telemetry, continuing without it", "err", err)
		}
		return telemetry.SlogAPI{}, telemetry.Providers{}
	}
	tel, err := telemetry.NewOtelAPI(telemetry.SlogAPI{})
	if err != nil {
		slog.Warn("failed to create otel instruments", "err", err)
		return telemetry.SlogAPI{}, providers
	}
	return tel, providers
}

func ensureDir(path string) error {
	if migrations.IsRemote(path) {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0700)
}

func openApp(ctx context.Context) (*App, error) {
	config, err := readConfig(configName)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	tel, providers := setupTelemetry(ctx)
	if config.Telemetry.PerfStatsSeconds > 0 {
		telemetry.InstrumentPerfStats(ctx, tel, time.Duration(config.Telemetry.PerfStatsSeconds)*time.Second)
	}

	clock, err := chrono.NewStandardTime(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone: %w", err)
	}

	for _, path := range []string{config.Keystore.Path, config.Database.Path} {
		err = ensureDir(path)
		if err != nil {
			return nil, err
		}
	}

	store, err := keystore.Open(ctx, config.Keystore, tel)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	database, err := migrations.OpenAndMigrateDB(ctx, db.Schema, config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	client, err := portal.NewClient(config.Portal, tel)
	if err != nil {
		return nil, fmt.Errorf("portal client: %w", err)
	}

	sessions := session.NewManager(store, tel)
	authService := auth.NewService(client, sessions, tel)
	err = authService.Restore(ctx)
	if err != nil {
		slog.Warn("failed to restore session", "err", err)
	}

	qry := db.New(database)
	makeTx := db.NewMakeTx(database)
	timetableService := timetable.NewService(authService, client, qry, makeTx, clock, tel, config.Timetable)
	gradesService := grades.NewService(authService, client, qry, makeTx, clock, tel, config.Grades)
	authService.RegisterPurger(timetableService)
	authService.RegisterPurger(gradesService)

	prefs, err := notify.LoadPreferences(ctx, store, tel)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	return &App{
		Config:    config,
		Tel:       tel,
		Store:     store,
		Client:    client,
		Auth:      authService,
		Timetable: timetableService,
		Grades:    gradesService,
		Prefs:     prefs,
		database:  database,
		providers: providers,
	}, nil
}

func mustOpenApp(ctx context.Context) *App {
	app, err := openApp(ctx)
	if err != nil {
		fatal("failed to start", err)
	}
	return app
}

// Notifier uses email when it is configured and the log otherwise.
func (a *App) Notifier(ctx context.Context) notify.Notifier {
	email := notify.NewEmailNotifier(a.Config.Notifications.Email, a.Tel)
	if email.HasPermission(ctx) {
		return email
	}
	return notify.NewLogNotifier(slog.Default(), true)
}

func (a *App) Pipeline(ctx context.Context) *notify.Pipeline {
	weeks := a.Config.Notifications.Weeks
	if len(weeks) == 0 {
		weeks = monitor.DefaultWeeks
	}
	mon := monitor.NewMonitor(a.Timetable, a.Tel, weeks...)
	return notify.NewPipeline(mon, a.Notifier(ctx), a.Prefs, a.Tel, a.Config.Notifications.PipelineConfig)
}

func (a *App) Close(ctx context.Context) {
	var errlist []error
	if closer, ok := a.Store.(io.Closer); ok {
		errlist = append(errlist, closer.Close())
	}
	errlist = append(errlist, a.database.Close())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	errlist = append(errlist, a.providers.Shutdown(ctx))
	if err := errors.Join(errlist...); err != nil {
		slog.Warn("failed to shut down cleanly", "err", err)
	}
}
