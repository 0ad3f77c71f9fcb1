package testutil

import (
	"context"
	"database/sql"
	"testing"

	"portalsync/internal/components/telemetry"
	"portalsync/pkg/migrations"
)

type ServiceParams struct {
	// if unspecified, it will skip applying a schema
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

type ServiceResult struct {
	DB  *sql.DB
	Tel *telemetry.RecordingAPI
}

// SetupService opens a migrated database and a recording telemetry API,
// both are released when the test ends.
func SetupService(t testing.TB, params ServiceParams) ServiceResult {
	t.Helper()

	dbpath := params.DbPath
	if dbpath == "" {
		dbpath = ":memory:"
	}
	database, err := migrations.OpenDB(dbpath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	if params.DbSchema != "" {
		err = migrations.Migrate(context.Background(), database, params.DbSchema)
		if err != nil {
			t.Fatal(err)
		}
	}

	return ServiceResult{
		DB:  database,
		Tel: telemetry.NewRecordingAPI(),
	}
}
