// Package databasetest opens migrated in-memory SQLite metadata stores for tests.
package databasetest

import (
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/db"
	"github.com/Bafix001/zibridge/pkg/database"
)

// Logger discards everything.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// New returns a fresh, migrated in-memory database closed at test cleanup.
func New(t testing.TB) database.DB {
	t.Helper()

	logger := Logger()
	conn, err := database.Open(database.Config{Driver: database.DriverSQLite, Path: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	svc := database.NewMigrationService(logger, &database.MigrationConfig{Embedded: db.Migrations})
	require.NoError(t, svc.Migrate(conn))

	return conn
}
