package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Infof(strings.TrimSuffix(format, "\n"), v...)
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

type MigrationConfig struct {
	// FolderPath overrides the embedded migrations with files on disk.
	FolderPath string
	// Embedded holds one directory of migrations per driver ("pg", "sqlite").
	Embedded     fs.FS
	Version      uint
	Force        int
	AutoRollback bool // revert a dirty database to the previous version when a migration fails
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// Migrate brings the schema of db up to date.
func (ms *MigrationService) Migrate(db DB) error {
	driver, err := ms.databaseDriver(db)
	if err != nil {
		return err
	}

	m, err := ms.newMigrate(db.DriverName(), driver)
	if err != nil {
		ms.logger.WithError(err).Error("Failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	return ms.runMigration(m, db.DriverName())
}

func (ms *MigrationService) databaseDriver(db DB) (migratedb.Driver, error) {
	switch db.DriverName() {
	case DriverPostgres:
		return postgres.WithInstance(db.Unwrap().DB, &postgres.Config{})
	case DriverSQLite:
		return sqlite.WithInstance(db.Unwrap().DB, &sqlite.Config{})
	default:
		return nil, fmt.Errorf("no migration driver for database driver %q", db.DriverName())
	}
}

func (ms *MigrationService) newMigrate(driverName string, driver migratedb.Driver) (*migrate.Migrate, error) {
	if folder := ms.config.FolderPath; folder != "" {
		if _, err := os.Stat(folder); err != nil {
			return nil, fmt.Errorf("migration folder %s does not exist: %w", folder, err)
		}
		return migrate.NewWithDatabaseInstance("file://"+folder, driverName, driver)
	}

	if ms.config.Embedded == nil {
		return nil, errors.New("no migration source configured")
	}
	source, err := iofs.New(ms.config.Embedded, migrationDir(driverName))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return migrate.NewWithInstance("iofs", source, driverName, driver)
}

func migrationDir(driverName string) string {
	if driverName == DriverSQLite {
		return "sqlite"
	}
	return "pg"
}

func (ms *MigrationService) runMigration(m *migrate.Migrate, driverName string) error {
	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("Failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	version, _, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
	}

	startTime := time.Now()
	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}
	ms.logger.Infof("Database migrations completed in %v", time.Since(startTime))

	return ms.handleMigrationError(m, migrationErr, version, driverName)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previousVersion uint, driverName string) error {
	if err == nil {
		ms.logger.Info("Successfully applied migrations")
		return nil
	}

	if errors.Is(err, migrate.ErrNoChange) {
		ms.logger.Info("No new migrations to apply")
		return nil
	}

	// A database ahead of the available files (usually after a rollback) is pinned to the latest known version.
	if strings.Contains(err.Error(), "no migration found for version") {
		latest, latestErr := ms.latestVersion(driverName)
		if latestErr != nil {
			ms.logger.WithError(latestErr).Error("Failed to get latest migration version")
			return err
		}
		ms.logger.Warnf("No migration found for version %d. Forcing latest version %d", previousVersion, latest)
		return m.Force(latest)
	}

	ms.logger.WithError(err).Errorf("Migration failed with error: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.WithError(versionErr).Error("Failed to get current migration version")
		return err
	}

	if ms.config.AutoRollback && dirty {
		if previousVersion == 0 && version > 0 {
			previousVersion = version - 1
		}
		ms.logger.Warnf("Database is dirty at version %d. Reverting to version %d", version, previousVersion)
		if forceErr := m.Force(int(previousVersion)); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("Failed to force database to version %d", previousVersion)
			return forceErr
		}
	}

	// the original error is returned even after a revert so startup halts
	return err
}

var migrationFilePattern = regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)

func (ms *MigrationService) latestVersion(driverName string) (int, error) {
	var entries []fs.DirEntry
	var err error
	if ms.config.FolderPath != "" {
		entries, err = os.ReadDir(ms.config.FolderPath)
	} else {
		entries, err = fs.ReadDir(ms.config.Embedded, migrationDir(driverName))
	}
	if err != nil {
		return 0, err
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := migrationFilePattern.FindStringSubmatch(entry.Name())
		if len(matches) > 1 {
			version, err := strconv.Atoi(matches[1])
			if err != nil {
				return 0, err
			}
			versions = append(versions, version)
		}
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found")
	}

	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
