package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// MigrationTarget moves mig to the wanted version.
type MigrationTarget func(mig *migrate.Migrate) error

var (
	// TargetLatest applies every pending up migration.
	TargetLatest MigrationTarget = func(mig *migrate.Migrate) error {
		return mig.Up()
	}

	// TargetVersion migrates up or down to exactly version.
	TargetVersion = func(version uint) MigrationTarget {
		return func(mig *migrate.Migrate) error {
			return mig.Migrate(version)
		}
	}
)

var (
	// ErrMigrationDowngrade is returned when the database was written by
	// a newer binary.
	ErrMigrationDowngrade = errors.New("database downgrade detected")

	// ErrDirtyDatabase is returned when an earlier migration stopped
	// half way.
	ErrDirtyDatabase = errors.New("database is dirty")
)

// migrateOptions holds the knobs of applyMigrations.
type migrateOptions struct {
	// latestVersion caps the schema version this binary accepts. None
	// means the newest embedded migration.
	latestVersion fn.Option[uint]
}

// MigrateOpt tweaks a migration run.
type MigrateOpt func(*migrateOptions)

// WithLatestVersion overrides the downgrade protection ceiling, for tests.
func WithLatestVersion(version uint) MigrateOpt {
	return func(o *migrateOptions) {
		o.latestVersion = fn.Some(version)
	}
}

// latestSchemaVersion returns the highest version among the up migrations
// in dir, named NNNNNN_title.up.sql.
func latestSchemaVersion(fsys fs.FS, dir string) (uint, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return 0, err
	}

	var latest uint
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return 0, fmt.Errorf("malformed migration name %q", name)
		}

		version, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed migration name %q: %w",
				name, err)
		}

		latest = max(latest, uint(version))
	}

	return latest, nil
}

// migrationLogger adapts slog to migrate.Logger.
type migrationLogger struct {
	log *slog.Logger
}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	m.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Verbose implements the migrate.Logger interface.
func (m *migrationLogger) Verbose() bool {
	return false
}

// applyMigrations runs the migrations stored under dir in fsys against
// driver. It refuses to touch a dirty database or one that is newer than
// the binary.
func applyMigrations(fsys fs.FS, dir string, driver database.Driver,
	dbName string, target MigrationTarget, opts *migrateOptions,
	log *slog.Logger) error {

	latest, err := latestSchemaVersion(fsys, dir)
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	latest = opts.latestVersion.UnwrapOr(latest)

	source, err := iofs.New(fsys, dir)
	if err != nil {
		return err
	}

	mig, err := migrate.NewWithInstance("iofs", source, dbName, driver)
	if err != nil {
		return err
	}
	mig.Log = &migrationLogger{log: log}

	from, dirty, err := mig.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0

	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)

	case dirty:
		return fmt.Errorf("%w at version %d, manual intervention "+
			"required", ErrDirtyDatabase, from)

	case from > latest:
		return fmt.Errorf("%w: schema version %d is newer than %d",
			ErrMigrationDowngrade, from, latest)
	}

	err = target(mig)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	to, _, err := mig.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if from != to {
		log.InfoContext(context.Background(), "Migrated database schema",
			"from_version", from, "to_version", to)
	}

	return nil
}

// backupSqliteDatabase writes a copy of srcDB next to dbPath with VACUUM
// INTO and returns the backup path.
func backupSqliteDatabase(srcDB *sql.DB, dbPath string,
	log *slog.Logger) (string, error) {

	backupPath := fmt.Sprintf("%s.%d.backup", dbPath, time.Now().UnixNano())

	log.InfoContext(context.Background(), "Backing up database",
		"source", dbPath, "backup", backupPath)

	if _, err := srcDB.Exec("VACUUM INTO ?;", backupPath); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", backupPath, err)
	}

	return backupPath, nil
}
