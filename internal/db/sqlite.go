package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/db/queries"

	// Registers the sqlite3 database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens the database at dbPath in WAL mode with foreign keys on
// and a busy timeout, creating the parent directory if needed.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w",
			err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer connection. WAL still lets it read while a statement is
	// in flight elsewhere in the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return db, nil
}

// configurePragmas applies the connection pragmas.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",

		// Negative means KiB, so 64MB.
		"PRAGMA cache_size = -65536",

		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// SqliteConfig holds the parameters of NewSqliteStore.
type SqliteConfig struct {
	// DatabaseFileName is the path of the database file.
	DatabaseFileName string

	// SkipMigrations leaves the schema untouched.
	SkipMigrations bool

	// BackupBeforeMigration writes a VACUUM INTO copy of an existing
	// database before migrating it.
	BackupBeforeMigration bool
}

// SqliteStore is an open, migrated database.
type SqliteStore struct {
	cfg *SqliteConfig

	*BaseDB

	log *slog.Logger
}

// NewSqliteStore opens the database and brings its schema to the latest
// version.
func NewSqliteStore(cfg *SqliteConfig, log *slog.Logger,
	opts ...MigrateOpt) (*SqliteStore, error) {

	sqlDB, err := OpenSQLite(cfg.DatabaseFileName)
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{
		cfg:    cfg,
		BaseDB: NewBaseDB(sqlDB),
		log:    log,
	}

	if !cfg.SkipMigrations {
		err := s.ExecuteMigrations(TargetLatest, opts...)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("error executing migrations: %w",
				err)
		}
	}

	return s, nil
}

// ExecuteMigrations runs the embedded migrations up to target.
func (s *SqliteStore) ExecuteMigrations(target MigrationTarget,
	optFuncs ...MigrateOpt) error {

	opts := &migrateOptions{latestVersion: fn.None[uint]()}
	for _, optFunc := range optFuncs {
		optFunc(opts)
	}

	if s.cfg.BackupBeforeMigration {
		_, err := backupSqliteDatabase(
			s.DB, s.cfg.DatabaseFileName, s.log,
		)
		if err != nil {
			return err
		}
	}

	driver, err := sqlitemigrate.WithInstance(
		s.DB, &sqlitemigrate.Config{},
	)
	if err != nil {
		return fmt.Errorf("error creating sqlite migration: %w", err)
	}

	return applyMigrations(
		sqlSchemas, "migrations", driver, "sqlite", target, opts,
		s.log,
	)
}

// NewTxExecutor returns a TransactionExecutor over the full query set.
func (s *SqliteStore) NewTxExecutor(
	opts ...TxExecutorOption) *TransactionExecutor[*queries.Queries] {

	return NewTransactionExecutor(s.BaseDB, NewQueryCreator(), s.log, opts...)
}

// Close closes the connection.
func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
