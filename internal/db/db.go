package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/medcase/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Querier is satisfied by *sql.DB and *sql.Tx, so queries can run inside a
// transaction when an operation needs one.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/medcase.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.medcase.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// best-effort, may not work on all platforms
	_ = os.Chmod(baseDir, 0700)

	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, "medcase.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS cases (
		  id               TEXT PRIMARY KEY,
		  slug             TEXT NOT NULL UNIQUE,
		  name             TEXT NOT NULL UNIQUE,
		  content          TEXT NOT NULL DEFAULT '',
		  diagnostics_norm TEXT NOT NULL DEFAULT '',
		  prelim_dx_raw    TEXT NOT NULL DEFAULT '',
		  meds_norm        TEXT NOT NULL DEFAULT '',
		  reco_norm        TEXT NOT NULL DEFAULT '',
		  dispo_norm       TEXT NOT NULL DEFAULT '',
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_cases_name
		ON cases(name);

		CREATE TABLE IF NOT EXISTS instructions (
		  id         TEXT PRIMARY KEY,
		  case_id    TEXT REFERENCES cases(id) ON DELETE CASCADE,
		  stage      TEXT NOT NULL,
		  body       TEXT NOT NULL,
		  active     INTEGER NOT NULL DEFAULT 1,
		  version    INTEGER NOT NULL DEFAULT 1,
		  created_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_instructions_stage_case_active
		ON instructions(stage, case_id, active);

		CREATE TABLE IF NOT EXISTS users (
		  id            TEXT PRIMARY KEY,
		  username      TEXT NOT NULL,
		  username_norm TEXT NOT NULL UNIQUE,
		  password_hash TEXT NOT NULL,
		  created_at    INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS case_attempts (
		  id                    TEXT PRIMARY KEY,
		  user_id               TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		  case_id               TEXT NOT NULL REFERENCES cases(id) ON DELETE CASCADE,
		  chats_json            TEXT NOT NULL,
		  summary_json          TEXT NOT NULL,
		  completed_stages_json TEXT NOT NULL,
		  is_completed          INTEGER NOT NULL DEFAULT 0,
		  created_at            INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_case_attempts_user_case
		ON case_attempts(user_id, case_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS sessions (
		  id         TEXT PRIMARY KEY,
		  data_json  TEXT NOT NULL,
		  expires_at INTEGER NOT NULL,
		  updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires
		ON sessions(expires_at);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
