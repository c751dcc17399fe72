// Package store persists projects, versions, builds, recorded commands,
// and integrations in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Concurrent readers during a build writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		repo_url TEXT NOT NULL,
		repo_type TEXT NOT NULL DEFAULT 'git',
		default_branch TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT 'en',
		canonical_url TEXT NOT NULL DEFAULT '',
		external_builds_enabled INTEGER NOT NULL DEFAULT 0,
		enable_pdf_build INTEGER NOT NULL DEFAULT 0,
		enable_epub_build INTEGER NOT NULL DEFAULT 0,
		install_project INTEGER NOT NULL DEFAULT 0,
		use_system_packages INTEGER NOT NULL DEFAULT 0,
		skip INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		slug TEXT NOT NULL,
		identifier TEXT NOT NULL,
		type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		built INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT '',
		documentation_type TEXT NOT NULL DEFAULT '',
		UNIQUE(project_id, slug)
	);
	CREATE TABLE IF NOT EXISTS builds (
		id TEXT PRIMARY KEY,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		version_id INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
		state TEXT NOT NULL,
		success INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		commit_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		ended_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_builds_version ON builds(version_id);
	CREATE INDEX IF NOT EXISTS idx_builds_state ON builds(state);
	CREATE TABLE IF NOT EXISTS build_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL REFERENCES builds(id) ON DELETE CASCADE,
		command TEXT NOT NULL,
		output TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL,
		start_time INTEGER NOT NULL,
		end_time INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_commands_build ON build_commands(build_id);
	CREATE TABLE IF NOT EXISTS integrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		provider_data TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
