// Package store is the durable SQLite layer for documents, AI sessions,
// and the per-session edit ledger. Canonical content and AI drafts are
// always stored sentinel-free; the merged representation never reaches
// this package.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"meridian/internal/logging"
)

// LocalStore wraps the SQLite database. All access goes through its
// methods; the mutex serializes writers because SQLite allows only one.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore opens (creating if needed) the database at path.
// Use ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("Opened store at %s", path)
	return s, nil
}

// initialize creates the required tables and indexes.
func (s *LocalStore) initialize() error {
	documentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		ai_version TEXT,
		ai_version_rev INTEGER NOT NULL DEFAULT 0,
		word_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);
	`

	sessionsTable := `
	CREATE TABLE IF NOT EXISTS ai_sessions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id),
		chat_id TEXT,
		turn_id TEXT,
		base_snapshot TEXT NOT NULL,
		ai_version TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
			CHECK (status IN ('active', 'accepted', 'rejected')),
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		resolved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_document ON ai_sessions(document_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON ai_sessions(document_id) WHERE status = 'active';
	`

	editsTable := `
	CREATE TABLE IF NOT EXISTS ai_edits (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES ai_sessions(id),
		edit_order INTEGER NOT NULL,
		command TEXT NOT NULL
			CHECK (command IN ('str_replace', 'insert', 'append')),
		path TEXT NOT NULL,
		old_str TEXT,
		new_str TEXT,
		insert_line INTEGER,
		status TEXT NOT NULL DEFAULT 'applied',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, edit_order)
	);
	CREATE INDEX IF NOT EXISTS idx_edits_session ON ai_edits(session_id);
	`

	for _, table := range []string{documentsTable, sessionsTable, editsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// GetDB exposes the raw handle for tests.
func (s *LocalStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	return s.db.Close()
}
