// Package store persists campaigns, step outputs, async task handles,
// execution logs and the project document corpus in SQLite. Step outputs
// live in their own table keyed by (campaign_id, step_id) with a version
// column, so concurrent writers merge single keys instead of overwriting
// the whole map.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"contentforge/internal/logging"
)

// SQLiteStore implements campaign.Store and campaign.DocumentStore.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path, creating the
// schema if needed.
func Open(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Get(logging.CategoryStore).Info("store opened at %s", path)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	campaignsTable := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT DEFAULT '',
		current_step_id TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_campaigns_project ON campaigns(project_id);
	`

	stepOutputsTable := `
	CREATE TABLE IF NOT EXISTS step_outputs (
		campaign_id TEXT NOT NULL,
		step_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (campaign_id, step_id)
	);
	`

	projectsTable := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		payload TEXT NOT NULL
	);
	`

	taskHandlesTable := `
	CREATE TABLE IF NOT EXISTS task_handles (
		campaign_id TEXT NOT NULL,
		interaction_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		dispatched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (campaign_id, interaction_id)
	);
	CREATE INDEX IF NOT EXISTS idx_task_handles_status ON task_handles(campaign_id, status);
	`

	executionLogsTable := `
	CREATE TABLE IF NOT EXISTS execution_logs (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_logs_campaign ON execution_logs(campaign_id);
	`

	documentsTable := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		category TEXT DEFAULT '',
		tags TEXT DEFAULT '[]',
		content TEXT DEFAULT '',
		token_count INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id);
	`

	chunksTable := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		UNIQUE (document_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	`

	for _, table := range []string{
		campaignsTable, stepOutputsTable, projectsTable,
		taskHandlesTable, executionLogsTable, documentsTable, chunksTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
