package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the embedded relational store backing the pipeline. All derived
// state (sessions, agents, groups, work items) and the raw event log live
// here; writes are synchronous and expected to be fast.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The pipeline serializes mutations itself; one connection keeps
	// sqlite write contention out of the picture.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		hook_type TEXT NOT NULL,
		category TEXT NOT NULL,
		tool TEXT,
		file_path TEXT,
		input TEXT,
		output TEXT,
		error TEXT,
		duration_ms INTEGER,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		working_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		agent_count INTEGER NOT NULL DEFAULT 0,
		event_count INTEGER NOT NULL DEFAULT 0,
		last_activity_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		first_seen_at DATETIME NOT NULL,
		last_activity_at DATETIME NOT NULL,
		tool_call_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (id, session_id)
	);

	CREATE TABLE IF NOT EXISTS session_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		main_session_id TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_group_members (
		group_id TEXT NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		agent_name TEXT,
		agent_type TEXT,
		joined_at DATETIME NOT NULL,
		PRIMARY KEY (group_id, session_id)
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_agent TEXT,
		external_id TEXT,
		manual_edit INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(project_id);

	CREATE TABLE IF NOT EXISTS correlation_activity (
		id TEXT PRIMARY KEY,
		work_item_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		activity_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		details TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_activity_item ON correlation_activity(work_item_id, timestamp);

	CREATE TABLE IF NOT EXISTS file_changes (
		file_path TEXT NOT NULL,
		session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		change_type TEXT NOT NULL,
		first_seen_at DATETIME NOT NULL,
		last_seen_at DATETIME NOT NULL,
		PRIMARY KEY (file_path, session_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
