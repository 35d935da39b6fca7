package repository

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// NewClientSQLiteDB creates and initializes the on-device SQLite database
// holding entity snapshots and the mutation journal
func NewClientSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createClientTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createClientTables(db *sql.DB) error {
	schema := `
	-- Entity snapshots (current, possibly optimistic state)
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		fields_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);

	-- Mutation journal (pending local changes, drained by the sync engine)
	CREATE TABLE IF NOT EXISTS mutation_journal (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		payload_json TEXT NOT NULL DEFAULT '{}',
		base_version INTEGER NOT NULL DEFAULT 0,
		batch_id TEXT NOT NULL DEFAULT '',
		batch_total INTEGER NOT NULL DEFAULT 0,
		attempt INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		fail_reason TEXT NOT NULL DEFAULT '',
		resubmitted INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		prior_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_journal_status ON mutation_journal(status);
	CREATE INDEX IF NOT EXISTS idx_journal_entity ON mutation_journal(entity_id);
	CREATE INDEX IF NOT EXISTS idx_journal_batch ON mutation_journal(batch_id);
	CREATE INDEX IF NOT EXISTS idx_journal_created ON mutation_journal(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// NewServerSQLiteDB creates and initializes the sync server's SQLite database
func NewServerSQLiteDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createServerTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createServerTables(db *sql.DB) error {
	schema := `
	-- Authoritative entities
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		fields_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);

	-- Applied mutations, for idempotent replay of crash-recovered submissions
	CREATE TABLE IF NOT EXISTS applied_mutations (
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		base_version INTEGER NOT NULL,
		result_json TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (entity_id, op, base_version)
	);

	-- Registered devices (sync credentials)
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	`

	_, err := db.Exec(schema)
	return err
}
