package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL connection for the sync server
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		fields_json TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);

	CREATE TABLE IF NOT EXISTS applied_mutations (
		entity_id TEXT NOT NULL,
		op TEXT NOT NULL,
		base_version BIGINT NOT NULL,
		result_json TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL DEFAULT NOW(),
		PRIMARY KEY (entity_id, op, base_version)
	);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		device_name TEXT NOT NULL,
		platform TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		registered_at TIMESTAMP NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMP NOT NULL DEFAULT NOW(),
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`

	_, err := db.Exec(schema)
	return err
}
