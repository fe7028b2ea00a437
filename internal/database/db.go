package database

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sqlite connection.
type DB struct {
	*sql.DB
}

// Open opens the sqlite database and applies the schema.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

const schemaVersion = "001_initial"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	password_hash TEXT,
	guest INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_display_name
	ON accounts(display_name) WHERE guest = 0;

CREATE TABLE IF NOT EXISTS squads (
	id TEXT PRIMARY KEY,
	join_code TEXT NOT NULL UNIQUE,
	leader_id TEXT NOT NULL REFERENCES accounts(id),
	created_at INTEGER NOT NULL,
	dissolved_at INTEGER
);

CREATE TABLE IF NOT EXISTS squad_members (
	squad_id TEXT NOT NULL REFERENCES squads(id),
	account_id TEXT NOT NULL REFERENCES accounts(id),
	display_name TEXT NOT NULL,
	joined_at INTEGER NOT NULL,
	ready INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (squad_id, account_id)
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	scope TEXT NOT NULL,
	squad_id TEXT,
	sender_id TEXT NOT NULL,
	sender_name TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_scope_seq ON messages(scope, squad_id, seq);
`

// runMigrations applies the SQL schema once.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", schemaVersion).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	_, err = db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", schemaVersion)
	if err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
