package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB is the SQLite Store.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and brings its schema up to
// date. ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := ":memory:?_pragma=foreign_keys(ON)"
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer; also keeps every query on the same :memory: database.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &DB{db: sqlDB}
	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Conn returns the underlying *sql.DB for advanced use cases.
func (d *DB) Conn() *sql.DB {
	return d.db
}

// migrations[i] moves the schema from user_version i to i+1.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS repos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			last_synced_at TEXT,
			etag TEXT,
			created_at TEXT NOT NULL,
			UNIQUE(owner, repo)
		)`,
		`CREATE TABLE IF NOT EXISTS issues (
			id INTEGER PRIMARY KEY,
			repo_id INTEGER NOT NULL REFERENCES repos(id),
			number INTEGER NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			author TEXT,
			author_association TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_created ON issues(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_issues_repo_created ON issues(repo_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY,
			issue_id INTEGER NOT NULL REFERENCES issues(id),
			url TEXT NOT NULL,
			author TEXT,
			author_association TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			event TEXT NOT NULL,
			received_at TEXT NOT NULL
		)`,
	},
}

// schemaVersion is the user_version of a fully migrated database.
var schemaVersion = len(migrations)

func (d *DB) migrate() error {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	for ; version < schemaVersion; version++ {
		if err := d.applyMigration(version+1, migrations[version]); err != nil {
			return err
		}
	}
	return nil
}

// applyMigration runs one step and records it in the same transaction.
func (d *DB) applyMigration(to int, statements []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration %d: %w", to, err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", to, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", to)); err != nil {
		return fmt.Errorf("setting user_version %d: %w", to, err)
	}
	return tx.Commit()
}
