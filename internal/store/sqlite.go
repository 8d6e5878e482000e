// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, applies pragmas through the DSN, and creates the schema

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// Pragmas in the DSN apply to every pooled connection, not just the first.
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			role             TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			slots_json       TEXT NOT NULL DEFAULT '{}',
			emotion          TEXT NOT NULL DEFAULT '',
			intent           TEXT NOT NULL DEFAULT '',
			confidence_level TEXT NOT NULL DEFAULT '',
			tone             TEXT NOT NULL DEFAULT '',
			stage            TEXT NOT NULL DEFAULT 'greeting',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			PRIMARY KEY (role, user_id),
			CHECK (role IN ('buyer', 'seller'))
		);

		CREATE TABLE IF NOT EXISTS session_messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			role       TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			speaker    TEXT NOT NULL,
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL,

			FOREIGN KEY (role, user_id) REFERENCES sessions(role, user_id) ON DELETE CASCADE,
			CHECK (speaker IN ('user', 'assistant'))
		);

		CREATE INDEX IF NOT EXISTS idx_session_messages_key
			ON session_messages(role, user_id, id);

		CREATE TABLE IF NOT EXISTS listings (
			id                TEXT PRIMARY KEY,
			owner_id          TEXT NOT NULL,
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			price             REAL,
			category          TEXT NOT NULL DEFAULT '',
			brand             TEXT NOT NULL DEFAULT '',
			location          TEXT NOT NULL DEFAULT '',
			condition         TEXT NOT NULL DEFAULT '',
			negotiable        INTEGER NOT NULL DEFAULT 1,
			status            TEXT NOT NULL DEFAULT 'active',
			views             INTEGER NOT NULL DEFAULT 0,
			interested_buyers INTEGER NOT NULL DEFAULT 0,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL,

			CHECK (status IN ('active', 'sold', 'paused'))
		);

		CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id);
		CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
