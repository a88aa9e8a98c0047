// Package sqlite is the single persistence layer: price history, the Hall of
// Fame configuration table, the finance key/value store, the append-only
// event log, and the live rule record all live in one SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database. Safe for use from the single scheduler
// process; the connection pool is pinned to one writer.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (or creates) the database at path, enables WAL mode and applies
// the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer process; keep the pool at one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_history (
			ts     INTEGER NOT NULL,
			symbol TEXT    NOT NULL,
			price  REAL    NOT NULL,
			PRIMARY KEY (ts, symbol)
		);

		CREATE TABLE IF NOT EXISTS configurations (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			trend_window    INTEGER NOT NULL,
			momentum_window INTEGER NOT NULL,
			backtest_score  REAL    NOT NULL,
			shadow_score    REAL    NOT NULL DEFAULT 0,
			created_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS key_value_store (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			ts      INTEGER NOT NULL,
			type    TEXT    NOT NULL,
			content TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS live_rules (
			id              INTEGER PRIMARY KEY CHECK (id = 1),
			trend_window    INTEGER NOT NULL,
			momentum_window INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);
	`)
	return err
}
