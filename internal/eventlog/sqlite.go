package eventlog

import (
	"database/sql"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver" // registers "sqlite3" with database/sql
	_ "github.com/ncruces/go-sqlite3/embed"  // bundles the sqlite3 WASM runtime, no cgo required
)

// SQLiteSink persists the two optional tables named in spec.md §6 —
// events and auction_results — to a SQLite database file. Write-only: the
// coordinator never reads it back, so it cannot become a source of
// cross-restart recovery (spec.md §1 Non-goals).
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLiteSink opens (creating if absent) a SQLite database at path and
// ensures the events/auction_results tables exist.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			kind TEXT NOT NULL,
			agent TEXT NOT NULL,
			kwh REAL,
			price REAL,
			round_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS auction_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			round_id INTEGER NOT NULL,
			buyer TEXT NOT NULL,
			seller TEXT NOT NULL,
			kwh REAL NOT NULL,
			price REAL NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("eventlog: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteSink) LogEvent(e Event) error {
	var price, round interface{}
	if e.HasPrice {
		price = e.Price
	}
	if e.HasRound {
		round = int64(e.RoundId)
	}
	_, err := s.db.Exec(
		`INSERT INTO events (timestamp, kind, agent, kwh, price, round_id) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Timestamp, e.Kind, string(e.Agent), e.KWh, price, round,
	)
	if err != nil {
		return fmt.Errorf("eventlog: insert event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) LogAuction(a AuctionResult) error {
	_, err := s.db.Exec(
		`INSERT INTO auction_results (round_id, buyer, seller, kwh, price, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		int64(a.RoundId), string(a.Buyer), string(a.Seller), a.KWh, a.Price, a.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("eventlog: insert auction_result: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
