// Package persistence provides the SQLite tick ledger: an append-only
// history of economy ticks, population ticks and grid changes. Nothing is
// ever loaded back into a running simulation.
package persistence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/gridcity/internal/economy"
	"github.com/talgya/gridcity/internal/engine"
	"github.com/talgya/gridcity/internal/grid"
)

// DB wraps a SQLite connection for one session's ledger.
type DB struct {
	conn    *sqlx.DB
	session string
}

// EconomyRow is one recorded economy tick.
type EconomyRow struct {
	Session    string `db:"session" json:"session"`
	Tick       uint64 `db:"tick" json:"tick"`
	Income     int    `db:"income" json:"income"`
	Expenses   int    `db:"expenses" json:"expenses"`
	Net        int    `db:"net" json:"net"`
	Balance    int    `db:"balance" json:"balance"`
	RecordedAt string `db:"recorded_at" json:"recorded_at"`
}

// PopulationRow is one recorded growth tick.
type PopulationRow struct {
	Session    string  `db:"session" json:"session"`
	Tick       uint64  `db:"tick" json:"tick"`
	Capacity   int     `db:"capacity" json:"capacity"`
	Population int     `db:"population" json:"population"`
	Delta      int     `db:"delta" json:"delta"`
	Happiness  float64 `db:"happiness" json:"happiness"`
	RecordedAt string  `db:"recorded_at" json:"recorded_at"`
}

// ChangeRow is one recorded grid mutation.
type ChangeRow struct {
	Session    string `db:"session" json:"session"`
	X          int    `db:"x" json:"x"`
	Y          int    `db:"y" json:"y"`
	Old        string `db:"old" json:"old"`
	New        string `db:"new" json:"new"`
	RecordedAt string `db:"recorded_at" json:"recorded_at"`
}

// Open opens or creates a SQLite database at the given path and starts a
// new ledger session.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1) // single writer

	db := &DB{conn: conn, session: uuid.NewString()}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := conn.Exec(
		"INSERT INTO sessions (id, started_at) VALUES (?, ?)",
		db.session, now(),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := db.SaveMeta("last_session", db.session); err != nil {
		conn.Close()
		return nil, fmt.Errorf("save meta: %w", err)
	}

	slog.Info("ledger opened", "path", path, "session", db.session)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Session returns the ID tagging every row written through db.
func (db *DB) Session() string {
	return db.session
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS economy_ticks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		tick INTEGER NOT NULL,
		income INTEGER NOT NULL,
		expenses INTEGER NOT NULL,
		net INTEGER NOT NULL,
		balance INTEGER NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS population_ticks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		tick INTEGER NOT NULL,
		capacity INTEGER NOT NULL,
		population INTEGER NOT NULL,
		delta INTEGER NOT NULL,
		happiness REAL NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grid_changes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		old TEXT NOT NULL,
		new TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_economy_session ON economy_ticks(session, tick);
	CREATE INDEX IF NOT EXISTS idx_population_session ON population_ticks(session, tick);
	CREATE INDEX IF NOT EXISTS idx_changes_session ON grid_changes(session);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Batch is a set of ledger entries written in one transaction.
type Batch struct {
	Economy    []economy.Report
	Population []engine.PopulationReport
	Changes    []grid.Change
}

// Len returns the number of entries in the batch.
func (b *Batch) Len() int {
	return len(b.Economy) + len(b.Population) + len(b.Changes)
}

// Write appends the batch to the ledger.
func (db *DB) Write(b Batch) error {
	if b.Len() == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	at := now()
	for _, r := range b.Economy {
		_, err := tx.Exec(`INSERT INTO economy_ticks
			(session, tick, income, expenses, net, balance, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			db.session, int64(r.Tick), r.Income, r.Expenses, r.Net, r.Balance, at,
		)
		if err != nil {
			return fmt.Errorf("insert economy tick %d: %w", r.Tick, err)
		}
	}
	for _, r := range b.Population {
		_, err := tx.Exec(`INSERT INTO population_ticks
			(session, tick, capacity, population, delta, happiness, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			db.session, int64(r.Tick), r.Capacity, r.Population, r.Delta, r.Happiness, at,
		)
		if err != nil {
			return fmt.Errorf("insert population tick %d: %w", r.Tick, err)
		}
	}
	for _, c := range b.Changes {
		_, err := tx.Exec(`INSERT INTO grid_changes
			(session, x, y, old, new, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			db.session, c.Cell.X, c.Cell.Y, c.Old.String(), c.New.String(), at,
		)
		if err != nil {
			return fmt.Errorf("insert change at %d,%d: %w", c.Cell.X, c.Cell.Y, err)
		}
	}

	return tx.Commit()
}

// EconomyHistory returns the most recent economy ticks of this session,
// oldest first.
func (db *DB) EconomyHistory(limit int) ([]EconomyRow, error) {
	var rows []EconomyRow
	err := db.conn.Select(&rows, `SELECT session, tick, income, expenses, net, balance, recorded_at
		FROM (SELECT * FROM economy_ticks WHERE session = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`,
		db.session, limit,
	)
	return rows, err
}

// PopulationHistory returns the most recent growth ticks of this session,
// oldest first.
func (db *DB) PopulationHistory(limit int) ([]PopulationRow, error) {
	var rows []PopulationRow
	err := db.conn.Select(&rows, `SELECT session, tick, capacity, population, delta, happiness, recorded_at
		FROM (SELECT * FROM population_ticks WHERE session = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`,
		db.session, limit,
	)
	return rows, err
}

// RecentChanges returns the most recent grid changes of this session,
// newest first.
func (db *DB) RecentChanges(limit int) ([]ChangeRow, error) {
	var rows []ChangeRow
	err := db.conn.Select(&rows, `SELECT session, x, y, old, new, recorded_at
		FROM grid_changes WHERE session = ? ORDER BY id DESC LIMIT ?`,
		db.session, limit,
	)
	return rows, err
}

// SaveMeta stores a key-value pair in ledger metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
