// Package catalog keeps a SQLite table of extracted critical heights so
// results from many sessions can be compared.
package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Result is one population extraction.
type Result struct {
	ID               string  `db:"id"`
	SessionID        string  `db:"session_id"`
	CreatedUnix      int64   `db:"created_unix"`
	Nr               int     `db:"nr"`
	Rss              float64 `db:"rss"`
	KeyDI            float64 `db:"key_di"`
	HThreshold       float64 `db:"h_threshold"`
	Clicks           int     `db:"clicks"`
	Profiles         int     `db:"profiles"`
	CriticalHeightMm float64 `db:"h_crit"`
}

// Click is the per-click part of a result.
type Click struct {
	ResultID         string  `db:"result_id"`
	Seq              int     `db:"seq"`
	Lon              float64 `db:"lon"`
	Lat              float64 `db:"lat"`
	GridX            int     `db:"grid_x"`
	GridY            int     `db:"grid_y"`
	CriticalHeightMm float64 `db:"h_crit"`
}

// Created returns the creation time of the result.
func (r Result) Created() time.Time {
	return time.Unix(r.CreatedUnix, 0).UTC()
}

// DB wraps a SQLite connection holding the catalog.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a catalog at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		created_unix INTEGER NOT NULL,
		nr INTEGER NOT NULL,
		rss REAL NOT NULL,
		key_di REAL NOT NULL,
		h_threshold REAL NOT NULL,
		clicks INTEGER NOT NULL,
		profiles INTEGER NOT NULL,
		h_crit REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_id);

	CREATE TABLE IF NOT EXISTS clicks (
		result_id TEXT NOT NULL REFERENCES results(id),
		seq INTEGER NOT NULL,
		lon REAL NOT NULL,
		lat REAL NOT NULL,
		grid_x INTEGER NOT NULL,
		grid_y INTEGER NOT NULL,
		h_crit REAL NOT NULL,
		PRIMARY KEY (result_id, seq)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Save stores a result and its clicks in one transaction. Empty ids and
// creation times are filled in; the stored result is returned.
func (db *DB) Save(r Result, clicks []Click) (Result, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedUnix == 0 {
		r.CreatedUnix = time.Now().Unix()
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO results
		(id, session_id, created_unix, nr, rss, key_di, h_threshold, clicks, profiles, h_crit)
		VALUES (:id, :session_id, :created_unix, :nr, :rss, :key_di, :h_threshold, :clicks, :profiles, :h_crit)`, r)
	if err != nil {
		return Result{}, fmt.Errorf("insert result %s: %w", r.ID, err)
	}

	for i, c := range clicks {
		c.ResultID = r.ID
		c.Seq = i
		_, err := tx.Exec(`INSERT INTO clicks
			(result_id, seq, lon, lat, grid_x, grid_y, h_crit)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ResultID, c.Seq, c.Lon, c.Lat, c.GridX, c.GridY, c.CriticalHeightMm,
		)
		if err != nil {
			return Result{}, fmt.Errorf("insert click %d of %s: %w", i, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	log.WithFields(log.Fields{
		"id":      r.ID,
		"session": r.SessionID,
		"h_crit":  fmt.Sprintf("%.1f", r.CriticalHeightMm),
	}).Debug("result catalogued")
	return r, nil
}

// Get returns one result by id.
func (db *DB) Get(id string) (Result, error) {
	var r Result
	err := db.conn.Get(&r, "SELECT * FROM results WHERE id = ?", id)
	return r, err
}

// Clicks returns the clicks of a result in order.
func (db *DB) Clicks(resultID string) ([]Click, error) {
	var clicks []Click
	err := db.conn.Select(&clicks,
		"SELECT * FROM clicks WHERE result_id = ? ORDER BY seq", resultID)
	return clicks, err
}

// Session returns every result of a session, oldest first.
func (db *DB) Session(sessionID string) ([]Result, error) {
	var results []Result
	err := db.conn.Select(&results,
		"SELECT * FROM results WHERE session_id = ? ORDER BY created_unix, rowid", sessionID)
	return results, err
}

// Recent returns the most recent results across sessions.
func (db *DB) Recent(limit int) ([]Result, error) {
	var results []Result
	err := db.conn.Select(&results,
		"SELECT * FROM results ORDER BY created_unix DESC, rowid DESC LIMIT ?", limit)
	return results, err
}
