// Package ledger persists the consumer's last confirmed checkpoint token so
// the watch loop itself can restart without replaying history it already
// indexed. The queue's recovery files protect the producer side; the ledger
// protects the consumer side.
package ledger

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"
)

// Ledger is a SQLite-backed record of the consumer's confirmed checkpoint.
type Ledger struct {
	db   *sql.DB
	path string
}

// WatchID computes a deterministic id for a set of monitored roots.
func WatchID(roots []string) string {
	h := blake3.New()
	for _, r := range roots {
		h.Write([]byte(r))
		h.Write([]byte{0})
	}
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}

// Open opens (or creates) the ledger for the given roots under dir. An
// existing ledger is validated against the roots; reusing it for a
// different watch is rejected.
func Open(dir string, roots []string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	path := filepath.Join(dir, WatchID(roots)+".db")

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.init(roots); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init(roots []string) error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoint (
			id      INTEGER PRIMARY KEY CHECK (id = 0),
			token   TEXT NOT NULL,
			updated INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	joined := strings.Join(roots, string(rune(0)))
	var stored string
	row := l.db.QueryRow("SELECT value FROM meta WHERE key = 'roots'")
	if err := row.Scan(&stored); err == nil {
		if stored != joined {
			return fmt.Errorf("ledger roots mismatch: stored %q, got %q", stored, joined)
		}
		return nil
	}
	if _, err := l.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('roots', ?)", joined); err != nil {
		return fmt.Errorf("store meta: %w", err)
	}
	return nil
}

// Save records token as the confirmed checkpoint.
func (l *Ledger) Save(token string) error {
	_, err := l.db.Exec(
		"INSERT OR REPLACE INTO checkpoint (id, token, updated) VALUES (0, ?, ?)",
		token, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the confirmed checkpoint token, or ok=false if none has
// been saved yet.
func (l *Ledger) Load() (token string, ok bool, err error) {
	row := l.db.QueryRow("SELECT token FROM checkpoint WHERE id = 0")
	switch err := row.Scan(&token); err {
	case nil:
		return token, true, nil
	case sql.ErrNoRows:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("load checkpoint: %w", err)
	}
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Remove deletes the ledger database file.
func (l *Ledger) Remove() error {
	return os.Remove(l.path)
}

// Path returns the path to the ledger database file.
func (l *Ledger) Path() string {
	return l.path
}
