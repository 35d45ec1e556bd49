// internal/storage/sqlite.go
package storage

import (
	"database/sql"
	"log"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the persistent Store backend, a single kv table in a
// local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite-backed store at the given path
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// init creates the kv schema
func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns the value for key, or false if absent
func (s *SQLiteStore) Get(key string) ([]byte, bool) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("storage: read %s failed: %v", key, err)
		}
		return nil, false
	}
	return value, true
}

// Set writes the value for key
func (s *SQLiteStore) Set(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// Delete removes key
func (s *SQLiteStore) Delete(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Keys returns all keys with the given prefix
func (s *SQLiteStore) Keys(prefix string) []string {
	rows, err := s.db.Query("SELECT key FROM kv WHERE key LIKE ? || '%' ORDER BY key", prefix)
	if err != nil {
		log.Printf("storage: list keys %s* failed: %v", prefix, err)
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if rows.Scan(&key) == nil {
			keys = append(keys, key)
		}
	}
	return keys
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
