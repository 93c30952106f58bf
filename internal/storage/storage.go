// Package storage provides SQLite-based durable key/value persistence for
// the local application state (session collection, active pointer, profile
// keys). The database is opened lazily and created on first use.
// If opening the DB or executing queries fails, the package falls back to
// in-memory storage; persistence failures are never fatal.
package storage

import (
	"database/sql"
	"errors"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/sally-go/internal/logger"
)

var errNoPath = errors.New("storage: no path configured")

// Store is a durable string key/value document store. The zero value is not
// usable; create one with New. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	mem  map[string]string // in-memory fallback, always kept current

	dbOnce  sync.Once
	db      *sql.DB
	initErr error
}

// New creates a store persisting to the SQLite file at path. An empty path
// keeps the store memory-only.
func New(path string) *Store {
	return &Store{path: path, mem: make(map[string]string)}
}

// initDB lazily opens the SQLite database and creates the kv table if it
// doesn't exist.
func (s *Store) initDB() {
	if s.path == "" {
		logger.L.Debug("no storage path configured; using in-memory state only")
		s.initErr = errNoPath
		return
	}
	var err error
	s.db, err = sql.Open("sqlite", "file:"+s.path+"?_busy_timeout=10000")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory state", "error", err)
		return
	}
	if _, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );`); err != nil {
		s.initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory state", "error", err)
		return
	}
	logger.L.Info("sqlite state DB initialized", "path", s.path)
}

// Set writes a value under key. Durable write errors degrade to memory-only;
// they are logged and never returned.
func (s *Store) Set(key, value string) {
	s.dbOnce.Do(s.initDB)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[key] = value

	if s.initErr == nil && s.db != nil {
		if _, err := s.db.Exec(
			`INSERT INTO kv (key, value) VALUES (?, ?)
             ON CONFLICT(key) DO UPDATE SET value = excluded.value;`,
			key, value,
		); err != nil {
			logger.L.Error("failed to persist key; falling back to memory", "key", key, "error", err)
		}
	}
}

// Get returns the value stored under key, or "" and false when absent.
func (s *Store) Get(key string) (string, bool) {
	s.dbOnce.Do(s.initDB)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initErr == nil && s.db != nil {
		var value string
		err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?;`, key).Scan(&value)
		switch err {
		case nil:
			s.mem[key] = value
			return value, true
		case sql.ErrNoRows:
			return "", false
		default:
			logger.L.Warn("sqlite read failed; serving from memory", "key", key, "error", err)
		}
	}
	v, ok := s.mem[key]
	return v, ok
}

// Delete removes key from the store.
func (s *Store) Delete(key string) {
	s.dbOnce.Do(s.initDB)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mem, key)

	if s.initErr == nil && s.db != nil {
		if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?;`, key); err != nil {
			logger.L.Warn("sqlite delete failed", "key", key, "error", err)
		}
	}
}

// Close releases the underlying database, flushing nothing: every mutation
// was written synchronously.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
