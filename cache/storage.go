package cache

import (
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Storage is the namespaced key-value store used for cached responses.
// Values are []byte and represent serialized HTTP responses.
//
// Namespaces isolate the entries of one cache version from another.
// A namespace exists from EnsureNamespace until DeleteNamespace, even
// while it holds no entries.
//
// Implementations must be thread-safe!
type Storage interface {
	// EnsureNamespace opens the given namespace, creating it if absent.
	EnsureNamespace(namespace string) error
	// DeleteNamespace removes the namespace and every entry in it.
	// Deleting an absent namespace is not an error.
	DeleteNamespace(namespace string) error
	// Namespaces returns the names of all namespaces currently present.
	Namespaces() ([]string, error)
	// Get returns the stored bytes for the given key, if they exist.
	// It also returns a boolean indicating whether retrieval was successful.
	Get(namespace, key string) ([]byte, bool, error)
	// Match returns stored bytes for the given path, ignoring query
	// strings: an entry matches if its key equals the path, or if its key
	// is the path followed by a query string.
	Match(namespace, path string) ([]byte, bool, error)
	// Put stores the given bytes under the given key,
	// overwriting any previous entry for that key.
	Put(namespace, key string, bytes []byte) error
	// Delete removes the entry for the given key, if present.
	Delete(namespace, key string) error
	// Keys returns all entry keys in the namespace.
	Keys(namespace string) ([]string, error)
}

type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage creates a new storage with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string) SQLiteStorage {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS namespaces (
		name TEXT PRIMARY KEY
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		namespace TEXT NOT NULL,
		key TEXT NOT NULL,
		stored_at INTEGER,
		bytes BLOB,
		PRIMARY KEY (namespace, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s SQLiteStorage) EnsureNamespace(namespace string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO namespaces (name) VALUES (?)", namespace)
	return err
}

func (s SQLiteStorage) DeleteNamespace(namespace string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM entries WHERE namespace = ?", namespace); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM namespaces WHERE name = ?", namespace)
	return err
}

func (s SQLiteStorage) Namespaces() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM namespaces ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Get(namespace, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow(
		"SELECT bytes FROM entries WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteStorage) Match(namespace, path string) ([]byte, bool, error) {
	// Literal prefix comparison instead of LIKE: paths can contain
	// LIKE metacharacters (every percent-encoded path contains '%').
	var bytes []byte
	err := s.db.QueryRow(
		`SELECT bytes FROM entries
		WHERE namespace = ? AND (key = ? OR substr(key, 1, length(?) + 1) = ? || '?')
		ORDER BY key LIMIT 1`,
		namespace, path, path, path,
	).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteStorage) Put(namespace, key string, bytes []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO entries (namespace, key, stored_at, bytes) VALUES (?, ?, ?, ?)",
		namespace, key, time.Now().Unix(), bytes)
	return err
}

func (s SQLiteStorage) Delete(namespace, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM entries WHERE namespace = ? AND key = ?", namespace, key)
	return err
}

func (s SQLiteStorage) Keys(namespace string) ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM entries WHERE namespace = ? ORDER BY key", namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// matchesPath reports whether an entry key matches a path when query
// strings are ignored. Shared by in-memory implementations.
func matchesPath(key, path string) bool {
	return key == path || strings.HasPrefix(key, path+"?")
}
