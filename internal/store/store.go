package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/PaulM5406/pytest-difftest/internal/logging"
)

const sqliteDriver = "sqlite3"

// Store is the persistent Dependency Store. Reads run concurrently
// thanks to WAL journaling; writes are serialized both by an in-process
// mutex (to avoid SQLITE_BUSY churn within one process) and by SQLite's own
// file lock across processes.
type Store struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
	writeMu     sync.Mutex
}

// Open opens (creating if necessary) the dependency store at path with WAL
// journaling, the given busy timeout, memory-mapped I/O, and a large page
// cache. A non-positive busyTimeout falls back to 30 seconds.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = 30 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	dsn := fmt.Sprintf(
		"%s?_journal_mode=WAL&_busy_timeout=%d&_mmap_size=268435456&_cache_size=-64000&_txlock=immediate&_foreign_keys=1",
		path, busyTimeout.Milliseconds(),
	)

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	// The store is a single-writer database; one open connection avoids
	// SQLite handing concurrent writers to separate connections that would
	// otherwise race on the same file lock within this process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, busyTimeout: busyTimeout}

	if err := s.init(); err != nil {
		_ = db.Close()

		return nil, err
	}

	logging.Store("opened dependency store at %s", path)

	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}

	var existing string

	row := s.db.QueryRow(`SELECT data FROM metadata WHERE dataid = 'schema_version'`)

	switch err := row.Scan(&existing); {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(`INSERT INTO metadata(dataid, data) VALUES ('schema_version', ?)`, schemaVersion)
		if err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	case existing != schemaVersion:
		return fmt.Errorf("%w: on-disk schema_version %q != %q", ErrStoreCorrupt, existing, schemaVersion)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store's file path.
func (s *Store) Path() string { return s.path }

// Scope returns the path prefixes the store was built with, and whether a
// scope has ever been recorded.
func (s *Store) Scope() ([]string, bool, error) {
	var data string

	row := s.db.QueryRow(`SELECT data FROM metadata WHERE dataid = 'scope'`)

	switch err := row.Scan(&data); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("read scope: %w", err)
	}

	if data == "" {
		return nil, true, nil
	}

	return strings.Split(data, ","), true, nil
}

// SetScope persists the path prefix(es) the store was built against.
func (s *Store) SetScope(scope []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO metadata(dataid, data) VALUES ('scope', ?)
		 ON CONFLICT(dataid) DO UPDATE SET data = excluded.data`,
		strings.Join(scope, ","),
	)
	if err != nil {
		return fmt.Errorf("set scope: %w", err)
	}

	return nil
}

// IsEmpty reports whether the store has no environments yet - the baseline
// vs. incremental decision in the Orchestrator's state table hinges on this.
func (s *Store) IsEmpty() (bool, error) {
	var count int

	row := s.db.QueryRow(`SELECT COUNT(*) FROM environment`)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("count environments: %w", err)
	}

	return count == 0, nil
}

// GetOrCreateEnvironment idempotently resolves an environment id.
func (s *Store) GetOrCreateEnvironment(name, systemPackages, pythonVersion string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var id int64

	row := s.db.QueryRow(
		`SELECT id FROM environment WHERE environment_name = ? AND system_packages = ? AND python_version = ?`,
		name, systemPackages, pythonVersion,
	)

	switch err := row.Scan(&id); {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, s.classifyErr(err)
	}

	// ON CONFLICT DO NOTHING keeps this safe against a parallel worker
	// process inserting the same triple between our select and insert.
	_, err := s.withImmediate(func(tx *sql.Tx) (sql.Result, error) {
		return tx.Exec(
			`INSERT INTO environment(environment_name, system_packages, python_version) VALUES (?, ?, ?)
			 ON CONFLICT(environment_name, system_packages, python_version) DO NOTHING`,
			name, systemPackages, pythonVersion,
		)
	})
	if err != nil {
		return 0, err
	}

	row = s.db.QueryRow(
		`SELECT id FROM environment WHERE environment_name = ? AND system_packages = ? AND python_version = ?`,
		name, systemPackages, pythonVersion,
	)
	if err := row.Scan(&id); err != nil {
		return 0, s.classifyErr(err)
	}

	logging.StoreDebug("created environment %d (%s, %s, %s)", id, name, systemPackages, pythonVersion)

	return id, nil
}

// FindEnvironment looks up an environment without creating one, used by
// incremental runs where EnvironmentMissing must be distinguishable.
func (s *Store) FindEnvironment(name, systemPackages, pythonVersion string) (int64, bool, error) {
	var id int64

	row := s.db.QueryRow(
		`SELECT id FROM environment WHERE environment_name = ? AND system_packages = ? AND python_version = ?`,
		name, systemPackages, pythonVersion,
	)

	switch err := row.Scan(&id); {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, s.classifyErr(err)
	}

	return id, true, nil
}

// withImmediate runs fn inside a BEGIN IMMEDIATE transaction, converting a
// busy-timeout expiry into ErrContentionExceeded.
func (s *Store) withImmediate(fn func(tx *sql.Tx) (sql.Result, error)) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.busyTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.classifyErr(err)
	}

	res, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()

		return nil, s.classifyErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, s.classifyErr(err)
	}

	return res, nil
}

func (s *Store) classifyErr(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	if strings.Contains(msg, "busy") || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrContentionExceeded, err)
	}

	if strings.Contains(msg, "malformed") || strings.Contains(msg, "no such table") {
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}

	return err
}

// packChecksums encodes a checksum slice as little-endian packed int32s,
// the stable on-disk blob layout.
func packChecksums(checksums []int32) []byte {
	buf := make([]byte, 4*len(checksums))

	for i, c := range checksums {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(c))
	}

	return buf
}

// unpackChecksums decodes a packed little-endian int32 blob.
func unpackChecksums(blob []byte) []int32 {
	n := len(blob) / 4
	out := make([]int32, n)

	for i := 0; i < n; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(blob[i*4:]))
	}

	return out
}
