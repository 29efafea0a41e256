package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	lserr "github.com/lodeworks/lodestone/internal/errors"
)

// schemaVersion is the current on-disk schema version. The store refuses
// to open databases written by a newer version.
const schemaVersion = 1

// Store is the per-repository index database.
// A single write connection with WAL mode allows concurrent readers.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	lock   *flock.Flock
	closed bool
}

// validateIntegrity checks an existing database before opening it.
// Returns nil if the file is absent (it will be created) or healthy.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open opens (or creates) the index database at path. An empty path opens
// an in-memory database for testing.
func Open(path string) (*Store, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, lserr.Wrap(err, lserr.ErrCodePathNotFound,
				fmt.Sprintf("cannot create index directory for %s", path))
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))

			// Auto-clear so the next index run rebuilds from scratch.
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, lserr.Wrap(validErr, lserr.ErrCodeCorruptIndex,
					fmt.Sprintf("index corrupted at %s and cannot be removed", path))
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")

			slog.Info("index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex required"))
		}

		dsn = path + "?_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to open database")
	}

	// Single writer prevents SQLITE_BUSY under concurrent ingest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params; set pragmas explicitly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to set pragma")
		}
	}

	s := &Store{db: db, path: path}
	if path != "" {
		s.lock = flock.New(path + ".lock")
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// initSchema creates tables and indexes, and enforces the schema version.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS repositories (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS files (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		repo_id    INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
		abs_path   TEXT NOT NULL,
		rel_path   TEXT NOT NULL,
		language   TEXT NOT NULL DEFAULT '',
		size       INTEGER NOT NULL,
		hash       TEXT NOT NULL,
		indexed_at TEXT NOT NULL,
		UNIQUE(repo_id, rel_path)
	);

	CREATE TABLE IF NOT EXISTS symbols (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id    INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		line_start INTEGER NOT NULL,
		line_end   INTEGER NOT NULL,
		signature  TEXT NOT NULL DEFAULT '',
		doc        TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
	CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
	CREATE INDEX IF NOT EXISTS idx_files_language ON files(language);
	CREATE INDEX IF NOT EXISTS idx_files_repo ON files(repo_id);

	-- FTS5 virtual table for BM25-ranked full-text search.
	-- filepath is UNINDEXED: stored for retrieval, not searchable.
	CREATE VIRTUAL TABLE IF NOT EXISTS bm25_content USING fts5(
		filepath UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to initialize schema")
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(schemaVersion))
		if err != nil {
			return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to record schema version")
		}
	case err != nil:
		return lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to read schema version")
	default:
		v, convErr := strconv.Atoi(stored)
		if convErr != nil || v > schemaVersion {
			return lserr.Newf(lserr.ErrCodeSchemaMismatch,
				"database schema version %s is newer than supported version %d", stored, schemaVersion)
		}
	}
	return nil
}

// Path returns the database file path ("" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// AcquireIngestLock takes an advisory file lock for bulk ingest, keeping a
// second indexer process off this database. No-op for in-memory stores.
func (s *Store) AcquireIngestLock() (release func(), err error) {
	if s.lock == nil {
		return func() {}, nil
	}
	if err := s.lock.Lock(); err != nil {
		return nil, lserr.Wrap(err, lserr.ErrCodeBackendUnavailable, "failed to lock index")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

// Stats returns index-wide counts for status reporting.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, errClosed()
	}

	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM repositories),
			(SELECT COUNT(*) FROM files),
			(SELECT COUNT(*) FROM symbols),
			(SELECT COUNT(*) FROM bm25_content),
			COALESCE((SELECT MAX(indexed_at) FROM files), '')`)
	var lastIndexed string
	if err := row.Scan(&st.Repositories, &st.Files, &st.Symbols, &st.Documents, &lastIndexed); err != nil {
		return Stats{}, lserr.Wrap(err, lserr.ErrCodeCorruptIndex, "failed to read stats")
	}
	if lastIndexed != "" {
		st.LastIndexed = parseTime(lastIndexed)
	}
	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.SizeBytes = info.Size()
		}
	}
	return st, nil
}

// Close closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func errClosed() error {
	return lserr.New(lserr.ErrCodeCorruptIndex, "store is closed", nil)
}
