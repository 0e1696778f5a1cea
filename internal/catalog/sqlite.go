package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-indexer/internal/logging"
)

// Default timeout for catalog operations
const defaultTimeout = 5 * time.Second

// ErrCatalog wraps store failures so pipelines can count them uniformly.
var ErrCatalog = errors.New("catalog error")

// Store is the record store the pipelines talk to. The sqlite implementation
// below is the production one; tests substitute an in-memory fake.
type Store interface {
	// Lookup matches a fingerprint against id, hash and the sources set.
	// A live (non-deleted) sources match is preferred over a tombstone so
	// that live duplicates win. Returns (nil, nil) when nothing matches.
	Lookup(ctx context.Context, key string) (*Record, error)

	// ForOccurrenceFile finds the record carrying an occurrence for the
	// given absolute path, used by the skip check. Returns (nil, nil) when
	// nothing matches.
	ForOccurrenceFile(ctx context.Context, file string) (*Record, error)

	Insert(ctx context.Context, rec *Record) error
	Replace(ctx context.Context, id string, rec *Record) error
	Count(ctx context.Context) (int64, error)
	RecordRun(ctx context.Context, run Run) error
	Close() error
}

// Run summarizes one indexing run for the runs table.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Stats    string
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite is the sqlite-backed Store.
type SQLite struct {
	db         *sql.DB
	collection string
}

// Open opens (and initializes) the catalog database. The collection name
// becomes the records table name.
func Open(ctx context.Context, url, collection string) (*SQLite, error) {
	if !identRe.MatchString(collection) {
		return nil, fmt.Errorf("%w: invalid collection name %q", ErrCatalog, collection)
	}

	// WAL keeps concurrent slot inserts from tripping over each other;
	// busy_timeout prevents "database is locked" errors.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=5000", url)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrCatalog, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close catalog after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("%w: failed to connect: %v", ErrCatalog, err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLite{db: db, collection: collection}
	if err := s.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close catalog after init failure: %v", closeErr)
		}
		return nil, fmt.Errorf("%w: failed to initialize schema: %v", ErrCatalog, err)
	}

	logging.Info("Catalog ready at %s (collection %s)", url, collection)
	return s, nil
}

func (s *SQLite) initialize(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		object TEXT NOT NULL,
		hash TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		doc TEXT NOT NULL,
		created_at INTEGER NOT NULL DEFAULT (strftime('%%s', 'now')),
		updated_at INTEGER NOT NULL DEFAULT (strftime('%%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_hash ON %[1]s(hash);

	CREATE TABLE IF NOT EXISTS %[1]s_sources (
		fingerprint TEXT NOT NULL,
		record_id TEXT NOT NULL,
		UNIQUE(fingerprint, record_id),
		FOREIGN KEY (record_id) REFERENCES %[1]s(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_sources_fp ON %[1]s_sources(fingerprint);

	CREATE TABLE IF NOT EXISTS %[1]s_occurrences (
		record_id TEXT NOT NULL,
		file TEXT NOT NULL,
		UNIQUE(record_id, file),
		FOREIGN KEY (record_id) REFERENCES %[1]s(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_%[1]s_occ_file ON %[1]s_occurrences(file);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		stats TEXT NOT NULL
	);
	`, s.collection)

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Lookup implements Store.
func (s *SQLite) Lookup(ctx context.Context, key string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	// Live sources match first so tombstones do not shadow live duplicates.
	liveQuery := fmt.Sprintf(`
	SELECT r.doc FROM %[1]s_sources s
	JOIN %[1]s r ON r.id = s.record_id
	WHERE s.fingerprint = ? AND r.deleted = 0
	LIMIT 1`, s.collection)

	rec, err := s.queryOne(ctx, liveQuery, key)
	if err != nil || rec != nil {
		return rec, err
	}

	anyQuery := fmt.Sprintf(`
	SELECT doc FROM %[1]s WHERE id = ? OR hash = ?
	UNION
	SELECT r.doc FROM %[1]s_sources s
	JOIN %[1]s r ON r.id = s.record_id
	WHERE s.fingerprint = ?
	LIMIT 1`, s.collection)

	return s.queryOne(ctx, anyQuery, key, key, key)
}

// ForOccurrenceFile implements Store.
func (s *SQLite) ForOccurrenceFile(ctx context.Context, file string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := fmt.Sprintf(`
	SELECT r.doc FROM %[1]s_occurrences o
	JOIN %[1]s r ON r.id = o.record_id
	WHERE o.file = ? AND r.deleted = 0
	LIMIT 1`, s.collection)

	return s.queryOne(ctx, query, file)
}

func (s *SQLite) queryOne(ctx context.Context, query string, args ...any) (*Record, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup: %v", ErrCatalog, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("%w: corrupt record document: %v", ErrCatalog, err)
	}
	return &rec, nil
}

// Insert implements Store.
func (s *SQLite) Insert(ctx context.Context, rec *Record) error {
	return s.write(ctx, rec, false)
}

// Replace implements Store. The stored record with the given id is replaced
// wholesale; its sources and occurrence indices are rebuilt.
func (s *SQLite) Replace(ctx context.Context, id string, rec *Record) error {
	if id != rec.ID {
		return fmt.Errorf("%w: replace id mismatch: %s != %s", ErrCatalog, id, rec.ID)
	}
	return s.write(ctx, rec, true)
}

func (s *SQLite) write(ctx context.Context, rec *Record, replace bool) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", ErrCatalog, err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrCatalog, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logging.Error("catalog rollback failed: %v", rbErr)
			}
		}
	}()

	var stmt string
	if replace {
		stmt = fmt.Sprintf(`
		UPDATE %s SET object = ?, hash = ?, deleted = ?, doc = ?,
			updated_at = strftime('%%s', 'now')
		WHERE id = ?`, s.collection)
		var res sql.Result
		res, err = tx.ExecContext(ctx, stmt, string(rec.Object), rec.Hash, boolInt(rec.Deleted), string(doc), rec.ID)
		if err == nil {
			var n int64
			if n, err = res.RowsAffected(); err == nil && n == 0 {
				err = fmt.Errorf("%w: replace: no record with id %s", ErrCatalog, rec.ID)
			}
		}
	} else {
		stmt = fmt.Sprintf(`
		INSERT INTO %s (id, object, hash, deleted, doc) VALUES (?, ?, ?, ?, ?)`, s.collection)
		_, err = tx.ExecContext(ctx, stmt, rec.ID, string(rec.Object), rec.Hash, boolInt(rec.Deleted), string(doc))
	}
	if err != nil {
		return fmt.Errorf("%w: write record %s: %v", ErrCatalog, rec.ID, err)
	}

	if err = s.rebuildIndices(ctx, tx, rec); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrCatalog, err)
	}
	return nil
}

func (s *SQLite) rebuildIndices(ctx context.Context, tx *sql.Tx, rec *Record) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s_sources WHERE record_id = ?", s.collection), rec.ID); err != nil {
		return fmt.Errorf("%w: clear sources: %v", ErrCatalog, err)
	}
	for _, fp := range rec.Sources {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s_sources (fingerprint, record_id) VALUES (?, ?)", s.collection),
			fp, rec.ID); err != nil {
			return fmt.Errorf("%w: index source %s: %v", ErrCatalog, fp, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s_occurrences WHERE record_id = ?", s.collection), rec.ID); err != nil {
		return fmt.Errorf("%w: clear occurrences: %v", ErrCatalog, err)
	}
	for _, occ := range rec.Metadata.Occurrences {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s_occurrences (record_id, file) VALUES (?, ?)", s.collection),
			rec.ID, occ.File); err != nil {
			return fmt.Errorf("%w: index occurrence %s: %v", ErrCatalog, occ.File, err)
		}
	}
	return nil
}

// Count implements Store.
func (s *SQLite) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE deleted = 0", s.collection)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrCatalog, err)
	}
	return n, nil
}

// RecordRun implements Store.
func (s *SQLite) RecordRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started_at, finished_at, stats) VALUES (?, ?, ?, ?)",
		run.ID, run.Started.Unix(), run.Finished.Unix(), run.Stats)
	if err != nil {
		return fmt.Errorf("%w: record run: %v", ErrCatalog, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
