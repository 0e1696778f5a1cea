// Package search maintains the optional full-text index. The production
// implementation keeps one FTS5 table per logical index in a sqlite database;
// Disabled is used when search is not configured.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-indexer/internal/logging"
)

const defaultTimeout = 5 * time.Second

// ErrSearch wraps index failures.
var ErrSearch = errors.New("search index error")

// Body is the indexed document: weights descend name > description > contents.
type Body struct {
	Name        string
	Description string
	Contents    string
}

// Index writes documents into named full-text indices.
type Index interface {
	Index(ctx context.Context, idx, docID string, body Body) error
	Refresh(ctx context.Context, idx string) error
	Close() error
}

// Disabled is the no-op Index used when search is not configured.
type Disabled struct{}

// Index implements Index.
func (Disabled) Index(context.Context, string, string, Body) error { return nil }

// Refresh implements Index.
func (Disabled) Refresh(context.Context, string) error { return nil }

// Close implements Index.
func (Disabled) Close() error { return nil }

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// FTS is the sqlite FTS5 backed Index.
type FTS struct {
	db *sql.DB

	mu      sync.Mutex
	created map[string]bool
}

// Open opens the search database at path.
func Open(ctx context.Context, path string) (*FTS, error) {
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrSearch, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Error("failed to close search db after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("%w: connect: %v", ErrSearch, err)
	}

	logging.Info("Search index ready at %s", path)
	return &FTS{db: db, created: make(map[string]bool)}, nil
}

func (f *FTS) ensure(ctx context.Context, idx string) error {
	if !identRe.MatchString(idx) {
		return fmt.Errorf("%w: invalid index name %q", ErrSearch, idx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.created[idx] {
		return nil
	}

	schema := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS %[1]s USING fts5(
		doc_id UNINDEXED,
		name,
		description,
		contents,
		tokenize='trigram'
	);
	CREATE TABLE IF NOT EXISTS %[1]s_docs (
		doc_id TEXT PRIMARY KEY,
		rowid_ref INTEGER NOT NULL
	);
	`, idx)

	if _, err := f.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: create index %s: %v", ErrSearch, idx, err)
	}
	f.created[idx] = true
	return nil
}

// Index implements Index. Re-indexing a doc_id replaces the previous document.
func (f *FTS) Index(ctx context.Context, idx, docID string, body Body) error {
	if err := f.ensure(ctx, idx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrSearch, err)
	}

	var prev int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT rowid_ref FROM %s_docs WHERE doc_id = ?", idx), docID).Scan(&prev)
	switch {
	case err == nil:
		if _, err = tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", idx), prev); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: replace %s/%s: %v", ErrSearch, idx, docID, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// first index of this doc
	default:
		_ = tx.Rollback()
		return fmt.Errorf("%w: lookup %s/%s: %v", ErrSearch, idx, docID, err)
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (doc_id, name, description, contents) VALUES (?, ?, ?, ?)", idx),
		docID, body.Name, body.Description, body.Contents)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: index %s/%s: %v", ErrSearch, idx, docID, err)
	}

	rowid, err := res.LastInsertId()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: index %s/%s: %v", ErrSearch, idx, docID, err)
	}

	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %[1]s_docs (doc_id, rowid_ref) VALUES (?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET rowid_ref = excluded.rowid_ref`, idx),
		docID, rowid); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: map %s/%s: %v", ErrSearch, idx, docID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrSearch, err)
	}
	return nil
}

// Refresh implements Index. FTS5 writes are visible on commit; refresh only
// merges the index b-trees, mirroring what a remote search service's refresh
// call would do.
func (f *FTS) Refresh(ctx context.Context, idx string) error {
	if err := f.ensure(ctx, idx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := f.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %[1]s(%[1]s) VALUES('optimize')", idx)); err != nil {
		return fmt.Errorf("%w: refresh %s: %v", ErrSearch, idx, err)
	}
	return nil
}

// Close implements Index.
func (f *FTS) Close() error {
	return f.db.Close()
}

var _ Index = (*FTS)(nil)
var _ Index = Disabled{}
