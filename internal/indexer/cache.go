package indexer

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"media-indexer/internal/logging"
)

// pathCache remembers which files reached a terminal outcome so later runs
// (and rescans in persistent mode) skip them without hashing. It is a plain
// JSON array on disk, loaded once and flushed at the end of a run.
type pathCache struct {
	path string

	mu    sync.Mutex
	seen  map[string]bool
	dirty bool
}

// newPathCache loads the cache file at path. An empty path disables caching;
// a missing or corrupt file starts empty.
func newPathCache(path string) *pathCache {
	c := &pathCache{path: path, seen: make(map[string]bool)}
	if path == "" {
		return c
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("cannot read index cache %s: %v", path, err)
		}
		return c
	}

	var entries []string
	if err := json.Unmarshal(raw, &entries); err != nil {
		logging.Warn("ignoring corrupt index cache %s: %v", path, err)
		return c
	}
	for _, e := range entries {
		c.seen[e] = true
	}
	logging.Debug("loaded %d cached paths from %s", len(entries), path)
	return c
}

// Has reports whether file was already indexed in a previous run.
func (c *pathCache) Has(file string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[file]
}

// Add marks file as indexed.
func (c *pathCache) Add(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen[file] {
		c.seen[file] = true
		c.dirty = true
	}
}

// Len returns the number of cached paths.
func (c *pathCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Flush writes the cache back to disk via a temp-file rename. No-op when
// caching is disabled or nothing changed.
func (c *pathCache) Flush() error {
	c.mu.Lock()
	if c.path == "" || !c.dirty {
		c.mu.Unlock()
		return nil
	}
	entries := make([]string, 0, len(c.seen))
	for e := range c.seen {
		entries = append(entries, e)
	}
	c.dirty = false
	path := c.path
	c.mu.Unlock()

	sort.Strings(entries)
	raw, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	logging.Debug("flushed %d cached paths to %s", len(entries), path)
	return nil
}
