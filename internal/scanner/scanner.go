package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"media-indexer/internal/config"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
)

// Rule classifies files for one pipeline kind. Rules are tried in order and
// the first match wins.
type Rule struct {
	Kind    mediatypes.Kind
	Pattern string
	Exclude string
}

// Sink receives scan emissions. Implementations must be safe for concurrent
// use; workers call it from multiple goroutines.
type Sink interface {
	Scanned(kind mediatypes.Kind, index int64, path string)
}

type item struct {
	dir   string
	depth int
}

// Scanner walks directory trees with bounded concurrency, classifies files
// against its rules and emits them to the sink. Every real path is visited at
// most once per scan, which also terminates symlink loops.
type Scanner struct {
	cfg   config.ResolvedScanner
	rules []Rule
	sink  Sink

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []item
	seen    map[string]bool
	pending int
	stopped bool

	directories atomic.Int64
	files       atomic.Int64
	emitted     atomic.Int64
}

// New creates a Scanner. Rules come from the enabled type blocks, in kind
// order.
func New(cfg config.ResolvedScanner, rules []Rule, sink Sink) *Scanner {
	s := &Scanner{
		cfg:   cfg,
		rules: rules,
		sink:  sink,
		seen:  make(map[string]bool),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Counters returns the number of directories visited and files emitted.
func (s *Scanner) Counters() (directories, files int64) {
	return s.directories.Load(), s.files.Load()
}

// Clear resets the seen set, the queue and the counters for a fresh scan.
func (s *Scanner) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.pending = 0
	s.seen = make(map[string]bool)
	s.mu.Unlock()
	s.directories.Store(0)
	s.files.Store(0)
	s.emitted.Store(0)
}

// Idle reports whether no queued or in-flight directories remain.
func (s *Scanner) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending == 0
}

// Add resolves each root to its real path and enqueues it at depth 0.
// Unresolvable roots are logged and skipped.
func (s *Scanner) Add(paths ...string) {
	for _, p := range paths {
		real, err := filepath.EvalSymlinks(p)
		if err != nil {
			logging.Error("cannot resolve scan root %s: %v", p, err)
			continue
		}
		abs, err := filepath.Abs(real)
		if err != nil {
			logging.Error("cannot resolve scan root %s: %v", p, err)
			continue
		}
		s.push(item{dir: abs, depth: 0})
	}
}

func (s *Scanner) push(it item) {
	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.pending++
	s.mu.Unlock()
	s.cond.Signal()
}

// pop blocks until an item is available or the scan is drained. The second
// return is false when the worker should exit.
func (s *Scanner) pop() (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 {
		if s.pending == 0 || s.stopped {
			return item{}, false
		}
		s.cond.Wait()
	}

	it := s.queue[0]
	s.queue = s.queue[1:]
	return it, true
}

// done marks one dequeued item as finished and wakes waiters when the scan
// has drained.
func (s *Scanner) done() {
	s.mu.Lock()
	s.pending--
	drained := s.pending == 0
	s.mu.Unlock()
	if drained {
		s.cond.Broadcast()
	}
}

// Scan runs the traversal over everything queued via Add and blocks until the
// queue drains or ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context) {
	s.mu.Lock()
	s.stopped = false
	workers := s.cfg.Concurrency
	s.mu.Unlock()
	if workers < 1 {
		workers = 1
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cond.Broadcast()
	})
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (s *Scanner) worker(ctx context.Context, id int) {
	logging.Debug("scan worker %d started", id)
	for {
		it, ok := s.pop()
		if !ok {
			logging.Debug("scan worker %d finished", id)
			return
		}
		s.processDir(ctx, it)
		s.done()
	}
}

func (s *Scanner) processDir(ctx context.Context, it item) {
	if ctx.Err() != nil {
		return
	}

	descend := true
	if it.depth > s.cfg.MaxDepth {
		logging.Warn("max depth exceeded at %s (depth %d); not descending", it.dir, it.depth)
		descend = false
	}

	s.mu.Lock()
	if s.seen[it.dir] {
		s.mu.Unlock()
		return
	}
	s.seen[it.dir] = true
	s.mu.Unlock()

	s.directories.Add(1)

	entries, err := os.ReadDir(it.dir)
	if err != nil {
		logging.Error("cannot read directory %s: %v", it.dir, err)
		return
	}

	if s.cfg.Sort {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		s.processEntry(it, entry, descend)
	}
}

func (s *Scanner) processEntry(it item, entry os.DirEntry, descend bool) {
	name := entry.Name()
	if !s.cfg.Dotfiles && strings.HasPrefix(name, ".") {
		return
	}

	path := filepath.Join(it.dir, name)
	isSymlink := entry.Type()&os.ModeSymlink != 0

	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		logging.Warn("cannot resolve %s: %v", path, err)
		return
	}

	info, err := os.Stat(real)
	if err != nil {
		logging.Warn("cannot stat %s: %v", real, err)
		return
	}

	if info.IsDir() {
		if !s.cfg.Recursive || !descend {
			return
		}
		if isSymlink && !s.cfg.FollowSymlinks {
			return
		}
		s.mu.Lock()
		known := s.seen[real]
		s.mu.Unlock()
		if known {
			return
		}
		if s.excluded(real) {
			logging.Debug("excluded directory %s", real)
			return
		}
		s.push(item{dir: real, depth: it.depth + 1})
		return
	}

	s.mu.Lock()
	known := s.seen[real]
	if !known {
		s.seen[real] = true
	}
	s.mu.Unlock()
	if known {
		return
	}

	kind, ok := s.classify(real)
	if !ok {
		return
	}

	s.files.Add(1)
	index := s.emitted.Add(1)
	s.sink.Scanned(kind, index, real)
}

// excluded applies the global exclude globs to a directory path.
func (s *Scanner) excluded(path string) bool {
	for _, pattern := range s.cfg.Exclude {
		if matchGlob(pattern, path) {
			return true
		}
	}
	return false
}

// classify finds the first rule whose pattern matches the path and whose
// exclude does not.
func (s *Scanner) classify(path string) (mediatypes.Kind, bool) {
	for _, rule := range s.rules {
		if !matchGlob(rule.Pattern, path) {
			continue
		}
		if rule.Exclude != "" && matchGlob(rule.Exclude, path) {
			continue
		}
		return rule.Kind, true
	}
	return "", false
}

// matchGlob matches a doublestar pattern against the full slash path, and for
// basename-only patterns against the final element too. Matching is
// case-insensitive so extension patterns catch upper-case suffixes.
func matchGlob(pattern, path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	pat := strings.ToLower(pattern)
	if !strings.HasPrefix(pat, "/") {
		p = strings.TrimPrefix(p, "/")
	}

	if ok, err := doublestar.Match(pat, p); err == nil && ok {
		return true
	}
	if !strings.Contains(pat, "/") {
		if ok, err := doublestar.Match(pat, filepath.Base(p)); err == nil && ok {
			return true
		}
	}
	return false
}
