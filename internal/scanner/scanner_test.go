package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"media-indexer/internal/config"
	"media-indexer/internal/mediatypes"
)

type collectSink struct {
	mu    sync.Mutex
	files map[string]mediatypes.Kind
}

func newCollectSink() *collectSink {
	return &collectSink{files: make(map[string]mediatypes.Kind)}
}

func (c *collectSink) Scanned(kind mediatypes.Kind, index int64, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.files[path]; dup {
		panic("file emitted twice: " + path)
	}
	c.files[path] = kind
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files)
}

func (c *collectSink) kindOf(path string) (mediatypes.Kind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.files[path]
	return k, ok
}

func defaultRules() []Rule {
	var rules []Rule
	for _, kind := range mediatypes.Kinds {
		rules = append(rules, Rule{Kind: kind, Pattern: mediatypes.DefaultPattern(kind)})
	}
	return rules
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testConfig() config.ResolvedScanner {
	return config.ResolvedScanner{
		Concurrency: 4,
		Recursive:   true,
		MaxDepth:    64,
	}
}

func TestScanClassifiesAndEmitsOnce(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))
	writeFile(t, filepath.Join(root, "notes", "b.txt"))
	writeFile(t, filepath.Join(root, "clips", "c.mp4"))
	writeFile(t, filepath.Join(root, "skip.bin"))

	sink := newCollectSink()
	s := New(testConfig(), defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 3 {
		t.Fatalf("emitted %d files, want 3", sink.len())
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	checks := map[string]mediatypes.Kind{
		filepath.Join(realRoot, "a.jpg"):          mediatypes.KindImage,
		filepath.Join(realRoot, "notes", "b.txt"): mediatypes.KindText,
		filepath.Join(realRoot, "clips", "c.mp4"): mediatypes.KindVideo,
	}
	for path, want := range checks {
		got, ok := sink.kindOf(path)
		if !ok || got != want {
			t.Errorf("%s: kind = %v (found %v), want %v", path, got, ok, want)
		}
	}

	dirs, files := s.Counters()
	if dirs != 3 {
		t.Errorf("directories = %d, want 3", dirs)
	}
	if files != 3 {
		t.Errorf("files = %d, want 3", files)
	}
}

func TestScanUppercaseExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "PHOTO.JPG"))

	sink := newCollectSink()
	s := New(testConfig(), defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanSkipsDotfiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden.jpg"))
	writeFile(t, filepath.Join(root, ".git", "img.jpg"))
	writeFile(t, filepath.Join(root, "seen.jpg"))

	sink := newCollectSink()
	s := New(testConfig(), defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanDotfilesEnabled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".hidden.jpg"))

	cfg := testConfig()
	cfg.Dotfiles = true
	sink := newCollectSink()
	s := New(cfg, defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanNonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.jpg"))
	writeFile(t, filepath.Join(root, "deep", "below.jpg"))

	cfg := testConfig()
	cfg.Recursive = false
	sink := newCollectSink()
	s := New(cfg, defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanExcludesDirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep", "a.jpg"))
	writeFile(t, filepath.Join(root, "trash", "b.jpg"))

	cfg := testConfig()
	cfg.Exclude = []string{"**/trash"}
	sink := newCollectSink()
	s := New(cfg, defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanRuleExclude(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.jpg"))
	writeFile(t, filepath.Join(root, "thumb_small.jpg"))

	rules := []Rule{{
		Kind:    mediatypes.KindImage,
		Pattern: "**/*.jpg",
		Exclude: "**/thumb_*.jpg",
	}}
	sink := newCollectSink()
	s := New(testConfig(), rules, sink)
	s.Add(root)
	s.Scan(context.Background())

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanSymlinkLoopTerminates(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	writeFile(t, filepath.Join(sub, "a.jpg"))
	if err := os.Symlink(root, filepath.Join(sub, "loop")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	cfg := testConfig()
	cfg.FollowSymlinks = true
	sink := newCollectSink()
	s := New(cfg, defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background()) // must terminate

	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanSymlinkedFilesDeduped(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a.jpg")
	writeFile(t, target)
	if err := os.Symlink(target, filepath.Join(root, "alias.jpg")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	sink := newCollectSink()
	s := New(testConfig(), defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	// both names resolve to one real file
	if sink.len() != 1 {
		t.Errorf("emitted %d files, want 1", sink.len())
	}
}

func TestScanMaxDepth(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "l1", "a.jpg"))
	writeFile(t, filepath.Join(root, "l1", "l2", "b.jpg"))
	writeFile(t, filepath.Join(root, "l1", "l2", "l3", "c.jpg"))

	cfg := testConfig()
	cfg.MaxDepth = 1
	sink := newCollectSink()
	s := New(cfg, defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())

	// l2 is past the limit: its files still emit, but l3 is never entered
	if sink.len() != 2 {
		t.Errorf("emitted %d files, want 2", sink.len())
	}
}

type countSink struct {
	n atomic.Int64
}

func (c *countSink) Scanned(mediatypes.Kind, int64, string) { c.n.Add(1) }

func TestScanClearAllowsRescan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.jpg"))

	sink := &countSink{}
	s := New(testConfig(), defaultRules(), sink)
	s.Add(root)
	s.Scan(context.Background())
	if got := sink.n.Load(); got != 1 {
		t.Fatalf("first scan emitted %d files", got)
	}

	// without Clear the seen set suppresses everything
	s.Add(root)
	s.Scan(context.Background())
	if got := sink.n.Load(); got != 1 {
		t.Errorf("re-scan without Clear emitted %d files total", got)
	}

	s.Clear()
	s.Add(root)
	s.Scan(context.Background())
	if got := sink.n.Load(); got != 2 {
		t.Errorf("re-scan after Clear emitted %d files total, want 2", got)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/*.jpg", "/media/a.jpg", true},
		{"**/*.jpg", "/media/deep/tree/a.jpg", true},
		{"**/*.{jpg,png}", "/media/a.png", true},
		{"**/*.jpg", "/media/a.txt", false},
		{"*.jpg", "/media/a.jpg", true}, // basename fallback
		{"**/trash", "/media/trash", true},
		{"**/*.JPG", "/media/a.jpg", true},
		{"**/*.jpg", "/media/a.JPG", true},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.pattern, tt.path); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}
