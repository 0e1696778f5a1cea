package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"media-indexer/internal/mediatypes"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), "records")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestSQLiteRejectsBadCollection(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "c.db"), "records; DROP TABLE x")
	if err == nil {
		t.Fatal("expected error for invalid collection name")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := &Record{
		ID:       "aabbcc",
		Object:   mediatypes.KindImage,
		Name:     "beach",
		Hash:     "aabbcc",
		Relative: "aa/bbcc.jpg",
		Size:     2048,
		Width:    1920,
		Height:   1080,
	}
	rec.AppendOccurrence(NewOccurrence("aabbcc", "/media/beach.jpg", 2048, time.Now()))
	rec.RebuildSources()

	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, rec); err == nil {
		t.Error("duplicate insert should fail")
	}

	got, err := s.Lookup(ctx, "aabbcc")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || got.Name != "beach" || got.Width != 1920 {
		t.Errorf("Lookup = %+v", got)
	}

	got, err = s.ForOccurrenceFile(ctx, "/media/beach.jpg")
	if err != nil {
		t.Fatalf("ForOccurrenceFile: %v", err)
	}
	if got == nil || got.ID != "aabbcc" {
		t.Errorf("ForOccurrenceFile = %+v", got)
	}

	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestSQLiteLookupBySources(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := &Record{ID: "primary", Object: mediatypes.KindVideo, Hash: "converted-hash"}
	rec.Sources = []string{"primary", "converted-hash", "other-source"}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	for _, key := range []string{"primary", "converted-hash", "other-source"} {
		got, err := s.Lookup(ctx, key)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", key, err)
		}
		if got == nil || got.ID != "primary" {
			t.Errorf("Lookup(%s) = %+v, want primary", key, got)
		}
	}

	got, err := s.Lookup(ctx, "unknown")
	if err != nil || got != nil {
		t.Errorf("Lookup(unknown) = %+v, %v", got, err)
	}
}

func TestSQLiteLivePreferred(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	dead := &Record{ID: "dead", Hash: "hd", Sources: []string{"dead", "shared"}, Deleted: true}
	live := &Record{ID: "live", Hash: "hl", Sources: []string{"live", "shared"}}
	if err := s.Insert(ctx, dead); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, live); err != nil {
		t.Fatal(err)
	}

	got, err := s.Lookup(ctx, "shared")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || got.ID != "live" {
		t.Errorf("Lookup(shared) = %+v, want live", got)
	}

	// the tombstone is still reachable through its own fingerprint
	got, err = s.Lookup(ctx, "dead")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got == nil || !got.Deleted {
		t.Errorf("Lookup(dead) = %+v, want tombstone", got)
	}
}

func TestSQLiteReplaceRebuildsIndices(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	rec := &Record{ID: "a", Hash: "a"}
	rec.AppendOccurrence(NewOccurrence("a", "/old.txt", 1, time.Now()))
	rec.RebuildSources()
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatal(err)
	}

	rec.AppendOccurrence(NewOccurrence("b", "/new.txt", 1, time.Now()))
	rec.RebuildSources()
	if err := s.Replace(ctx, "a", rec); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := s.ForOccurrenceFile(ctx, "/new.txt")
	if err != nil || got == nil || got.ID != "a" {
		t.Errorf("new occurrence not indexed: %+v, %v", got, err)
	}
	got, err = s.Lookup(ctx, "b")
	if err != nil || got == nil || got.ID != "a" {
		t.Errorf("new source not indexed: %+v, %v", got, err)
	}

	if err := s.Replace(ctx, "missing", &Record{ID: "missing"}); err == nil {
		t.Error("replace of missing record should fail")
	}
}

func TestSQLiteRecordRun(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	run := Run{ID: "run-1", Started: time.Now().Add(-time.Minute), Finished: time.Now(), Stats: `{"files":3}`}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.RecordRun(ctx, run); err == nil {
		t.Error("duplicate run id should fail")
	}
}
