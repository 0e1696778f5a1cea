package catalog

import (
	"reflect"
	"testing"
	"time"
)

func TestNewOccurrence(t *testing.T) {
	mtime := time.UnixMilli(1700000000000)
	occ := NewOccurrence("abc123", "/media/trip/beach.JPG", 2048, mtime)

	if occ.ID != "abc123" {
		t.Errorf("ID = %q", occ.ID)
	}
	if occ.Path != "/media/trip" {
		t.Errorf("Path = %q", occ.Path)
	}
	if occ.Name != "beach" {
		t.Errorf("Name = %q, want beach", occ.Name)
	}
	if occ.Extension != "JPG" {
		t.Errorf("Extension = %q, want JPG", occ.Extension)
	}
	if occ.Timestamp != 1700000000000 {
		t.Errorf("Timestamp = %d", occ.Timestamp)
	}
}

func TestAppendOccurrenceDedupes(t *testing.T) {
	rec := &Record{ID: "a"}
	occ := NewOccurrence("a", "/x/f.txt", 1, time.Now())

	rec.AppendOccurrence(occ)
	rec.AppendOccurrence(occ)
	if len(rec.Metadata.Occurrences) != 1 {
		t.Errorf("occurrences = %d, want 1", len(rec.Metadata.Occurrences))
	}

	other := NewOccurrence("b", "/x/g.txt", 1, time.Now())
	rec.AppendOccurrence(other)
	if len(rec.Metadata.Occurrences) != 2 {
		t.Errorf("occurrences = %d, want 2", len(rec.Metadata.Occurrences))
	}
}

func TestRebuildSources(t *testing.T) {
	rec := &Record{
		ID:      "id1",
		Hash:    "hash1",
		Sources: []string{"old1", "id1"},
	}
	rec.Metadata.Occurrences = []Occurrence{
		{ID: "occ1", File: "/a"},
		{ID: "id1", File: "/b"}, // same fingerprint as the record
		{ID: "", File: "/c"},    // empty ids never enter the set
	}

	rec.RebuildSources()

	want := []string{"id1", "hash1", "occ1", "old1"}
	if !reflect.DeepEqual(rec.Sources, want) {
		t.Errorf("Sources = %v, want %v", rec.Sources, want)
	}

	// rebuilding again is stable
	rec.RebuildSources()
	if !reflect.DeepEqual(rec.Sources, want) {
		t.Errorf("second rebuild changed Sources: %v", rec.Sources)
	}
}

func TestSilentSound(t *testing.T) {
	s := SilentSound()
	if !s.Silent || s.Mean != -91 || s.Max != -91 {
		t.Errorf("SilentSound = %+v", s)
	}
}
