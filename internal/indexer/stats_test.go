package indexer

import (
	"encoding/json"
	"testing"
)

func TestStatsSnapshotAndJSON(t *testing.T) {
	var s Stats
	s.Files.Store(10)
	s.Converted.Store(4)
	s.Duplicates.Store(3)
	s.Skipped.Store(2)
	s.Failed.Store(1)

	snap := s.Snapshot()
	if snap.Accounted() != 10 {
		t.Errorf("Accounted = %d, want 10", snap.Accounted())
	}
	if snap.Accounted() > snap.Files {
		t.Error("accounted outcomes exceed emitted files")
	}

	var decoded Snapshot
	if err := json.Unmarshal([]byte(s.JSON()), &decoded); err != nil {
		t.Fatalf("JSON: %v", err)
	}
	if decoded != snap {
		t.Errorf("decoded = %+v, want %+v", decoded, snap)
	}
}
