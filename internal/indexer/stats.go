package indexer

import (
	"encoding/json"
	"sync/atomic"
)

// Stats aggregates run counters. All fields are updated atomically from the
// scan and conversion goroutines.
type Stats struct {
	Directories atomic.Int64
	Files       atomic.Int64

	Images atomic.Int64
	Texts  atomic.Int64
	Videos atomic.Int64

	Converted  atomic.Int64
	Duplicates atomic.Int64
	Skipped    atomic.Int64
	Failed     atomic.Int64
}

// Snapshot is the serializable view of Stats.
type Snapshot struct {
	Directories int64 `json:"directories"`
	Files       int64 `json:"files"`
	Images      int64 `json:"images"`
	Texts       int64 `json:"texts"`
	Videos      int64 `json:"videos"`
	Converted   int64 `json:"converted"`
	Duplicates  int64 `json:"duplicates"`
	Skipped     int64 `json:"skipped"`
	Failed      int64 `json:"failed"`
}

// Snapshot captures the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Directories: s.Directories.Load(),
		Files:       s.Files.Load(),
		Images:      s.Images.Load(),
		Texts:       s.Texts.Load(),
		Videos:      s.Videos.Load(),
		Converted:   s.Converted.Load(),
		Duplicates:  s.Duplicates.Load(),
		Skipped:     s.Skipped.Load(),
		Failed:      s.Failed.Load(),
	}
}

// JSON renders the snapshot for the runs table.
func (s *Stats) JSON() string {
	b, err := json.Marshal(s.Snapshot())
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Accounted returns how many emitted files have reached a terminal outcome.
// It never exceeds Files.
func (s Snapshot) Accounted() int64 {
	return s.Converted + s.Duplicates + s.Skipped + s.Failed
}
