package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"media-indexer/internal/mediatypes"
)

// Occurrence is one file-system observation of a work.
type Occurrence struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
	Timestamp int64  `json:"timestamp"`
}

// NewOccurrence builds an Occurrence for an absolute file path.
func NewOccurrence(id, file string, size int64, mtime time.Time) Occurrence {
	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	base := filepath.Base(file)
	return Occurrence{
		ID:        id,
		File:      file,
		Path:      filepath.Dir(file),
		Name:      strings.TrimSuffix(base, filepath.Ext(base)),
		Extension: ext,
		Size:      size,
		Timestamp: mtime.UnixMilli(),
	}
}

// Sound holds the volume detection result for a video.
type Sound struct {
	Silent bool    `json:"silent"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
}

// SilentSound is the sentinel used when sound detection is disabled or its
// output cannot be parsed.
func SilentSound() Sound {
	return Sound{Silent: true, Mean: -91, Max: -91}
}

// Metadata carries the mutable, user-facing part of a record.
type Metadata struct {
	Created     int64        `json:"created"`
	Added       int64        `json:"added"`
	Updated     int64        `json:"updated"`
	Occurrences []Occurrence `json:"occurrences"`
	Series      string       `json:"series,omitempty"`
	Views       int          `json:"views"`
	Stars       int          `json:"stars"`
	Favorited   bool         `json:"favorited"`
	Reviewed    bool         `json:"reviewed"`
	Private     bool         `json:"private"`
	Tags        []string     `json:"tags"`
}

// Record is the canonical catalog entity for one unique work.
type Record struct {
	ID          string          `json:"id"`
	Object      mediatypes.Kind `json:"object"`
	Version     string          `json:"version"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Hash        string          `json:"hash"`
	Sources     []string        `json:"sources"`
	Relative    string          `json:"relative"`
	Thumbnail   string          `json:"thumbnail,omitempty"`
	Preview     string          `json:"preview,omitempty"`
	Subtitles   string          `json:"subtitles,omitempty"`
	Size        int64           `json:"size"`
	Duration    float64         `json:"duration,omitempty"`
	Aspect      float64         `json:"aspect,omitempty"`
	Width       int             `json:"width,omitempty"`
	Height      int             `json:"height,omitempty"`
	Sound       *Sound          `json:"sound,omitempty"`
	Compression string          `json:"compression,omitempty"`
	Metadata    Metadata        `json:"metadata"`
	Deleted     bool            `json:"deleted"`
}

// HasOccurrence reports whether the record already carries an occurrence for
// the given absolute file path.
func (r *Record) HasOccurrence(file string) bool {
	for _, o := range r.Metadata.Occurrences {
		if o.File == file {
			return true
		}
	}
	return false
}

// AppendOccurrence adds occ unless an occurrence with the same file exists.
func (r *Record) AppendOccurrence(occ Occurrence) {
	if r.HasOccurrence(occ.File) {
		return
	}
	r.Metadata.Occurrences = append(r.Metadata.Occurrences, occ)
}

// RebuildSources recomputes the sources set from the record id, the canonical
// hash, and every occurrence id. The set only ever grows.
func (r *Record) RebuildSources() {
	seen := make(map[string]bool, len(r.Sources)+2)
	var out []string
	add := func(fp string) {
		if fp == "" || seen[fp] {
			return
		}
		seen[fp] = true
		out = append(out, fp)
	}

	add(r.ID)
	add(r.Hash)
	for _, o := range r.Metadata.Occurrences {
		add(o.ID)
	}
	for _, s := range r.Sources {
		add(s)
	}
	r.Sources = out
}

// AddSource appends a fingerprint to sources if not already present.
func (r *Record) AddSource(fp string) {
	for _, s := range r.Sources {
		if s == fp {
			return
		}
	}
	r.Sources = append(r.Sources, fp)
}
