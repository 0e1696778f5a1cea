package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-memory Store used by tests and by runs that pass
// --database off. Semantics match the sqlite store, including the live
// sources preference in Lookup.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record
	runs    []Run
}

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func cloneRecord(rec *Record) *Record {
	// Deep copy via JSON keeps callers from mutating stored state.
	raw, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("catalog: clone record: %v", err))
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("catalog: clone record: %v", err))
	}
	return &out
}

func (m *Memory) matches(rec *Record, key string) bool {
	if rec.ID == key || rec.Hash == key {
		return true
	}
	for _, s := range rec.Sources {
		if s == key {
			return true
		}
	}
	return false
}

// Lookup implements Store.
func (m *Memory) Lookup(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if !rec.Deleted && m.sourceMatch(rec, key) {
			return cloneRecord(rec), nil
		}
	}
	for _, rec := range m.records {
		if m.matches(rec, key) {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (m *Memory) sourceMatch(rec *Record, key string) bool {
	for _, s := range rec.Sources {
		if s == key {
			return true
		}
	}
	return false
}

// ForOccurrenceFile implements Store.
func (m *Memory) ForOccurrenceFile(_ context.Context, file string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.records {
		if rec.Deleted {
			continue
		}
		if rec.HasOccurrence(file) {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

// Insert implements Store.
func (m *Memory) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrCatalog, rec.ID)
	}
	m.records[rec.ID] = cloneRecord(rec)
	return nil
}

// Replace implements Store.
func (m *Memory) Replace(_ context.Context, id string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != rec.ID {
		return fmt.Errorf("%w: replace id mismatch: %s != %s", ErrCatalog, id, rec.ID)
	}
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: replace: no record with id %s", ErrCatalog, id)
	}
	m.records[id] = cloneRecord(rec)
	return nil
}

// Count implements Store.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, rec := range m.records {
		if !rec.Deleted {
			n++
		}
	}
	return n, nil
}

// RecordRun implements Store.
func (m *Memory) RecordRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns recorded runs (test helper).
func (m *Memory) Runs() []Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, len(m.runs))
	copy(out, m.runs)
	return out
}

// All returns a snapshot of every stored record (test helper).
func (m *Memory) All() []*Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, cloneRecord(rec))
	}
	return out
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
var _ Store = (*SQLite)(nil)
