package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/execx"
	"media-indexer/internal/search"
	"media-indexer/internal/slots"
	"media-indexer/internal/ui"
)

// testEnv wires a pipeline environment around fakes: scripted runner,
// in-memory catalog, disabled search.
func testEnv(t *testing.T, mutate func(*config.Config)) (*Env, *execx.FakeRunner, *catalog.Memory) {
	t.Helper()

	cfg := &config.Config{Save: t.TempDir()}
	if mutate != nil {
		mutate(cfg)
	}
	resolved, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	runner := execx.NewFakeRunner()
	store := catalog.NewMemory()
	env := &Env{
		Runner: runner,
		Store:  store,
		Search: search.Disabled{},
		Pool:   slots.NewPool(2),
		UI:     ui.Noop{},
		Cfg:    resolved,
	}
	return env, runner, store
}

func writeTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// scriptHash queues one hash tool response for the given fingerprint.
func scriptHash(runner *execx.FakeRunner, id string) {
	runner.Script("sha1sum", execx.FakeResponse{Stdout: id + "  file\n"})
}

// recordWithSources builds a minimal stored record reachable via the given
// fingerprints.
func recordWithSources(t *testing.T, id string, extra ...string) *catalog.Record {
	t.Helper()
	rec := &catalog.Record{ID: id, Hash: id, Sources: append([]string{id}, extra...)}
	return rec
}

func acquireSlot(t *testing.T, env *Env) *slots.Slot {
	t.Helper()
	slot := env.Pool.Acquire()
	if slot == nil {
		t.Fatal("no free slot")
	}
	t.Cleanup(func() { env.Pool.Release(slot) })
	return slot
}
