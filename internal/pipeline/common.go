package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/execx"
	"media-indexer/internal/hasher"
	"media-indexer/internal/logging"
	"media-indexer/internal/search"
	"media-indexer/internal/slots"
	"media-indexer/internal/ui"
)

// Outcome classifies what happened to one scanned file.
type Outcome int

const (
	// Converted means a new record was created.
	Converted Outcome = iota
	// Duplicate means the file was merged into an existing or in-flight record.
	Duplicate
	// Skipped means the file was left alone (already indexed, or outside the
	// configured thresholds).
	Skipped
	// Failed means the conversion errored; the file stays untouched.
	Failed
)

// String returns the outcome name used in logs and run stats.
func (o Outcome) String() string {
	switch o {
	case Converted:
		return "converted"
	case Duplicate:
		return "duplicate"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Env bundles the shared dependencies every pipeline needs.
type Env struct {
	Runner execx.Runner
	Store  catalog.Store
	Search search.Index
	Pool   *slots.Pool
	UI     ui.UI
	Cfg    *config.Resolved
}

const recordVersion = "1"

// SavePath returns the content-addressed artifact path: the first two hex
// digits of the fingerprint become the shard directory, the rest the filename.
// ext carries its leading dot; pass "" for extension-less artifacts.
func SavePath(save, id, ext string) string {
	if len(id) <= 2 {
		return filepath.Join(save, id+ext)
	}
	return filepath.Join(save, id[:2], id[2:]+ext)
}

// job carries the per-file state the type-specific builders work from.
type job struct {
	file  string
	id    string
	size  int64
	mtime time.Time
	occ   catalog.Occurrence
	slot  *slots.Slot
}

// buildFunc is the type-specific back half. A nil record with a nil error
// means the builder already resolved the file (skip or post-transform
// duplicate) and reports how via the Outcome.
type buildFunc func(ctx context.Context, j *job) (*catalog.Record, Outcome, error)

// Tagger derives tags for a record from its occurrences, appending to
// rec.Metadata.Tags. The pipeline normalizes afterwards.
type Tagger interface {
	Tag(ctx context.Context, rec *catalog.Record) error
}

// TagFunc adapts a plain function to Tagger.
type TagFunc func(ctx context.Context, rec *catalog.Record) error

// Tag implements Tagger.
func (f TagFunc) Tag(ctx context.Context, rec *catalog.Record) error { return f(ctx, rec) }

// ExecTagger runs a command template against the newest occurrence file and
// reads one tag per stdout line.
type ExecTagger struct {
	Runner   execx.Runner
	Template string
}

// Tag implements Tagger.
func (t *ExecTagger) Tag(ctx context.Context, rec *catalog.Record) error {
	occ := rec.Metadata.Occurrences
	if len(occ) == 0 {
		return nil
	}
	file := occ[len(occ)-1].File

	bin, args := execx.ExpandTemplate(t.Template, execx.Vars{
		"input": file,
		"file":  file,
	})
	if bin == "" {
		return nil
	}
	res, err := t.Runner.Run(ctx, bin, args)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if tag := strings.TrimSpace(line); tag != "" {
			rec.Metadata.Tags = append(rec.Metadata.Tags, tag)
		}
	}
	return nil
}

// base is the shared front half embedded by every pipeline.
type base struct {
	env    *Env
	cmn    config.ResolvedCommon
	hash   *hasher.Hasher
	tagger Tagger
}

func newBase(env *Env, cmn config.ResolvedCommon) base {
	b := base{env: env, cmn: cmn, hash: hasher.New(env.Runner, cmn.Shasum)}
	if cmn.Tagger != "" {
		b.tagger = &ExecTagger{Runner: env.Runner, Template: cmn.Tagger}
	}
	return b
}

// process runs the shared conversion protocol around build.
func (b *base) process(ctx context.Context, file string, slot *slots.Slot, build buildFunc) Outcome {
	info, err := os.Stat(file)
	if err != nil {
		logging.Error("cannot stat %s: %v", file, err)
		return Failed
	}

	// with delete enabled an already-indexed source must still be merged and
	// removed, so the skip check only applies when the file is kept
	if b.cmn.CanSkip && !b.cmn.Delete {
		rec, err := b.env.Store.ForOccurrenceFile(ctx, file)
		if err != nil {
			logging.Error("skip check for %s: %v", file, err)
		} else if rec != nil {
			logging.Debug("already indexed: %s", file)
			return Skipped
		}
	}

	id, err := b.hash.Hash(ctx, file)
	if err != nil {
		logging.Error("%v", err)
		return Failed
	}
	occ := catalog.NewOccurrence(id, file, info.Size(), info.ModTime())

	// Another slot may already be converting this fingerprint; hand the
	// occurrence over and let that slot persist it. Otherwise this slot
	// becomes the fingerprint's owner, atomically.
	if b.env.Pool.ClaimOrPublish(slot, id, occ) {
		b.removeSource(file)
		return Duplicate
	}

	existing, err := b.env.Store.Lookup(ctx, id)
	if err != nil {
		logging.Error("catalog lookup for %s: %v", file, err)
		return Failed
	}
	if existing != nil {
		if err := b.merge(ctx, existing, occ, id); err != nil {
			logging.Error("merge %s into %s: %v", file, existing.ID, err)
			return Failed
		}
		b.removeSource(file)
		return Duplicate
	}

	rec, outcome, err := build(ctx, &job{
		file:  file,
		id:    id,
		size:  info.Size(),
		mtime: info.ModTime(),
		occ:   occ,
		slot:  slot,
	})
	if err != nil {
		logging.Error("convert %s: %v", file, err)
		return Failed
	}
	if rec == nil {
		return outcome
	}

	return b.finish(ctx, rec, slot)
}

// finish absorbs handed-over occurrences, derives tags, stamps timestamps and
// inserts the record.
func (b *base) finish(ctx context.Context, rec *catalog.Record, slot *slots.Slot) Outcome {
	for _, occ := range b.env.Pool.TakeOccurrences(slot) {
		rec.AppendOccurrence(occ)
	}
	rec.RebuildSources()
	b.applyTags(ctx, rec)

	now := time.Now().UnixMilli()
	rec.Metadata.Added = now
	rec.Metadata.Updated = now

	if err := b.env.Store.Insert(ctx, rec); err != nil {
		logging.Error("insert %s: %v", rec.ID, err)
		return Failed
	}

	for _, occ := range rec.Metadata.Occurrences {
		b.removeSource(occ.File)
	}
	return Converted
}

// merge folds a new occurrence into an existing record: occurrence list and
// sources grow, tags union (or reset under drop_tags), updated moves forward.
// Tombstoned records keep their deleted flag so the work stays suppressed.
func (b *base) merge(ctx context.Context, rec *catalog.Record, occ catalog.Occurrence, fps ...string) error {
	rec.AppendOccurrence(occ)
	for _, fp := range fps {
		rec.AddSource(fp)
	}
	rec.RebuildSources()

	if b.cmn.DropTags {
		rec.Metadata.Tags = nil
	}
	b.applyTags(ctx, rec)
	rec.Metadata.Updated = time.Now().UnixMilli()

	return b.env.Store.Replace(ctx, rec.ID, rec)
}

// applyTags runs the configured tagger and normalizes the result. Tagger
// failures lose tags, never the record.
func (b *base) applyTags(ctx context.Context, rec *catalog.Record) {
	if b.tagger != nil {
		if err := b.tagger.Tag(ctx, rec); err != nil {
			logging.Warn("tagger for %s: %v", rec.ID, err)
		}
	}
	rec.Metadata.Tags = normalizeTags(rec.Metadata.Tags)
}

// removeSource deletes a source file after successful indexing when the
// delete option is on.
func (b *base) removeSource(file string) {
	if !b.cmn.Delete {
		return
	}
	if err := os.Remove(file); err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("cannot remove source %s: %v", file, err)
		}
	} else {
		logging.Debug("removed source %s", file)
	}
}

// normalizeTags lowercases, trims, dedupes and sorts.
func normalizeTags(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var out []string
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// chmodArtifact applies the configured mode to a written artifact.
func (b *base) chmodArtifact(path string) {
	if err := os.Chmod(path, b.cmn.Mode); err != nil {
		logging.Warn("cannot chmod %s: %v", path, err)
	}
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// removeArtifacts best-effort deletes partial artifacts and drops their shard
// directory once it emptied.
func removeArtifacts(paths ...string) {
	var dir string
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("cannot remove %s: %v", path, err)
			continue
		}
		dir = filepath.Dir(path)
	}
	if dir != "" {
		_ = os.Remove(dir)
	}
}

// relativeTo returns path relative to base, falling back to path itself.
func relativeTo(basePath, path string) string {
	rel, err := filepath.Rel(basePath, path)
	if err != nil {
		return path
	}
	return rel
}
