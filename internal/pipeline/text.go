package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
	"media-indexer/internal/search"
	"media-indexer/internal/slots"
)

// Text converts text files: content is stored (optionally compressed), a
// summary becomes the description, and the full contents go into the search
// index when one is configured.
type Text struct {
	base
	cfg config.ResolvedText

	// Processor, when set, runs after the record is built and before the
	// search index write. It may adjust the record in place; its return value
	// is the text sent to the full-text index.
	Processor func(rec *catalog.Record, text string) string
}

// NewText builds the text pipeline.
func NewText(env *Env) *Text {
	return &Text{base: newBase(env, env.Cfg.Text.ResolvedCommon), cfg: env.Cfg.Text}
}

// Process runs one text file through the pipeline.
func (p *Text) Process(ctx context.Context, file string, slot *slots.Slot) Outcome {
	return p.process(ctx, file, slot, p.build)
}

func (p *Text) build(ctx context.Context, j *job) (*catalog.Record, Outcome, error) {
	if p.cfg.Minimum > 0 && j.size < p.cfg.Minimum {
		logging.Debug("below minimum size (%d bytes): %s", j.size, j.file)
		return nil, Skipped, nil
	}
	if p.cfg.Maximum > 0 && j.size > p.cfg.Maximum {
		logging.Debug("above maximum size (%d bytes): %s", j.size, j.file)
		return nil, Skipped, nil
	}

	content, err := os.ReadFile(j.file)
	if err != nil {
		return nil, Failed, err
	}
	text := string(content)

	ext := strings.ToLower(filepath.Ext(j.file))
	switch p.cfg.Compression {
	case "brotli":
		ext += ".br"
	case "gzip":
		ext += ".gz"
	}

	rec := &catalog.Record{
		ID:       j.id,
		Object:   mediatypes.KindText,
		Version:  recordVersion,
		Name:     j.occ.Name,
		Relative: SavePath("", j.id, ext),
		Metadata: catalog.Metadata{
			Created:     j.mtime.UnixMilli(),
			Occurrences: []catalog.Occurrence{j.occ},
		},
	}
	if p.Processor != nil {
		text = p.Processor(rec, text)
	}

	// The canonical text is whatever the processor left behind, so the record
	// hash fingerprints it. When it differs from the source fingerprint a
	// catalog hit means the source is a variant of a known canonical.
	hash := j.id
	if text != string(content) {
		hash, err = p.hashText(ctx, text)
		if err != nil {
			return nil, Failed, err
		}
		if hash != j.id {
			existing, err := p.env.Store.Lookup(ctx, hash)
			if err != nil {
				return nil, Failed, err
			}
			if existing != nil {
				if err := p.merge(ctx, existing, j.occ, j.id, hash); err != nil {
					return nil, Failed, err
				}
				p.removeSource(j.file)
				return nil, Duplicate, nil
			}
		}
	}
	rec.Hash = hash

	if rec.Description == "" {
		rec.Description = p.summarize(text)
	}
	switch p.cfg.Compression {
	case "brotli", "gzip":
		rec.Compression = p.cfg.Compression
	}

	if p.env.Cfg.Search.Enabled {
		err := p.env.Search.Index(ctx, p.env.Cfg.Search.Index, j.id, search.Body{
			Name:        rec.Name,
			Description: rec.Description,
			Contents:    text,
		})
		if err != nil {
			logging.Warn("search index %s: %v", j.file, err)
		}
	}

	dest := SavePath(p.cmn.Save, j.id, ext)
	if err := ensureDir(dest); err != nil {
		return nil, Failed, err
	}
	if err := p.writeContent(dest, []byte(text)); err != nil {
		return nil, Failed, err
	}
	p.chmodArtifact(dest)

	// size records the canonical artifact, which compression shrinks
	info, err := os.Stat(dest)
	if err != nil {
		removeArtifacts(dest)
		return nil, Failed, err
	}
	rec.Size = info.Size()

	return rec, Converted, nil
}

// hashText fingerprints in-memory text by spooling it through a temp file for
// the external hash tool.
func (p *Text) hashText(ctx context.Context, text string) (string, error) {
	f, err := os.CreateTemp("", "indexer-text-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return p.hash.Hash(ctx, f.Name())
}

func (p *Text) writeContent(dest string, content []byte) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}

	var werr error
	switch p.cfg.Compression {
	case "brotli":
		w := brotli.NewWriter(f)
		if _, werr = w.Write(content); werr == nil {
			werr = w.Close()
		}
	case "gzip":
		w := gzip.NewWriter(f)
		if _, werr = w.Write(content); werr == nil {
			werr = w.Close()
		}
	default:
		_, werr = f.Write(content)
	}

	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write %s: %w", dest, werr)
	}
	return nil
}

// summarize collapses whitespace and truncates to the configured length.
func (p *Text) summarize(text string) string {
	limit := p.cfg.Summarize
	if limit <= 0 {
		limit = p.cfg.SummaryFallback
	}
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
