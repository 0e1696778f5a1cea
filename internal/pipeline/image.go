package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
	_ "image/gif"               // register decoder
	_ "image/jpeg"              // register decoder
	_ "image/png"               // register decoder

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/execx"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
	"media-indexer/internal/slots"
)

// Image converts image files: the original is stored content-addressed, a
// thumbnail is rendered, and animated gifs get a downscaled preview.
type Image struct {
	base
	cfg config.ResolvedImage
}

// NewImage builds the image pipeline.
func NewImage(env *Env) *Image {
	return &Image{base: newBase(env, env.Cfg.Image.ResolvedCommon), cfg: env.Cfg.Image}
}

// Process runs one image through the pipeline.
func (p *Image) Process(ctx context.Context, file string, slot *slots.Slot) Outcome {
	return p.process(ctx, file, slot, p.build)
}

func (p *Image) build(ctx context.Context, j *job) (*catalog.Record, Outcome, error) {
	width, height := p.dimensions(ctx, j.file)
	if width == 0 || height == 0 {
		return nil, Failed, fmt.Errorf("cannot determine dimensions of %s", j.file)
	}

	if min := p.cfg.Minimum; (min.Width > 0 && width < min.Width) || (min.Height > 0 && height < min.Height) {
		logging.Debug("below minimum dimensions (%dx%d): %s", width, height, j.file)
		return nil, Skipped, nil
	}
	if max := p.cfg.Maximum; (max.Width > 0 && width > max.Width) || (max.Height > 0 && height > max.Height) {
		logging.Debug("above maximum dimensions (%dx%d): %s", width, height, j.file)
		return nil, Skipped, nil
	}

	ext := strings.ToLower(filepath.Ext(j.file))
	dest := SavePath(p.cmn.Save, j.id, ext)
	if err := ensureDir(dest); err != nil {
		return nil, Failed, err
	}
	// the source is copied, never moved; the delete policy alone removes it
	if err := copyFile(j.file, dest); err != nil {
		return nil, Failed, err
	}
	p.chmodArtifact(dest)

	thumb := SavePath(p.cmn.Save, j.id, "p."+p.cfg.Thumbnail.Format)
	if err := p.thumbnail(ctx, dest, thumb); err != nil {
		removeArtifacts(dest)
		return nil, Failed, fmt.Errorf("%w: %s: %v", ErrThumbnailFailed, j.file, err)
	}
	p.chmodArtifact(thumb)

	rec := &catalog.Record{
		ID:        j.id,
		Object:    mediatypes.KindImage,
		Version:   recordVersion,
		Name:      j.occ.Name,
		Hash:      j.id,
		Relative:  SavePath("", j.id, ext),
		Size:      j.size,
		Width:     width,
		Height:    height,
		Aspect:    float64(width) / float64(height),
		Thumbnail: SavePath("", j.id, "p."+p.cfg.Thumbnail.Format),
		Metadata: catalog.Metadata{
			Created:     j.mtime.UnixMilli(),
			Occurrences: []catalog.Occurrence{j.occ},
		},
	}

	if ext == ".gif" {
		preview := SavePath(p.cmn.Save, j.id, "p.gif")
		if err := p.preview(ctx, dest, preview); err != nil {
			removeArtifacts(dest, thumb)
			return nil, Failed, fmt.Errorf("%w: %s: %v", ErrPreviewFailed, j.file, err)
		}
		p.chmodArtifact(preview)
		rec.Preview = SavePath("", j.id, "p.gif")
	}

	return rec, Converted, nil
}

// dimensions first asks the configured identify tool, then falls back to the
// builtin decoders.
func (p *Image) dimensions(ctx context.Context, file string) (int, int) {
	bin, args := execx.ExpandTemplate(p.cfg.Identify, execx.Vars{"input": file})
	if bin != "" {
		res, err := p.env.Runner.Run(ctx, bin, args)
		if err == nil {
			if w, h, ok := identifyDimensions(res.Stdout); ok {
				return w, h
			}
		}
		logging.Debug("identify gave no usable geometry for %s, decoding directly", file)
	}

	f, err := os.Open(file)
	if err != nil {
		return 0, 0
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		logging.Debug("cannot decode %s: %v", file, err)
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// identifyDimensions reads the width/height leaves the parser derives from
// the geometry value.
func identifyDimensions(out string) (int, int, bool) {
	root := ParseIdentify(out)
	img := root.Child("Image")
	if img == nil {
		// some identify builds emit the tree without the Image wrapper
		img = root
	}
	w, h := int(img.Num("width")), int(img.Num("height"))
	return w, h, w > 0 && h > 0
}

// thumbnail renders via the external tool, falling back to the builtin
// resizer when the tool is unavailable or fails.
func (p *Image) thumbnail(ctx context.Context, src, dest string) error {
	bin, args := execx.ExpandTemplate(p.cfg.Thumbnail.Template, execx.Vars{
		"input":     src,
		"geometry":  p.cfg.Thumbnail.Geometry,
		"thumbnail": dest,
	})
	if bin != "" {
		if _, err := p.env.Runner.Run(ctx, bin, args); err == nil {
			return nil
		}
		logging.Debug("external thumbnailer failed for %s, using builtin", src)
	}
	return builtinThumbnail(src, dest, p.cfg.Thumbnail.Geometry)
}

// preview downscales an animated gif with the external tool. There is no
// builtin fallback for animations.
func (p *Image) preview(ctx context.Context, src, dest string) error {
	bin, args := execx.ExpandTemplate(p.cfg.Preview, execx.Vars{
		"input":    src,
		"geometry": p.cfg.Thumbnail.Geometry,
		"output":   dest,
	})
	if bin == "" {
		return fmt.Errorf("no preview command configured")
	}
	_, err := p.env.Runner.Run(ctx, bin, args)
	return err
}

// builtinThumbnail renders a bounded-fit thumbnail with the imaging library.
func builtinThumbnail(src, dest, geometry string) error {
	w, h := parseBoundGeometry(geometry)
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}
	thumb := imaging.Fit(img, w, h, imaging.Lanczos)
	if err := imaging.Save(thumb, dest); err != nil {
		return fmt.Errorf("save %s: %w", dest, err)
	}
	return nil
}

// parseBoundGeometry reads "WxH" bounds, defaulting to 200x200.
func parseBoundGeometry(geometry string) (int, int) {
	w, h := 200, 200
	ws, hs, found := strings.Cut(geometry, "x")
	if found {
		if v, err := strconv.Atoi(ws); err == nil && v > 0 {
			w = v
		}
		if v, err := strconv.Atoi(strings.TrimLeft(hs, "x")); err == nil && v > 0 {
			h = v
		}
	}
	return w, h
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
