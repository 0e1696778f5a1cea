package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/execx"
	"media-indexer/internal/logging"
	"media-indexer/internal/mediatypes"
	"media-indexer/internal/search"
	"media-indexer/internal/slots"
)

var (
	// ErrProbeFailed wraps failures to probe a video's format and streams.
	ErrProbeFailed = errors.New("media probe failed")
	// ErrConvertFailed wraps transcode failures.
	ErrConvertFailed = errors.New("media conversion failed")
	// ErrThumbnailFailed wraps thumbnail rendering failures.
	ErrThumbnailFailed = errors.New("thumbnail failed")
	// ErrPreviewFailed wraps preview rendering failures.
	ErrPreviewFailed = errors.New("preview failed")
)

// Video converts video files: probe, subtitle extraction, transcode to the
// target container with live progress, thumbnail, preview and sound
// detection.
type Video struct {
	base
	cfg config.ResolvedVideo
}

// NewVideo builds the video pipeline.
func NewVideo(env *Env) *Video {
	return &Video{base: newBase(env, env.Cfg.Video.ResolvedCommon), cfg: env.Cfg.Video}
}

// Process runs one video through the pipeline.
func (p *Video) Process(ctx context.Context, file string, slot *slots.Slot) Outcome {
	return p.process(ctx, file, slot, p.build)
}

// probeOutput is the subset of ffprobe's JSON the pipeline reads.
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	CodecType string            `json:"codec_type"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Tags      map[string]string `json:"tags"`
}

func (p *Video) build(ctx context.Context, j *job) (*catalog.Record, Outcome, error) {
	probe, err := p.probe(ctx, j.file)
	if err != nil {
		return nil, Failed, err
	}
	srcDuration, _ := strconv.ParseFloat(probe.Format.Duration, 64)

	subtitles := p.subtitles(ctx, j, probe)

	dest := SavePath(p.cmn.Save, j.id, "."+p.cfg.Format)
	if err := ensureDir(dest); err != nil {
		return nil, Failed, err
	}
	if err := p.convert(ctx, j, dest); err != nil {
		removeArtifacts(dest, subtitles)
		return nil, Failed, err
	}
	p.chmodArtifact(dest)

	// Transcoding rewrites the bytes, so the output carries its own
	// fingerprint. A catalog hit on it means this source converged with an
	// earlier conversion.
	hash, err := p.hash.Hash(ctx, dest)
	if err != nil {
		return nil, Failed, err
	}
	if hash != j.id {
		existing, err := p.env.Store.Lookup(ctx, hash)
		if err != nil {
			return nil, Failed, err
		}
		if existing != nil {
			removeArtifacts(dest, subtitles)
			if err := p.merge(ctx, existing, j.occ, j.id, hash); err != nil {
				return nil, Failed, err
			}
			p.removeSource(j.file)
			return nil, Duplicate, nil
		}
	}

	thumb := SavePath(p.cmn.Save, j.id, "p."+p.cfg.Thumbnail.Format)
	if err := p.thumbnail(ctx, dest, thumb, srcDuration); err != nil {
		removeArtifacts(dest, subtitles)
		return nil, Failed, fmt.Errorf("%w: %s: %v", ErrThumbnailFailed, j.file, err)
	}
	p.chmodArtifact(thumb)

	// The record describes the canonical artifact: duration, dimensions and
	// size come from re-examining the transcoded output, not the source.
	out, err := p.probe(ctx, dest)
	if err != nil {
		removeArtifacts(dest, thumb, subtitles)
		return nil, Failed, err
	}
	duration, _ := strconv.ParseFloat(out.Format.Duration, 64)
	var width, height int
	for _, s := range out.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			width, height = s.Width, s.Height
			break
		}
	}
	info, err := os.Stat(dest)
	if err != nil {
		removeArtifacts(dest, thumb, subtitles)
		return nil, Failed, err
	}

	rec := &catalog.Record{
		ID:        j.id,
		Object:    mediatypes.KindVideo,
		Version:   recordVersion,
		Name:      j.occ.Name,
		Hash:      hash,
		Relative:  SavePath("", j.id, "."+p.cfg.Format),
		Size:      info.Size(),
		Duration:  duration,
		Width:     width,
		Height:    height,
		Thumbnail: SavePath("", j.id, "p."+p.cfg.Thumbnail.Format),
		Metadata: catalog.Metadata{
			Created:     j.mtime.UnixMilli(),
			Occurrences: []catalog.Occurrence{j.occ},
		},
	}
	if width > 0 && height > 0 {
		rec.Aspect = float64(width) / float64(height)
	}
	if subtitles != "" {
		rec.Subtitles = SavePath("", j.id, "."+p.cfg.Subtitles.Format)
	}

	sound := p.detectSound(ctx, dest)
	rec.Sound = &sound

	if p.cfg.Preview != "" && p.cfg.PreviewDuration > 0 && duration > 0 {
		preview := SavePath(p.cmn.Save, j.id, "p."+p.cfg.Format)
		if err := p.preview(ctx, dest, preview, duration); err != nil {
			removeArtifacts(dest, thumb, preview, subtitles)
			return nil, Failed, fmt.Errorf("%w: %s: %v", ErrPreviewFailed, j.file, err)
		}
		p.chmodArtifact(preview)
		rec.Preview = SavePath("", j.id, "p."+p.cfg.Format)
	}

	if subtitles != "" {
		p.indexSubtitles(ctx, rec, subtitles)
	}

	return rec, Converted, nil
}

func (p *Video) probe(ctx context.Context, file string) (*probeOutput, error) {
	bin, args := execx.ExpandTemplate(p.cfg.Probe, execx.Vars{"input": file})
	if bin == "" {
		return nil, fmt.Errorf("%w: no probe command configured", ErrProbeFailed)
	}
	res, err := p.env.Runner.Run(ctx, bin, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, file, err)
	}
	var out probeOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: bad json: %v", ErrProbeFailed, file, err)
	}
	return &out, nil
}

// siblingSubtitleExts are tried, in order, next to the source file.
var siblingSubtitleExts = []string{".srt", ".vtt", ".ass", ".sub"}

// subtitles finds or extracts a subtitle artifact and returns its path, or ""
// when the video has none. Subtitle failures never fail the conversion.
func (p *Video) subtitles(ctx context.Context, j *job, probe *probeOutput) string {
	dest := SavePath(p.cmn.Save, j.id, "."+p.cfg.Subtitles.Format)
	if err := ensureDir(dest); err != nil {
		logging.Warn("subtitles for %s: %v", j.file, err)
		return ""
	}

	// a sibling subtitle file wins over embedded streams
	stem := strings.TrimSuffix(j.file, filepath.Ext(j.file))
	for _, ext := range siblingSubtitleExts {
		sibling := stem + ext
		if info, err := os.Stat(sibling); err == nil && info.Size() > 0 {
			if err := copyFile(sibling, dest); err != nil {
				logging.Warn("cannot copy subtitles %s: %v", sibling, err)
				return ""
			}
			if !usableSubtitles(dest) {
				logging.Debug("subtitles for %s carry no words, discarding", j.file)
				_ = os.Remove(dest)
				return ""
			}
			p.chmodArtifact(dest)
			return dest
		}
	}

	hasStream := false
	for _, s := range probe.Streams {
		if s.CodecType == "subtitle" {
			hasStream = true
			break
		}
	}
	if !hasStream {
		return ""
	}

	vars := execx.Vars{
		"input":    j.file,
		"language": p.cfg.Subtitles.Language,
		"file":     dest,
	}
	if p.extractSubtitles(ctx, p.cfg.Subtitles.Template, vars, dest) {
		return dest
	}
	// language-matched extraction found nothing, take the first stream
	if p.extractSubtitles(ctx, p.cfg.Subtitles.Fallback, vars, dest) {
		return dest
	}
	return ""
}

// extractSubtitles runs one extraction template and sanity-checks the result.
func (p *Video) extractSubtitles(ctx context.Context, template string, vars execx.Vars, dest string) bool {
	bin, args := execx.ExpandTemplate(template, vars)
	if bin == "" {
		return false
	}
	res := execx.RunQuiet(ctx, p.env.Runner, bin, args)
	if res.ExitCode != 0 {
		return false
	}
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 || !usableSubtitles(dest) {
		if err == nil {
			_ = os.Remove(dest)
		}
		return false
	}
	p.chmodArtifact(dest)
	return true
}

var nonWordRe = regexp.MustCompile(`\W`)

// usableSubtitles parses the artifact to plain text; a cue-only or
// timing-only file carries no words and fails the sanity check.
func usableSubtitles(path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	text := subtitleText(string(raw))
	return nonWordRe.ReplaceAllString(text, "") != ""
}

var (
	durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)
	timeRe     = regexp.MustCompile(`time=\s*(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

// convert transcodes the source into dest, publishing progress parsed from
// the tool's stderr onto the slot and the UI.
func (p *Video) convert(ctx context.Context, j *job, dest string) error {
	bin, args := execx.ExpandTemplate(p.cfg.Convert, execx.Vars{
		"input":  j.file,
		"format": p.cfg.Format,
		"output": dest,
	})
	if bin == "" {
		return fmt.Errorf("%w: no convert command configured", ErrConvertFailed)
	}

	_, err := p.env.Runner.RunStream(ctx, bin, args, func(line string) {
		if m := durationRe.FindStringSubmatch(line); m != nil {
			j.slot.ProgressTotal.Store(clockMillis(m[1], m[2], m[3]))
		}
		if m := timeRe.FindStringSubmatch(line); m != nil {
			j.slot.ProgressValue.Store(clockMillis(m[1], m[2], m[3]))
			p.env.UI.SlotProgress(j.slot.Row, j.slot.ProgressValue.Load(), j.slot.ProgressTotal.Load())
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConvertFailed, j.file, err)
	}
	return nil
}

// clockMillis converts an HH:MM:SS.cc clock to milliseconds.
func clockMillis(h, m, s string) int64 {
	hours, _ := strconv.ParseInt(h, 10, 64)
	minutes, _ := strconv.ParseInt(m, 10, 64)
	seconds, _ := strconv.ParseFloat(s, 64)
	return hours*3600_000 + minutes*60_000 + int64(seconds*1000)
}

// thumbnail grabs a frame near the configured time, clamped into the video.
func (p *Video) thumbnail(ctx context.Context, src, dest string, duration float64) error {
	t := thumbnailTime(p.cfg.ThumbnailTime, duration)
	bin, args := execx.ExpandTemplate(p.cfg.Thumbnail.Template, execx.Vars{
		"input":     src,
		"time":      strconv.FormatFloat(t, 'f', -1, 64),
		"geometry":  p.cfg.Thumbnail.Geometry,
		"thumbnail": dest,
	})
	if bin == "" {
		return fmt.Errorf("no thumbnail command configured")
	}
	_, err := p.env.Runner.Run(ctx, bin, args)
	return err
}

// thumbnailTime clamps the seek time into [0, duration-1]. Anything
// non-finite or negative collapses to 0 so short clips still get a frame.
func thumbnailTime(want, duration float64) float64 {
	t := math.Floor(math.Min(want, duration-1))
	if math.IsNaN(t) || math.IsInf(t, 0) || t < 0 {
		return 0
	}
	return t
}

// preview renders a sampled preview: one frame every interval seconds, with
// the interval chosen so the preview spans the whole video.
func (p *Video) preview(ctx context.Context, src, dest string, duration float64) error {
	interval := math.Ceil(duration / p.cfg.PreviewDuration)
	if interval < 1 {
		interval = 1
	}
	bin, args := execx.ExpandTemplate(p.cfg.Preview, execx.Vars{
		"input":    src,
		"interval": strconv.FormatFloat(interval, 'f', -1, 64),
		"output":   dest,
	})
	if bin == "" {
		return fmt.Errorf("no preview command configured")
	}
	_, err := p.env.Runner.Run(ctx, bin, args)
	return err
}

var (
	meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)
	maxVolumeRe  = regexp.MustCompile(`max_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)
)

// detectSound runs volume detection over the converted file. Disabled checks
// and unparsable output both yield the silent sentinel.
func (p *Video) detectSound(ctx context.Context, src string) catalog.Sound {
	if !p.cfg.Sound.Check {
		return catalog.SilentSound()
	}
	bin, args := execx.ExpandTemplate(p.cfg.Sound.Template, execx.Vars{"input": src})
	if bin == "" {
		return catalog.SilentSound()
	}

	// volumedetect reports on stderr even on success
	res := execx.RunQuiet(ctx, p.env.Runner, bin, args)
	mean := meanVolumeRe.FindStringSubmatch(res.Stderr)
	max := maxVolumeRe.FindStringSubmatch(res.Stderr)
	if mean == nil || max == nil {
		return catalog.SilentSound()
	}

	meanV, err1 := strconv.ParseFloat(mean[1], 64)
	maxV, err2 := strconv.ParseFloat(max[1], 64)
	if err1 != nil || err2 != nil {
		return catalog.SilentSound()
	}
	return catalog.Sound{
		Silent: meanV <= p.cfg.Sound.Threshold,
		Mean:   meanV,
		Max:    maxV,
	}
}

// indexSubtitles optionally folds subtitle text into the description and
// writes it to the subtitles search index.
func (p *Video) indexSubtitles(ctx context.Context, rec *catalog.Record, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		logging.Warn("cannot read subtitles %s: %v", path, err)
		return
	}
	text := subtitleText(string(raw))
	if text == "" {
		return
	}

	if p.cfg.Subtitles.ToDescription && rec.Description == "" {
		rec.Description = text
	}

	if p.env.Cfg.Search.Enabled {
		err := p.env.Search.Index(ctx, p.env.Cfg.Search.SubtitlesIndex, rec.ID, search.Body{
			Name:     rec.Name,
			Contents: text,
		})
		if err != nil {
			logging.Warn("subtitles index %s: %v", rec.ID, err)
		}
	}
}

var subtitleTimingRe = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->`)

// subtitleText strips srt/vtt cue numbers and timing lines, leaving the
// spoken text.
func subtitleText(raw string) string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "WEBVTT" {
			continue
		}
		if subtitleTimingRe.MatchString(line) {
			continue
		}
		if _, err := strconv.Atoi(line); err == nil {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, " ")
}
