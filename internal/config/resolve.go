package config

import (
	"fmt"
	"io/fs"
	"strconv"

	"media-indexer/internal/mediatypes"
)

// Defaults applied during Resolve.
const (
	defaultConcurrency     = 2
	defaultScanConcurrency = 4
	defaultMaxDepth        = 64
	defaultMode            = "0644"
	defaultSave            = "save"
	defaultShasum          = "sha1sum"
	defaultDatabaseURL     = "media-index.db"
	defaultCollection      = "records"
	defaultSearchPath      = "search.db"
	defaultSearchIndex     = "media"
	defaultSubtitlesIndex  = "subtitles"
	defaultMetricsListen   = ":9090"

	defaultTextMinimum     = 64
	defaultSummaryFallback = 500

	defaultThumbnailFormat   = "jpg"
	defaultThumbnailGeometry = "200x200"
	defaultIdentifyTemplate  = "identify -verbose $input"
	defaultImageThumbnail    = "convert $input[0] -thumbnail $geometry $thumbnail"
	defaultGifPreview        = "convert $input -coalesce -resize $geometry $output"

	defaultVideoFormat    = "mp4"
	defaultProbeTemplate  = "ffprobe -v quiet -print_format json -show_format -show_streams $input"
	defaultVideoConvert   = "ffmpeg -y -i $input -c:v libx264 -preset fast -crf 23 -c:a aac -b:a 128k -movflags +faststart -f $format $output"
	defaultVideoThumbnail = "ffmpeg -y -ss $time -i $input -vframes 1 -f image2 $thumbnail"
	defaultThumbnailTime  = 30.0
	defaultVideoPreview   = "ffmpeg -y -i $input -vf select=isnan(prev_selected_t)+gte(t-prev_selected_t\\,$interval),setpts=N/FRAME_RATE/TB -an $output"
	defaultPreviewSeconds = 30.0

	defaultSubtitleFormat   = "srt"
	defaultSubtitleLanguage = "eng"
	defaultSubtitleTemplate = "ffmpeg -y -i $input -map 0:s:m:language:$language $file"
	defaultSubtitleFallback = "ffmpeg -y -i $input -map 0:s:0 $file"

	defaultSoundTemplate  = "ffmpeg -i $input -af volumedetect -f null -"
	defaultSoundThreshold = -60.0
)

// Resolved is the effective configuration after defaults and the per-type
// cascade are applied. Pipelines only ever see this form.
type Resolved struct {
	Concurrency int
	Cache       string
	Mode        fs.FileMode
	Save        string
	Scan        []string
	Shasum      string

	Scanner  ResolvedScanner
	Database DatabaseConfig
	Search   SearchConfig
	Metrics  MetricsConfig

	Image ResolvedImage
	Text  ResolvedText
	Video ResolvedVideo
}

// ResolvedScanner is the scanner configuration with defaults applied.
type ResolvedScanner struct {
	Exclude        []string
	Concurrency    int
	Recursive      bool
	Dotfiles       bool
	Sort           bool
	MaxDepth       int
	FollowSymlinks bool
	Persistent     bool
	RescanMS       int
}

// ResolvedCommon is the cascaded per-type policy block.
type ResolvedCommon struct {
	Kind     mediatypes.Kind
	Enabled  bool
	Pattern  string
	Exclude  string
	CanSkip  bool
	Delete   bool
	DropTags bool
	Mode     fs.FileMode
	Save     string
	Shasum   string
	Tagger   string
}

// ResolvedImage is the effective image pipeline configuration.
type ResolvedImage struct {
	ResolvedCommon
	Minimum   Dimensions
	Maximum   Dimensions
	Identify  string
	Thumbnail ThumbSpec
	Preview   string
}

// ResolvedText is the effective text pipeline configuration.
type ResolvedText struct {
	ResolvedCommon
	Minimum         int64
	Maximum         int64
	Compression     string
	Summarize       int
	SummaryFallback int
}

// ResolvedVideo is the effective video pipeline configuration.
type ResolvedVideo struct {
	ResolvedCommon
	Format          string
	Convert         string
	Probe           string
	Thumbnail       ThumbSpec
	ThumbnailTime   float64
	Preview         string
	PreviewDuration float64
	Subtitles       SubtitleConfig
	Sound           SoundConfig
}

// Resolve applies defaults and cascades the global options into each type
// block. It is called once at startup; the result is immutable afterwards.
func (c *Config) Resolve() (*Resolved, error) {
	r := &Resolved{
		Concurrency: orInt(c.Concurrency, defaultConcurrency),
		Cache:       c.Cache,
		Save:        orString(c.Save, defaultSave),
		Scan:        c.Scan,
		Shasum:      orString(c.Shasum, defaultShasum),
	}

	mode, err := parseMode(orString(c.Mode, defaultMode))
	if err != nil {
		return nil, err
	}
	r.Mode = mode

	r.Scanner = ResolvedScanner{
		Exclude:        c.Scanner.Exclude,
		Concurrency:    orInt(c.Scanner.Concurrency, defaultScanConcurrency),
		Recursive:      boolOr(c.Scanner.Recursive, true),
		Dotfiles:       c.Scanner.Dotfiles,
		Sort:           c.Scanner.Sort,
		MaxDepth:       orInt(c.Scanner.MaxDepth, defaultMaxDepth),
		FollowSymlinks: c.Scanner.FollowSymlinks,
		Persistent:     c.Scanner.Persistent,
		RescanMS:       c.Scanner.RescanMS,
	}

	r.Database = DatabaseConfig{
		URL:        orString(c.Services.Database.URL, defaultDatabaseURL),
		Collection: orString(c.Services.Database.Collection, defaultCollection),
	}

	r.Search = c.Services.Search
	if r.Search.Enabled {
		r.Search.Path = orString(r.Search.Path, defaultSearchPath)
		r.Search.Index = orString(r.Search.Index, defaultSearchIndex)
		r.Search.SubtitlesIndex = orString(r.Search.SubtitlesIndex, defaultSubtitlesIndex)
	}

	r.Metrics = c.Metrics
	if r.Metrics.Enabled {
		r.Metrics.Listen = orString(r.Metrics.Listen, defaultMetricsListen)
	}

	common := func(kind mediatypes.Kind, tc TypeCommon) (ResolvedCommon, error) {
		mode, err := parseMode(orString(tc.Mode, orString(c.Mode, defaultMode)))
		if err != nil {
			return ResolvedCommon{}, fmt.Errorf("types.%s: %w", kind, err)
		}
		return ResolvedCommon{
			Kind:     kind,
			Enabled:  boolOr(tc.Enabled, true),
			Pattern:  orString(tc.Pattern, mediatypes.DefaultPattern(kind)),
			Exclude:  tc.Exclude,
			CanSkip:  boolOr(tc.CanSkip, boolOr(c.CanSkip, true)),
			Delete:   boolOr(tc.Delete, boolOr(c.Delete, false)),
			DropTags: boolOr(tc.DropTags, boolOr(c.DropTags, false)),
			Mode:     mode,
			Save:     orString(tc.Save, r.Save),
			Shasum:   orString(tc.Shasum, r.Shasum),
			Tagger:   orString(tc.Tagger, c.Tagger),
		}, nil
	}

	ic, err := common(mediatypes.KindImage, c.Types.Image.TypeCommon)
	if err != nil {
		return nil, err
	}
	r.Image = ResolvedImage{
		ResolvedCommon: ic,
		Minimum:        c.Types.Image.Minimum,
		Maximum:        c.Types.Image.Maximum,
		Identify:       orString(c.Types.Image.Identify, defaultIdentifyTemplate),
		Preview:        orString(c.Types.Image.Preview, defaultGifPreview),
		Thumbnail: ThumbSpec{
			Format:   orString(c.Types.Image.Thumbnail.Format, defaultThumbnailFormat),
			Template: orString(c.Types.Image.Thumbnail.Template, defaultImageThumbnail),
			Geometry: orString(c.Types.Image.Thumbnail.Geometry, defaultThumbnailGeometry),
		},
	}

	tc, err := common(mediatypes.KindText, c.Types.Text.TypeCommon)
	if err != nil {
		return nil, err
	}
	compression := orString(c.Types.Text.Compression, "none")
	switch compression {
	case "none", "brotli", "gzip":
	default:
		return nil, fmt.Errorf("types.text: unknown compression %q", compression)
	}
	r.Text = ResolvedText{
		ResolvedCommon:  tc,
		Minimum:         orInt64(c.Types.Text.Minimum, defaultTextMinimum),
		Maximum:         c.Types.Text.Maximum,
		Compression:     compression,
		Summarize:       c.Types.Text.Summarize,
		SummaryFallback: orInt(c.Types.Text.SummaryFallback, defaultSummaryFallback),
	}

	vc, err := common(mediatypes.KindVideo, c.Types.Video.TypeCommon)
	if err != nil {
		return nil, err
	}
	sound := c.Types.Video.Sound
	sound.Template = orString(sound.Template, defaultSoundTemplate)
	if sound.Threshold == 0 {
		sound.Threshold = defaultSoundThreshold
	}
	subs := c.Types.Video.Subtitles
	subs.Format = orString(subs.Format, defaultSubtitleFormat)
	subs.Language = orString(subs.Language, defaultSubtitleLanguage)
	subs.Template = orString(subs.Template, defaultSubtitleTemplate)
	subs.Fallback = orString(subs.Fallback, defaultSubtitleFallback)

	r.Video = ResolvedVideo{
		ResolvedCommon: vc,
		Format:         orString(c.Types.Video.Format, defaultVideoFormat),
		Convert:        orString(c.Types.Video.Convert, defaultVideoConvert),
		Probe:          orString(c.Types.Video.Probe, defaultProbeTemplate),
		Thumbnail: ThumbSpec{
			Format:   orString(c.Types.Video.Thumbnail.Format, defaultThumbnailFormat),
			Template: orString(c.Types.Video.Thumbnail.Template, defaultVideoThumbnail),
			Geometry: orString(c.Types.Video.Thumbnail.Geometry, defaultThumbnailGeometry),
		},
		ThumbnailTime:   orFloat(c.Types.Video.ThumbnailTime, defaultThumbnailTime),
		Preview:         orString(c.Types.Video.Preview, defaultVideoPreview),
		PreviewDuration: orFloat(c.Types.Video.PreviewDuration, defaultPreviewSeconds),
		Subtitles:       subs,
		Sound:           sound,
	}

	return r, nil
}

func parseMode(s string) (fs.FileMode, error) {
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: %w", s, err)
	}
	return fs.FileMode(v), nil
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func orInt64(v, def int64) int64 {
	if v != 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}
