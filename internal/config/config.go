package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk configuration. Pointer fields distinguish "unset"
// from an explicit false so the per-type cascade can tell the difference.
type Config struct {
	Concurrency int      `toml:"concurrency"`
	Cache       string   `toml:"cache"`
	CanSkip     *bool    `toml:"can_skip"`
	Delete      *bool    `toml:"delete"`
	DropTags    *bool    `toml:"drop_tags"`
	Mode        string   `toml:"mode"`
	Save        string   `toml:"save"`
	Scan        []string `toml:"scan"`
	Shasum      string   `toml:"shasum"`
	Tagger      string   `toml:"tagger"`

	Scanner  ScannerConfig  `toml:"scanner"`
	Services ServicesConfig `toml:"services"`
	Types    TypesConfig    `toml:"types"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// ScannerConfig configures directory traversal.
type ScannerConfig struct {
	Exclude        []string `toml:"exclude"`
	Concurrency    int      `toml:"concurrency"`
	Recursive      *bool    `toml:"recursive"`
	Dotfiles       bool     `toml:"dotfiles"`
	Sort           bool     `toml:"sort"`
	MaxDepth       int      `toml:"max_depth"`
	FollowSymlinks bool     `toml:"follow_symlinks"`
	Persistent     bool     `toml:"persistent"`
	RescanMS       int      `toml:"rescan"`
}

// ServicesConfig configures the catalog store and the search index.
type ServicesConfig struct {
	Database DatabaseConfig `toml:"database"`
	Search   SearchConfig   `toml:"search"`
}

// DatabaseConfig locates the sqlite catalog.
type DatabaseConfig struct {
	URL        string `toml:"url"`
	Collection string `toml:"collection"`
}

// SearchConfig configures the optional full-text index.
type SearchConfig struct {
	Enabled        bool   `toml:"enabled"`
	Path           string `toml:"path"`
	Index          string `toml:"index"`
	SubtitlesIndex string `toml:"subtitles_index"`
}

// MetricsConfig configures the optional prometheus listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// TypesConfig holds the per-kind pipeline blocks.
type TypesConfig struct {
	Image ImageConfig `toml:"image"`
	Text  TextConfig  `toml:"text"`
	Video VideoConfig `toml:"video"`
}

// TypeCommon holds the options every type block shares. Unset fields inherit
// from the global block at resolve time.
type TypeCommon struct {
	Enabled  *bool  `toml:"enabled"`
	Pattern  string `toml:"pattern"`
	Exclude  string `toml:"exclude"`
	CanSkip  *bool  `toml:"can_skip"`
	Delete   *bool  `toml:"delete"`
	DropTags *bool  `toml:"drop_tags"`
	Mode     string `toml:"mode"`
	Save     string `toml:"save"`
	Shasum   string `toml:"shasum"`
	Tagger   string `toml:"tagger"`
}

// Dimensions is a width/height pair for image thresholds.
type Dimensions struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

// ThumbSpec describes a thumbnail command.
type ThumbSpec struct {
	Format   string `toml:"format"`
	Template string `toml:"template"`
	Geometry string `toml:"geometry"`
}

// ImageConfig is the image type block.
type ImageConfig struct {
	TypeCommon
	Minimum   Dimensions `toml:"minimum"`
	Maximum   Dimensions `toml:"maximum"`
	Identify  string     `toml:"identify"`
	Thumbnail ThumbSpec  `toml:"thumbnail"`
	Preview   string     `toml:"preview"`
}

// TextConfig is the text type block.
type TextConfig struct {
	TypeCommon
	Minimum         int64  `toml:"minimum"`
	Maximum         int64  `toml:"maximum"`
	Compression     string `toml:"compression"`
	Summarize       int    `toml:"summarize"`
	SummaryFallback int    `toml:"summary_fallback"`
}

// SubtitleConfig configures video subtitle extraction.
type SubtitleConfig struct {
	Format        string `toml:"format"`
	Template      string `toml:"template"`
	Fallback      string `toml:"fallback"`
	Language      string `toml:"language"`
	ToDescription bool   `toml:"to_description"`
}

// SoundConfig configures video sound detection.
type SoundConfig struct {
	Check     bool    `toml:"check"`
	Template  string  `toml:"template"`
	Threshold float64 `toml:"threshold"`
}

// VideoConfig is the video type block.
type VideoConfig struct {
	TypeCommon
	Format          string         `toml:"format"`
	Convert         string         `toml:"convert"`
	Probe           string         `toml:"probe"`
	Thumbnail       ThumbSpec      `toml:"thumbnail"`
	ThumbnailTime   float64        `toml:"thumbnail_time"`
	Preview         string         `toml:"preview"`
	PreviewDuration float64        `toml:"preview_duration"`
	Subtitles       SubtitleConfig `toml:"subtitles"`
	Sound           SoundConfig    `toml:"sound"`
}

// Read decodes a Config from r.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ReadFromFile reads a Config from path. An empty path yields the zero Config,
// which resolves to all defaults.
func ReadFromFile(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}
