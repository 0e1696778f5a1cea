package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"media-indexer/internal/catalog"
	"media-indexer/internal/config"
	"media-indexer/internal/execx"
	"media-indexer/internal/mediatypes"
)

const probeJSON = `{
	"format": {"duration": "120.5"},
	"streams": [
		{"codec_type": "audio"},
		{"codec_type": "video", "width": 1280, "height": 720}
	]
}`

var convertProgress = []string{
	"Input #0, matroska, from 'clip.mkv':",
	"  Duration: 00:02:00.50, start: 0.000000, bitrate: 1000 kb/s",
	"frame=  100 fps=25 time=00:00:30.00 bitrate=900kbits/s",
	"frame=  200 fps=25 time=00:01:00.25 bitrate=900kbits/s",
}

// seedOutput places the transcoded artifact the scripted runner never writes.
func seedOutput(t *testing.T, env *Env, id, content string) string {
	t.Helper()
	dest := SavePath(env.Cfg.Video.Save, id, "."+env.Cfg.Video.Format)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dest
}

func TestVideoConvert(t *testing.T) {
	env, runner, store := testEnv(t, nil)
	file := writeTestFile(t, t.TempDir(), "clip.mkv", []byte("fake video bytes"))
	seedOutput(t, env, "aa11bb22", "converted")

	scriptHash(runner, "aa11bb22") // source
	scriptHash(runner, "cc33dd44") // converted output
	runner.Script("ffprobe", execx.FakeResponse{Stdout: probeJSON})
	runner.Script("ffmpeg", execx.FakeResponse{StderrLines: convertProgress}) // convert
	runner.Script("ffmpeg", execx.FakeResponse{})                             // thumbnail
	runner.Script("ffmpeg", execx.FakeResponse{})                             // preview

	p := NewVideo(env)
	slot := acquireSlot(t, env)
	if got := p.Process(context.Background(), file, slot); got != Converted {
		t.Fatalf("Process = %v, want Converted", got)
	}

	if got := slot.ProgressTotal.Load(); got != 120500 {
		t.Errorf("ProgressTotal = %d, want 120500", got)
	}
	if got := slot.ProgressValue.Load(); got != 60250 {
		t.Errorf("ProgressValue = %d, want 60250", got)
	}

	rec, _ := store.Lookup(context.Background(), "aa11bb22")
	if rec == nil {
		t.Fatal("record not stored")
	}
	if rec.Object != mediatypes.KindVideo {
		t.Errorf("Object = %v", rec.Object)
	}
	if rec.Duration != 120.5 {
		t.Errorf("Duration = %v", rec.Duration)
	}
	if rec.Width != 1280 || rec.Height != 720 {
		t.Errorf("dimensions = %dx%d", rec.Width, rec.Height)
	}
	if math.Abs(rec.Aspect-16.0/9.0) > 1e-9 {
		t.Errorf("Aspect = %v", rec.Aspect)
	}
	if rec.Hash != "cc33dd44" {
		t.Errorf("Hash = %q, want the converted fingerprint", rec.Hash)
	}
	// size re-statted from the transcoded artifact, not the source
	if rec.Size != int64(len("converted")) {
		t.Errorf("Size = %d, want the output size %d", rec.Size, len("converted"))
	}
	if rec.Thumbnail != SavePath("", "aa11bb22", "p."+env.Cfg.Video.Thumbnail.Format) {
		t.Errorf("Thumbnail = %q", rec.Thumbnail)
	}
	if rec.Preview != SavePath("", "aa11bb22", "p."+env.Cfg.Video.Format) {
		t.Errorf("Preview = %q", rec.Preview)
	}
	if rec.Sound == nil || !rec.Sound.Silent || rec.Sound.Mean != -91 {
		t.Errorf("Sound = %+v, want the silent sentinel with detection off", rec.Sound)
	}
	// reachable under both fingerprints
	if got, _ := store.Lookup(context.Background(), "cc33dd44"); got == nil || got.ID != "aa11bb22" {
		t.Error("record not reachable via converted hash")
	}

	// probed twice: the source up front, the canonical output afterwards
	probeCalls := runner.CallsFor("ffprobe")
	if len(probeCalls) != 2 {
		t.Fatalf("ffprobe called %d times, want 2", len(probeCalls))
	}

	// a seek time was passed to the thumbnail command
	ffmpegCalls := runner.CallsFor("ffmpeg")
	if len(ffmpegCalls) != 3 {
		t.Fatalf("ffmpeg called %d times, want 3", len(ffmpegCalls))
	}
	thumbArgs := strings.Join(ffmpegCalls[1].Args, " ")
	if !strings.Contains(thumbArgs, "-ss 30") {
		t.Errorf("thumbnail args = %q, want a -ss 30 seek", thumbArgs)
	}
	// preview interval spans the whole video: ceil(120.5/30) = 5
	previewArgs := strings.Join(ffmpegCalls[2].Args, " ")
	if !strings.Contains(previewArgs, "5") {
		t.Errorf("preview args = %q, want interval 5", previewArgs)
	}
}

func TestVideoConvertedHashDuplicate(t *testing.T) {
	env, runner, store := testEnv(t, nil)
	file := writeTestFile(t, t.TempDir(), "clip.mkv", []byte("fake"))

	prior := "ee55ff66"
	if err := store.Insert(context.Background(), recordWithSources(t, "other", prior)); err != nil {
		t.Fatal(err)
	}

	scriptHash(runner, "aa11bb22") // source
	scriptHash(runner, prior)      // output converges with the prior record
	runner.Script("ffprobe", execx.FakeResponse{Stdout: probeJSON})
	runner.Script("ffmpeg", execx.FakeResponse{StderrLines: convertProgress})

	p := NewVideo(env)
	if got := p.Process(context.Background(), file, acquireSlot(t, env)); got != Duplicate {
		t.Fatalf("Process = %v, want Duplicate", got)
	}

	rec, _ := store.Lookup(context.Background(), "other")
	if !rec.HasOccurrence(file) {
		t.Error("occurrence not merged")
	}
	// the source fingerprint now routes to the prior record too
	if got, _ := store.Lookup(context.Background(), "aa11bb22"); got == nil || got.ID != "other" {
		t.Error("source fingerprint not added to prior record")
	}
}

func TestVideoProbeFailureFails(t *testing.T) {
	env, runner, store := testEnv(t, nil)
	file := writeTestFile(t, t.TempDir(), "clip.mkv", []byte("fake"))

	scriptHash(runner, "aa11bb22")
	runner.Script("ffprobe", execx.FakeResponse{ExitCode: 1})

	p := NewVideo(env)
	if got := p.Process(context.Background(), file, acquireSlot(t, env)); got != Failed {
		t.Fatalf("Process = %v, want Failed", got)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d", n)
	}
}

func TestVideoSiblingSubtitles(t *testing.T) {
	env, runner, store := testEnv(t, func(c *config.Config) {
		c.Types.Video.Subtitles.ToDescription = true
	})
	dir := t.TempDir()
	file := writeTestFile(t, dir, "clip.mkv", []byte("fake"))
	writeTestFile(t, dir, "clip.srt", []byte("1\n00:00:01,000 --> 00:00:02,000\nhello there\n\n2\n00:00:03,000 --> 00:00:04,000\ngeneral greeting\n"))
	seedOutput(t, env, "aa11bb22", "converted")

	scriptHash(runner, "aa11bb22")
	scriptHash(runner, "cc33dd44")
	runner.Script("ffprobe", execx.FakeResponse{Stdout: probeJSON})
	runner.Script("ffmpeg", execx.FakeResponse{StderrLines: convertProgress})

	p := NewVideo(env)
	if got := p.Process(context.Background(), file, acquireSlot(t, env)); got != Converted {
		t.Fatalf("Process = %v", got)
	}

	rec, _ := store.Lookup(context.Background(), "aa11bb22")
	if rec.Subtitles != SavePath("", "aa11bb22", ".srt") {
		t.Errorf("Subtitles = %q", rec.Subtitles)
	}
	if rec.Description != "hello there general greeting" {
		t.Errorf("Description = %q", rec.Description)
	}
	if _, err := os.Stat(SavePath(env.Cfg.Video.Save, "aa11bb22", ".srt")); err != nil {
		t.Errorf("subtitle artifact missing: %v", err)
	}
}

func TestVideoSubtitleSanityDiscardsWordless(t *testing.T) {
	env, runner, store := testEnv(t, nil)
	dir := t.TempDir()
	file := writeTestFile(t, dir, "clip.mkv", []byte("fake"))
	// cues and timings only, no spoken text
	writeTestFile(t, dir, "clip.srt", []byte("1\n00:00:01,000 --> 00:00:02,000\n\n2\n00:00:03,000 --> 00:00:04,000\n"))
	seedOutput(t, env, "aa11bb22", "converted")

	scriptHash(runner, "aa11bb22")
	scriptHash(runner, "cc33dd44")
	runner.Script("ffprobe", execx.FakeResponse{Stdout: probeJSON})
	runner.Script("ffmpeg", execx.FakeResponse{StderrLines: convertProgress})

	p := NewVideo(env)
	if got := p.Process(context.Background(), file, acquireSlot(t, env)); got != Converted {
		t.Fatalf("Process = %v", got)
	}

	rec, _ := store.Lookup(context.Background(), "aa11bb22")
	if rec.Subtitles != "" {
		t.Errorf("Subtitles = %q, want none for a wordless file", rec.Subtitles)
	}
	if _, err := os.Stat(SavePath(env.Cfg.Video.Save, "aa11bb22", ".srt")); !os.IsNotExist(err) {
		t.Errorf("wordless subtitle artifact left behind: %v", err)
	}
}

func TestVideoThumbnailFailureFails(t *testing.T) {
	env, runner, store := testEnv(t, nil)
	file := writeTestFile(t, t.TempDir(), "clip.mkv", []byte("fake"))
	dest := seedOutput(t, env, "aa11bb22", "converted")

	scriptHash(runner, "aa11bb22")
	scriptHash(runner, "cc33dd44")
	runner.Script("ffprobe", execx.FakeResponse{Stdout: probeJSON})
	runner.Script("ffmpeg", execx.FakeResponse{StderrLines: convertProgress}) // convert
	runner.Script("ffmpeg", execx.FakeResponse{ExitCode: 1})                  // thumbnail

	p := NewVideo(env)
	if got := p.Process(context.Background(), file, acquireSlot(t, env)); got != Failed {
		t.Fatalf("Process = %v, want Failed", got)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
	// the transcoded output was cleaned up
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("partial output left behind: %v", err)
	}
}

func TestThumbnailTime(t *testing.T) {
	tests := []struct {
		want     float64
		duration float64
		expect   float64
	}{
		{30, 120.5, 30},
		{30, 10, 9},
		{30, 0.5, 0},
		{30, 0, 0},
		{-5, 120, 0},
		{30, math.NaN(), 0},
		{30, math.Inf(1), 30},
	}
	for _, tt := range tests {
		if got := thumbnailTime(tt.want, tt.duration); got != tt.expect {
			t.Errorf("thumbnailTime(%v, %v) = %v, want %v", tt.want, tt.duration, got, tt.expect)
		}
	}
}

func TestClockMillis(t *testing.T) {
	tests := []struct {
		h, m, s string
		want    int64
	}{
		{"00", "00", "01", 1000},
		{"00", "02", "00.50", 120500},
		{"01", "00", "00", 3600000},
	}
	for _, tt := range tests {
		if got := clockMillis(tt.h, tt.m, tt.s); got != tt.want {
			t.Errorf("clockMillis(%s:%s:%s) = %d, want %d", tt.h, tt.m, tt.s, got, tt.want)
		}
	}
}

func TestDetectSound(t *testing.T) {
	volumeOut := "[Parsed_volumedetect_0 @ 0x1] mean_volume: -23.4 dB\n[Parsed_volumedetect_0 @ 0x1] max_volume: -5.1 dB\n"
	silentOut := "[Parsed_volumedetect_0 @ 0x1] mean_volume: -75.0 dB\n[Parsed_volumedetect_0 @ 0x1] max_volume: -61.2 dB\n"

	tests := []struct {
		name   string
		check  bool
		stderr string
		want   catalog.Sound
	}{
		{"audible", true, volumeOut, catalog.Sound{Silent: false, Mean: -23.4, Max: -5.1}},
		{"silent", true, silentOut, catalog.Sound{Silent: true, Mean: -75.0, Max: -61.2}},
		{"unparsable", true, "no volume info here", catalog.SilentSound()},
		{"disabled", false, "", catalog.SilentSound()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, runner, _ := testEnv(t, func(c *config.Config) {
				c.Types.Video.Sound.Check = tt.check
			})
			runner.Script("ffmpeg", execx.FakeResponse{Stderr: tt.stderr})

			p := NewVideo(env)
			if got := p.detectSound(context.Background(), "/x/clip.mp4"); got != tt.want {
				t.Errorf("detectSound = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSubtitleText(t *testing.T) {
	srt := "1\n00:00:01,000 --> 00:00:02,000\nfirst line\n\n2\n00:00:03,500 --> 00:00:04,000\nsecond line\n"
	if got := subtitleText(srt); got != "first line second line" {
		t.Errorf("subtitleText = %q", got)
	}

	vtt := "WEBVTT\n\n00:00:01.000 --> 00:00:02.000\nspoken words\n"
	if got := subtitleText(vtt); got != "spoken words" {
		t.Errorf("subtitleText(vtt) = %q", got)
	}
}
