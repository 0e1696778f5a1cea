// Package execx runs the external tools the pipelines depend on: the hash
// tool, ffprobe, ffmpeg, identify and friends. Commands are described by
// whitespace-separated templates with $name placeholders; expansion is
// textual and never goes through a shell.
package execx
