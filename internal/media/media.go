// Package media wraps the ffmpeg and ffprobe binaries: audio
// extraction, duration queries and single-frame JPEG grabs. Pure I/O,
// no pipeline knowledge.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Adapter shells out to ffmpeg/ffprobe.
type Adapter struct {
	ffmpeg  string
	ffprobe string
}

// Option is a functional option for configuring an [Adapter].
type Option func(*Adapter)

// WithBinaries overrides the ffmpeg and ffprobe executable paths,
// mainly for tests.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(a *Adapter) {
		a.ffmpeg = ffmpeg
		a.ffprobe = ffprobe
	}
}

// New builds an adapter that resolves ffmpeg/ffprobe from PATH.
func New(opts ...Option) *Adapter {
	a := &Adapter{ffmpeg: "ffmpeg", ffprobe: "ffprobe"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check verifies both binaries are runnable.
func (a *Adapter) Check(ctx context.Context) error {
	for _, bin := range []string{a.ffmpeg, a.ffprobe} {
		if err := exec.CommandContext(ctx, bin, "-version").Run(); err != nil {
			return fmt.Errorf("media: %s not available: %w", bin, err)
		}
	}
	return nil
}

// ExtractAudio writes the video's audio track as 16 kHz mono 16-bit PCM
// WAV to audioPath, overwriting any existing file.
func (a *Adapter) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	args := []string{
		"-y", "-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		audioPath,
	}
	return a.runFFmpeg(ctx, args)
}

// Duration reports the container duration of the media file in seconds.
func (a *Adapter) Duration(ctx context.Context, path string) (float64, error) {
	out, err := exec.CommandContext(ctx, a.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("media: probe duration of %q: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("media: parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// ExtractFrame grabs a single JPEG frame at the given timestamp. The -ss
// flag goes before -i so ffmpeg seeks instead of decoding up to the
// timestamp.
func (a *Adapter) ExtractFrame(ctx context.Context, videoPath string, atSeconds float64, framePath string) error {
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(atSeconds, 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		framePath,
	}
	return a.runFFmpeg(ctx, args)
}

func (a *Adapter) runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, a.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	slog.Debug("running ffmpeg", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: ffmpeg %s: %w: %s",
			args[len(args)-1], err, lastLine(stderr.String()))
	}
	return nil
}

// lastLine returns the final non-empty stderr line, which is where
// ffmpeg puts its actual error message.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
