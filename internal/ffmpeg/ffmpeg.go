// Package ffmpeg wraps the ffmpeg and ffprobe binaries. It is the
// external transcoding engine boundary: callers hand it explicit start
// times, durations, and output paths, and it owns the subprocess
// lifecycle including termination on context cancellation.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const maxStderrBytes = 8 * 1024

// Default encoding settings, tuned for carousel-ready mp4 output.
const (
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
	DefaultPreset     = "fast"
	DefaultCRF        = 23
)

// Executor resolves and invokes the ffmpeg tool pair.
type Executor struct {
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

// NewExecutor locates ffmpeg and ffprobe on PATH.
func NewExecutor(logger *slog.Logger) (*Executor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return &Executor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, logger: logger}, nil
}

// ProbeResult holds the stream metadata downstream stages rely on.
type ProbeResult struct {
	Duration   float64
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	HasVideo   bool
	HasAudio   bool
}

// Probe extracts container and stream metadata from a media file.
func (e *Executor) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe probePayload
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe output: %w", err)
	}

	result := &ProbeResult{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		result.Duration = dur
	}
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			result.HasVideo = true
			result.Width = stream.Width
			result.Height = stream.Height
			result.VideoCodec = stream.CodecName
		case "audio":
			result.HasAudio = true
			result.AudioCodec = stream.CodecName
		}
	}
	return result, nil
}

// probePayload matches the ffprobe JSON output structure.
type probePayload struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// ExtractClip re-encodes a single clip from input. Start and duration
// are in seconds; output seeking (-ss after -i) keeps the cut
// frame-accurate at the cost of decode time.
func (e *Executor) ExtractClip(ctx context.Context, input, output string, start, duration float64) error {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", input,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-c:v", DefaultVideoCodec,
		"-c:a", DefaultAudioCodec,
		"-preset", DefaultPreset,
		"-crf", strconv.Itoa(DefaultCRF),
		"-movflags", "+faststart",
		"-avoid_negative_ts", "make_zero",
		output,
	}

	e.logger.Debug("executing ffmpeg", "args", args)

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	begin := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg exited: %w: %s", err, truncate(stderrBuf.String(), 512))
	}

	e.logger.Info("clip encoded",
		"output", output,
		"start_s", start,
		"duration_s", duration,
		"encode_ms", time.Since(begin).Milliseconds(),
	)
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
