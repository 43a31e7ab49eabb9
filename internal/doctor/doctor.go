// Package doctor probes the external tools the agent shells out to
// (yt-dlp, ffmpeg, ffprobe) and reports which pipeline stages are
// runnable with what is installed.
package doctor

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ToolInfo is the availability status of a single external binary.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities reports what the installed tools allow.
type Capabilities struct {
	YtDlp   ToolInfo `json:"yt_dlp"`
	FFmpeg  ToolInfo `json:"ffmpeg"`
	FFprobe ToolInfo `json:"ffprobe"`

	CanResolve bool      `json:"can_resolve"`
	CanExtract bool      `json:"can_extract"`
	ProbedAt   time.Time `json:"probed_at"`
}

// Prober runs a full tool probe. Satisfied by Doctor and by fakes in
// tests of the caching wrapper.
type Prober interface {
	RunDoctor(ctx context.Context) (*Capabilities, error)
}

type Doctor struct {
	ytDlpPath   string
	ffmpegPath  string
	ffprobePath string
	logger      *slog.Logger
}

func New(ytDlpPath, ffmpegPath, ffprobePath string, logger *slog.Logger) *Doctor {
	if ytDlpPath == "" {
		ytDlpPath = "yt-dlp"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Doctor{
		ytDlpPath:   ytDlpPath,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		logger:      logger,
	}
}

func (d *Doctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		YtDlp:    d.probeTool(ctx, d.ytDlpPath, "--version"),
		FFmpeg:   d.probeTool(ctx, d.ffmpegPath, "-version"),
		FFprobe:  d.probeTool(ctx, d.ffprobePath, "-version"),
		ProbedAt: time.Now(),
	}
	caps.CanResolve = caps.YtDlp.Available
	caps.CanExtract = caps.FFmpeg.Available && caps.FFprobe.Available

	if d.logger != nil {
		d.logger.Info("doctor probe completed",
			"can_resolve", caps.CanResolve,
			"can_extract", caps.CanExtract,
		)
	}
	return caps, nil
}

func (d *Doctor) probeTool(ctx context.Context, bin, versionFlag string) ToolInfo {
	path, err := exec.LookPath(bin)
	if err != nil {
		return ToolInfo{Error: fmt.Sprintf("not found in PATH: %v", err)}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(probeCtx, path, versionFlag)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ToolInfo{Path: path, Error: fmt.Sprintf("version probe failed: %v", err)}
	}

	return ToolInfo{
		Available: true,
		Version:   firstLine(stdout.String()),
		Path:      path,
	}
}

// firstLine keeps only the leading version line; ffmpeg -version prints
// a full build configuration dump after it.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
