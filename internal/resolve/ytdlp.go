package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	dumpTimeout = 2 * time.Minute
)

// qualityFormats maps a quality preference to a yt-dlp format selector.
var qualityFormats = map[string]string{
	"1080p": "best[height<=1080]/worst",
	"720p":  "best[height<=720]/worst",
	"480p":  "best[height<=480]/worst",
	"360p":  "18/worst",
	"worst": "worst",
}

// FormatForQuality returns the yt-dlp format selector for a quality
// preference, falling back to the 720p selector.
func FormatForQuality(quality string) string {
	if f, ok := qualityFormats[quality]; ok {
		return f
	}
	return qualityFormats["720p"]
}

// YtDlpClient resolves stream references by invoking the yt-dlp binary.
type YtDlpClient struct {
	bin     string
	quality string
	logger  *slog.Logger
}

// NewYtDlpClient locates the yt-dlp binary. An empty path means PATH lookup.
func NewYtDlpClient(binPath, quality string, logger *slog.Logger) (*YtDlpClient, error) {
	name := binPath
	if name == "" {
		name = "yt-dlp"
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp not found: %w", err)
	}
	return &YtDlpClient{bin: resolved, quality: quality, logger: logger}, nil
}

// Dump fetches the video metadata and direct stream URL without
// downloading any media. cookiesPath may be empty for unauthenticated
// access.
func (c *YtDlpClient) Dump(ctx context.Context, videoID, cookiesPath string) (*VideoReference, error) {
	ctx, cancel := context.WithTimeout(ctx, dumpTimeout)
	defer cancel()

	args := []string{
		"--dump-single-json",
		"--no-warnings",
		"--no-playlist",
		"-f", FormatForQuality(c.quality),
	}
	if cookiesPath != "" {
		args = append(args, "--cookies", cookiesPath)
	}
	args = append(args, videoURL(videoID))

	cmd := exec.CommandContext(ctx, c.bin, args...)

	var stdout bytes.Buffer
	var stderrBuf bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		stderr := stderrBuf.String()
		reason := classifyStderr(stderr)
		c.logger.Warn("stream negotiation failed",
			"video_id", videoID,
			"reason", string(reason),
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderr, 512),
		)
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &ResolutionError{VideoID: videoID, Reason: reason, Err: err}
	}

	var meta dumpPayload
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, &ResolutionError{VideoID: videoID, Reason: ReasonUnknown,
			Err: fmt.Errorf("cannot parse metadata JSON: %w", err)}
	}

	ref := &VideoReference{
		ID:            meta.ID,
		Title:         meta.Title,
		URL:           meta.URL,
		Duration:      meta.Duration,
		Size:          meta.size(),
		Format:        meta.FormatID,
		Authenticated: cookiesPath != "",
	}
	if ref.ID == "" {
		ref.ID = videoID
	}
	if ref.URL == "" {
		return nil, &ResolutionError{VideoID: videoID, Reason: ReasonUnknown,
			Err: errors.New("metadata carried no stream URL")}
	}

	c.logger.Info("stream resolved",
		"video_id", ref.ID,
		"format", ref.Format,
		"duration_s", ref.Duration,
		"size_bytes", ref.Size,
		"authenticated", ref.Authenticated,
		"negotiation_ms", elapsed.Milliseconds(),
	)
	return ref, nil
}

// dumpPayload is the subset of yt-dlp --dump-single-json output we consume.
type dumpPayload struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Duration       float64 `json:"duration"`
	FormatID       string  `json:"format_id"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
}

func (p dumpPayload) size() int64 {
	if p.Filesize > 0 {
		return p.Filesize
	}
	return p.FilesizeApprox
}

// videoURL accepts either a bare identifier or a full watch URL.
func videoURL(videoID string) string {
	if u, err := url.Parse(videoID); err == nil && u.Scheme != "" && u.Host != "" {
		return videoID
	}
	return "https://www.youtube.com/watch?v=" + videoID
}

// classifyStderr maps yt-dlp failure output to a resolution reason.
// The remote host is adversarial and its messages change; matching is
// substring-based and deliberately loose.
func classifyStderr(stderr string) Reason {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "429") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate-limit"):
		return ReasonRateLimited
	case strings.Contains(s, "cookies are no longer valid") ||
		strings.Contains(s, "not a bot") ||
		strings.Contains(s, "account cookies"):
		return ReasonAuthRejected
	case strings.Contains(s, "private video") ||
		strings.Contains(s, "sign in") ||
		strings.Contains(s, "login required") ||
		strings.Contains(s, "members-only"):
		return ReasonAuthRequired
	case strings.Contains(s, "video unavailable") ||
		strings.Contains(s, "does not exist") ||
		strings.Contains(s, "404"):
		return ReasonNotFound
	default:
		return ReasonUnknown
	}
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
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
