// Package download streams a resolved media reference to local storage
// and verifies integrity before exposing it to downstream stages. A
// partial transfer never survives as a MediaFile: bytes go to a .part
// file that is renamed only after the size check passes.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/resolve"
)

// ErrorKind classifies download failures.
type ErrorKind string

const (
	KindIncomplete ErrorKind = "incomplete"
	KindCorrupt    ErrorKind = "corrupt"
	KindIOFailure  ErrorKind = "io_failure"
)

// DownloadError is the terminal error of the download stage.
type DownloadError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("download: %s", e.Kind)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// MediaFile is the fully downloaded source video. Size and checksum are
// only valid because construction happens after the transfer completed
// and verified; Duration is filled in by the pipeline after probing.
type MediaFile struct {
	Path     string
	Size     int64
	SHA256   string
	Duration float64
}

// Downloader streams resolved references over HTTP.
type Downloader struct {
	client *http.Client
	logger *slog.Logger
}

func New(logger *slog.Logger) *Downloader {
	return &Downloader{
		client: &http.Client{
			Timeout: 30 * time.Minute, // source videos can be large
		},
		logger: logger,
	}
}

// Download fetches ref.URL into destPath. The advertised size from the
// reference (or, failing that, the response Content-Length) must match
// the byte count written or the artifact is discarded.
func (d *Downloader) Download(ctx context.Context, ref *resolve.VideoReference, destPath string) (*MediaFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, &DownloadError{Kind: KindIOFailure, URL: ref.URL, Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &DownloadError{Kind: KindIOFailure, URL: ref.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{Kind: KindIOFailure, URL: ref.URL,
			Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	advertised := ref.Size
	if advertised <= 0 && resp.ContentLength > 0 {
		advertised = resp.ContentLength
	}

	partPath := destPath + ".part"
	file, err := os.Create(partPath)
	if err != nil {
		return nil, &DownloadError{Kind: KindIOFailure, URL: ref.URL, Err: err}
	}

	start := time.Now()
	hash := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(file, hash), resp.Body)
	closeErr := file.Close()

	if copyErr != nil {
		os.Remove(partPath)
		kind := KindIOFailure
		if errors.Is(copyErr, io.ErrUnexpectedEOF) {
			kind = KindIncomplete
		}
		return nil, &DownloadError{Kind: kind, URL: ref.URL, Err: copyErr}
	}
	if closeErr != nil {
		os.Remove(partPath)
		return nil, &DownloadError{Kind: KindIOFailure, URL: ref.URL, Err: closeErr}
	}

	if written == 0 {
		os.Remove(partPath)
		return nil, &DownloadError{Kind: KindCorrupt, URL: ref.URL,
			Err: errors.New("remote host returned an empty payload")}
	}

	if advertised > 0 && written != advertised {
		os.Remove(partPath)
		return nil, &DownloadError{Kind: KindIncomplete, URL: ref.URL,
			Err: fmt.Errorf("got %d of %d advertised bytes", written, advertised)}
	}

	if err := os.Rename(partPath, destPath); err != nil {
		os.Remove(partPath)
		return nil, &DownloadError{Kind: KindIOFailure, URL: ref.URL, Err: err}
	}

	media := &MediaFile{
		Path:   destPath,
		Size:   written,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}

	d.logger.Info("download complete",
		"video_id", ref.ID,
		"bytes", written,
		"sha256", media.SHA256[:12],
		"transfer_ms", time.Since(start).Milliseconds(),
	)
	return media, nil
}
