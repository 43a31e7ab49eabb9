// Package upload publishes finished carousel manifests to a remote
// collector. Publishing is best-effort: the carousel on disk is the
// source of truth and a failed publish never fails the run.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck-agent/internal/carousel"
)

// Client publishes manifests somewhere. The stub is used when the
// agent runs without an upload endpoint configured.
type Client interface {
	PublishManifest(ctx context.Context, m *carousel.Manifest) error
}

// UploadError represents a non-2xx response from the collector.
type UploadError struct {
	StatusCode int
	Body       string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("manifest upload failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors
// (4xx) are considered permanent.
func (e *UploadError) IsRetryable() bool {
	return e.StatusCode >= 500
}

type HTTPClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}
}

func (c *HTTPClient) SetDeviceID(id string) {
	c.deviceID = id
}

func (c *HTTPClient) PublishManifest(ctx context.Context, m *carousel.Manifest) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	url := fmt.Sprintf("%s/api/ingest/carousels", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Clipdeck-Request-Id", uuid.NewString())
	if c.deviceID != "" {
		req.Header.Set("X-Clipdeck-Device-Id", c.deviceID)
	}

	c.logger.Info("uploading manifest",
		"url", url,
		"video_id", m.VideoID,
		"clip_count", len(m.Items),
		"body_bytes", len(body),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info("manifest upload succeeded", "video_id", m.VideoID)
		return nil
	}

	return &UploadError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

// StubClient is the no-op publisher used when uploads are disabled.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) PublishManifest(ctx context.Context, m *carousel.Manifest) error {
	c.logger.Info("upload stub: manifest publish skipped", "video_id", m.VideoID, "clip_count", len(m.Items))
	return nil
}
