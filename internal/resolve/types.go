// Package resolve negotiates with the remote video host to turn a video
// identifier into a concrete, downloadable stream reference. Negotiation
// happens through a yt-dlp subprocess; failures are classified into a
// small reason taxonomy and transient ones are retried with exponential
// backoff before the error is surfaced.
package resolve

import "fmt"

// Reason classifies why stream resolution failed.
type Reason string

const (
	ReasonNotFound     Reason = "not_found"
	ReasonAuthRequired Reason = "auth_required"
	ReasonAuthRejected Reason = "auth_rejected"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonUnknown      Reason = "unknown"
)

// Retryable reports whether a failure reason is transient enough to
// warrant another attempt.
func (r Reason) Retryable() bool {
	return r == ReasonRateLimited || r == ReasonAuthRejected
}

// ResolutionError is the terminal error of the resolution stage.
type ResolutionError struct {
	VideoID string
	Reason  Reason
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s: %s: %v", e.VideoID, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve %s: %s", e.VideoID, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// VideoReference identifies a remote video after successful negotiation.
// Immutable once created; consumed by the downloader and the planner.
type VideoReference struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Duration      float64 `json:"duration"` // seconds, 0 when the host does not report it
	Size          int64   `json:"size"`     // advertised bytes, 0 when unknown
	Format        string  `json:"format"`
	Authenticated bool    `json:"authenticated"` // true when cookies were used for this resolution
}
