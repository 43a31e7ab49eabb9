package resolve

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/clipdeck/clipdeck-agent/internal/credentials"
)

const (
	defaultBaseDelay  = 2 * time.Second
	backoffMultiplier = 2
	maxJitter         = 500 * time.Millisecond
)

// negotiator is the single remote-host call the resolver retries around.
type negotiator interface {
	Dump(ctx context.Context, videoID, cookiesPath string) (*VideoReference, error)
}

// Resolver turns a video identifier into a VideoReference, retrying
// transient failures with exponential backoff and downgrading to
// unauthenticated access when the credential is rejected mid-run.
type Resolver struct {
	client    negotiator
	creds     *credentials.Store
	limiter   *rate.Limiter
	attempts  int
	baseDelay time.Duration
	logger    *slog.Logger

	// sleep is swapped out in tests to observe backoff without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewResolver(client *YtDlpClient, creds *credentials.Store, attempts int, baseDelay time.Duration, logger *slog.Logger) *Resolver {
	return newResolver(client, creds, attempts, baseDelay, logger)
}

func newResolver(client negotiator, creds *credentials.Store, attempts int, baseDelay time.Duration, logger *slog.Logger) *Resolver {
	if attempts < 1 {
		attempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Resolver{
		client:    client,
		creds:     creds,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
		attempts:  attempts,
		baseDelay: baseDelay,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Resolve negotiates a stream reference. Transient failures (rate
// limiting, credential rejection) are retried up to the bounded attempt
// count with exponential backoff and jitter; the last observed reason
// is surfaced when attempts are exhausted. Credential presence is
// re-validated before every attempt.
func (r *Resolver) Resolve(ctx context.Context, videoID string) (*VideoReference, error) {
	var lastErr error

	for attempt := 0; attempt < r.attempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			r.logger.Info("retrying stream resolution",
				"video_id", videoID,
				"attempt", attempt+1,
				"max_attempts", r.attempts,
				"backoff", delay.String(),
			)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, &ResolutionError{VideoID: videoID, Reason: lastReason(lastErr), Err: err}
			}
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return nil, &ResolutionError{VideoID: videoID, Reason: lastReason(lastErr), Err: err}
		}

		cookies := ""
		if r.creds.Usable() {
			cookies = r.creds.Load().Path
		}

		ref, err := r.client.Dump(ctx, videoID, cookies)
		if err == nil {
			if cookies != "" {
				r.creds.MarkValid()
			}
			return ref, nil
		}
		lastErr = err

		var resErr *ResolutionError
		if !errors.As(err, &resErr) {
			return nil, &ResolutionError{VideoID: videoID, Reason: ReasonUnknown, Err: err}
		}

		if resErr.Reason == ReasonAuthRejected && cookies != "" {
			// Some content is reachable without cookies at all, so a
			// rejected credential downgrades the run instead of ending it.
			r.creds.MarkRejected()
		}

		if !resErr.Reason.Retryable() {
			return nil, resErr
		}
	}

	var resErr *ResolutionError
	if errors.As(lastErr, &resErr) {
		return nil, resErr
	}
	return nil, &ResolutionError{VideoID: videoID, Reason: ReasonUnknown, Err: lastErr}
}

// backoff computes the delay before the given attempt (1-based retries).
func (r *Resolver) backoff(attempt int) time.Duration {
	delay := r.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= backoffMultiplier
	}
	return delay + time.Duration(rand.Int63n(int64(maxJitter)))
}

func lastReason(err error) Reason {
	var resErr *ResolutionError
	if errors.As(err, &resErr) {
		return resErr.Reason
	}
	return ReasonUnknown
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
