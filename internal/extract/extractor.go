// Package extract materializes planned clip ranges as individual files
// by driving the external transcoding engine, then validates that the
// engine actually produced a playable clip of the requested length.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/clipdeck/clipdeck-agent/internal/download"
	"github.com/clipdeck/clipdeck-agent/internal/ffmpeg"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
)

// DurationTolerance is how far a produced clip's measured duration may
// deviate from the requested range before the clip is rejected.
const DurationTolerance = 0.5 // seconds

// Reason classifies extraction failures.
type Reason string

const (
	ReasonEngineFailure     Reason = "engine_failure"
	ReasonUnsupportedFormat Reason = "unsupported_format"
)

// ExtractionError is the terminal error of the extraction stage.
type ExtractionError struct {
	Reason Reason
	Index  int
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract clip %d: %s: %v", e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("extract clip %d: %s", e.Index, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ClipFile is one materialized output clip. Immutable once created.
type ClipFile struct {
	Path  string
	Range plan.ClipRange
	Index int
}

// Engine is the transcoding collaborator the extractor drives.
type Engine interface {
	ExtractClip(ctx context.Context, input, output string, start, duration float64) error
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

// Extractor turns a planned range into a validated clip file.
type Extractor struct {
	engine Engine
	logger *slog.Logger
}

func New(engine Engine, logger *slog.Logger) *Extractor {
	return &Extractor{engine: engine, logger: logger}
}

// Extract cuts one clip from media into outPath and validates the
// result. A clip whose measured duration deviates more than
// DurationTolerance from the requested range is an error, never a
// silently accepted artifact.
func (x *Extractor) Extract(ctx context.Context, media *download.MediaFile, rng plan.ClipRange, index int, outPath string) (*ClipFile, error) {
	if err := x.engine.ExtractClip(ctx, media.Path, outPath, rng.Start, rng.Duration()); err != nil {
		os.Remove(outPath)
		return nil, &ExtractionError{Reason: classifyEngineError(err), Index: index, Err: err}
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return nil, &ExtractionError{Reason: ReasonEngineFailure, Index: index,
			Err: fmt.Errorf("engine produced no usable output at %s", outPath)}
	}

	probe, err := x.engine.Probe(ctx, outPath)
	if err != nil {
		os.Remove(outPath)
		return nil, &ExtractionError{Reason: ReasonUnsupportedFormat, Index: index,
			Err: fmt.Errorf("cannot probe produced clip: %w", err)}
	}
	if !probe.HasVideo {
		os.Remove(outPath)
		return nil, &ExtractionError{Reason: ReasonUnsupportedFormat, Index: index,
			Err: fmt.Errorf("produced clip carries no video stream")}
	}

	if dev := math.Abs(probe.Duration - rng.Duration()); dev > DurationTolerance {
		os.Remove(outPath)
		return nil, &ExtractionError{Reason: ReasonEngineFailure, Index: index,
			Err: fmt.Errorf("clip duration %.2fs deviates %.2fs from requested %.2fs", probe.Duration, dev, rng.Duration())}
	}

	x.logger.Info("clip extracted",
		"index", index,
		"path", outPath,
		"start_s", rng.Start,
		"end_s", rng.End,
		"bytes", info.Size(),
	)

	return &ClipFile{Path: outPath, Range: rng, Index: index}, nil
}

// classifyEngineError distinguishes demuxer/codec complaints from
// plain engine failures.
func classifyEngineError(err error) Reason {
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "invalid data") ||
		strings.Contains(s, "unknown format") ||
		strings.Contains(s, "decoder not found") {
		return ReasonUnsupportedFormat
	}
	return ReasonEngineFailure
}
