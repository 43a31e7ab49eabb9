package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/carousel"
	"github.com/clipdeck/clipdeck-agent/internal/doctor"
	"github.com/clipdeck/clipdeck-agent/internal/pipeline"
	"github.com/clipdeck/clipdeck-agent/internal/upload"
)

// CarouselPipeline executes one full run. Satisfied by pipeline.Pipeline.
type CarouselPipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*carousel.Manifest, error)
}

// CapsProvider reports tool availability. Satisfied by doctor.CachedDoctor.
type CapsProvider interface {
	Get(ctx context.Context) (*doctor.Capabilities, error)
}

// Runner polls the catalog for pending runs and executes them one at a
// time through the pipeline. Extraction concurrency lives inside the
// pipeline; runs themselves are serialized.
type Runner struct {
	repo         Repository
	pipe         CarouselPipeline
	doctor       CapsProvider
	uploader     upload.Client
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(repo Repository, pipe CarouselPipeline, caps CapsProvider, uploader upload.Client, logger *slog.Logger) *Runner {
	return &Runner{
		repo:         repo,
		pipe:         pipe,
		doctor:       caps,
		uploader:     uploader,
		logger:       logger,
		pollInterval: 5 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("run runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("run runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextRun(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("run runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("run runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextRun(ctx context.Context) {
	runs, err := r.repo.ListPendingRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	run := runs[0]
	r.logger.Info("processing run", "run_id", run.ID, "video_id", run.VideoID)

	spec, err := run.ClipSpec()
	if err != nil {
		r.repo.UpdateRunStatus(ctx, run.ID, RunStatusFailed, fmt.Sprintf("invalid spec: %v", err))
		return
	}

	caps, err := r.doctor.Get(ctx)
	if err != nil {
		r.repo.UpdateRunStatus(ctx, run.ID, RunStatusFailed, fmt.Sprintf("doctor probe failed: %v", err))
		return
	}
	if !caps.CanResolve || !caps.CanExtract {
		r.repo.UpdateRunStatus(ctx, run.ID, RunStatusFailed, "required tools unavailable, check doctor")
		return
	}

	r.repo.UpdateRunStatus(ctx, run.ID, RunStatusRunning, "")

	started := time.Now()
	manifest, err := r.pipe.Run(ctx, pipeline.Request{
		RunID:   run.ID,
		VideoID: run.VideoID,
		Project: run.Project,
		Spec:    spec,
		OnStage: func(stage string, progress int) {
			// Persisted per transition so the API reflects where a live
			// or failed run actually is.
			r.repo.UpdateRunStage(ctx, run.ID, stage, progress)
		},
	})
	if err != nil {
		r.logger.Error("run failed", "run_id", run.ID, "error", err)
		r.repo.UpdateRunStatus(ctx, run.ID, RunStatusFailed, err.Error())
		return
	}

	if err := r.recordClips(ctx, run.ID, manifest); err != nil {
		r.logger.Error("failed to record clips", "run_id", run.ID, "error", err)
		r.repo.UpdateRunStatus(ctx, run.ID, RunStatusFailed, fmt.Sprintf("record clips: %v", err))
		return
	}

	r.repo.UpdateRunManifest(ctx, run.ID, manifest.Path)
	r.repo.UpdateRunStage(ctx, run.ID, pipeline.StageAssemble, 100)
	r.repo.UpdateRunStatus(ctx, run.ID, RunStatusCompleted, "")
	r.logger.Info("run completed",
		"run_id", run.ID,
		"clips", len(manifest.Items),
		"duration", time.Since(started),
	)

	r.publishManifest(ctx, run.ID, manifest)
}

// recordClips persists the manifest items, re-checking each clip is
// still on disk before recording it.
func (r *Runner) recordClips(ctx context.Context, runID string, m *carousel.Manifest) error {
	for _, item := range m.Items {
		if _, err := os.Stat(item.Path); err != nil {
			return fmt.Errorf("clip %d missing: %w", item.Position, err)
		}
		clip := &Clip{
			ID:        NewID(),
			RunID:     runID,
			Position:  item.Position,
			Name:      item.Name,
			Path:      item.Path,
			Start:     item.Start,
			End:       item.End,
			Duration:  item.Duration,
			CreatedAt: time.Now(),
		}
		if err := r.repo.CreateClip(ctx, clip); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) publishManifest(ctx context.Context, runID string, m *carousel.Manifest) {
	if r.uploader == nil {
		return
	}
	if err := r.uploader.PublishManifest(ctx, m); err != nil {
		// Upload is best-effort; the completed run stands either way.
		r.logger.Warn("manifest publish failed", "run_id", runID, "error", err)
	}
}

func (r *Runner) GetActiveRunCount(ctx context.Context) int {
	count, err := r.repo.CountRuns(ctx, RunStatusRunning)
	if err != nil {
		return 0
	}
	return count
}
