// Package pipeline wires the acquisition and segmentation stages into a
// single run: resolve, download, probe, plan, extract, assemble. Each
// run yields exactly one terminal result, either a complete manifest
// or a single typed error from the first failing stage, and cleans up
// its partial artifacts on failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipdeck/clipdeck-agent/internal/carousel"
	"github.com/clipdeck/clipdeck-agent/internal/download"
	"github.com/clipdeck/clipdeck-agent/internal/extract"
	"github.com/clipdeck/clipdeck-agent/internal/ffmpeg"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
	"github.com/clipdeck/clipdeck-agent/internal/resolve"
)

// TimeoutError reports that the overall pipeline budget was exceeded.
// All in-flight extraction workers are aborted before it is surfaced.
type TimeoutError struct {
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pipeline timed out after %s", e.Budget)
}

// Stage names reported through StageFunc as a run progresses.
const (
	StageResolve  = "resolve"
	StageDownload = "download"
	StagePlan     = "plan"
	StageExtract  = "extract"
	StageAssemble = "assemble"
)

// StageFunc receives each stage transition with a rough percent of the
// whole run. Progress never decreases. Called from the run goroutine
// only.
type StageFunc func(stage string, progress int)

// Request describes one run. RunID keys the output directory so that
// runs of the same project never share it; a fresh ID is generated
// when empty.
type Request struct {
	RunID   string
	VideoID string
	Project string
	Spec    plan.ClipSpec
	OnStage StageFunc // optional
}

func (req *Request) report(stage string, progress int) {
	if req.OnStage != nil {
		req.OnStage(stage, progress)
	}
}

// Stage collaborators, satisfied by the concrete stage types and by
// fakes in tests.
type (
	Resolver interface {
		Resolve(ctx context.Context, videoID string) (*resolve.VideoReference, error)
	}
	Downloader interface {
		Download(ctx context.Context, ref *resolve.VideoReference, destPath string) (*download.MediaFile, error)
	}
	Prober interface {
		Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	}
	Extractor interface {
		Extract(ctx context.Context, media *download.MediaFile, rng plan.ClipRange, index int, outPath string) (*extract.ClipFile, error)
	}
)

// Config holds per-pipeline settings.
type Config struct {
	CarouselsBase string        // base dir for finished carousels
	Workers       int           // bounded extraction worker count
	Timeout       time.Duration // overall wall-clock budget, 0 = none
	KeepTemp      bool          // keep the scratch dir for debugging
}

type Pipeline struct {
	resolver   Resolver
	downloader Downloader
	prober     Prober
	extractor  Extractor
	cfg        Config
	logger     *slog.Logger

	// now is swapped out in tests for stable output directory names.
	now func() time.Time
}

func New(resolver Resolver, downloader Downloader, prober Prober, extractor Extractor, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pipeline{
		resolver:   resolver,
		downloader: downloader,
		prober:     prober,
		extractor:  extractor,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Run executes the full pipeline for one video. Given the same video,
// credentials, and spec it produces identical clip boundaries; only the
// encoder's byte output may vary.
func (p *Pipeline) Run(ctx context.Context, req Request) (*carousel.Manifest, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	workDir, err := os.MkdirTemp("", "clipdeck-")
	if err != nil {
		return nil, fmt.Errorf("cannot create scratch dir: %w", err)
	}
	defer func() {
		if !p.cfg.KeepTemp {
			os.RemoveAll(workDir)
		}
	}()

	// The run ID suffix keeps the directory private to this run, so the
	// failure path below can never touch an earlier run's carousel.
	outDir := filepath.Join(p.cfg.CarouselsBase,
		fmt.Sprintf("%s-%s-%s", p.now().Format("2006-01-02"),
			carousel.SanitizeName(req.Project, 48), shortID(req.RunID)))
	clipsDir := filepath.Join(outDir, "clips")
	if err := os.MkdirAll(clipsDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create output dir: %w", err)
	}

	manifest, err := p.run(ctx, &req, workDir, outDir, clipsDir)
	if err != nil {
		// A manifest with missing positions is worse than no manifest:
		// discard everything this run produced.
		os.RemoveAll(outDir)
		return nil, p.mapTimeout(ctx, err)
	}
	return manifest, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (p *Pipeline) run(ctx context.Context, req *Request, workDir, outDir, clipsDir string) (*carousel.Manifest, error) {
	logger := p.logger.With("run_id", req.RunID, "video_id", req.VideoID, "project", req.Project)

	req.report(StageResolve, 0)
	ref, err := p.resolver.Resolve(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}

	req.report(StageDownload, 20)
	rawPath := filepath.Join(workDir, "source.mp4")
	media, err := p.downloader.Download(ctx, ref, rawPath)
	if err != nil {
		return nil, err
	}

	probe, err := p.prober.Probe(ctx, media.Path)
	if err != nil {
		// The transfer verified complete but the container is unreadable.
		return nil, &download.DownloadError{Kind: download.KindCorrupt, URL: ref.URL, Err: err}
	}
	media.Duration = probe.Duration
	if media.Duration <= 0 {
		media.Duration = ref.Duration
	}

	logger.Info("source ready",
		"duration_s", media.Duration,
		"size_bytes", media.Size,
		"resolution", fmt.Sprintf("%dx%d", probe.Width, probe.Height),
	)

	req.report(StagePlan, 40)
	ranges, err := plan.Plan(media.Duration, req.Spec)
	if err != nil {
		return nil, err
	}

	req.report(StageExtract, 60)
	clips, err := p.extractAll(ctx, media, ranges, req.Project, clipsDir)
	if err != nil {
		return nil, err
	}

	req.report(StageAssemble, 80)
	manifest, err := carousel.Assemble(req.Project, ref.ID, clips)
	if err != nil {
		return nil, err
	}
	if err := manifest.Write(filepath.Join(outDir, "manifest.json")); err != nil {
		return nil, err
	}

	logger.Info("carousel complete", "clips", len(manifest.Items), "manifest", manifest.Path)
	return manifest, nil
}

// extractAll materializes every planned range using a bounded worker
// pool. Workers share nothing but the results slice, each writing only
// its own index, so manifest order follows range order rather than
// completion order. The errgroup wait is the synchronization barrier
// before assembly.
func (p *Pipeline) extractAll(ctx context.Context, media *download.MediaFile, ranges []plan.ClipRange, project, clipsDir string) ([]*extract.ClipFile, error) {
	clips := make([]*extract.ClipFile, len(ranges))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, rng := range ranges {
		i, rng := i, rng
		g.Go(func() error {
			// A failed sibling cancels the group; ranges that have not
			// started yet stay unstarted.
			if err := ctx.Err(); err != nil {
				return err
			}
			outPath := filepath.Join(clipsDir, carousel.ItemName(project, i+1)+".mp4")
			clip, err := p.extractor.Extract(ctx, media, rng, i, outPath)
			if err != nil {
				return err
			}
			clips[i] = clip
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return clips, nil
}

// mapTimeout converts a deadline overrun into the pipeline's own
// timeout error; every other error passes through untouched. A worker
// killed by the deadline may surface its own error rather than
// context.DeadlineExceeded, so the run context is consulted too.
func (p *Pipeline) mapTimeout(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &TimeoutError{Budget: p.cfg.Timeout}
	}
	return err
}
