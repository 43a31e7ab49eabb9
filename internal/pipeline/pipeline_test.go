package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/carousel"
	"github.com/clipdeck/clipdeck-agent/internal/download"
	"github.com/clipdeck/clipdeck-agent/internal/extract"
	"github.com/clipdeck/clipdeck-agent/internal/ffmpeg"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
	"github.com/clipdeck/clipdeck-agent/internal/resolve"
)

type fakeResolver struct {
	ref *resolve.VideoReference
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, videoID string) (*resolve.VideoReference, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ref, nil
}

type fakeDownloader struct {
	err error
}

func (f *fakeDownloader) Download(ctx context.Context, ref *resolve.VideoReference, destPath string) (*download.MediaFile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(destPath, []byte("source"), 0644); err != nil {
		return nil, err
	}
	return &download.MediaFile{Path: destPath, Size: 6}, nil
}

type fakeProber struct {
	duration float64
	err      error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ffmpeg.ProbeResult{Duration: f.duration, Width: 1280, Height: 720, HasVideo: true, HasAudio: true}, nil
}

type fakeExtractor struct {
	mu         sync.Mutex
	inFlight   atomic.Int32
	maxSeen    atomic.Int32
	delay     time.Duration
	failIndex int // -1 = never fail
	started   []int
}

func (f *fakeExtractor) Extract(ctx context.Context, media *download.MediaFile, rng plan.ClipRange, index int, outPath string) (*extract.ClipFile, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if cur <= prev || f.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	f.mu.Lock()
	f.started = append(f.started, index)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failIndex == index {
		return nil, &extract.ExtractionError{Reason: extract.ReasonEngineFailure, Index: index, Err: errors.New("boom")}
	}
	if err := os.WriteFile(outPath, []byte("clip"), 0644); err != nil {
		return nil, err
	}
	return &extract.ClipFile{Path: outPath, Range: rng, Index: index}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPipeline(t *testing.T, res Resolver, dl Downloader, pr Prober, ex Extractor, cfg Config) *Pipeline {
	t.Helper()
	if cfg.CarouselsBase == "" {
		cfg.CarouselsBase = t.TempDir()
	}
	p := New(res, dl, pr, ex, cfg, testLogger())
	p.now = func() time.Time { return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC) }
	return p
}

func defaultStages(duration float64) (*fakeResolver, *fakeDownloader, *fakeProber, *fakeExtractor) {
	res := &fakeResolver{ref: &resolve.VideoReference{
		ID: "vid123", Title: "demo", URL: "https://example.com/vid123", Duration: duration,
	}}
	return res, &fakeDownloader{}, &fakeProber{duration: duration}, &fakeExtractor{failIndex: -1}
}

func TestRunProducesOrderedManifest(t *testing.T) {
	res, dl, pr, ex := defaultStages(60)
	base := t.TempDir()
	p := newTestPipeline(t, res, dl, pr, ex, Config{CarouselsBase: base, Workers: 2})

	m, err := p.Run(context.Background(), Request{
		RunID: "0f5c3aab-41d2-4f4e-9a11-6a1f2b3c4d5e", VideoID: "vid123", Project: "My Reel",
		Spec: plan.ClipSpec{Count: 3, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(m.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(m.Items))
	}
	for i, item := range m.Items {
		if item.Position != i+1 {
			t.Errorf("item %d position = %d, want %d", i, item.Position, i+1)
		}
		if i > 0 && item.Start <= m.Items[i-1].Start {
			t.Errorf("item %d start %f not after previous %f", i, item.Start, m.Items[i-1].Start)
		}
		if _, err := os.Stat(item.Path); err != nil {
			t.Errorf("clip %d missing on disk: %v", i, err)
		}
	}
	if _, err := os.Stat(m.Path); err != nil {
		t.Errorf("manifest missing on disk: %v", err)
	}
	wantDir := filepath.Join(base, "2025-03-14-My_Reel-0f5c3aab")
	if filepath.Dir(m.Path) != wantDir {
		t.Errorf("manifest dir = %s, want %s", filepath.Dir(m.Path), wantDir)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	res, dl, pr, ex := defaultStages(120)
	ex.delay = 20 * time.Millisecond
	p := newTestPipeline(t, res, dl, pr, ex, Config{Workers: 2})

	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 6, ClipDuration: 4, Policy: plan.PolicyEven},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if max := ex.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent extractions, limit is 2", max)
	}
	if got := len(ex.started); got != 6 {
		t.Errorf("started %d extractions, want 6", got)
	}
}

func TestRunFailFastOnExtraction(t *testing.T) {
	res, dl, pr, ex := defaultStages(120)
	ex.failIndex = 1
	ex.delay = 5 * time.Millisecond
	base := t.TempDir()
	p := newTestPipeline(t, res, dl, pr, ex, Config{CarouselsBase: base, Workers: 1})

	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 6, ClipDuration: 4, Policy: plan.PolicyEven},
	})
	var exErr *extract.ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("err = %v, want ExtractionError", err)
	}
	if exErr.Index != 1 {
		t.Errorf("failing index = %d, want 1", exErr.Index)
	}
	// With one worker, ranges after the failure must never start.
	for _, idx := range ex.started {
		if idx > 1 {
			t.Errorf("extraction %d started after failure", idx)
		}
	}

	entries, readErr := os.ReadDir(base)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not cleaned up, found %d entries", len(entries))
	}
}

func TestRunFailureKeepsEarlierCarousel(t *testing.T) {
	base := t.TempDir()

	res, dl, pr, ex := defaultStages(60)
	p := newTestPipeline(t, res, dl, pr, ex, Config{CarouselsBase: base, Workers: 2})
	first, err := p.Run(context.Background(), Request{
		RunID: "11111111-aaaa-4bbb-8ccc-dddddddddddd", VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 2, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Same project, same day, new run: a resolution failure must clean
	// up only its own directory.
	resErr := &resolve.ResolutionError{VideoID: "vid456", Reason: resolve.ReasonNotFound}
	p2 := newTestPipeline(t, &fakeResolver{err: resErr}, dl, pr, ex, Config{CarouselsBase: base, Workers: 2})
	_, err = p2.Run(context.Background(), Request{
		RunID: "22222222-aaaa-4bbb-8ccc-dddddddddddd", VideoID: "vid456", Project: "reel",
		Spec: plan.ClipSpec{Count: 2, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	if err == nil {
		t.Fatal("second Run succeeded, want resolution error")
	}

	if _, statErr := os.Stat(first.Path); statErr != nil {
		t.Errorf("first run's manifest gone after sibling failure: %v", statErr)
	}
	for _, item := range first.Items {
		if _, statErr := os.Stat(item.Path); statErr != nil {
			t.Errorf("first run's clip %d gone after sibling failure: %v", item.Position, statErr)
		}
	}
	entries, readErr := os.ReadDir(base)
	if readErr != nil {
		t.Fatalf("ReadDir: %v", readErr)
	}
	if len(entries) != 1 {
		t.Errorf("base holds %d directories, want only the first run's", len(entries))
	}
}

func TestRunReportsStages(t *testing.T) {
	res, dl, pr, ex := defaultStages(60)
	p := newTestPipeline(t, res, dl, pr, ex, Config{Workers: 2})

	var stages []string
	lastProgress := -1
	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec:    plan.ClipSpec{Count: 2, ClipDuration: 5, Policy: plan.PolicyEven},
		OnStage: func(stage string, progress int) {
			stages = append(stages, stage)
			if progress < lastProgress {
				t.Errorf("progress went backwards: %d after %d at %s", progress, lastProgress, stage)
			}
			lastProgress = progress
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{StageResolve, StageDownload, StagePlan, StageExtract, StageAssemble}
	if len(stages) != len(want) {
		t.Fatalf("reported stages %v, want %v", stages, want)
	}
	for i, s := range want {
		if stages[i] != s {
			t.Errorf("stage %d = %s, want %s", i, stages[i], s)
		}
	}
}

func TestRunReportsStagesUpToFailure(t *testing.T) {
	res, dl, pr, ex := defaultStages(120)
	ex.failIndex = 0
	p := newTestPipeline(t, res, dl, pr, ex, Config{Workers: 1})

	var stages []string
	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec:    plan.ClipSpec{Count: 4, ClipDuration: 4, Policy: plan.PolicyEven},
		OnStage: func(stage string, progress int) { stages = append(stages, stage) },
	})
	if err == nil {
		t.Fatal("Run succeeded, want extraction error")
	}
	if len(stages) == 0 || stages[len(stages)-1] != StageExtract {
		t.Errorf("last reported stage = %v, want %s", stages, StageExtract)
	}
}

func TestRunTimeout(t *testing.T) {
	res, dl, pr, ex := defaultStages(120)
	ex.delay = time.Second
	p := newTestPipeline(t, res, dl, pr, ex, Config{Workers: 2, Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 4, ClipDuration: 4, Policy: plan.PolicyEven},
	})
	var toErr *TimeoutError
	if !errors.As(err, &toErr) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("run took %s, workers not aborted promptly", elapsed)
	}
}

func TestRunResolutionFailurePassesThrough(t *testing.T) {
	resErr := &resolve.ResolutionError{VideoID: "vid123", Reason: resolve.ReasonNotFound}
	p := newTestPipeline(t, &fakeResolver{err: resErr}, &fakeDownloader{}, &fakeProber{}, &fakeExtractor{failIndex: -1}, Config{})

	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 3, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	var gotErr *resolve.ResolutionError
	if !errors.As(err, &gotErr) {
		t.Fatalf("err = %v, want ResolutionError", err)
	}
	if gotErr.Reason != resolve.ReasonNotFound {
		t.Errorf("reason = %s, want %s", gotErr.Reason, resolve.ReasonNotFound)
	}
}

func TestRunUnreadableSourceIsCorrupt(t *testing.T) {
	res, dl, _, ex := defaultStages(60)
	pr := &fakeProber{err: errors.New("moov atom not found")}
	p := newTestPipeline(t, res, dl, pr, ex, Config{})

	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 3, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	var dlErr *download.DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("err = %v, want DownloadError", err)
	}
	if dlErr.Kind != download.KindCorrupt {
		t.Errorf("kind = %s, want %s", dlErr.Kind, download.KindCorrupt)
	}
}

func TestRunRejectsShortSource(t *testing.T) {
	res, dl, pr, ex := defaultStages(10)
	p := newTestPipeline(t, res, dl, pr, ex, Config{})

	_, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 4, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	var planErr *plan.PlanError
	if !errors.As(err, &planErr) {
		t.Fatalf("err = %v, want PlanError", err)
	}
	if planErr.Reason != plan.ReasonDurationTooShort {
		t.Errorf("reason = %s, want %s", planErr.Reason, plan.ReasonDurationTooShort)
	}
}

func TestManifestRoundTripFromRun(t *testing.T) {
	res, dl, pr, ex := defaultStages(60)
	p := newTestPipeline(t, res, dl, pr, ex, Config{})

	m, err := p.Run(context.Background(), Request{
		VideoID: "vid123", Project: "reel",
		Spec: plan.ClipSpec{Count: 2, ClipDuration: 5, Policy: plan.PolicyEven},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	loaded, err := carousel.Load(m.Path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.VideoID != "vid123" || len(loaded.Items) != 2 {
		t.Errorf("loaded manifest mismatch: %+v", loaded)
	}
}
