package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/plan"
)

type RunService interface {
	EnqueueRun(ctx context.Context, videoID, project string, spec plan.ClipSpec) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	GetRuns(ctx context.Context, limit int) ([]*Run, error)
	GetClips(ctx context.Context, runID string) ([]*Clip, error)
	CountRuns(ctx context.Context, status string) (int, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// EnqueueRun validates the request and records a pending run for the
// runner to pick up. Plan validation that depends on the source
// duration happens later, in the pipeline.
func (s *Service) EnqueueRun(ctx context.Context, videoID, project string, spec plan.ClipSpec) (*Run, error) {
	videoID = strings.TrimSpace(videoID)
	if videoID == "" {
		return nil, fmt.Errorf("video id is required")
	}
	if project == "" {
		project = "carousel"
	}
	if spec.Count < 1 {
		return nil, fmt.Errorf("clip count must be at least 1")
	}
	if spec.ClipDuration <= 0 {
		return nil, fmt.Errorf("clip duration must be positive")
	}
	if spec.Policy == plan.PolicyOffsets && len(spec.Offsets) == 0 {
		return nil, fmt.Errorf("offsets policy requires offsets")
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}

	now := time.Now()
	run := &Run{
		ID:        NewID(),
		VideoID:   videoID,
		Project:   project,
		Spec:      string(specJSON),
		Status:    RunStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("run enqueued", "run_id", run.ID, "video_id", videoID, "project", project, "clips", spec.Count)
	}
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.repo.GetRun(ctx, id)
}

func (s *Service) GetRuns(ctx context.Context, limit int) ([]*Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

func (s *Service) GetClips(ctx context.Context, runID string) ([]*Clip, error) {
	return s.repo.GetClipsByRun(ctx, runID)
}

func (s *Service) CountRuns(ctx context.Context, status string) (int, error) {
	return s.repo.CountRuns(ctx, status)
}
