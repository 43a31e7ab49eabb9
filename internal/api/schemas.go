package api

import (
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
	RunsTotal   int                  `json:"runs_total"`
	RunsPending int                  `json:"runs_pending"`
	RunsRunning int                  `json:"runs_running"`
	ActiveRun   *RunResponse         `json:"active_run,omitempty"`
	Tools       *ToolsStatusResponse `json:"tools,omitempty"`
}

type ToolsStatusResponse struct {
	CanResolve  bool   `json:"can_resolve"`
	CanExtract  bool   `json:"can_extract"`
	YtDlp       string `json:"yt_dlp,omitempty"`
	FFmpeg      string `json:"ffmpeg,omitempty"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

type CreateRunRequest struct {
	VideoID      string    `json:"video_id"`
	Project      string    `json:"project,omitempty"`
	ClipCount    int       `json:"clip_count"`
	ClipDuration float64   `json:"clip_duration_s"`
	Policy       string    `json:"policy,omitempty"`
	Offsets      []float64 `json:"offsets,omitempty"`
}

type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

type RunResponse struct {
	ID           string `json:"id"`
	VideoID      string `json:"video_id"`
	Project      string `json:"project"`
	Status       string `json:"status"`
	Stage        string `json:"stage,omitempty"`
	Progress     int    `json:"progress"`
	Error        string `json:"error,omitempty"`
	ManifestPath string `json:"manifest_path,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ClipResponse struct {
	ID       string  `json:"id"`
	Position int     `json:"position"`
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Start    float64 `json:"start_s"`
	End      float64 `json:"end_s"`
	Duration float64 `json:"duration_s"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type RunnerStateResponse struct {
	Paused bool `json:"paused"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (r CreateRunRequest) ToClipSpec() plan.ClipSpec {
	policy := plan.Policy(r.Policy)
	if policy == "" {
		policy = plan.PolicyEven
		if len(r.Offsets) > 0 {
			policy = plan.PolicyOffsets
		}
	}
	return plan.ClipSpec{
		Count:        r.ClipCount,
		ClipDuration: r.ClipDuration,
		Policy:       policy,
		Offsets:      r.Offsets,
	}
}

func RunToResponse(run *catalog.Run) RunResponse {
	return RunResponse{
		ID:           run.ID,
		VideoID:      run.VideoID,
		Project:      run.Project,
		Status:       run.Status,
		Stage:        run.Stage,
		Progress:     run.Progress,
		Error:        run.Error,
		ManifestPath: run.ManifestPath,
		CreatedAt:    run.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    run.UpdatedAt.Format(time.RFC3339),
	}
}

func ClipToResponse(c *catalog.Clip) ClipResponse {
	return ClipResponse{
		ID:       c.ID,
		Position: c.Position,
		Name:     c.Name,
		Path:     c.Path,
		Start:    c.Start,
		End:      c.End,
		Duration: c.Duration,
	}
}
