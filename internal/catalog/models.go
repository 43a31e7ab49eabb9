package catalog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clipdeck/clipdeck-agent/internal/plan"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one enqueued carousel job: a video reference plus a clip spec,
// tracked from pending through completion.
type Run struct {
	ID           string    `json:"id"`
	VideoID      string    `json:"video_id"`
	Project      string    `json:"project"`
	Spec         string    `json:"spec"`
	Status       string    `json:"status"`
	Stage        string    `json:"stage,omitempty"`
	Progress     int       `json:"progress"`
	Error        string    `json:"error,omitempty"`
	ManifestPath string    `json:"manifest_path,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ClipSpec decodes the run's stored spec JSON.
func (r *Run) ClipSpec() (plan.ClipSpec, error) {
	var spec plan.ClipSpec
	err := json.Unmarshal([]byte(r.Spec), &spec)
	return spec, err
}

// Clip is a finished carousel item recorded against its run.
type Clip struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Position  int       `json:"position"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Start     float64   `json:"start_s"`
	End       float64   `json:"end_s"`
	Duration  float64   `json:"duration_s"`
	CreatedAt time.Time `json:"created_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
