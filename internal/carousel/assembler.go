// Package carousel assembles extracted clips into the pipeline's
// terminal artifact: an ordered manifest ready for handoff to upload.
// Assembly is pure; display order is a deterministic function of
// source chronology, never a reordering heuristic.
package carousel

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/extract"
)

// Reason classifies assembly failures.
type Reason string

const ReasonEmptyCarousel Reason = "empty_carousel"

// AssemblyError is the terminal error of the assembly stage.
type AssemblyError struct {
	Reason Reason
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("assemble: %s", e.Reason)
}

// Item is one positioned entry of the carousel.
type Item struct {
	Position int     `json:"position"` // 1-based display position
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
}

// Manifest is the ordered carousel handed to the upload collaborator.
type Manifest struct {
	Project   string    `json:"project"`
	VideoID   string    `json:"video_id"`
	CreatedAt time.Time `json:"created_at"`
	Items     []Item    `json:"items"`

	// Path is where the manifest was written, set by Write.
	Path string `json:"-"`
}

// Assemble assigns each clip a display position equal to its 1-based
// index in the input ordering, which the planner guarantees is the
// ascending-start-time order. A zero-item carousel is not a valid
// handoff to upload.
func Assemble(project, videoID string, clips []*extract.ClipFile) (*Manifest, error) {
	if len(clips) == 0 {
		return nil, &AssemblyError{Reason: ReasonEmptyCarousel}
	}

	m := &Manifest{
		Project:   project,
		VideoID:   videoID,
		CreatedAt: time.Now().UTC(),
		Items:     make([]Item, 0, len(clips)),
	}
	for i, clip := range clips {
		m.Items = append(m.Items, Item{
			Position: i + 1,
			Name:     ItemName(project, i+1),
			Path:     clip.Path,
			Start:    clip.Range.Start,
			End:      clip.Range.End,
			Duration: clip.Range.Duration(),
		})
	}
	return m, nil
}

// ItemName produces the deterministic display name for a position.
func ItemName(project string, position int) string {
	return fmt.Sprintf("%s_%02d", SanitizeName(project, 48), position)
}

// Write persists the manifest as indented JSON and records the path.
func (m *Manifest) Write(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	m.Path = path
	return nil
}

// Load reads a manifest back from disk.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.Path = path
	return &m, nil
}
