package carousel

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/clipdeck/clipdeck-agent/internal/extract"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
)

func testClips() []*extract.ClipFile {
	return []*extract.ClipFile{
		{Path: "/out/a.mp4", Range: plan.ClipRange{Start: 7.5, End: 12.5}, Index: 0},
		{Path: "/out/b.mp4", Range: plan.ClipRange{Start: 27.5, End: 32.5}, Index: 1},
		{Path: "/out/c.mp4", Range: plan.ClipRange{Start: 47.5, End: 52.5}, Index: 2},
	}
}

func TestAssemble_Positions(t *testing.T) {
	m, err := Assemble("veo-interview", "vid1", testClips())
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(m.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(m.Items))
	}
	for i, item := range m.Items {
		if item.Position != i+1 {
			t.Errorf("item[%d].Position = %d, want %d", i, item.Position, i+1)
		}
	}
	if m.Items[0].Name != "veo-interview_01" {
		t.Errorf("item[0].Name = %q", m.Items[0].Name)
	}
	if m.Items[2].Start != 47.5 || m.Items[2].End != 52.5 {
		t.Errorf("item[2] range = (%v, %v)", m.Items[2].Start, m.Items[2].End)
	}
}

func TestAssemble_Idempotent(t *testing.T) {
	clips := testClips()
	a, err := Assemble("proj", "vid1", clips)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	b, err := Assemble("proj", "vid1", clips)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !reflect.DeepEqual(a.Items, b.Items) {
		t.Errorf("re-assembly changed items:\n%+v\n%+v", a.Items, b.Items)
	}
}

func TestAssemble_Empty(t *testing.T) {
	_, err := Assemble("proj", "vid1", nil)
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("Assemble() error = %v, want *AssemblyError", err)
	}
	if asmErr.Reason != ReasonEmptyCarousel {
		t.Errorf("Reason = %s, want empty_carousel", asmErr.Reason)
	}
}

func TestManifest_Write(t *testing.T) {
	m, err := Assemble("proj", "vid1", testClips())
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := m.Write(path); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if m.Path != path {
		t.Errorf("m.Path = %q, want %q", m.Path, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	var decoded Manifest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("manifest is not valid JSON: %v", err)
	}
	if decoded.VideoID != "vid1" || len(decoded.Items) != 3 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"veo-interview", 48, "veo-interview"},
		{"my project!", 48, "my_project_"},
		{"a/b\\c", 48, "a_b_c"},
		{"", 48, "carousel"},
		{"abcdefgh", 4, "abcd"},
	}
	for _, tc := range tests {
		if got := SanitizeName(tc.in, tc.max); got != tc.want {
			t.Errorf("SanitizeName(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
