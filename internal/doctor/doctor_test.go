package doctor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProber struct {
	caps  *Capabilities
	err   error
	calls int
}

func (f *fakeProber) RunDoctor(ctx context.Context) (*Capabilities, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.caps, nil
}

func freshCaps() *Capabilities {
	return &Capabilities{
		YtDlp:      ToolInfo{Available: true, Version: "2025.01.26"},
		FFmpeg:     ToolInfo{Available: true, Version: "ffmpeg version 7.1"},
		FFprobe:    ToolInfo{Available: true, Version: "ffprobe version 7.1"},
		CanResolve: true,
		CanExtract: true,
		ProbedAt:   time.Now(),
	}
}

func TestCachedDoctor_GetUsesCache(t *testing.T) {
	prober := &fakeProber{caps: freshCaps()}
	d := NewCachedDoctor(prober, testLogger())

	for i := 0; i < 3; i++ {
		caps, err := d.Get(context.Background())
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !caps.CanExtract {
			t.Error("CanExtract = false, want true")
		}
	}

	if prober.calls != 1 {
		t.Errorf("prober called %d times, want 1", prober.calls)
	}
}

func TestCachedDoctor_ExpiredTTLReprobes(t *testing.T) {
	prober := &fakeProber{caps: freshCaps()}
	d := NewCachedDoctor(prober, testLogger())
	d.ttl = time.Millisecond

	if _, err := d.Get(context.Background()); err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := d.Get(context.Background()); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}

	if prober.calls != 2 {
		t.Errorf("prober called %d times, want 2", prober.calls)
	}
}

func TestCachedDoctor_StaleCacheOnProbeFailure(t *testing.T) {
	prober := &fakeProber{caps: freshCaps()}
	d := NewCachedDoctor(prober, testLogger())

	if _, err := d.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	prober.err = errors.New("probe exploded")
	caps, err := d.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v, want stale cache", err)
	}
	if !caps.CanResolve {
		t.Error("stale caps lost CanResolve")
	}
}

func TestCachedDoctor_FailureWithEmptyCache(t *testing.T) {
	prober := &fakeProber{err: errors.New("probe exploded")}
	d := NewCachedDoctor(prober, testLogger())

	if _, err := d.Get(context.Background()); err == nil {
		t.Error("Get() error = nil, want probe failure")
	}
}

func TestCachedDoctor_Invalidate(t *testing.T) {
	prober := &fakeProber{caps: freshCaps()}
	d := NewCachedDoctor(prober, testLogger())

	if _, err := d.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	d.Invalidate()
	if d.Peek() != nil {
		t.Error("Peek() after Invalidate() not nil")
	}
	if _, err := d.Get(context.Background()); err != nil {
		t.Fatalf("Get() after Invalidate() error = %v", err)
	}
	if prober.calls != 2 {
		t.Errorf("prober called %d times, want 2", prober.calls)
	}
}

func TestFirstLine(t *testing.T) {
	cases := []struct{ in, want string }{
		{"2025.01.26\n", "2025.01.26"},
		{"ffmpeg version 7.1\nbuilt with gcc\n", "ffmpeg version 7.1"},
		{"bare", "bare"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := firstLine(tc.in); got != tc.want {
			t.Errorf("firstLine(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
