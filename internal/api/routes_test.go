package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipdeck/clipdeck-agent/internal/carousel"
	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/db"
	"github.com/clipdeck/clipdeck-agent/internal/doctor"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
)

const testToken = "test-token"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDoctorProber struct {
	caps *doctor.Capabilities
}

func (f *fakeDoctorProber) RunDoctor(ctx context.Context) (*doctor.Capabilities, error) {
	if f.caps == nil {
		return &doctor.Capabilities{}, nil
	}
	return f.caps, nil
}

func setupRouter(t *testing.T) (*chiRouterFixture, catalog.Repository) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := catalog.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("set auth token: %v", err)
	}

	logger := testLogger()
	svc := catalog.NewService(repo, logger)

	cfg := ServerConfig{
		Port:       0,
		RunService: svc,
		Repository: repo,
		Doctor: doctor.NewCachedDoctor(&fakeDoctorProber{caps: &doctor.Capabilities{
			CanResolve: true,
			CanExtract: true,
			YtDlp:      doctor.ToolInfo{Available: true, Version: "2025.01.26"},
			FFmpeg:     doctor.ToolInfo{Available: true, Version: "ffmpeg version 7.1"},
			ProbedAt:   time.Now(),
		}}, logger),
		Logger:    logger,
		StartTime: time.Now().Add(-10 * time.Second),
		DeviceID:  "test-device",
	}

	return &chiRouterFixture{handler: NewRouter(cfg)}, repo
}

type chiRouterFixture struct {
	handler http.Handler
}

func (f *chiRouterFixture) do(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestHealthHandler_NoAuthRequired(t *testing.T) {
	router, _ := setupRouter(t)

	rr := router.do(t, http.MethodGet, "/health", nil, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}

	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["device_id"] != "test-device" {
		t.Errorf("device_id = %v, want test-device", body["device_id"])
	}
}

func TestCreateRunHandler(t *testing.T) {
	router, repo := setupRouter(t)

	rr := router.do(t, http.MethodPost, "/runs", CreateRunRequest{
		VideoID:      "vid123",
		Project:      "reel",
		ClipCount:    3,
		ClipDuration: 5,
	}, true)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	var resp CreateRunResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("run_id empty")
	}

	run, err := repo.GetRun(context.Background(), resp.RunID)
	if err != nil || run == nil {
		t.Fatalf("run not persisted: %v", err)
	}
	if run.Status != catalog.RunStatusPending {
		t.Errorf("run status = %s, want %s", run.Status, catalog.RunStatusPending)
	}

	spec, err := run.ClipSpec()
	if err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	if spec.Count != 3 || spec.ClipDuration != 5 || spec.Policy != plan.PolicyEven {
		t.Errorf("spec = %+v", spec)
	}
}

func TestCreateRunHandler_OffsetsPolicyInferred(t *testing.T) {
	router, repo := setupRouter(t)

	rr := router.do(t, http.MethodPost, "/runs", CreateRunRequest{
		VideoID:      "vid123",
		ClipCount:    2,
		ClipDuration: 5,
		Offsets:      []float64{10, 40},
	}, true)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d: %s", rr.Code, rr.Body.String())
	}

	var resp CreateRunResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	run, _ := repo.GetRun(context.Background(), resp.RunID)
	spec, _ := run.ClipSpec()
	if spec.Policy != plan.PolicyOffsets {
		t.Errorf("policy = %s, want %s", spec.Policy, plan.PolicyOffsets)
	}
}

func TestCreateRunHandler_Validation(t *testing.T) {
	router, _ := setupRouter(t)

	cases := []struct {
		name string
		req  CreateRunRequest
	}{
		{"missing video id", CreateRunRequest{ClipCount: 3, ClipDuration: 5}},
		{"zero count", CreateRunRequest{VideoID: "vid1", ClipDuration: 5}},
		{"zero duration", CreateRunRequest{VideoID: "vid1", ClipCount: 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := router.do(t, http.MethodPost, "/runs", tc.req, true)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestListAndGetRunHandlers(t *testing.T) {
	router, _ := setupRouter(t)

	rr := router.do(t, http.MethodPost, "/runs", CreateRunRequest{
		VideoID: "vid123", ClipCount: 2, ClipDuration: 5,
	}, true)
	var created CreateRunResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	rr = router.do(t, http.MethodGet, "/runs", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status code = %d", rr.Code)
	}
	var list RunsResponse
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(list.Runs))
	}

	rr = router.do(t, http.MethodGet, "/runs/"+created.RunID, nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status code = %d", rr.Code)
	}
	var run RunResponse
	json.Unmarshal(rr.Body.Bytes(), &run)
	if run.VideoID != "vid123" {
		t.Errorf("video_id = %s, want vid123", run.VideoID)
	}

	rr = router.do(t, http.MethodGet, "/runs/no-such-run", nil, true)
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing run status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestGetRunManifestHandler(t *testing.T) {
	router, repo := setupRouter(t)
	ctx := context.Background()

	rr := router.do(t, http.MethodPost, "/runs", CreateRunRequest{
		VideoID: "vid123", ClipCount: 1, ClipDuration: 5,
	}, true)
	var created CreateRunResponse
	json.Unmarshal(rr.Body.Bytes(), &created)

	rr = router.do(t, http.MethodGet, "/runs/"+created.RunID+"/manifest", nil, true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("manifest before completion: status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	manifestPath := filepath.Join(t.TempDir(), "manifest.json")
	m := &carousel.Manifest{Project: "reel", VideoID: "vid123", CreatedAt: time.Now(),
		Items: []carousel.Item{{Position: 1, Name: "reel_01", Path: "/tmp/reel_01.mp4", Start: 7.5, End: 12.5, Duration: 5}}}
	if err := m.Write(manifestPath); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	repo.UpdateRunManifest(ctx, created.RunID, manifestPath)

	rr = router.do(t, http.MethodGet, "/runs/"+created.RunID+"/manifest", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("manifest status = %d", rr.Code)
	}
	var served carousel.Manifest
	if err := json.Unmarshal(rr.Body.Bytes(), &served); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if served.VideoID != "vid123" || len(served.Items) != 1 {
		t.Errorf("manifest = %+v", served)
	}
}

func TestStatusHandler(t *testing.T) {
	router, _ := setupRouter(t)

	router.do(t, http.MethodPost, "/runs", CreateRunRequest{
		VideoID: "vid123", ClipCount: 2, ClipDuration: 5,
	}, true)

	rr := router.do(t, http.MethodGet, "/status", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}

	body := decodeJSONBody(t, rr)
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
	if body["runs_pending"].(float64) != 1 {
		t.Errorf("runs_pending = %v, want 1", body["runs_pending"])
	}

	tools, ok := body["tools"].(map[string]interface{})
	if !ok {
		t.Fatal("tools missing from response")
	}
	if got, _ := tools["can_extract"].(bool); !got {
		t.Error("tools.can_extract = false, want true")
	}
}

func TestDoctorHandler(t *testing.T) {
	router, _ := setupRouter(t)

	rr := router.do(t, http.MethodGet, "/doctor", nil, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}

	var caps doctor.Capabilities
	if err := json.Unmarshal(rr.Body.Bytes(), &caps); err != nil {
		t.Fatalf("decode caps: %v", err)
	}
	if !caps.CanResolve || !caps.CanExtract {
		t.Errorf("caps = %+v", caps)
	}
}

func TestRunnerPauseResumeHandlers_NilRunner(t *testing.T) {
	router, _ := setupRouter(t)

	rr := router.do(t, http.MethodPost, "/runner/pause", nil, true)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("pause status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	rr = router.do(t, http.MethodPost, "/runner/resume", nil, true)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("resume status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}
