package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clipdeck/clipdeck-agent/internal/api"
	"github.com/clipdeck/clipdeck-agent/internal/catalog"
	"github.com/clipdeck/clipdeck-agent/internal/config"
	"github.com/clipdeck/clipdeck-agent/internal/credentials"
	"github.com/clipdeck/clipdeck-agent/internal/db"
	"github.com/clipdeck/clipdeck-agent/internal/doctor"
	"github.com/clipdeck/clipdeck-agent/internal/download"
	"github.com/clipdeck/clipdeck-agent/internal/extract"
	"github.com/clipdeck/clipdeck-agent/internal/ffmpeg"
	"github.com/clipdeck/clipdeck-agent/internal/logging"
	"github.com/clipdeck/clipdeck-agent/internal/pipeline"
	"github.com/clipdeck/clipdeck-agent/internal/plan"
	"github.com/clipdeck/clipdeck-agent/internal/resolve"
	"github.com/clipdeck/clipdeck-agent/internal/ui"
	"github.com/clipdeck/clipdeck-agent/internal/upload"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	videoID := flag.String("video", "", "enqueue a run for this video id or URL at startup")
	project := flag.String("project", "", "project name for the startup run")
	clipCount := flag.Int("clips", 3, "clip count for the startup run")
	clipDuration := flag.Float64("clip-duration", 5, "clip duration in seconds for the startup run")
	flag.Parse()

	// A missing .env is fine; the environment still applies.
	godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.CarouselsDir(), 0755); err != nil {
		return fmt.Errorf("failed to create carousels dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipdeck agent", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                   CLIPDECK AGENT v%-7s                 ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	runSvc := catalog.NewService(repo, logger)

	creds := credentials.NewStore(cfg.CookiesFile(), logger)
	if cred := creds.Load(); cred == nil {
		logger.Info("no session cookies found, acquisition is unauthenticated")
	} else {
		logger.Info("session cookies loaded", "path", logging.SanitizePath(cred.Path))
	}

	ytdlp, err := resolve.NewYtDlpClient(cfg.YtDlpPath(), cfg.Quality(), logger)
	if err != nil {
		return fmt.Errorf("yt-dlp unavailable: %w", err)
	}
	resolver := resolve.NewResolver(ytdlp, creds, cfg.ResolveAttempts(), cfg.ResolveBaseWait(), logger)

	engine, err := ffmpeg.NewExecutor(logger)
	if err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}
	extractor := extract.New(engine, logger)
	downloader := download.New(logger)

	pipe := pipeline.New(resolver, downloader, engine, extractor, pipeline.Config{
		CarouselsBase: cfg.CarouselsDir(),
		Workers:       cfg.ExtractWorkers(),
		Timeout:       cfg.PipelineTimeout(),
	}, logger)

	cachedDoctor := doctor.NewCachedDoctor(doctor.New(cfg.YtDlpPath(), "", "", logger), logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if caps, err := cachedDoctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("tool capabilities detected",
			"can_resolve", caps.CanResolve,
			"can_extract", caps.CanExtract,
		)
	}

	var uploader upload.Client
	if cfg.UploadEnabled() && cfg.UploadURL() != "" && cfg.UploadToken() != "" {
		httpUploader := upload.NewHTTPClient(cfg.UploadURL(), cfg.UploadToken(), logger)
		httpUploader.SetDeviceID(deviceID)
		uploader = httpUploader
		logger.Info("manifest upload enabled", "base_url", cfg.UploadURL())
	} else {
		uploader = upload.NewStubClient(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := catalog.NewRunner(repo, pipe, cachedDoctor, uploader, logger)
	go runner.Start(ctx)

	if *videoID != "" {
		run, err := runSvc.EnqueueRun(ctx, *videoID, *project, plan.ClipSpec{
			Count:        *clipCount,
			ClipDuration: *clipDuration,
			Policy:       plan.PolicyEven,
		})
		if err != nil {
			return fmt.Errorf("failed to enqueue startup run: %w", err)
		}
		logger.Info("startup run enqueued", "run_id", run.ID, "video_id", *videoID)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		RunService: runSvc,
		Repository: repo,
		Runner:     runner,
		Doctor:     cachedDoctor,
		Logger:     logger,
		StartTime:  startTime,
		DeviceID:   deviceID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	quitCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			close(quitCh)
		case <-quitCh:
		}
	}()

	if cfg.Headless() {
		logger.Info("running in headless mode (no system tray)")
	} else {
		tray := ui.NewTray(ui.TrayConfig{
			RunService: runSvc,
			Runner:     runner,
			Logger:     logger,
			OnQuit: func() {
				close(quitCh)
			},
		})
		go tray.Run()
	}

	<-quitCh

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureDeviceID(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo catalog.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
