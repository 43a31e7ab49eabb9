// Package config provides configuration management for the Clipdeck Agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8497
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipdeck"
	DefaultQuality  = "720p"

	// Environment variable names
	EnvPort     = "CLIPDECK_PORT"
	EnvLogLevel = "CLIPDECK_LOG_LEVEL"
	EnvDataDir  = "CLIPDECK_DATA_DIR"
	EnvHeadless = "CLIPDECK_HEADLESS"

	// Acquisition environment variable names
	EnvCookiesFile     = "CLIPDECK_COOKIES"
	EnvYtDlpPath       = "CLIPDECK_YTDLP"
	EnvQuality         = "CLIPDECK_QUALITY"
	EnvResolveAttempts = "CLIPDECK_RESOLVE_ATTEMPTS"

	// Extraction environment variable names
	EnvExtractWorkers  = "CLIPDECK_EXTRACT_WORKERS"
	EnvPipelineTimeout = "CLIPDECK_PIPELINE_TIMEOUT"

	// Upload environment variable names
	EnvUploadEnabled = "CLIPDECK_UPLOAD_ENABLED"
	EnvUploadURL     = "CLIPDECK_UPLOAD_URL"
	EnvUploadToken   = "CLIPDECK_UPLOAD_TOKEN"

	// Database filename
	DBFilename = "clipdeck.db"

	// Pipeline defaults
	DefaultResolveAttempts = 3
	DefaultExtractWorkers  = 2
	DefaultPipelineTimeout = 3600 // seconds
	DefaultResolveBaseWait = 2    // seconds
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CarouselsDir() string
	Headless() bool

	CookiesFile() string
	YtDlpPath() string
	Quality() string
	ResolveAttempts() int
	ResolveBaseWait() time.Duration

	ExtractWorkers() int
	PipelineTimeout() time.Duration

	UploadEnabled() bool
	UploadURL() string
	UploadToken() string
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string
	headless bool

	cookiesFile     string
	ytDlpPath       string
	quality         string
	resolveAttempts int

	extractWorkers  int
	pipelineTimeout time.Duration

	uploadEnabled bool
	uploadURL     string
	uploadToken   string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		logLevel:        DefaultLogLevel,
		dataDir:         defaultDataDir(),
		quality:         DefaultQuality,
		resolveAttempts: DefaultResolveAttempts,
		extractWorkers:  DefaultExtractWorkers,
		pipelineTimeout: DefaultPipelineTimeout * time.Second,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	// Override log level from environment
	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	// Override data directory from environment
	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.headless = boolEnv(EnvHeadless)

	cfg.cookiesFile = os.Getenv(EnvCookiesFile)
	cfg.ytDlpPath = os.Getenv(EnvYtDlpPath)

	if q := os.Getenv(EnvQuality); q != "" {
		cfg.quality = q
	}

	if ra := os.Getenv(EnvResolveAttempts); ra != "" {
		n, err := strconv.Atoi(ra)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvResolveAttempts)
		}
		cfg.resolveAttempts = n
	}

	if ew := os.Getenv(EnvExtractWorkers); ew != "" {
		n, err := strconv.Atoi(ew)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvExtractWorkers)
		}
		cfg.extractWorkers = n
	}

	if pt := os.Getenv(EnvPipelineTimeout); pt != "" {
		secs, err := strconv.Atoi(pt)
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive number of seconds", EnvPipelineTimeout)
		}
		cfg.pipelineTimeout = time.Duration(secs) * time.Second
	}

	cfg.uploadEnabled = boolEnv(EnvUploadEnabled)
	cfg.uploadURL = os.Getenv(EnvUploadURL)
	cfg.uploadToken = os.Getenv(EnvUploadToken)

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CarouselsDir returns the base directory for finished carousels
func (c *EnvConfig) CarouselsDir() string {
	return filepath.Join(c.dataDir, "carousels")
}

// Headless reports whether the system tray should be skipped
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// CookiesFile returns the configured cookies file path, if any.
// An empty value means the credential store falls back to its
// well-known discovery locations.
func (c *EnvConfig) CookiesFile() string {
	return c.cookiesFile
}

// YtDlpPath returns the configured yt-dlp binary path; empty = PATH lookup
func (c *EnvConfig) YtDlpPath() string {
	return c.ytDlpPath
}

// Quality returns the preferred stream quality (1080p, 720p, 480p, 360p, worst)
func (c *EnvConfig) Quality() string {
	return c.quality
}

// ResolveAttempts returns the bounded attempt count for stream resolution
func (c *EnvConfig) ResolveAttempts() int {
	return c.resolveAttempts
}

// ResolveBaseWait returns the base delay for resolution backoff
func (c *EnvConfig) ResolveBaseWait() time.Duration {
	return DefaultResolveBaseWait * time.Second
}

// ExtractWorkers returns the bounded worker count for clip extraction
func (c *EnvConfig) ExtractWorkers() int {
	return c.extractWorkers
}

// PipelineTimeout returns the overall wall-clock budget for a single run
func (c *EnvConfig) PipelineTimeout() time.Duration {
	return c.pipelineTimeout
}

func (c *EnvConfig) UploadEnabled() bool {
	return c.uploadEnabled
}

func (c *EnvConfig) UploadURL() string {
	return c.uploadURL
}

func (c *EnvConfig) UploadToken() string {
	return c.uploadToken
}

func boolEnv(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "yes":
		return true
	}
	return false
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
