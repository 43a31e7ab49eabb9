// Package credentials holds the session-cookie material used for
// authenticated access to the remote video host. Cookie material is
// loaded from disk at most once per process; absence is a valid state
// and never an error. Freshness has no explicit expiry: it is inferred
// from authenticated request outcomes reported by the stream resolver.
package credentials

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// State tracks the empirically observed freshness of the credential.
type State int32

const (
	StateUnknown State = iota
	StateValid
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Credential is an opaque pointer to session-cookie material on disk.
// It is never parsed here; the downloader tooling consumes the file.
type Credential struct {
	Path string
}

// Store loads and owns the process-wide credential.
type Store struct {
	configured string // explicit path from config, tried first
	logger     *slog.Logger

	once  sync.Once
	cred  *Credential
	state atomic.Int32
}

func NewStore(configuredPath string, logger *slog.Logger) *Store {
	return &Store{configured: configuredPath, logger: logger}
}

// Load resolves the cookie file once and caches the result.
// Returns nil when no cookie material is found anywhere.
func (s *Store) Load() *Credential {
	s.once.Do(func() {
		for _, candidate := range s.candidates() {
			if candidate == "" {
				continue
			}
			info, err := os.Stat(candidate)
			if err != nil || info.IsDir() {
				continue
			}
			s.cred = &Credential{Path: candidate}
			s.logger.Info("found session cookies", "path", candidate)
			return
		}
		s.logger.Warn("no session cookies found, running unauthenticated")
	})
	return s.cred
}

// IsPresent reports whether cookie material was found.
func (s *Store) IsPresent() bool {
	return s.Load() != nil
}

// State returns the last observed freshness state.
func (s *Store) State() State {
	return State(s.state.Load())
}

// MarkValid records a successful authenticated request.
func (s *Store) MarkValid() {
	s.state.Store(int32(StateValid))
}

// MarkRejected records that the remote host refused the credential.
// The resolver downgrades to unauthenticated attempts after this.
func (s *Store) MarkRejected() {
	if State(s.state.Swap(int32(StateRejected))) != StateRejected {
		s.logger.Warn("session cookies rejected by remote host, downgrading to unauthenticated access")
	}
}

// Usable reports whether the credential exists and has not been rejected.
func (s *Store) Usable() bool {
	return s.IsPresent() && s.State() != StateRejected
}

// candidates returns the discovery order: explicit config path, the
// yt-dlp user config location, then the working directory.
func (s *Store) candidates() []string {
	paths := []string{s.configured}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "yt-dlp", "cookies.txt"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "cookies.txt"))
	}
	return paths
}
