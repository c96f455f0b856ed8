// Package backend supervises one Appium child process per session: spawning
// it in its own process group, polling for readiness, reporting health, and
// terminating it (gracefully, then forcefully) when the session ends.
//
// The process-group spawn/kill pattern is grounded on the session manager and
// worker-pool examples in the retrieval pack: exec.Cmd with
// SysProcAttr.Setpgid so the whole tree (the backend and any helpers it
// forks) can be signalled as a unit via syscall.Kill(-pgid, sig).
package backend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dgeene/parallel-appium/internal/logger"
)

// State is a BackendSupervisor lifecycle state.
type State int

const (
	// New is the state before Start has ever been called.
	New State = iota
	// Starting is set for the duration of Start, before readiness succeeds.
	Starting
	// Running means the process is believed alive and ready.
	Running
	// Stopped is terminal; no resurrection is possible from this state.
	Stopped
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	readinessPollInterval = time.Second
	healthProbeTimeout    = 2 * time.Second
	stopGracePeriod       = 5 * time.Second
)

// Config describes how to spawn one backend instance.
type Config struct {
	// Bin is the path to the Appium (or Appium-compatible) executable.
	Bin string
	// Host is the loopback address the backend binds to.
	Host string
	// Port is the reserved port the backend must listen on.
	Port int
	// LogPath is the file combined stdout/stderr is redirected to.
	LogPath string
	// SessionID is the owning hub session, included only for log context.
	SessionID string
}

// Supervisor owns one child process for the lifetime of a session.
type Supervisor struct {
	cfg Config

	mu    sync.Mutex
	state State
	cmd   *exec.Cmd
	pgid  int

	httpClient *http.Client
}

// New creates a Supervisor in the New state. It does not spawn anything.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:        cfg,
		state:      New,
		httpClient: &http.Client{},
	}
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BaseURL returns the backend's loopback base URL.
func (s *Supervisor) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.cfg.Host, s.cfg.Port)
}

// LogPath returns the per-session log file path this backend writes to.
func (s *Supervisor) LogPath() string {
	return s.cfg.LogPath
}

// args builds the fixed backend invocation flags.
func (s *Supervisor) args() []string {
	return []string{
		"--address", s.cfg.Host,
		"--port", fmt.Sprintf("%d", s.cfg.Port),
		"--session-override",
		"--log-timestamp",
		"--log-no-colors",
		"--relaxed-security",
		"--log", s.cfg.LogPath,
	}
}

// Start spawns the backend and blocks until it reports readiness or timeout
// elapses. It is safe to call concurrently with Stop; both are serialized by
// the supervisor's own mutex.
func (s *Supervisor) Start(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	if s.state == Running {
		s.mu.Unlock()
		logger.Warnf("backend: Start called while already running (session=%s)", s.cfg.SessionID)
		return nil
	}
	if s.state == Stopped {
		s.mu.Unlock()
		return fmt.Errorf("backend: Start called on a stopped supervisor (session=%s)", s.cfg.SessionID)
	}
	s.state = Starting
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.cfg.LogPath), 0o755); err != nil {
		s.markStopped()
		return fmt.Errorf("backend: creating log directory: %w", err)
	}
	logFile, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.markStopped()
		return fmt.Errorf("backend: opening log file: %w", err)
	}

	cmd := exec.Command(s.cfg.Bin, s.args()...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		s.markStopped()
		return fmt.Errorf("backend: starting process: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.pgid = cmd.Process.Pid
	s.mu.Unlock()

	// Reap the process in the background regardless of how it exits, so it
	// never becomes a zombie while we poll readiness or sit idle.
	go func() {
		_ = cmd.Wait()
		_ = logFile.Close()
	}()

	if err := s.waitReady(ctx, timeout); err != nil {
		logger.Warnf("backend: session=%s failed to become ready: %v", s.cfg.SessionID, err)
		s.internalStop()
		return err
	}

	s.mu.Lock()
	s.state = Running
	s.mu.Unlock()
	logger.Infof("backend: session=%s ready on %s", s.cfg.SessionID, s.BaseURL())
	return nil
}

func (s *Supervisor) markStopped() {
	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
}

// waitReady polls the backend's /status endpoint until it returns 200, the
// process exits, or timeout elapses.
func (s *Supervisor) waitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	statusURL := s.BaseURL() + "/status"
	client := &http.Client{Timeout: healthProbeTimeout}

	for {
		if !s.processAlive() {
			return fmt.Errorf("backend: process exited before becoming ready")
		}

		reqCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, statusURL, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					cancel()
					return nil
				}
			}
		}
		cancel()

		if time.Now().After(deadline) {
			return fmt.Errorf("backend: readiness timed out after %s", timeout)
		}
		time.Sleep(readinessPollInterval)
	}
}

// processAlive reports whether the spawned process has not yet exited,
// without performing any network I/O.
func (s *Supervisor) processAlive() bool {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	// Signal 0 performs existence/permission checks without actually
	// sending a signal.
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}

// IsAlive reports whether the process is running and answering its
// readiness probe. It lazily transitions Running -> Stopped if the process
// has exited; it never mutates state otherwise.
func (s *Supervisor) IsAlive(ctx context.Context) bool {
	if !s.processAlive() {
		s.mu.Lock()
		if s.state == Running {
			s.state = Stopped
		}
		s.mu.Unlock()
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.BaseURL()+"/status", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Stop terminates the backend's process group, SIGTERM first, SIGKILL after
// a grace period. It is idempotent: calling Stop more than once, or on a
// supervisor that never started, is a no-op.
func (s *Supervisor) Stop(_ context.Context) error {
	s.mu.Lock()
	if s.state != Running && s.state != Starting {
		s.mu.Unlock()
		logger.Warnf("backend: Stop called on non-running supervisor (session=%s, state=%s)", s.cfg.SessionID, s.state)
		return nil
	}
	s.mu.Unlock()
	return s.internalStop()
}

// internalStop performs the actual signal sequence; callers hold no lock
// across it since killing a process group may block briefly.
func (s *Supervisor) internalStop() error {
	s.mu.Lock()
	pgid := s.pgid
	cmd := s.cmd
	s.state = Stopped
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		logger.Warnf("backend: SIGTERM to pgid %d failed: %v (session=%s)", pgid, err, s.cfg.SessionID)
	}

	deadline := time.Now().Add(stopGracePeriod)
	for time.Now().Before(deadline) {
		if !s.processAlive() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		logger.Warnf("backend: SIGKILL to pgid %d failed: %v (session=%s)", pgid, err, s.cfg.SessionID)
		return nil
	}
	return nil
}
