package backend

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain lets this test binary double as its own fake backend process,
// following the classic os/exec self-exec test idiom: when invoked with
// GO_WANT_HELPER_PROCESS=1 it behaves like a tiny Appium server instead of
// running the test suite.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		runHelperProcess()
		return
	}
	os.Exit(m.Run())
}

// runHelperProcess parses --address/--port from its own argv (mirroring the
// real flags a supervisor passes) and serves GET /status with 200 OK.
func runHelperProcess() {
	args := os.Args
	var addr, port string
	for i, a := range args {
		if a == "--address" && i+1 < len(args) {
			addr = args[i+1]
		}
		if a == "--port" && i+1 < len(args) {
			port = args[i+1]
		}
	}
	if os.Getenv("HELPER_NEVER_READY") == "1" {
		select {} // block forever; the parent's readiness timeout must fire
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ln, err := net.Listen("tcp", net.JoinHostPort(addr, port))
	if err != nil {
		os.Exit(1)
	}
	_ = http.Serve(ln, mux)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func helperConfig(t *testing.T, sessionID string) Config {
	t.Helper()
	return Config{
		Bin:       os.Args[0],
		Host:      "127.0.0.1",
		Port:      freePort(t),
		LogPath:   filepath.Join(t.TempDir(), "backend.log"),
		SessionID: sessionID,
	}
}

// newHelperSupervisor builds a Supervisor whose Start spawns this very test
// binary in helper-process mode instead of a real Appium executable. The
// helper mode is toggled by the GO_WANT_HELPER_PROCESS env var, which
// exec.Command inherits from this process's environment.
func newHelperSupervisor(t *testing.T, sessionID string) *Supervisor {
	t.Helper()
	return New(helperConfig(t, sessionID))
}

func TestStartAndStopHappyPath(t *testing.T) {
	s := newHelperSupervisor(t, "sess-1")
	require.NoError(t, os.Setenv("GO_WANT_HELPER_PROCESS", "1"))
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")

	ctx := context.Background()
	err := s.Start(ctx, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Running, s.State())

	assert.True(t, s.IsAlive(ctx))

	err = s.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stopped, s.State())
	assert.False(t, s.IsAlive(ctx))
}

func TestStartTimesOutWhenNeverReady(t *testing.T) {
	s := newHelperSupervisor(t, "sess-2")

	require.NoError(t, os.Setenv("GO_WANT_HELPER_PROCESS", "1"))
	require.NoError(t, os.Setenv("HELPER_NEVER_READY", "1"))
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")
	defer os.Unsetenv("HELPER_NEVER_READY")

	ctx := context.Background()
	err := s.Start(ctx, 300*time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, Stopped, s.State())
}

func TestStopIsIdempotent(t *testing.T) {
	s := newHelperSupervisor(t, "sess-3")
	require.NoError(t, os.Setenv("GO_WANT_HELPER_PROCESS", "1"))
	defer os.Unsetenv("GO_WANT_HELPER_PROCESS")

	ctx := context.Background()
	require.NoError(t, s.Start(ctx, 3*time.Second))
	require.NoError(t, s.Stop(ctx))
	// A second Stop on an already-stopped supervisor must not error.
	assert.NoError(t, s.Stop(ctx))
}

func TestStopOnNeverStartedSupervisorIsNoop(t *testing.T) {
	cfg := helperConfig(t, "sess-4")
	s := New(cfg)
	assert.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, New, s.State())
}

func TestBaseURL(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 4723})
	assert.Equal(t, "http://127.0.0.1:4723", s.BaseURL())
}

func TestArgsIncludesFixedFlags(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 4723, LogPath: "/tmp/x.log"})
	args := s.args()
	assert.Contains(t, args, "--session-override")
	assert.Contains(t, args, "--log-timestamp")
	assert.Contains(t, args, "--log-no-colors")
	assert.Contains(t, args, "--relaxed-security")
	assert.Contains(t, args, strconv.Itoa(4723))
}
