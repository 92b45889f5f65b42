package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/argus/internal/lockmarker"
	"github.com/rbright/argus/internal/session"
	"github.com/rbright/argus/internal/stats"
	"github.com/stretchr/testify/require"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "argus")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteAnalyzeWithoutInputIsUsageError(t *testing.T) {
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"analyze", "--debug"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "requires an input path")
}

func TestExecuteInvalidConfigFails(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"client": {"attempts": 0}}`), 0o600))

	var stderr bytes.Buffer
	exitCode := Execute(context.Background(), []string{"--config", configPath, "status"}, &bytes.Buffer{}, &stderr)
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "client.attempts")
}

func TestRunnerStatusStoppedWhenNothingRuns(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "stopped\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStatusStartingWhileMarkerHeld(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	marker, _, err := lockmarker.Acquire(paths.lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = marker.Release() })

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "starting\n", stdout.String())
}

func TestRunnerAnalyzeReportsServiceNotRunning(t *testing.T) {
	paths := setupRunnerEnv(t, `"service": {"start_cmd": "true"},`)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "analyze", "a.mp4"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "Trying to connect to service...")
	require.Contains(t, stdout.String(), "The service is not running or exited abnormally.")

	_, err := os.Stat(filepath.Join(paths.stateDir, "argus", "client.log"))
	require.NoError(t, err)
}

func TestRunnerServeAndAnalyzeEndToEnd(t *testing.T) {
	paths := setupRunnerEnv(t, "")

	input := filepath.Join(t.TempDir(), "scan.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0o600))

	fake := session.AnalyzerFunc(func(_ context.Context, _ string, sink stats.Sink) (session.Outcome, error) {
		sink.TimeStart("Process Video")
		sink.TimeEnd("Process Video")
		return session.Outcome{Decision: "Not Sliding", NotSlidingCount: 4, SlidingCount: 1}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan int, 1)
	go func() {
		server := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Analyzer: fake}
		serveDone <- server.Execute(ctx, []string{"--config", paths.configPath, "serve"})
	}()

	require.Eventually(t, func() bool {
		_, err := os.Stat(paths.socketPath)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	client := Runner{Stdout: &stdout, Stderr: &stderr}
	exitCode := client.Execute(context.Background(), []string{"--config", paths.configPath, "analyze", "--debug", input})
	require.Equal(t, 0, exitCode, stdout.String()+stderr.String())
	require.Contains(t, stdout.String(), "PTX detected? Yes")

	csvPath := filepath.Join(paths.reportDir, "scan.csv")
	contents, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	require.Contains(t, string(contents), "PTX_detected")
	require.Contains(t, stdout.String(), csvPath)

	cancel()
	select {
	case code := <-serveDone:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}

	_, err = os.Stat(paths.socketPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = os.Stat(filepath.Join(paths.stateDir, "argus", "server.log"))
	require.NoError(t, err)
}

func TestRunnerServeRefusesWhenMarkerHeld(t *testing.T) {
	paths := setupRunnerEnv(t, "")
	marker, _, err := lockmarker.Acquire(paths.lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = marker.Release() })

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr, Analyzer: session.AnalyzerFunc(
		func(context.Context, string, stats.Sink) (session.Outcome, error) { return session.Outcome{}, nil },
	)}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "serve"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "already running")
}

func TestRunnerDoctorFailsWithoutBackend(t *testing.T) {
	paths := setupRunnerEnv(t, `"analyzer": {"grpc": "127.0.0.1:1", "dial_timeout_ms": 200},`)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] analyzer.health")
}

type runnerPaths struct {
	configPath string
	socketPath string
	lockPath   string
	stateDir   string
	reportDir  string
}

// setupRunnerEnv writes a config whose socket lives in a short temp dir;
// extra is spliced into the top-level JSONC object.
func setupRunnerEnv(t *testing.T, extra string) runnerPaths {
	t.Helper()

	stateDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", stateDir)

	runtimeDir, err := os.MkdirTemp("", "argus-app")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(runtimeDir) })

	paths := runnerPaths{
		configPath: filepath.Join(t.TempDir(), "config.jsonc"),
		socketPath: filepath.Join(runtimeDir, "argus.sock"),
		lockPath:   filepath.Join(runtimeDir, "argus.lock"),
		stateDir:   stateDir,
		reportDir:  t.TempDir(),
	}

	contents := fmt.Sprintf(`{
  %s
  "endpoint": {"socket": %q, "poll_interval_ms": 10},
  "client": {"attempts": 2, "backoff_ms": 20},
  "server": {"suspend_gc": false},
  "log": {"stdout": false},
  "report": {"dir": %q},
}`, extra, paths.socketPath, paths.reportDir)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(contents), 0o600))

	return paths
}
