package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultDirUsesXDGStateHome(t *testing.T) {
	xdgStateHome := t.TempDir()
	t.Setenv("XDG_STATE_HOME", xdgStateHome)
	t.Setenv("HOME", t.TempDir())

	dir, err := DefaultDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdgStateHome, "argus"), dir)
}

func TestDefaultDirFallsBackToHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", home)

	dir, err := DefaultDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".local", "state", "argus"), dir)
}

func TestNewCreatesWritableJSONLogFile(t *testing.T) {
	dir := t.TempDir()

	runtime, err := New(Options{Dir: dir, Name: ClientLogName})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ClientLogName), runtime.Path)

	runtime.Logger.Info("unit-test-log", "component", "logging")
	require.NoError(t, runtime.Close())

	contents, err := os.ReadFile(runtime.Path)
	require.NoError(t, err)
	require.Contains(t, string(contents), `"msg":"unit-test-log"`)
	require.Contains(t, string(contents), `"component":"logging"`)

	stat, err := os.Stat(runtime.Path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), stat.Mode().Perm())
}

func TestNewTeesToStdout(t *testing.T) {
	var stdout bytes.Buffer
	runtime, err := New(Options{Dir: t.TempDir(), Stdout: &stdout})
	require.NoError(t, err)
	defer runtime.Close()

	runtime.Logger.Info("server started")
	require.Contains(t, stdout.String(), `"msg":"server started"`)
	require.Equal(t, ServerLogName, filepath.Base(runtime.Path))
}

func TestTailReturnsLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), ServerLogName)
	var b strings.Builder
	for i := 1; i <= 15; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))

	lines, err := Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, lines, 10)
	require.Equal(t, "line 6", lines[0])
	require.Equal(t, "line 15", lines[9])

	lines, err = Tail(path, 50)
	require.NoError(t, err)
	require.Len(t, lines, 15)
	require.Equal(t, "line 1", lines[0])
}

func TestTailMissingFile(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "absent.log"), 10)
	require.ErrorIs(t, err, os.ErrNotExist)
}
