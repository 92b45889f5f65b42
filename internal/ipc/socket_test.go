package ipc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenRecoversStaleSocket(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "argus.sock")
	if err := os.WriteFile(socketPath, []byte("stale"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	listener, err := Listen(context.Background(), socketPath, 50*time.Millisecond, 2)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer listener.Close()

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	require.Equal(t, os.ModeSocket, info.Mode().Type())
}

func TestListenReturnsAlreadyRunningWhenSocketResponsive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	socketPath := filepath.Join(dir, "argus.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	defer listener.Close()

	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	_, err = Listen(context.Background(), socketPath, 80*time.Millisecond, 1)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Listen() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestProbe(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "argus.sock")

	alive, err := Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	alive, err = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, alive)

	require.NoError(t, listener.Close())
	alive, err = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestDialClassifiesMissingEndpoints(t *testing.T) {
	dir := t.TempDir()

	_, err := Dial(context.Background(), filepath.Join(dir, "missing.sock"), 100*time.Millisecond, DefaultLimits())
	require.ErrorIs(t, err, ErrNotFound)

	stale := filepath.Join(dir, "stale.sock")
	require.NoError(t, os.WriteFile(stale, []byte("stale"), 0o600))
	_, err = Dial(context.Background(), stale, 100*time.Millisecond, DefaultLimits())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDialTreatsSilentListenerAsBusy(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "argus.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	_, err = Dial(context.Background(), socketPath, 80*time.Millisecond, DefaultLimits())
	require.ErrorIs(t, err, ErrBusy)
}

func TestIsAddrInUse(t *testing.T) {
	dir, err := os.MkdirTemp("", "argus")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "a.sock")
	first, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer first.Close()

	_, err = net.Listen("unix", path)
	require.True(t, isAddrInUse(err), "%v", err)
	require.False(t, isAddrInUse(nil))
	require.False(t, isAddrInUse(errors.New("address already in use")))
}
