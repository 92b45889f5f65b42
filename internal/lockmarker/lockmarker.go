// Package lockmarker manages the filesystem flag asserting that a server
// process owns the endpoint. The owner holds an exclusive advisory lock on
// the marker for its lifetime, so a marker without a lock holder is stale.
package lockmarker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrHeld means a live process already owns the marker.
var ErrHeld = errors.New("lock marker held by another process")

// Status is the observable state of a marker path.
type Status string

const (
	StatusAbsent Status = "absent"
	StatusHeld   Status = "held"
	StatusStale  Status = "stale"
)

const acquireAttempts = 3

// Marker is an owned, locked marker file.
type Marker struct {
	path string

	mu       sync.Mutex
	file     *os.File
	ino      uint64
	released bool
}

// Acquire creates (or takes over a stale) marker at path and locks it.
// tookOver reports whether a stale marker from a dead owner was replaced.
func Acquire(path string) (m *Marker, tookOver bool, err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("ensure lock marker dir: %w", err)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	file, ino, err := lockPath(path)
	if err != nil {
		return nil, false, err
	}
	return &Marker{path: path, file: file, ino: ino}, existed, nil
}

// Path returns the marker location.
func (m *Marker) Path() string {
	return m.path
}

// Refresh re-creates the marker when it was removed or replaced underneath us.
func (m *Marker) Refresh() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return errors.New("lock marker already released")
	}

	var st unix.Stat_t
	err := unix.Stat(m.path, &st)
	if err == nil && st.Ino == m.ino {
		return nil
	}
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("stat lock marker %s: %w", m.path, err)
	}

	_ = m.file.Close()
	file, ino, err := lockPath(m.path)
	if err != nil {
		m.released = true
		return err
	}
	m.file = file
	m.ino = ino
	return nil
}

// Release removes the marker and drops the lock. Safe to call more than once.
func (m *Marker) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}
	m.released = true

	var removeErr error
	var st unix.Stat_t
	if err := unix.Stat(m.path, &st); err == nil && st.Ino == m.ino {
		if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			removeErr = fmt.Errorf("remove lock marker %s: %w", m.path, err)
		}
	}

	_ = unix.Flock(int(m.file.Fd()), unix.LOCK_UN)
	closeErr := m.file.Close()
	return errors.Join(removeErr, closeErr)
}

// Inspect reports whether path is absent, held by a live owner, or stale.
func Inspect(path string) (Status, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return StatusAbsent, nil
		}
		return "", fmt.Errorf("open lock marker %s: %w", path, err)
	}
	defer file.Close()

	err = unix.Flock(int(file.Fd()), unix.LOCK_SH|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return StatusHeld, nil
	}
	if err != nil {
		return "", fmt.Errorf("probe lock marker %s: %w", path, err)
	}
	_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
	return StatusStale, nil
}

// Owner returns the PID recorded in the marker.
func Owner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse lock marker owner: %w", err)
	}
	return pid, nil
}

// lockPath opens, locks, and stamps the marker, retrying if the file is
// swapped between open and lock.
func lockPath(path string) (*os.File, uint64, error) {
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
		if err != nil {
			return nil, 0, fmt.Errorf("open lock marker %s: %w", path, err)
		}

		if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = file.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, 0, fmt.Errorf("%w: %s", ErrHeld, path)
			}
			return nil, 0, fmt.Errorf("lock marker %s: %w", path, err)
		}

		var held, onDisk unix.Stat_t
		if err := unix.Fstat(int(file.Fd()), &held); err != nil {
			_ = file.Close()
			return nil, 0, fmt.Errorf("stat lock marker %s: %w", path, err)
		}
		if err := unix.Stat(path, &onDisk); err != nil || onDisk.Ino != held.Ino {
			_ = file.Close()
			continue
		}

		if err := file.Truncate(0); err != nil {
			_ = file.Close()
			return nil, 0, fmt.Errorf("truncate lock marker %s: %w", path, err)
		}
		if _, err := file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
			_ = file.Close()
			return nil, 0, fmt.Errorf("write lock marker %s: %w", path, err)
		}
		return file, uint64(held.Ino), nil
	}
	return nil, 0, fmt.Errorf("lock marker %s kept changing during acquire", path)
}
