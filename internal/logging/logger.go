// Package logging configures runtime JSONL logging onto a rotating file.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ServerLogName = "server.log"
	ClientLogName = "client.log"
)

// Options selects the log file and its rotation bounds.
type Options struct {
	Dir        string
	Name       string
	MaxSizeMB  int
	MaxBackups int
	// Stdout, when set, receives a copy of every record.
	Stdout io.Writer
	Level  slog.Level
}

// Runtime bundles the configured logger and its open file handle lifecycle.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	closer io.Closer
}

// Close flushes and closes the logger output sink.
func (r Runtime) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// New builds a JSONL logger writing to Dir/Name, rotated by size.
func New(opts Options) (Runtime, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		resolved, err := DefaultDir()
		if err != nil {
			return Runtime{}, err
		}
		dir = resolved
	}
	if opts.Name == "" {
		opts.Name = ServerLogName
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 1
	}
	if opts.MaxBackups < 0 {
		opts.MaxBackups = 0
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Runtime{}, err
	}

	path := filepath.Join(dir, opts.Name)
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}

	var w io.Writer = sink
	if opts.Stdout != nil {
		w = io.MultiWriter(sink, opts.Stdout)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	logger := slog.New(h).With("pid", os.Getpid())
	return Runtime{Logger: logger, Path: path, closer: sink}, nil
}

// DefaultDir selects XDG_STATE_HOME when available, otherwise ~/.local/state.
func DefaultDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "argus"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "argus"), nil
}
