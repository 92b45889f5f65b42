// Package service implements the client's "start the service" action.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const defaultRunTimeout = 5 * time.Second

// Starter launches the service. A configured command (for example a
// service-manager invocation) is run to completion; the built-in fallback
// re-executes this binary as a detached "serve" process.
type Starter struct {
	argv    []string
	detach  bool
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Starter. An empty startCmd selects the detached self re-exec.
func New(startCmd []string, configPath string, logger *slog.Logger) (*Starter, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(startCmd) > 0 {
		return &Starter{argv: startCmd, timeout: defaultRunTimeout, logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}
	argv := []string{self}
	if configPath != "" {
		argv = append(argv, "--config", configPath)
	}
	argv = append(argv, "serve")
	return &Starter{argv: argv, detach: true, logger: logger}, nil
}

// Argv returns the command the starter runs.
func (s *Starter) Argv() []string {
	return append([]string(nil), s.argv...)
}

// Start launches the service once.
func (s *Starter) Start(ctx context.Context) error {
	if s.detach {
		return s.spawn()
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run start command %s: %w (%s)", s.argv[0], err, string(out))
	}
	s.logger.Info("start command finished", "argv", s.argv)
	return nil
}

// spawn starts the server in its own session so it outlives the client.
func (s *Starter) spawn() error {
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn service %s: %w", s.argv[0], err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release service process %d: %w", pid, err)
	}
	s.logger.Info("spawned service", "pid", pid, "argv", s.argv)
	return nil
}
