// Package app wires parsed commands to the argus client, server, and diagnostics.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/rbright/argus/internal/analyzer"
	"github.com/rbright/argus/internal/cli"
	"github.com/rbright/argus/internal/client"
	"github.com/rbright/argus/internal/config"
	"github.com/rbright/argus/internal/doctor"
	"github.com/rbright/argus/internal/ipc"
	"github.com/rbright/argus/internal/logging"
	"github.com/rbright/argus/internal/report"
	"github.com/rbright/argus/internal/service"
	"github.com/rbright/argus/internal/session"
	"github.com/rbright/argus/internal/version"
)

const binaryName = "argus"

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Analyzer replaces the remote backend for serve when set.
	Analyzer session.Analyzer
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logRuntime, err := r.openLog(parsed.Command, cfgLoaded.Config.Log)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandAnalyze:
		return r.commandAnalyze(ctx, cfgLoaded, parsed, logger)
	case cli.CommandServe:
		return r.commandServe(ctx, cfgLoaded.Config, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx, cfgLoaded.Config)
	case cli.CommandDoctor:
		diagnosis := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, diagnosis.String())
		if diagnosis.OK() {
			return 0
		}
		return 1
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// openLog picks server.log for serve and client.log for everything else.
// Only serve copies records to stdout.
func (r Runner) openLog(command cli.Command, cfg config.LogConfig) (logging.Runtime, error) {
	opts := logging.Options{
		Dir:        cfg.Dir,
		Name:       logging.ClientLogName,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	if command == cli.CommandServe {
		opts.Name = logging.ServerLogName
		if cfg.Stdout {
			opts.Stdout = r.Stdout
		}
	}
	return logging.New(opts)
}

func serverLogPath(cfg config.LogConfig) string {
	dir := cfg.Dir
	if dir == "" {
		resolved, err := logging.DefaultDir()
		if err != nil {
			return ""
		}
		dir = resolved
	}
	return filepath.Join(dir, logging.ServerLogName)
}

func (r Runner) commandAnalyze(ctx context.Context, loaded config.Loaded, parsed cli.Parsed, logger *slog.Logger) int {
	cfg := loaded.Config

	configPath := ""
	if loaded.Exists {
		configPath = loaded.Path
	}
	starter, err := service.New(cfg.Service.StartCmd.Argv, configPath, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return client.ExitFailure
	}

	hooks := client.Hooks{StartService: starter.Start}
	if cfg.Report.Enable {
		hooks.Reporter = report.Writer{Dir: cfg.Report.Dir}
	}

	c := client.New(clientConfig(cfg), r.Stdout, logger, hooks)
	return c.Submit(ctx, parsed.Input, parsed.Debug)
}

func clientConfig(cfg config.Config) client.Config {
	return client.Config{
		SocketPath:       cfg.Endpoint.Socket,
		LockPath:         cfg.Endpoint.Lock,
		ServerLogPath:    serverLogPath(cfg.Log),
		Attempts:         cfg.Client.Attempts,
		Backoff:          cfg.Client.Backoff(),
		TailLines:        cfg.Client.TailLines,
		HandshakeTimeout: cfg.Endpoint.HandshakeTimeout(),
		Limits:           limits(cfg.Limits),
	}
}

func limits(cfg config.LimitsConfig) ipc.Limits {
	return ipc.Limits{MaxMessageBytes: cfg.MaxMessageBytes, ChunkBytes: cfg.ChunkBytes}
}

func (r Runner) commandServe(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	backend := r.Analyzer
	if backend == nil {
		remote, err := analyzer.NewRemote(analyzer.Config{
			Endpoint:    cfg.Analyzer.GRPC,
			Method:      cfg.Analyzer.Method,
			DialTimeout: cfg.Analyzer.DialTimeout(),
			CallTimeout: cfg.Analyzer.CallTimeout(),
		})
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		backend = remote
	}

	worker := session.NewWorker(backend, logger, session.Options{SuspendGC: cfg.Server.SuspendGC})
	server := ipc.NewServer(ipc.ServerConfig{
		SocketPath:       cfg.Endpoint.Socket,
		LockPath:         cfg.Endpoint.Lock,
		PollInterval:     cfg.Endpoint.PollInterval(),
		HandshakeTimeout: cfg.Endpoint.HandshakeTimeout(),
		Limits:           limits(cfg.Limits),
	}, worker, logger)

	if err := server.Start(ctx); err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			fmt.Fprintf(r.Stderr, "error: %v; is another instance of the server running?\n", err)
			return 1
		}
		fmt.Fprintf(r.Stderr, "error: server failed: %v\n", err)
		return 1
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context, cfg config.Config) int {
	state, err := client.Status(ctx, cfg.Endpoint.Socket, cfg.Endpoint.Lock, cfg.Endpoint.HandshakeTimeout())
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, state)
	return 0
}
