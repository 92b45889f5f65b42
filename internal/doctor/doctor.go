// Package doctor runs runtime readiness diagnostics for config, endpoint, and analyzer backend.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/argus/internal/analyzer"
	"github.com/rbright/argus/internal/client"
	"github.com/rbright/argus/internal/config"
	"github.com/rbright/argus/internal/logging"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{}

	message := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		message = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: message})

	checks = append(checks, checkWritableDir("endpoint.dir", filepath.Dir(cfg.Config.Endpoint.Socket)))
	checks = append(checks, checkLogDir(cfg.Config.Log))
	checks = append(checks, checkService(ctx, cfg.Config.Endpoint))

	if len(cfg.Config.Service.StartCmd.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Service.StartCmd.Argv, "service.start_cmd"))
	}

	checks = append(checks, checkAnalyzer(ctx, cfg.Config.Analyzer))

	return Report{Checks: checks}
}

// checkWritableDir creates dir if needed and verifies a file can be created in it.
func checkWritableDir(name, dir string) Check {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is writable", dir)}
}

func checkLogDir(cfg config.LogConfig) Check {
	dir := cfg.Dir
	if dir == "" {
		resolved, err := logging.DefaultDir()
		if err != nil {
			return Check{Name: "log.dir", Pass: false, Message: err.Error()}
		}
		dir = resolved
	}
	return checkWritableDir("log.dir", dir)
}

// checkService reports the service state. A stale marker fails the check.
func checkService(ctx context.Context, cfg config.EndpointConfig) Check {
	state, err := client.Status(ctx, cfg.Socket, cfg.Lock, cfg.HandshakeTimeout())
	if err != nil {
		return Check{Name: "service", Pass: false, Message: err.Error()}
	}
	if state == client.StateStale {
		return Check{
			Name:    "service",
			Pass:    false,
			Message: fmt.Sprintf("stale lock marker %s; the last server exited abnormally", cfg.Lock),
		}
	}
	return Check{Name: "service", Pass: true, Message: string(state)}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAnalyzer asks the backend's gRPC health service whether it is serving.
func checkAnalyzer(ctx context.Context, cfg config.AnalyzerConfig) Check {
	endpoint := strings.TrimSpace(cfg.GRPC)
	if endpoint == "" {
		return Check{Name: "analyzer.health", Pass: false, Message: "analyzer.grpc is empty"}
	}

	timeout := cfg.DialTimeout()
	if timeout <= 0 {
		timeout = probeTimeout
	}
	if err := analyzer.CheckHealth(ctx, endpoint, cfg.HealthService, timeout); err != nil {
		return Check{Name: "analyzer.health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "analyzer.health", Pass: true, Message: fmt.Sprintf("serving at %s", endpoint)}
}
