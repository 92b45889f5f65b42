package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	socketName = "argus.sock"
	lockName   = "argus.lock"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	runtimeDir := DefaultRuntimeDir()

	return Config{
		Endpoint: EndpointConfig{
			Socket:             filepath.Join(runtimeDir, socketName),
			Lock:               filepath.Join(runtimeDir, lockName),
			PollIntervalMS:     100,
			HandshakeTimeoutMS: 2000,
		},
		Limits: LimitsConfig{
			MaxMessageBytes: 2 * 1024 * 1024 * 1024,
			ChunkBytes:      64 * 1024,
		},
		Client: ClientConfig{
			Attempts:  3,
			BackoffMS: 1000,
			TailLines: 10,
		},
		Server: ServerConfig{SuspendGC: true},
		Log: LogConfig{
			MaxSizeMB:  1,
			MaxBackups: 3,
			Stdout:     true,
		},
		Analyzer: AnalyzerConfig{
			GRPC:          "127.0.0.1:50061",
			Method:        "/argus.v1.Analyzer/Process",
			DialTimeoutMS: 3000,
		},
		Report: ReportConfig{Enable: true},
	}
}

// DefaultRuntimeDir prefers $XDG_RUNTIME_DIR/argus and falls back to a
// per-user directory under the system temp dir.
func DefaultRuntimeDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_RUNTIME_DIR")); xdg != "" {
		return filepath.Join(xdg, "argus")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("argus-%d", os.Getuid()))
}
