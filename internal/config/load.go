package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Loaded is the config one argus process runs with, plus where it came from.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves the config path and layers the file over Default.
//
// Path is made absolute so a service spawned with --config reads the same
// file regardless of its working directory. A missing file is not an error:
// the client and server both fall back to defaults and say which endpoint
// and backend those are.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	if abs, absErr := filepath.Abs(resolvedPath); absErr == nil {
		resolvedPath = abs
	}

	base := Default()
	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Loaded{
			Path:   resolvedPath,
			Config: base,
			Warnings: []Warning{{Message: fmt.Sprintf(
				"config file %q not found; using defaults (socket %s, analyzer %s)",
				resolvedPath, base.Endpoint.Socket, base.Analyzer.GRPC,
			)}},
		}, nil
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	}

	cfg, warnings, err := Parse(string(content), base)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, err)
	}
	return Loaded{Path: resolvedPath, Config: cfg, Warnings: warnings, Exists: true}, nil
}
