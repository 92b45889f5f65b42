package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "argus", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "argus", "config.jsonc"), resolved)
}

func TestDefaultRuntimeDirPrefersXDGRuntimeDir(t *testing.T) {
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	cfg := Default()
	require.Equal(t, filepath.Join(runtimeDir, "argus", "argus.sock"), cfg.Endpoint.Socket)
	require.Equal(t, filepath.Join(runtimeDir, "argus", "argus.lock"), cfg.Endpoint.Lock)

	t.Setenv("XDG_RUNTIME_DIR", "")
	require.Contains(t, DefaultRuntimeDir(), "argus-")
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.Equal(t, filepath.Join(home, "logs"), expandHome("~/logs"))
	require.Equal(t, "/abs/path", expandHome("/abs/path"))
	require.Equal(t, "~user/x", expandHome("~user/x"))
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
	require.Contains(t, loaded.Warnings[0].Message, loaded.Config.Endpoint.Socket)
	require.Contains(t, loaded.Warnings[0].Message, loaded.Config.Analyzer.GRPC)
}

func TestLoadMakesRelativePathAbsolute(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.WriteFile("argus.jsonc", []byte(`{"client": {"attempts": 4}}`), 0o600))

	loaded, err := Load("argus.jsonc")
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.True(t, filepath.IsAbs(loaded.Path))
	require.Equal(t, "argus.jsonc", filepath.Base(loaded.Path))
	require.Equal(t, 4, loaded.Config.Client.Attempts)
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "analyzer": {
    "grpc": "127.0.0.1:6000",
  },
  "client": {
    "attempts": 2
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "127.0.0.1:6000", loaded.Config.Analyzer.GRPC)
	require.Equal(t, 2, loaded.Config.Client.Attempts)
	require.Equal(t, 1000, loaded.Config.Client.BackoffMS)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
