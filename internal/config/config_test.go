package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddstack/browserpool/internal/lifecycle"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "bx", cfg.Lifecycle.Prefix)
	assert.Equal(t, 5, cfg.Lifecycle.N)
	assert.Equal(t, lifecycle.ModeFull, cfg.Lifecycle.Mode)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("NUM_BROWSERS", "8")
	t.Setenv("MANAGE_ONLY", "1")
	t.Setenv("BROWSER_PREFIX", "qa")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Lifecycle.N)
	assert.Equal(t, "qa", cfg.Lifecycle.Prefix)
	assert.Equal(t, lifecycle.ModeManageOnly, cfg.Lifecycle.Mode)
}

func TestLoad_OverrideFileWinsOverDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browserpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte("numBrowsers: 3\nresolution: 1366x768\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Lifecycle.N)
	assert.Equal(t, 1366, cfg.Lifecycle.Resolution.Width)
	assert.Equal(t, 768, cfg.Lifecycle.Resolution.Height)
}

func TestLoad_MissingOverrideFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Lifecycle.N, cfg.Lifecycle.N)
}
