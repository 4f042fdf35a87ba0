package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/evolve-chat/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.ModeLocal, cfg.Mode)
	assert.True(t, cfg.UseMock)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Research.MaxResults)
	assert.Equal(t, 5*time.Minute, cfg.Research.Timeout)
	assert.True(t, cfg.Inference.Stream)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "evolve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: cloud
use_mock: false
inference:
  stream: false
  primary:
    name: openrouter
    model: meta-llama/llama-3.1-8b-instruct
research:
  max_results: 5
`), 0o600))

	t.Setenv("EVOLVE_CONFIG", path)
	t.Setenv("EVOLVE_PRIMARY_MODEL", "override-model")
	t.Setenv("EVOLVE_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, config.ModeCloud, cfg.Mode)
	assert.False(t, cfg.UseMock)
	assert.False(t, cfg.Inference.Stream)
	assert.Equal(t, config.ProviderOpenRouter, cfg.Inference.Primary.Name)
	assert.Equal(t, "override-model", cfg.Inference.Primary.Model)
	assert.Equal(t, 5, cfg.Research.MaxResults)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("EVOLVE_PORT=9999\n"), 0o600))
	t.Setenv("PORT", "")
	t.Setenv("EVOLVE_PORT", "")
	require.NoError(t, os.Unsetenv("EVOLVE_PORT"))

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	require.NoError(t, os.Unsetenv("EVOLVE_PORT"))
}

func TestValidate(t *testing.T) {
	cfg := config.Defaults()
	cfg.Research.MaxResults = 21
	assert.Error(t, config.Validate(cfg))

	cfg = config.Defaults()
	cfg.UseMock = false
	cfg.Inference.Primary.Name = config.ProviderVertex
	assert.Error(t, config.Validate(cfg), "vertex needs a project")

	cfg.Inference.Primary.Project = "p"
	assert.NoError(t, config.Validate(cfg))
}
