package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("INVSIGHT_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Minute, cfg.Server.RunTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "config/expiry_model.yaml", cfg.Paths.ModelFile)
	assert.Equal(t, 30, cfg.Pipeline.ForecastHorizon)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.StageTimeout)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, ":8080", cfg.GetListenAddr())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("INVSIGHT_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("INVSIGHT_SERVER_PORT", "9090")
	t.Setenv("INVSIGHT_LOGGING_LEVEL", "debug")
	t.Setenv("INVSIGHT_PIPELINE_FORECAST_HORIZON", "14")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 14, cfg.Pipeline.ForecastHorizon)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  base_dir: /srv/invsight\n"), 0o644))
	t.Setenv("INVSIGHT_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/invsight", cfg.Paths.BaseDir)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invsight.yaml")
	require.NoError(t, os.WriteFile(path, []byte("paths:\n  base_dir: /srv/from-file\n"), 0o644))
	t.Setenv("INVSIGHT_CONFIG_FILE", path)
	t.Setenv("INVSIGHT_PATHS_BASE_DIR", "/srv/from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/from-env", cfg.Paths.BaseDir)
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("INVSIGHT_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("INVSIGHT_LOGGING_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown log level")
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("INVSIGHT_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("INVSIGHT_SERVER_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
}

func TestNewPathsLayout(t *testing.T) {
	base := t.TempDir()
	paths, err := NewPaths(PathsConfig{BaseDir: base})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "data", "raw", "uploaded_inventory.csv"), paths.RawUploadCSV)
	assert.Equal(t, filepath.Join(base, "data", "processed", "processed_data.csv"), paths.ProcessedCSV)
	assert.Equal(t, filepath.Join(base, "data", "external", "risk_scores.csv"), paths.RiskScoresCSV)
	assert.Equal(t, filepath.Join(base, "data", "external", "recommendations.csv"), paths.RecommendationsCSV)
	assert.Equal(t, filepath.Join(base, "forecasts", "product_level", "all_products_forecast.csv"), paths.ForecastCSV)
	assert.Equal(t, filepath.Join(base, "config", "expiry_model.yaml"), paths.ExpiryModelFile)
}

func TestNewPathsAbsoluteModelFile(t *testing.T) {
	model := filepath.Join(t.TempDir(), "model.yaml")
	paths, err := NewPaths(PathsConfig{BaseDir: t.TempDir(), ModelFile: model})
	require.NoError(t, err)
	assert.Equal(t, model, paths.ExpiryModelFile)
}

func TestEnsureDirectories(t *testing.T) {
	paths, err := NewPaths(PathsConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())

	for _, dir := range []string{paths.RawDir, paths.ProcessedDir, paths.ExternalDir, paths.ForecastsDir, paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, FileExists(filepath.Join(dir, "missing.csv")))
	assert.False(t, FileExists(dir), "directories do not count")

	path := filepath.Join(dir, "present.csv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	assert.True(t, FileExists(path))
}
