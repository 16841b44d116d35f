package services

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invsight/internal/config"
	"invsight/internal/pipeline"
)

const uploadModelYAML = `classes:
  - Expired
  - Near_Expiry
  - Safe
features:
  - days_until_expiry
  - sales_velocity
  - stock_quantity
weights:
  Expired:
    intercept: 4.0
    coefficients:
      days_until_expiry: -0.85
      sales_velocity: -0.05
      stock_quantity: 0.001
  Near_Expiry:
    intercept: 2.4
    coefficients:
      days_until_expiry: -0.12
      sales_velocity: -0.02
      stock_quantity: 0.0005
  Safe:
    intercept: -2.8
    coefficients:
      days_until_expiry: 0.11
      sales_velocity: 0.03
      stock_quantity: -0.0002
`

const uploadCSV = `Product_ID,Product_Name,Category,Stock_Quantity,Unit_Price,Units_Sold,Last_Restocked,Expiry_Date,Reorder_Level
P1,Milk,Dairy,50,2.50,200,2025-01-01,2025-01-20,20
P2,Rice,Grains,500,1.20,100,2025-01-10,2026-01-01,50
`

func runServiceFixture(t *testing.T) (*RunService, *config.Paths) {
	t.Helper()
	base := t.TempDir()

	modelPath := filepath.Join(base, "config", "expiry_model.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(modelPath), 0o755))
	require.NoError(t, os.WriteFile(modelPath, []byte(uploadModelYAML), 0o644))

	paths, err := config.NewPaths(config.PathsConfig{BaseDir: base, ModelFile: modelPath})
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())

	manager := pipeline.NewManager(nil, pipeline.NewRegistry(), pipeline.NewConfig(), nil, slog.Default())
	t.Cleanup(func() { manager.Broadcaster().Stop() })
	require.NoError(t, pipeline.RegisterDefaultSteps(manager, paths, 7, slog.Default()))

	return NewRunService(manager, paths, time.Minute, slog.Default()), paths
}

func TestRunServiceSaveUploadCSV(t *testing.T) {
	rs, paths := runServiceFixture(t)
	assert.False(t, rs.HasUpload())

	err := rs.SaveUpload(context.Background(), strings.NewReader(uploadCSV), "inventory.csv")
	require.NoError(t, err)
	assert.True(t, rs.HasUpload())
	assert.True(t, config.FileExists(paths.RawUploadCSV))
}

func TestRunServiceSaveUploadMissingColumns(t *testing.T) {
	rs, paths := runServiceFixture(t)

	err := rs.SaveUpload(context.Background(), strings.NewReader("Product_ID,Product_Name\nP1,Milk\n"), "inventory.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")

	// A rejected upload leaves nothing staged
	assert.False(t, rs.HasUpload())
	assert.False(t, config.FileExists(paths.RawUploadCSV))
}

func TestRunServiceSaveUploadReplacesPrevious(t *testing.T) {
	rs, paths := runServiceFixture(t)

	require.NoError(t, rs.SaveUpload(context.Background(), strings.NewReader(uploadCSV), "first.csv"))

	second := strings.Replace(uploadCSV, "Milk", "Cream", 1)
	require.NoError(t, rs.SaveUpload(context.Background(), strings.NewReader(second), "second.csv"))

	data, err := os.ReadFile(paths.RawUploadCSV)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Cream")
	assert.NotContains(t, string(data), "Milk")
}

func TestRunServiceStartRunRequiresUpload(t *testing.T) {
	rs, _ := runServiceFixture(t)

	_, err := rs.StartRun(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no inventory file uploaded")
}

func TestRunServiceStartRunUnknownStep(t *testing.T) {
	rs, _ := runServiceFixture(t)
	require.NoError(t, rs.SaveUpload(context.Background(), strings.NewReader(uploadCSV), "inventory.csv"))

	_, err := rs.StartRun(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "ghost"`)
}

func TestRunServiceStartRunCompletes(t *testing.T) {
	rs, paths := runServiceFixture(t)
	require.NoError(t, rs.SaveUpload(context.Background(), strings.NewReader(uploadCSV), "inventory.csv"))

	id, err := rs.StartRun(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		state, err := rs.RunStatus(id)
		if err != nil {
			return false
		}
		return state.Status == pipeline.RunStatusCompleted || state.Status == pipeline.RunStatusFailed
	}, 10*time.Second, 20*time.Millisecond, "run reaches a terminal state")

	state, err := rs.RunStatus(id)
	require.NoError(t, err)
	assert.Equal(t, pipeline.RunStatusCompleted, state.Status)
	assert.True(t, config.FileExists(paths.RecommendationsCSV))
}

func TestRunServiceSteps(t *testing.T) {
	rs, _ := runServiceFixture(t)

	ids, err := rs.Steps()
	require.NoError(t, err)
	assert.Equal(t, []string{
		pipeline.StepIDPreprocess,
		pipeline.StepIDClassify,
		pipeline.StepIDForecast,
		pipeline.StepIDRisk,
		pipeline.StepIDRecommend,
	}, ids)
}

func TestRunServiceRunStatusUnknownID(t *testing.T) {
	rs, _ := runServiceFixture(t)

	_, err := rs.RunStatus("missing")
	assert.ErrorIs(t, err, pipeline.ErrRunNotFound)
}
