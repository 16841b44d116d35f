package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

const stepsTestModel = `classes:
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

// sampleInventory covers every downstream branch: a near-expiry seller,
// a safe staple, an already expired product, and a zero-sales product
// that the forecaster must skip without failing the run.
const sampleInventory = `Product_ID,Product_Name,Category,Stock_Quantity,Unit_Price,Units_Sold,Last_Restocked,Expiry_Date,Reorder_Level
P001,Milk,Dairy,50,2.50,200,2025-01-01,2025-01-20,20
P002,Rice,Grains,500,1.20,100,2025-01-10,2026-01-01,50
P003,Yogurt,Dairy,30,1.00,90,2025-01-08,2025-01-09,10
P004,Honey,Pantry,10,8.00,0,2025-01-10,2027-01-01,15
`

func testPaths(t *testing.T) *config.Paths {
	t.Helper()
	base := t.TempDir()

	modelPath := filepath.Join(base, "config", "expiry_model.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(modelPath), 0o755))
	require.NoError(t, os.WriteFile(modelPath, []byte(stepsTestModel), 0o644))

	paths, err := config.NewPaths(config.PathsConfig{BaseDir: base, ModelFile: modelPath})
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())
	return paths
}

func stageUpload(t *testing.T, paths *config.Paths, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(paths.RawUploadCSV, []byte(content), 0o644))
}

func runPipeline(t *testing.T, paths *config.Paths) *RunResponse {
	t.Helper()
	cfg := NewConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	m := NewManager(nil, NewRegistry(), cfg, nil, slog.Default())
	t.Cleanup(func() { m.Broadcaster().Stop() })
	require.NoError(t, RegisterDefaultSteps(m, paths, 30, slog.Default()))

	resp, err := m.Execute(context.Background(), RunRequest{})
	require.NoError(t, err)
	require.Equal(t, RunStatusCompleted, resp.Status)
	return resp
}

func TestPipelineEndToEnd(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, sampleInventory)

	runPipeline(t, paths)

	// Every artifact exists at its fixed location
	for _, path := range []string{paths.ProcessedCSV, paths.RiskScoresCSV, paths.RecommendationsCSV, paths.ForecastCSV} {
		assert.True(t, config.FileExists(path), path)
	}

	processed, err := dataset.Read(paths.ProcessedCSV)
	require.NoError(t, err)
	require.Equal(t, 4, processed.Len())
	require.NoError(t, processed.RequireColumns(paths.ProcessedCSV, inventory.ProcessedColumns...))

	// Reference date is the latest restock (2025-01-10), so the
	// already expired yogurt classifies as Expired and milk with 10
	// days left as Near_Expiry
	classByID := map[string]string{}
	for i := 0; i < processed.Len(); i++ {
		classByID[processed.Get(i, inventory.ColProductID)] = processed.Get(i, inventory.ColExpiryClass)
	}
	assert.Equal(t, inventory.ClassNearExpiry, classByID["P001"])
	assert.Equal(t, inventory.ClassSafe, classByID["P002"])
	assert.Equal(t, inventory.ClassExpired, classByID["P003"])
	assert.Equal(t, inventory.ClassSafe, classByID["P004"])
}

func TestPipelineRiskAndRecommendations(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, sampleInventory)
	runPipeline(t, paths)

	risk, err := dataset.Read(paths.RiskScoresCSV)
	require.NoError(t, err)
	require.Equal(t, 4, risk.Len())

	levelByID := map[string]string{}
	riskIDs := map[string]bool{}
	prev := 101.0
	for i := 0; i < risk.Len(); i++ {
		id := risk.Get(i, inventory.ColProductID)
		riskIDs[id] = true
		levelByID[id] = risk.Get(i, inventory.ColRiskLevel)

		score, err := inventory.ParseFloat(risk.Get(i, inventory.ColRiskScore))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
		assert.LessOrEqual(t, score, prev, "risk rows are ordered highest first")
		prev = score
		assert.Equal(t, inventory.RiskLevelForScore(score), levelByID[id],
			"level must match the fixed thresholds")
	}
	assert.Equal(t, inventory.RiskHigh, levelByID["P003"], "expired stock scores high")

	recs, err := dataset.Read(paths.RecommendationsCSV)
	require.NoError(t, err)
	require.Equal(t, risk.Len(), recs.Len(), "one recommendation per scored product")

	// The dashboard reads these exact headers
	require.NoError(t, recs.RequireColumns(paths.RecommendationsCSV,
		"Forecast_Total", "Predicted_Action", "Predicted_Discount_Percent"))

	actionByID := map[string]string{}
	for i := 0; i < recs.Len(); i++ {
		id := recs.Get(i, inventory.ColProductID)
		assert.True(t, riskIDs[id], "recommendation for unscored product %s", id)
		actionByID[id] = recs.Get(i, inventory.ColAction)
	}
	assert.Equal(t, inventory.ActionRemove, actionByID["P003"])
	assert.Equal(t, inventory.ActionDiscount, actionByID["P001"])
	assert.Equal(t, inventory.ActionMonitor, actionByID["P002"])
	assert.Equal(t, inventory.ActionRestock, actionByID["P004"])

	// Forecast totals are joined in; products the forecaster skipped
	// carry zero
	totalByID := map[string]string{}
	for i := 0; i < recs.Len(); i++ {
		totalByID[recs.Get(i, inventory.ColProductID)] = recs.Get(i, inventory.ColForecastTotal)
	}
	assert.Equal(t, "0.00", totalByID["P003"])
	assert.Equal(t, "0.00", totalByID["P004"])
	for _, id := range []string{"P001", "P002"} {
		total, err := inventory.ParseFloat(totalByID[id])
		require.NoError(t, err)
		assert.Greater(t, total, 0.0, id)
	}
}

func TestPipelineForecastContainsFailures(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, sampleInventory)
	resp := runPipeline(t, paths)

	// The zero-sales and expired products are skipped, not fatal
	assert.Equal(t, StepStatusCompleted, resp.Steps[StepIDForecast].Status)

	forecast, err := dataset.Read(paths.ForecastCSV)
	require.NoError(t, err)

	products := map[string]int{}
	for i := 0; i < forecast.Len(); i++ {
		products[forecast.Get(i, inventory.ColProductID)]++

		qty, err := inventory.ParseFloat(forecast.Get(i, inventory.ColForecastQty))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, qty, 0.0, "forecasts are never negative")
	}

	assert.Equal(t, 30, products["P001"], "full horizon per forecastable product")
	assert.Equal(t, 30, products["P002"])
	assert.NotContains(t, products, "P003", "expired product is skipped")
	assert.NotContains(t, products, "P004", "zero-sales product is skipped")
}

func TestPipelineForecastCutsOffAtExpiry(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, sampleInventory)
	runPipeline(t, paths)

	forecast, err := dataset.Read(paths.ForecastCSV)
	require.NoError(t, err)

	// P001 expires 10 days after the reference date; demand beyond
	// that must be zero
	cutoff := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	for i := 0; i < forecast.Len(); i++ {
		if forecast.Get(i, inventory.ColProductID) != "P001" {
			continue
		}
		date, err := inventory.ParseDate(forecast.Get(i, inventory.ColDate))
		require.NoError(t, err)
		qty, err := inventory.ParseFloat(forecast.Get(i, inventory.ColForecastQty))
		require.NoError(t, err)

		if date.After(cutoff) {
			assert.Zero(t, qty, "demand after expiry on %s", date)
		} else {
			assert.Greater(t, qty, 0.0, "demand before expiry on %s", date)
		}
	}
}

func TestPipelineIdempotentReruns(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, sampleInventory)

	runPipeline(t, paths)
	first := readArtifacts(t, paths)

	runPipeline(t, paths)
	second := readArtifacts(t, paths)

	// Derived values anchor on the data's own reference date, so
	// re-running over the same upload is byte-identical
	assert.Equal(t, first, second)
}

func readArtifacts(t *testing.T, paths *config.Paths) map[string]string {
	t.Helper()
	out := map[string]string{}
	for _, path := range []string{paths.ProcessedCSV, paths.RiskScoresCSV, paths.RecommendationsCSV, paths.ForecastCSV} {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		out[filepath.Base(path)] = string(data)
	}
	return out
}

func TestPipelineDeduplicatesAndRepairsRows(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, sampleInventory+
		"P002,Rice,Grains,400,1.20,100,2025-01-10,2026-01-01,50\n"+ // duplicate, keeps last
		"P005,Broken,Misc,not-a-number,1.00,5,2025-01-01,2026-01-01,5\n"+ // stock imputed
		"P006,NoRestock,Misc,5,1.00,5,,2026-01-01,5\n") // unparseable date, dropped

	runPipeline(t, paths)

	processed, err := dataset.Read(paths.ProcessedCSV)
	require.NoError(t, err)
	assert.Equal(t, 5, processed.Len())

	for i := 0; i < processed.Len(); i++ {
		switch processed.Get(i, inventory.ColProductID) {
		case "P002":
			assert.Equal(t, "400", processed.Get(i, inventory.ColStockQuantity))
		case "P005":
			// Column median over 5,10,30,50,400,500
			assert.Equal(t, "50", processed.Get(i, inventory.ColStockQuantity))
		case "P006":
			t.Errorf("row without a restock date survived preprocessing")
		}
	}
}

func TestPipelinePreprocessImputesMissingCells(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, `Product_ID,Product_Name,Category,Stock_Quantity,Unit_Price,Units_Sold,Last_Restocked,Expiry_Date,Reorder_Level
A1,One,Dairy,10,2.00,20,2025-01-01,2025-06-01,5
A2,Two,Dairy,20,4.00,40,2025-01-01,2025-06-01,5
A3,Three,Grains,30,6.00,60,2025-01-01,2025-06-01,5
A4,Four,,,,,2025-01-01,2025-06-01,5
`)

	runPipeline(t, paths)

	processed, err := dataset.Read(paths.ProcessedCSV)
	require.NoError(t, err)
	require.Equal(t, 4, processed.Len())

	// A4 gets the column medians and the modal category
	for i := 0; i < processed.Len(); i++ {
		if processed.Get(i, inventory.ColProductID) != "A4" {
			continue
		}
		assert.Equal(t, "Dairy", processed.Get(i, inventory.ColCategory))
		assert.Equal(t, "20", processed.Get(i, inventory.ColStockQuantity))
		assert.Equal(t, "4.00", processed.Get(i, inventory.ColUnitPrice))
		assert.Equal(t, "40", processed.Get(i, inventory.ColUnitsSold))
	}
}

func TestPipelineForecastStageFailureIsContained(t *testing.T) {
	paths := testPaths(t)

	// A processed file the forecaster cannot use at all
	broken := dataset.New(inventory.ColProductID, inventory.ColProductName)
	broken.Append("P001", "Milk")
	require.NoError(t, broken.Write(paths.ProcessedCSV))

	cfg := NewConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	m := NewManager(nil, NewRegistry(), cfg, nil, slog.Default())
	t.Cleanup(func() { m.Broadcaster().Stop() })
	require.NoError(t, RegisterDefaultSteps(m, paths, 30, slog.Default()))

	resp, err := m.Execute(context.Background(), RunRequest{Step: StepIDForecast})
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, resp.Status)
	assert.Equal(t, StepStatusCompleted, resp.Steps[StepIDForecast].Status)
	assert.Contains(t, resp.Steps[StepIDForecast].Metadata, "contained_error")

	// The contained failure still leaves a readable, empty artifact
	forecast, err := dataset.Read(paths.ForecastCSV)
	require.NoError(t, err)
	assert.Zero(t, forecast.Len())
}

func TestPipelineFailsWithoutUpload(t *testing.T) {
	paths := testPaths(t)

	cfg := NewConfig()
	m := NewManager(nil, NewRegistry(), cfg, nil, slog.Default())
	t.Cleanup(func() { m.Broadcaster().Stop() })
	require.NoError(t, RegisterDefaultSteps(m, paths, 30, slog.Default()))

	resp, err := m.Execute(context.Background(), RunRequest{})
	require.Error(t, err)
	assert.Equal(t, RunStatusFailed, resp.Status)
	assert.Equal(t, StepStatusSkipped, resp.Steps[StepIDPreprocess].Status, "validation failures skip the step")
}

func TestPipelineMissingColumns(t *testing.T) {
	paths := testPaths(t)
	stageUpload(t, paths, "Product_ID,Product_Name\nP001,Milk\n")

	cfg := NewConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	m := NewManager(nil, NewRegistry(), cfg, nil, slog.Default())
	t.Cleanup(func() { m.Broadcaster().Stop() })
	require.NoError(t, RegisterDefaultSteps(m, paths, 30, slog.Default()))

	_, err := m.Execute(context.Background(), RunRequest{})
	require.Error(t, err)
	var missing *dataset.MissingColumnsError
	assert.ErrorAs(t, err, &missing)
}
