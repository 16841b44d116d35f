package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invsight/internal/config"
	apierrors "invsight/internal/errors"
	"invsight/internal/pipeline"
	"invsight/internal/services"
)

const handlerModelYAML = `classes:
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

const handlerUploadCSV = `Product_ID,Product_Name,Category,Stock_Quantity,Unit_Price,Units_Sold,Last_Restocked,Expiry_Date,Reorder_Level
P1,Milk,Dairy,50,2.50,200,2025-01-01,2025-01-20,20
`

const handlerRiskCSV = `Product_ID,Product_Name,Category,Risk_Score,Risk_Level,Expiry_Class
P1,Milk,Dairy,62.50,Medium,Near_Expiry
P2,Rice,Grains,17.73,Low,Safe
`

const handlerRecommendationsCSV = `Product_ID,Product_Name,Category,Risk_Level,Expiry_Class,Forecast_Total,Predicted_Action,Predicted_Discount_Percent
P1,Milk,Dairy,Medium,Near_Expiry,43.78,Discount,25
P2,Rice,Grains,Low,Safe,99.00,Monitor,0
`

type testAPI struct {
	router *chi.Mux
	paths  *config.Paths
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	base := t.TempDir()

	modelPath := filepath.Join(base, "config", "expiry_model.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(modelPath), 0o755))
	require.NoError(t, os.WriteFile(modelPath, []byte(handlerModelYAML), 0o644))

	paths, err := config.NewPaths(config.PathsConfig{BaseDir: base, ModelFile: modelPath})
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())

	logger := slog.Default()
	manager := pipeline.NewManager(nil, pipeline.NewRegistry(), pipeline.NewConfig(), nil, logger)
	t.Cleanup(func() { manager.Broadcaster().Stop() })
	require.NoError(t, pipeline.RegisterDefaultSteps(manager, paths, 7, logger))

	errorHandler := apierrors.NewErrorHandler(logger, false)
	dataService := services.NewDataService(paths, logger)
	runService := services.NewRunService(manager, paths, time.Minute, logger)
	healthService := services.NewHealthService(paths, nil, logger)

	router := chi.NewRouter()
	router.Mount("/api/data", NewDataHandler(dataService, logger, errorHandler).Routes())
	router.Mount("/api/operations", NewOperationsHandler(runService, 1<<20, logger, errorHandler).Routes())
	router.Mount("/api/health", NewHealthHandler(healthService, logger).Routes())

	return &testAPI{router: router, paths: paths}
}

func (api *testAPI) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	var body map[string]any
	if strings.Contains(rec.Header().Get("Content-Type"), "json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func (api *testAPI) writeOutputs(t *testing.T) {
	t.Helper()
	require.NoError(t, os.WriteFile(api.paths.RiskScoresCSV, []byte(handlerRiskCSV), 0o644))
	require.NoError(t, os.WriteFile(api.paths.RecommendationsCSV, []byte(handlerRecommendationsCSV), 0o644))
}

func TestGetRiskScores(t *testing.T) {
	api := newTestAPI(t)
	api.writeOutputs(t)

	rec, body := api.get(t, "/api/data/risk")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])

	items, ok := body["items"].([]any)
	require.True(t, ok)
	first, ok := items[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "P1", first["product_id"])
	assert.Equal(t, "Medium", first["risk_level"])
}

func TestGetRecommendationsFiltered(t *testing.T) {
	api := newTestAPI(t)
	api.writeOutputs(t)

	rec, body := api.get(t, "/api/data/recommendations?action=Monitor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = api.get(t, "/api/data/recommendations?risk_level=Medium&action=Discount")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = api.get(t, "/api/data/recommendations?risk_level=High")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["count"])
}

func TestGetRiskScoresBeforeAnyRun(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.get(t, "/api/data/risk")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, apierrors.TypeDataMissing, body["type"])
}

func TestDownloadRecommendations(t *testing.T) {
	api := newTestAPI(t)
	api.writeOutputs(t)

	rec, _ := api.get(t, "/api/data/download/recommendations")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="recommendations.csv"`)
	assert.Contains(t, rec.Body.String(), "P1,Milk")
}

func TestDownloadRecommendationsMissing(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.get(t, "/api/data/download/recommendations")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ARTIFACT_NOT_FOUND", body["title"])
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/operations/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadCSV(t *testing.T) {
	api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, uploadRequest(t, "inventory.csv", handlerUploadCSV))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, config.FileExists(api.paths.RawUploadCSV))
}

func TestUploadRejectsMissingColumns(t *testing.T) {
	api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, uploadRequest(t, "inventory.csv", "Product_ID\nP1\n"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, config.FileExists(api.paths.RawUploadCSV))
}

func TestUploadRequiresFileField(t *testing.T) {
	api := newTestAPI(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/operations/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartRunWithoutUpload(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/operations/run", nil)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no inventory file uploaded")
}

func TestStartRunAccepted(t *testing.T) {
	api := newTestAPI(t)

	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, uploadRequest(t, "inventory.csv", handlerUploadCSV))
	require.Equal(t, http.StatusCreated, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/operations/run", strings.NewReader(`{"step":"preprocess"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	runID, _ := body["run_id"].(string)
	assert.NotEmpty(t, runID)
	assert.Equal(t, string(pipeline.RunStatusPending), body["status"])

	// Wait for the background run so the temp dir is quiet at cleanup
	require.Eventually(t, func() bool {
		statusRec, statusBody := api.get(t, "/api/operations/"+runID)
		if statusRec.Code != http.StatusOK {
			return false
		}
		status, _ := statusBody["status"].(string)
		return status == string(pipeline.RunStatusCompleted) || status == string(pipeline.RunStatusFailed)
	}, 10*time.Second, 20*time.Millisecond)
}

func TestGetRunNotFound(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.get(t, "/api/operations/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RUN_NOT_FOUND", body["title"])
}

func TestListSteps(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.get(t, "/api/operations/steps")
	require.Equal(t, http.StatusOK, rec.Code)

	steps, ok := body["steps"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"preprocess", "classify", "forecast", "risk", "recommend"}, steps)
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.get(t, "/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthDegradedWithoutModel(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, os.Remove(api.paths.ExpiryModelFile))

	rec, body := api.get(t, "/api/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestVersionEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.get(t, "/api/health/version")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, config.AppName, body["name"])
	assert.Equal(t, config.AppVersion, body["version"])
}
