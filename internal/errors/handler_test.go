package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invsight/internal/dataset"
)

func handleTestError(t *testing.T, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	h := NewErrorHandler(slog.Default(), false)

	req := httptest.NewRequest(http.MethodGet, "/api/data/risk", nil)
	rec := httptest.NewRecorder()
	h.HandleError(rec, req, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHandleErrorMissingArtifact(t *testing.T) {
	err := fmt.Errorf("failed to read risk_scores.csv: %w", os.ErrNotExist)
	rec, body := handleTestError(t, err)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, TypeDataMissing, body["type"])
	assert.Contains(t, body["detail"], "run the pipeline first")
}

func TestHandleErrorMissingColumns(t *testing.T) {
	err := &dataset.MissingColumnsError{Path: "risk_scores.csv", Columns: []string{"Risk_Score"}}
	rec, body := handleTestError(t, err)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, TypeDataColumns, body["type"])
	assert.Equal(t, []any{"Risk_Score"}, body["columns"])
}

func TestHandleErrorWrappedMissingColumns(t *testing.T) {
	inner := &dataset.MissingColumnsError{Path: "f.csv", Columns: []string{"Date"}}
	rec, _ := handleTestError(t, fmt.Errorf("loading forecasts: %w", inner))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleErrorAPIError(t *testing.T) {
	rec, body := handleTestError(t, ErrRunNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, TypeNotFound, body["type"])
	assert.Equal(t, "RUN_NOT_FOUND", body["title"])
}

func TestHandleErrorTimeout(t *testing.T) {
	rec, body := handleTestError(t, context.DeadlineExceeded)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, TypeTimeout, body["type"])
}

func TestHandleErrorGeneric(t *testing.T) {
	rec, body := handleTestError(t, fmt.Errorf("disk on fire"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, TypeInternal, body["type"])
	assert.Equal(t, "disk on fire", body["detail"])
	assert.Equal(t, "/api/data/risk", body["instance"])
}
