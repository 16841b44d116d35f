// Package http holds the chi handlers for the dashboard API.
package http

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "invsight/internal/errors"
	"invsight/internal/inventory"
	"invsight/internal/services"
)

// DataHandler serves the pipeline output files as JSON views
type DataHandler struct {
	service      *services.DataService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
}

// NewDataHandler creates a data handler
func NewDataHandler(service *services.DataService, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *DataHandler {
	return &DataHandler{
		service:      service,
		logger:       logger.With(slog.String("component", "data_handler")),
		errorHandler: errorHandler,
	}
}

// Routes returns the data routes
func (h *DataHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/risk", h.GetRiskScores)
	r.Get("/recommendations", h.GetRecommendations)
	r.Get("/forecasts", h.GetForecasts)
	r.Get("/summary", h.GetSummary)
	r.Get("/download/recommendations", h.DownloadRecommendations)

	return r
}

// GetRiskScores returns the scored products from the latest run
func (h *DataHandler) GetRiskScores(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.RiskScores(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"count": len(records),
		"items": records,
	})
}

// GetRecommendations returns the recommended actions, filtered by
// ?risk_level= and ?action=
func (h *DataHandler) GetRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.Recommendations(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	level := r.URL.Query().Get("risk_level")
	action := r.URL.Query().Get("action")
	if level != "" || action != "" {
		filtered := make([]inventory.Recommendation, 0, len(recs))
		for _, rec := range recs {
			if level != "" && rec.RiskLevel != level {
				continue
			}
			if action != "" && rec.Action != action {
				continue
			}
			filtered = append(filtered, rec)
		}
		recs = filtered
	}

	render.JSON(w, r, map[string]any{
		"count": len(recs),
		"items": recs,
	})
}

// GetForecasts returns forecast points, filtered by ?product_id=
func (h *DataHandler) GetForecasts(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("product_id")

	points, err := h.service.Forecasts(r.Context(), productID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{
		"count":      len(points),
		"product_id": productID,
		"items":      points,
	})
}

// GetSummary returns the aggregated dashboard summary
func (h *DataHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.BuildSummary(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, summary)
}

// DownloadRecommendations streams the recommendations CSV
func (h *DataHandler) DownloadRecommendations(w http.ResponseWriter, r *http.Request) {
	path := h.service.RecommendationsPath()
	if _, err := os.Stat(path); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrArtifactNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="recommendations.csv"`)
	http.ServeFile(w, r, path)
}
