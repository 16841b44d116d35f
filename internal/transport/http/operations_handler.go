package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "invsight/internal/errors"
	"invsight/internal/pipeline"
	"invsight/internal/services"
)

// OperationsHandler accepts uploads and controls pipeline runs
type OperationsHandler struct {
	service        *services.RunService
	maxUploadBytes int64
	logger         *slog.Logger
	errorHandler   *apierrors.ErrorHandler
}

// NewOperationsHandler creates an operations handler
func NewOperationsHandler(service *services.RunService, maxUploadBytes int64, logger *slog.Logger, errorHandler *apierrors.ErrorHandler) *OperationsHandler {
	return &OperationsHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "operations_handler")),
		errorHandler:   errorHandler,
	}
}

// Routes returns the operations routes
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Post("/upload", h.Upload)
	r.Post("/run", h.StartRun)
	r.Get("/", h.ListRuns)
	r.Get("/steps", h.ListSteps)
	r.Get("/{id}", h.GetRun)

	return r
}

// Upload accepts a multipart inventory file (CSV or XLSX) and stages
// it at the fixed raw path
func (h *OperationsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.errorHandler.HandleError(w, r, apierrors.ErrUploadTooLarge)
			return
		}
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("file", "multipart field 'file' is required"))
		return
	}
	defer file.Close()

	if err := h.service.SaveUpload(r.Context(), file, header.Filename); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.NewWithDetails(
			http.StatusBadRequest, "INVALID_UPLOAD",
			"Uploaded file is not a valid inventory table", err.Error()))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"success":  true,
		"filename": header.Filename,
	})
}

// runRequest is the body of POST /run
type runRequest struct {
	Step string `json:"step,omitempty"`
}

// StartRun launches a pipeline run and returns its ID
func (h *OperationsHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
	}

	runID, err := h.service.StartRun(r.Context(), req.Step)
	if err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("step", err.Error()))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]any{
		"run_id": runID,
		"status": string(pipeline.RunStatusPending),
	})
}

// GetRun returns the state of one run
func (h *OperationsHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := h.service.RunStatus(id)
	if err != nil {
		if errors.Is(err, pipeline.ErrRunNotFound) {
			h.errorHandler.HandleError(w, r, apierrors.ErrRunNotFound)
			return
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, state)
}

// ListRuns returns all runs still held in memory
func (h *OperationsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs := h.service.ListRuns()
	render.JSON(w, r, map[string]any{
		"count": len(runs),
		"items": runs,
	})
}

// ListSteps returns the step IDs in execution order
func (h *OperationsHandler) ListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.service.Steps()
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"steps": steps})
}
