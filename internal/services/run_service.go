package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
	"invsight/internal/pipeline"
)

// RunService accepts inventory uploads and drives pipeline runs. Runs
// execute in the background; callers poll status by run ID or follow
// the WebSocket feed.
type RunService struct {
	manager    *pipeline.Manager
	paths      *config.Paths
	runTimeout time.Duration
	logger     *slog.Logger
}

// NewRunService creates a run service
func NewRunService(manager *pipeline.Manager, paths *config.Paths, runTimeout time.Duration, logger *slog.Logger) *RunService {
	if runTimeout <= 0 {
		runTimeout = config.DefaultRunTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RunService{
		manager:    manager,
		paths:      paths,
		runTimeout: runTimeout,
		logger:     logger.With(slog.String("component", "run_service")),
	}
}

// SaveUpload stores an uploaded inventory table at the fixed raw path.
// CSV is stored as-is after validation; XLSX is converted to CSV first.
// The upload replaces any previous file, so re-running the pipeline is
// always against the latest upload.
func (rs *RunService) SaveUpload(ctx context.Context, r io.Reader, filename string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}

	var table *dataset.Table
	if inventory.IsXLSX(filename) {
		table, err = inventory.TableFromXLSX(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("invalid workbook: %w", err)
		}
	} else {
		if err := rs.writeRawBytes(data); err != nil {
			return err
		}
		table, err = dataset.Read(rs.paths.RawUploadCSV)
		if err != nil {
			return fmt.Errorf("invalid CSV: %w", err)
		}
	}

	if err := table.RequireColumns(filename, inventory.RawColumns...); err != nil {
		// Remove a CSV that was staged before validation failed
		os.Remove(rs.paths.RawUploadCSV)
		return err
	}

	if inventory.IsXLSX(filename) {
		if err := table.Write(rs.paths.RawUploadCSV); err != nil {
			return err
		}
	}

	rs.logger.InfoContext(ctx, "upload stored",
		slog.String("filename", filename),
		slog.Int("rows", table.Len()),
		slog.String("path", rs.paths.RawUploadCSV))
	return nil
}

func (rs *RunService) writeRawBytes(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(rs.paths.RawUploadCSV), 0o755); err != nil {
		return fmt.Errorf("failed to create raw directory: %w", err)
	}
	if err := os.WriteFile(rs.paths.RawUploadCSV, data, 0o644); err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return nil
}

// HasUpload reports whether an inventory file is staged for a run
func (rs *RunService) HasUpload() bool {
	return rs.paths.FileExists(rs.paths.RawUploadCSV)
}

// StartRun launches a pipeline run in the background and returns its ID
func (rs *RunService) StartRun(ctx context.Context, step string) (string, error) {
	if !rs.HasUpload() {
		return "", fmt.Errorf("no inventory file uploaded")
	}
	if step != "" && !rs.manager.Registry().Has(step) {
		return "", fmt.Errorf("unknown step %q; valid steps: %s",
			step, strings.Join(rs.manager.Registry().IDs(), ", "))
	}

	req := pipeline.RunRequest{ID: uuid.New().String(), Step: step}

	go func() {
		// Detached from the request context: the run outlives the
		// HTTP request that started it
		runCtx, cancel := context.WithTimeout(context.Background(), rs.runTimeout)
		defer cancel()

		if _, err := rs.manager.Execute(runCtx, req); err != nil {
			rs.logger.Error("run failed",
				slog.String("run_id", req.ID),
				slog.String("error", err.Error()))
		}
	}()

	rs.logger.InfoContext(ctx, "run started",
		slog.String("run_id", req.ID),
		slog.String("step", step))
	return req.ID, nil
}

// RunStatus returns the state of a run by ID
func (rs *RunService) RunStatus(id string) (*pipeline.RunState, error) {
	return rs.manager.Run(id)
}

// ListRuns returns every run the manager still remembers
func (rs *RunService) ListRuns() []*pipeline.RunState {
	return rs.manager.ListRuns()
}

// Steps returns the registered step IDs in execution order
func (rs *RunService) Steps() ([]string, error) {
	steps, err := rs.manager.Registry().DependencyOrder()
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(steps))
	for i, step := range steps {
		ids[i] = step.ID()
	}
	return ids, nil
}
