package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

// ClassifyStep scores every processed record with the pre-trained
// expiry model and appends the Expiry_Class column to the processed
// file in place.
type ClassifyStep struct {
	BaseStep
	paths  *config.Paths
	logger *slog.Logger
}

// NewClassifyStep creates the expiry classification step
func NewClassifyStep(paths *config.Paths, logger *slog.Logger) *ClassifyStep {
	return &ClassifyStep{
		BaseStep: NewBaseStep(StepIDClassify, StepNameClassify, StepIDPreprocess),
		paths:    paths,
		logger:   logger.With(slog.String("step", StepIDClassify)),
	}
}

// Validate requires the processed file and the model file
func (s *ClassifyStep) Validate(state *RunState) error {
	if !s.paths.FileExists(s.paths.ProcessedCSV) {
		return fmt.Errorf("processed data not found at %s", s.paths.ProcessedCSV)
	}
	if !s.paths.FileExists(s.paths.ExpiryModelFile) {
		return fmt.Errorf("expiry model not found at %s", s.paths.ExpiryModelFile)
	}
	return nil
}

// Execute classifies every record and rewrites the processed file
func (s *ClassifyStep) Execute(ctx context.Context, state *RunState) error {
	model, err := inventory.LoadExpiryModel(s.paths.ExpiryModelFile)
	if err != nil {
		return err
	}

	processed, err := dataset.Read(s.paths.ProcessedCSV)
	if err != nil {
		return err
	}
	if err := processed.RequireColumns(s.paths.ProcessedCSV,
		inventory.ColDaysUntilExpiry,
		inventory.ColSalesVelocity,
		inventory.ColStockQuantity,
	); err != nil {
		return err
	}

	classes := make([]string, processed.Len())
	counts := make(map[string]int)
	for i := 0; i < processed.Len(); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := inventory.RecordFromRow(processed, i)
		if err != nil {
			return fmt.Errorf("processed data is corrupt: %w", err)
		}
		class := model.Predict(rec)
		classes[i] = class
		counts[class]++
	}

	processed.AddColumn(inventory.ColExpiryClass, classes)
	if err := processed.Write(s.paths.ProcessedCSV); err != nil {
		return err
	}

	if stepState := state.Step(s.ID()); stepState != nil {
		for class, count := range counts {
			stepState.SetMetadata(class, count)
		}
	}

	s.logger.InfoContext(ctx, "classification complete",
		slog.String("run_id", state.ID),
		slog.Int("expired", counts[inventory.ClassExpired]),
		slog.Int("near_expiry", counts[inventory.ClassNearExpiry]),
		slog.Int("safe", counts[inventory.ClassSafe]))

	return nil
}
