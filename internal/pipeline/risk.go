package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

// Risk score component weights. The expiry class dominates, remaining
// shelf life and overstock pressure fill in the rest.
const (
	riskWeightExpiry = 0.5
	riskWeightDays   = 0.3
	riskWeightStock  = 0.2
)

// RiskStep computes a composite 0-100 risk score per product and maps
// it onto the fixed Low/Medium/High levels.
type RiskStep struct {
	BaseStep
	paths  *config.Paths
	logger *slog.Logger
}

// NewRiskStep creates the risk scoring step
func NewRiskStep(paths *config.Paths, logger *slog.Logger) *RiskStep {
	return &RiskStep{
		BaseStep: NewBaseStep(StepIDRisk, StepNameRisk, StepIDForecast),
		paths:    paths,
		logger:   logger.With(slog.String("step", StepIDRisk)),
	}
}

// Validate requires the classified processed file
func (s *RiskStep) Validate(state *RunState) error {
	if !s.paths.FileExists(s.paths.ProcessedCSV) {
		return fmt.Errorf("processed data not found at %s", s.paths.ProcessedCSV)
	}
	return nil
}

// Execute scores every product and writes the risk file
func (s *RiskStep) Execute(ctx context.Context, state *RunState) error {
	processed, err := dataset.Read(s.paths.ProcessedCSV)
	if err != nil {
		return err
	}
	if err := processed.RequireColumns(s.paths.ProcessedCSV,
		inventory.ColExpiryClass,
		inventory.ColDaysUntilExpiry,
		inventory.ColStockQuantity,
		inventory.ColUnitsSold,
	); err != nil {
		return err
	}

	out := dataset.New(
		inventory.ColProductID,
		inventory.ColProductName,
		inventory.ColCategory,
		inventory.ColExpiryClass,
		inventory.ColRiskScore,
		inventory.ColRiskLevel,
	)

	levels := make(map[string]int)
	for i := 0; i < processed.Len(); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := inventory.RecordFromRow(processed, i)
		if err != nil {
			return fmt.Errorf("processed data is corrupt: %w", err)
		}

		score := riskScore(rec)
		level := inventory.RiskLevelForScore(score)
		levels[level]++

		out.Append(
			rec.ProductID,
			rec.ProductName,
			rec.Category,
			rec.ExpiryClass,
			inventory.FormatScore(score),
			level,
		)
	}

	// Highest risk first; ties keep input order so reruns stay
	// byte-identical
	out.SortBy(inventory.ColRiskScore, func(a, b string) bool {
		av, _ := inventory.ParseFloat(a)
		bv, _ := inventory.ParseFloat(b)
		return av > bv
	})

	if err := out.Write(s.paths.RiskScoresCSV); err != nil {
		return err
	}

	if stepState := state.Step(s.ID()); stepState != nil {
		for level, count := range levels {
			stepState.SetMetadata(level, count)
		}
	}

	s.logger.InfoContext(ctx, "risk scoring complete",
		slog.String("run_id", state.ID),
		slog.Int("high", levels[inventory.RiskHigh]),
		slog.Int("medium", levels[inventory.RiskMedium]),
		slog.Int("low", levels[inventory.RiskLow]))

	return nil
}

// riskScore blends three signals into a 0-100 composite:
// the expiry class, how close the expiry date is, and how much stock
// sits against observed sales.
func riskScore(rec inventory.Record) float64 {
	var expiryScore float64
	switch rec.ExpiryClass {
	case inventory.ClassExpired:
		expiryScore = 100
	case inventory.ClassNearExpiry:
		expiryScore = 70
	default:
		expiryScore = 20
	}

	var daysScore float64
	if rec.DaysUntilExpiry <= 0 {
		daysScore = 100
	} else {
		daysScore = 100 - float64(rec.DaysUntilExpiry)*(100.0/60.0)
		if daysScore < 0 {
			daysScore = 0
		}
	}

	sold := rec.UnitsSold
	if sold < 1 {
		sold = 1
	}
	stockScore := 25 * float64(rec.StockQuantity) / float64(sold)
	if stockScore > 100 {
		stockScore = 100
	}

	score := riskWeightExpiry*expiryScore + riskWeightDays*daysScore + riskWeightStock*stockScore
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
