package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

// Discount percentages applied by the recommendation rules
var (
	discountNone   = decimal.Zero
	discountHigh   = decimal.NewFromInt(50)
	discountMedium = decimal.NewFromInt(25)
)

// RecommendStep turns risk scores into concrete actions: remove expired
// stock, discount at-risk stock, restock depleted products, monitor the
// rest. Every scored product gets exactly one recommendation, carrying
// its total forecast demand when a forecast exists. The forecast file
// is optional input so a contained forecast failure never blocks this
// step.
type RecommendStep struct {
	BaseStep
	paths  *config.Paths
	logger *slog.Logger
}

// NewRecommendStep creates the recommendation step
func NewRecommendStep(paths *config.Paths, logger *slog.Logger) *RecommendStep {
	return &RecommendStep{
		BaseStep: NewBaseStep(StepIDRecommend, StepNameRecommend, StepIDRisk),
		paths:    paths,
		logger:   logger.With(slog.String("step", StepIDRecommend)),
	}
}

// Validate requires the risk file and the processed file
func (s *RecommendStep) Validate(state *RunState) error {
	if !s.paths.FileExists(s.paths.RiskScoresCSV) {
		return fmt.Errorf("risk scores not found at %s", s.paths.RiskScoresCSV)
	}
	if !s.paths.FileExists(s.paths.ProcessedCSV) {
		return fmt.Errorf("processed data not found at %s", s.paths.ProcessedCSV)
	}
	return nil
}

// Execute joins risk scores with stock levels and writes recommendations
func (s *RecommendStep) Execute(ctx context.Context, state *RunState) error {
	risk, err := dataset.Read(s.paths.RiskScoresCSV)
	if err != nil {
		return err
	}
	if err := risk.RequireColumns(s.paths.RiskScoresCSV,
		inventory.ColProductID,
		inventory.ColRiskLevel,
		inventory.ColExpiryClass,
	); err != nil {
		return err
	}

	processed, err := dataset.Read(s.paths.ProcessedCSV)
	if err != nil {
		return err
	}

	// Stock levels by product ID for the restock rule
	records := make(map[string]inventory.Record, processed.Len())
	for i := 0; i < processed.Len(); i++ {
		rec, err := inventory.RecordFromRow(processed, i)
		if err != nil {
			return fmt.Errorf("processed data is corrupt: %w", err)
		}
		records[rec.ProductID] = rec
	}

	forecastTotals, err := s.forecastTotals(ctx)
	if err != nil {
		return err
	}

	out := dataset.New(
		inventory.ColProductID,
		inventory.ColProductName,
		inventory.ColCategory,
		inventory.ColRiskLevel,
		inventory.ColExpiryClass,
		inventory.ColForecastTotal,
		inventory.ColAction,
		inventory.ColDiscountPct,
	)

	actions := make(map[string]int)
	for i := 0; i < risk.Len(); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		productID := risk.Get(i, inventory.ColProductID)
		riskLevel := risk.Get(i, inventory.ColRiskLevel)
		expiryClass := risk.Get(i, inventory.ColExpiryClass)
		rec, known := records[productID]
		if !known {
			return fmt.Errorf("risk file references unknown product %s", productID)
		}

		action, discount := recommend(riskLevel, expiryClass, rec)
		actions[action]++

		out.Append(
			productID,
			risk.Get(i, inventory.ColProductName),
			risk.Get(i, inventory.ColCategory),
			riskLevel,
			expiryClass,
			strconv.FormatFloat(forecastTotals[productID], 'f', 2, 64),
			action,
			discount.StringFixed(0),
		)
	}

	if err := out.Write(s.paths.RecommendationsCSV); err != nil {
		return err
	}

	if stepState := state.Step(s.ID()); stepState != nil {
		for action, count := range actions {
			stepState.SetMetadata(action, count)
		}
	}

	s.logger.InfoContext(ctx, "recommendations complete",
		slog.String("run_id", state.ID),
		slog.Int("remove", actions[inventory.ActionRemove]),
		slog.Int("discount", actions[inventory.ActionDiscount]),
		slog.Int("restock", actions[inventory.ActionRestock]),
		slog.Int("monitor", actions[inventory.ActionMonitor]))

	return nil
}

// forecastTotals sums forecast demand per product. Products absent
// from the forecast (or a missing forecast file altogether) total zero.
func (s *RecommendStep) forecastTotals(ctx context.Context) (map[string]float64, error) {
	totals := make(map[string]float64)
	if !s.paths.FileExists(s.paths.ForecastCSV) {
		return totals, nil
	}

	forecast, err := dataset.Read(s.paths.ForecastCSV)
	if err != nil {
		return nil, err
	}
	if !forecast.HasColumn(inventory.ColProductID) || !forecast.HasColumn(inventory.ColForecastQty) {
		return totals, nil
	}

	for i := 0; i < forecast.Len(); i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		qty, err := inventory.ParseFloat(forecast.Get(i, inventory.ColForecastQty))
		if err != nil {
			return nil, fmt.Errorf("forecast file row %d: %w", i+2, err)
		}
		totals[forecast.Get(i, inventory.ColProductID)] += qty
	}
	return totals, nil
}

// recommend applies the action rules in priority order
func recommend(riskLevel, expiryClass string, rec inventory.Record) (string, decimal.Decimal) {
	switch {
	case expiryClass == inventory.ClassExpired:
		return inventory.ActionRemove, discountNone
	case riskLevel == inventory.RiskHigh:
		return inventory.ActionDiscount, discountHigh
	case riskLevel == inventory.RiskMedium && expiryClass == inventory.ClassNearExpiry:
		return inventory.ActionDiscount, discountMedium
	case rec.StockQuantity <= rec.ReorderLevel:
		return inventory.ActionRestock, discountNone
	default:
		return inventory.ActionMonitor, discountNone
	}
}
