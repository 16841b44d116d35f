package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

// Daily damping applied to the naive forecast; demand is assumed to
// decay slightly over the horizon rather than hold flat.
const forecastDamping = 0.99

// ForecastStep produces a per-product daily demand forecast. A product
// whose history cannot support a forecast is skipped with a warning,
// and a failure of the whole stage is contained: the error is logged,
// an empty forecast file is left behind, and the run continues.
type ForecastStep struct {
	BaseStep
	paths   *config.Paths
	horizon int
	logger  *slog.Logger
}

// NewForecastStep creates the forecasting step
func NewForecastStep(paths *config.Paths, horizon int, logger *slog.Logger) *ForecastStep {
	if horizon <= 0 {
		horizon = config.DefaultForecastHorizon
	}
	return &ForecastStep{
		BaseStep: NewBaseStep(StepIDForecast, StepNameForecast, StepIDClassify),
		paths:    paths,
		horizon:  horizon,
		logger:   logger.With(slog.String("step", StepIDForecast)),
	}
}

// Validate requires the classified processed file
func (s *ForecastStep) Validate(state *RunState) error {
	if !s.paths.FileExists(s.paths.ProcessedCSV) {
		return fmt.Errorf("processed data not found at %s", s.paths.ProcessedCSV)
	}
	return nil
}

// Execute forecasts every product and writes the combined forecast
// file. Forecasting is best-effort: any non-cancellation error is
// contained here so the remaining steps still run.
func (s *ForecastStep) Execute(ctx context.Context, state *RunState) error {
	err := s.run(ctx, state)
	if err == nil || ctx.Err() != nil {
		return err
	}

	s.logger.WarnContext(ctx, "forecasting failed, continuing without a forecast",
		slog.String("run_id", state.ID),
		slog.String("error", err.Error()))
	if stepState := state.Step(s.ID()); stepState != nil {
		stepState.SetMetadata("contained_error", err.Error())
	}

	// Leave a consistent, empty artifact so the dashboard and the
	// download endpoints never see a stale forecast from a prior run
	empty := dataset.New(inventory.ColProductID, inventory.ColDate, inventory.ColForecastQty)
	if werr := empty.Write(s.paths.ForecastCSV); werr != nil {
		s.logger.WarnContext(ctx, "failed to write empty forecast file",
			slog.String("run_id", state.ID),
			slog.String("error", werr.Error()))
	}
	return nil
}

func (s *ForecastStep) run(ctx context.Context, state *RunState) error {
	processed, err := dataset.Read(s.paths.ProcessedCSV)
	if err != nil {
		return err
	}
	if err := processed.RequireColumns(s.paths.ProcessedCSV,
		inventory.ColSalesVelocity,
		inventory.ColDaysUntilExpiry,
		inventory.ColExpiryClass,
	); err != nil {
		return err
	}

	refDate := s.referenceDate(state, processed)

	out := dataset.New(inventory.ColProductID, inventory.ColDate, inventory.ColForecastQty)
	forecasted := 0
	skipped := 0

	for i := 0; i < processed.Len(); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := inventory.RecordFromRow(processed, i)
		if err != nil {
			skipped++
			s.logger.WarnContext(ctx, "skipping unparseable product",
				slog.String("run_id", state.ID),
				slog.String("error", err.Error()))
			continue
		}

		points, err := s.forecastProduct(rec, refDate)
		if err != nil {
			skipped++
			s.logger.WarnContext(ctx, "skipping product forecast",
				slog.String("run_id", state.ID),
				slog.String("product_id", rec.ProductID),
				slog.String("reason", err.Error()))
			continue
		}

		for _, p := range points {
			out.Append(
				p.ProductID,
				p.Date.Format(inventory.DateLayout),
				strconv.FormatFloat(p.ForecastQty, 'f', 2, 64),
			)
		}
		forecasted++
	}

	// The file is written even when every product was skipped so the
	// dashboard always has a consistent artifact to read.
	if err := out.Write(s.paths.ForecastCSV); err != nil {
		return err
	}

	state.SetContext(ContextKeyForecastProducts, forecasted)
	state.SetContext(ContextKeyForecastSkipped, skipped)
	if stepState := state.Step(s.ID()); stepState != nil {
		stepState.SetMetadata("products", forecasted)
		stepState.SetMetadata("skipped", skipped)
	}

	s.logger.InfoContext(ctx, "forecasting complete",
		slog.String("run_id", state.ID),
		slog.Int("products", forecasted),
		slog.Int("skipped", skipped),
		slog.Int("horizon_days", s.horizon))

	return nil
}

// forecastProduct builds the damped naive forecast for one product.
// Demand is the observed sales velocity, decayed daily, and cut to
// zero once the product has expired.
func (s *ForecastStep) forecastProduct(rec inventory.Record, refDate time.Time) ([]inventory.ForecastPoint, error) {
	if rec.ExpiryClass == inventory.ClassExpired {
		return nil, fmt.Errorf("product is expired")
	}
	if rec.SalesVelocity <= 0 {
		return nil, fmt.Errorf("no sales history")
	}

	points := make([]inventory.ForecastPoint, 0, s.horizon)
	for d := 1; d <= s.horizon; d++ {
		qty := rec.SalesVelocity * math.Pow(forecastDamping, float64(d))
		if rec.DaysUntilExpiry > 0 && d > rec.DaysUntilExpiry {
			qty = 0
		}
		points = append(points, inventory.ForecastPoint{
			ProductID:   rec.ProductID,
			Date:        refDate.AddDate(0, 0, d),
			ForecastQty: qty,
		})
	}
	return points, nil
}

// referenceDate prefers the date the preprocess step recorded and
// falls back to recomputing it from the file, so a single-step run
// still anchors on the data instead of the wall clock
func (s *ForecastStep) referenceDate(state *RunState, processed *dataset.Table) time.Time {
	if v, ok := state.GetContext(ContextKeyReferenceDate); ok {
		if t, ok := v.(time.Time); ok {
			return t
		}
	}
	refDate := time.Time{}
	for _, cell := range processed.Column(inventory.ColLastRestocked) {
		if t, err := inventory.ParseDate(cell); err == nil && t.After(refDate) {
			refDate = t
		}
	}
	return refDate
}
