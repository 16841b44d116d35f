package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

// PreprocessStep cleans the uploaded inventory file and derives the
// analytic columns the downstream steps consume. Missing or
// unparseable numeric cells are imputed with the column median, a
// missing category with the column mode; rows without a product ID or
// with unparseable dates are dropped. Duplicate product IDs keep the
// last occurrence.
type PreprocessStep struct {
	BaseStep
	paths  *config.Paths
	logger *slog.Logger
}

// NewPreprocessStep creates the preprocessing step
func NewPreprocessStep(paths *config.Paths, logger *slog.Logger) *PreprocessStep {
	return &PreprocessStep{
		BaseStep: NewBaseStep(StepIDPreprocess, StepNamePreprocess),
		paths:    paths,
		logger:   logger.With(slog.String("step", StepIDPreprocess)),
	}
}

// Validate requires an uploaded inventory file
func (s *PreprocessStep) Validate(state *RunState) error {
	if !s.paths.FileExists(s.paths.RawUploadCSV) {
		return fmt.Errorf("no uploaded inventory file at %s", s.paths.RawUploadCSV)
	}
	return nil
}

// Execute reads the raw upload, cleans it, and writes the processed file
func (s *PreprocessStep) Execute(ctx context.Context, state *RunState) error {
	raw, err := dataset.Read(s.paths.RawUploadCSV)
	if err != nil {
		return err
	}
	if err := raw.RequireColumns(s.paths.RawUploadCSV, inventory.RawColumns...); err != nil {
		return err
	}

	// Parse every row, repairing what the imputer can and dropping
	// what it cannot. Duplicates by product ID keep the last
	// occurrence in file order.
	imp := newImputer(raw)
	byID := make(map[string]inventory.Record, raw.Len())
	var order []string
	dropped := 0
	for i := 0; i < raw.Len(); i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec, err := imp.parseRow(raw, i)
		if err != nil {
			dropped++
			s.logger.WarnContext(ctx, "dropping unrepairable row",
				slog.String("run_id", state.ID),
				slog.String("error", err.Error()))
			continue
		}
		if _, seen := byID[rec.ProductID]; !seen {
			order = append(order, rec.ProductID)
		}
		byID[rec.ProductID] = rec
	}

	if len(byID) == 0 {
		return fmt.Errorf("no valid rows in %s (%d dropped)", s.paths.RawUploadCSV, dropped)
	}

	// The reference date anchors all derived values so a re-run over
	// the same file produces identical output regardless of when it
	// runs.
	refDate := time.Time{}
	for _, rec := range byID {
		if rec.LastRestocked.After(refDate) {
			refDate = rec.LastRestocked
		}
	}

	out := dataset.New(append(append([]string{}, inventory.RawColumns...),
		inventory.ColDaysUntilExpiry,
		inventory.ColStockValue,
		inventory.ColSalesVelocity,
	)...)

	for _, id := range order {
		rec := byID[id]

		daysUntilExpiry := int(rec.ExpiryDate.Sub(refDate).Hours() / 24)
		stockValue := rec.UnitPrice.Mul(decimal.NewFromInt(int64(rec.StockQuantity))).Round(2)

		daysSinceRestock := int(refDate.Sub(rec.LastRestocked).Hours() / 24)
		if daysSinceRestock < 1 {
			daysSinceRestock = 1
		}
		velocity := float64(rec.UnitsSold) / float64(daysSinceRestock)

		out.Append(
			rec.ProductID,
			rec.ProductName,
			rec.Category,
			strconv.Itoa(rec.StockQuantity),
			rec.UnitPrice.StringFixed(2),
			strconv.Itoa(rec.UnitsSold),
			rec.LastRestocked.Format(inventory.DateLayout),
			rec.ExpiryDate.Format(inventory.DateLayout),
			strconv.Itoa(rec.ReorderLevel),
			strconv.Itoa(daysUntilExpiry),
			stockValue.StringFixed(2),
			strconv.FormatFloat(velocity, 'f', 4, 64),
		)
	}

	if err := out.Write(s.paths.ProcessedCSV); err != nil {
		return err
	}

	state.SetContext(ContextKeyReferenceDate, refDate)
	state.SetContext(ContextKeyRecordCount, out.Len())
	state.SetContext(ContextKeyDroppedRows, dropped)
	if stepState := state.Step(s.ID()); stepState != nil {
		stepState.SetMetadata("records", out.Len())
		stepState.SetMetadata("dropped", dropped)
		stepState.SetMetadata("imputed", imp.imputed)
	}

	s.logger.InfoContext(ctx, "preprocessing complete",
		slog.String("run_id", state.ID),
		slog.Int("records", out.Len()),
		slog.Int("dropped", dropped),
		slog.Int("imputed_cells", imp.imputed),
		slog.String("reference_date", refDate.Format(inventory.DateLayout)))

	return nil
}

// imputer repairs incomplete rows with column statistics gathered in a
// first pass over the raw file: medians for the numeric columns, the
// mode for the category. Product IDs and dates cannot be invented, so
// rows missing those stay unrepairable.
type imputer struct {
	stockQuantity int
	unitPrice     decimal.Decimal
	unitsSold     int
	reorderLevel  int
	category      string

	imputed int
}

func newImputer(t *dataset.Table) *imputer {
	return &imputer{
		stockQuantity: columnMedianInt(t, inventory.ColStockQuantity),
		unitPrice:     columnMedianDecimal(t, inventory.ColUnitPrice),
		unitsSold:     columnMedianInt(t, inventory.ColUnitsSold),
		reorderLevel:  columnMedianInt(t, inventory.ColReorderLevel),
		category:      columnMode(t, inventory.ColCategory),
	}
}

// parseRow builds a record from one raw row, imputing what it can
func (im *imputer) parseRow(t *dataset.Table, row int) (inventory.Record, error) {
	var rec inventory.Record
	var err error

	rec.ProductID = strings.TrimSpace(t.Get(row, inventory.ColProductID))
	if rec.ProductID == "" {
		return rec, fmt.Errorf("row %d: empty product id", row+2)
	}
	rec.ProductName = t.Get(row, inventory.ColProductName)

	if rec.LastRestocked, err = inventory.ParseDate(t.Get(row, inventory.ColLastRestocked)); err != nil {
		return rec, fmt.Errorf("row %d, column %s: %w", row+2, inventory.ColLastRestocked, err)
	}
	if rec.ExpiryDate, err = inventory.ParseDate(t.Get(row, inventory.ColExpiryDate)); err != nil {
		return rec, fmt.Errorf("row %d, column %s: %w", row+2, inventory.ColExpiryDate, err)
	}

	rec.Category = strings.TrimSpace(t.Get(row, inventory.ColCategory))
	if rec.Category == "" {
		rec.Category = im.category
		im.imputed++
	}
	if rec.StockQuantity, err = inventory.ParseInt(t.Get(row, inventory.ColStockQuantity)); err != nil {
		rec.StockQuantity = im.stockQuantity
		im.imputed++
	}
	if rec.UnitPrice, err = inventory.ParseDecimal(t.Get(row, inventory.ColUnitPrice)); err != nil {
		rec.UnitPrice = im.unitPrice
		im.imputed++
	}
	if rec.UnitsSold, err = inventory.ParseInt(t.Get(row, inventory.ColUnitsSold)); err != nil {
		rec.UnitsSold = im.unitsSold
		im.imputed++
	}
	if rec.ReorderLevel, err = inventory.ParseInt(t.Get(row, inventory.ColReorderLevel)); err != nil {
		rec.ReorderLevel = im.reorderLevel
		im.imputed++
	}

	return rec, nil
}

// columnMedianInt is the median over the parseable cells of a column
func columnMedianInt(t *dataset.Table, col string) int {
	var values []int
	for _, cell := range t.Column(col) {
		if v, err := inventory.ParseInt(cell); err == nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return 0
	}
	sort.Ints(values)
	return values[len(values)/2]
}

func columnMedianDecimal(t *dataset.Table, col string) decimal.Decimal {
	var values []decimal.Decimal
	for _, cell := range t.Column(col) {
		if v, err := inventory.ParseDecimal(cell); err == nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return decimal.Zero
	}
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })
	return values[len(values)/2]
}

// columnMode is the most frequent non-empty cell value; ties go to the
// value that reached the winning count first in file order
func columnMode(t *dataset.Table, col string) string {
	counts := make(map[string]int)
	best := ""
	bestCount := 0
	for _, cell := range t.Column(col) {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		counts[cell]++
		if counts[cell] > bestCount {
			best = cell
			bestCount = counts[cell]
		}
	}
	return best
}
