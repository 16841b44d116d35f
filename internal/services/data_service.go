// Package services holds the application services behind the HTTP
// handlers: reading pipeline artifacts, running the pipeline, and
// reporting health.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"invsight/internal/config"
	"invsight/internal/dataset"
	"invsight/internal/inventory"
)

// DataService reads the pipeline output files and serves the dashboard
// views over them. It holds no state beyond paths; every call reads the
// current files so results always match the latest run.
type DataService struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewDataService creates a data service
func NewDataService(paths *config.Paths, logger *slog.Logger) *DataService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataService{
		paths:  paths,
		logger: logger.With(slog.String("component", "data_service")),
	}
}

// RiskScores returns the scored products from the latest run
func (ds *DataService) RiskScores(ctx context.Context) ([]inventory.RiskRecord, error) {
	table, err := dataset.Read(ds.paths.RiskScoresCSV)
	if err != nil {
		return nil, err
	}
	if err := table.RequireColumns(ds.paths.RiskScoresCSV,
		inventory.ColProductID,
		inventory.ColRiskScore,
		inventory.ColRiskLevel,
	); err != nil {
		return nil, err
	}

	records := make([]inventory.RiskRecord, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		score, err := inventory.ParseFloat(table.Get(i, inventory.ColRiskScore))
		if err != nil {
			return nil, fmt.Errorf("risk file row %d: %w", i+2, err)
		}
		records = append(records, inventory.RiskRecord{
			ProductID:   table.Get(i, inventory.ColProductID),
			ProductName: table.Get(i, inventory.ColProductName),
			Category:    table.Get(i, inventory.ColCategory),
			RiskScore:   score,
			RiskLevel:   table.Get(i, inventory.ColRiskLevel),
			ExpiryClass: table.Get(i, inventory.ColExpiryClass),
		})
	}
	return records, nil
}

// Recommendations returns the recommended actions from the latest run
func (ds *DataService) Recommendations(ctx context.Context) ([]inventory.Recommendation, error) {
	table, err := dataset.Read(ds.paths.RecommendationsCSV)
	if err != nil {
		return nil, err
	}
	if err := table.RequireColumns(ds.paths.RecommendationsCSV,
		inventory.ColProductID,
		inventory.ColAction,
	); err != nil {
		return nil, err
	}

	recs := make([]inventory.Recommendation, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		discount := decimal.Zero
		if cell := table.Get(i, inventory.ColDiscountPct); cell != "" {
			discount, err = inventory.ParseDecimal(cell)
			if err != nil {
				return nil, fmt.Errorf("recommendations file row %d: %w", i+2, err)
			}
		}
		forecastTotal := 0.0
		if cell := table.Get(i, inventory.ColForecastTotal); cell != "" {
			forecastTotal, err = inventory.ParseFloat(cell)
			if err != nil {
				return nil, fmt.Errorf("recommendations file row %d: %w", i+2, err)
			}
		}
		recs = append(recs, inventory.Recommendation{
			ProductID:     table.Get(i, inventory.ColProductID),
			ProductName:   table.Get(i, inventory.ColProductName),
			Category:      table.Get(i, inventory.ColCategory),
			RiskLevel:     table.Get(i, inventory.ColRiskLevel),
			ExpiryClass:   table.Get(i, inventory.ColExpiryClass),
			ForecastTotal: forecastTotal,
			Action:        table.Get(i, inventory.ColAction),
			DiscountPct:   discount,
		})
	}
	return recs, nil
}

// Forecasts returns forecast points, optionally filtered by product ID
func (ds *DataService) Forecasts(ctx context.Context, productID string) ([]inventory.ForecastPoint, error) {
	table, err := dataset.Read(ds.paths.ForecastCSV)
	if err != nil {
		return nil, err
	}
	if err := table.RequireColumns(ds.paths.ForecastCSV,
		inventory.ColProductID,
		inventory.ColDate,
		inventory.ColForecastQty,
	); err != nil {
		return nil, err
	}

	if productID != "" {
		all := table
		table = all.Filter(func(row int) bool {
			return all.Get(row, inventory.ColProductID) == productID
		})
	}

	points := make([]inventory.ForecastPoint, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		date, err := inventory.ParseDate(table.Get(i, inventory.ColDate))
		if err != nil {
			return nil, fmt.Errorf("forecast file row %d: %w", i+2, err)
		}
		qty, err := inventory.ParseFloat(table.Get(i, inventory.ColForecastQty))
		if err != nil {
			return nil, fmt.Errorf("forecast file row %d: %w", i+2, err)
		}
		points = append(points, inventory.ForecastPoint{
			ProductID:   table.Get(i, inventory.ColProductID),
			Date:        date,
			ForecastQty: qty,
		})
	}
	return points, nil
}

// RecommendationsPath returns the file served by the download endpoint
func (ds *DataService) RecommendationsPath() string {
	return ds.paths.RecommendationsCSV
}

// TopProduct is one entry in the stock-value leaderboard
type TopProduct struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Category    string `json:"category"`
	StockValue  string `json:"stock_value"`
	RiskLevel   string `json:"risk_level"`
}

// Summary aggregates the latest run for the dashboard landing page
type Summary struct {
	TotalProducts         int                       `json:"total_products"`
	TotalStockValue       string                    `json:"total_stock_value"`
	RiskLevels            map[string]int            `json:"risk_levels"`
	ExpiryClasses         map[string]int            `json:"expiry_classes"`
	Actions               map[string]int            `json:"actions"`
	ActionsByRisk         map[string]map[string]int `json:"actions_by_risk"`
	AvgDiscountByRisk     map[string]string         `json:"avg_discount_by_risk"`
	AvgDiscountByCategory map[string]string         `json:"avg_discount_by_category"`
	TopByStockValue       []TopProduct              `json:"top_by_stock_value"`
}

// discountAverager accumulates discount percentages per key
type discountAverager struct {
	sums   map[string]decimal.Decimal
	counts map[string]int
}

func newDiscountAverager() *discountAverager {
	return &discountAverager{
		sums:   make(map[string]decimal.Decimal),
		counts: make(map[string]int),
	}
}

func (a *discountAverager) add(key string, pct decimal.Decimal) {
	a.sums[key] = a.sums[key].Add(pct)
	a.counts[key]++
}

func (a *discountAverager) averages() map[string]string {
	out := make(map[string]string, len(a.sums))
	for key, sum := range a.sums {
		avg := sum.Div(decimal.NewFromInt(int64(a.counts[key]))).Round(2)
		out[key] = avg.String()
	}
	return out
}

// BuildSummary computes the dashboard summary from the output files
func (ds *DataService) BuildSummary(ctx context.Context) (*Summary, error) {
	processed, err := dataset.Read(ds.paths.ProcessedCSV)
	if err != nil {
		return nil, err
	}
	riskRecords, err := ds.RiskScores(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := ds.Recommendations(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalProducts: processed.Len(),
		RiskLevels:    make(map[string]int),
		ExpiryClasses: make(map[string]int),
		Actions:       make(map[string]int),
		ActionsByRisk: make(map[string]map[string]int),
	}

	riskByID := make(map[string]string, len(riskRecords))
	for _, rr := range riskRecords {
		summary.RiskLevels[rr.RiskLevel]++
		summary.ExpiryClasses[rr.ExpiryClass]++
		riskByID[rr.ProductID] = rr.RiskLevel
	}

	riskDiscounts := newDiscountAverager()
	categoryDiscounts := newDiscountAverager()
	for _, rec := range recs {
		summary.Actions[rec.Action]++
		if summary.ActionsByRisk[rec.RiskLevel] == nil {
			summary.ActionsByRisk[rec.RiskLevel] = make(map[string]int)
		}
		summary.ActionsByRisk[rec.RiskLevel][rec.Action]++
		if rec.Action == inventory.ActionDiscount {
			riskDiscounts.add(rec.RiskLevel, rec.DiscountPct)
			categoryDiscounts.add(rec.Category, rec.DiscountPct)
		}
	}
	summary.AvgDiscountByRisk = riskDiscounts.averages()
	summary.AvgDiscountByCategory = categoryDiscounts.averages()

	// Total stock value and top products by stock value
	type valued struct {
		product TopProduct
		value   decimal.Decimal
	}
	total := decimal.Zero
	products := make([]valued, 0, processed.Len())
	for i := 0; i < processed.Len(); i++ {
		cell := processed.Get(i, inventory.ColStockValue)
		value, err := inventory.ParseDecimal(cell)
		if err != nil {
			return nil, fmt.Errorf("processed file row %d: %w", i+2, err)
		}
		total = total.Add(value)
		id := processed.Get(i, inventory.ColProductID)
		products = append(products, valued{
			product: TopProduct{
				ProductID:   id,
				ProductName: processed.Get(i, inventory.ColProductName),
				Category:    processed.Get(i, inventory.ColCategory),
				StockValue:  value.StringFixed(2),
				RiskLevel:   riskByID[id],
			},
			value: value,
		})
	}
	summary.TotalStockValue = total.StringFixed(2)

	sort.SliceStable(products, func(a, b int) bool {
		return products[a].value.GreaterThan(products[b].value)
	})
	limit := 10
	if len(products) < limit {
		limit = len(products)
	}
	summary.TopByStockValue = make([]TopProduct, 0, limit)
	for _, p := range products[:limit] {
		summary.TopByStockValue = append(summary.TopByStockValue, p.product)
	}

	return summary, nil
}
