package inventory

import (
	"fmt"

	"invsight/internal/dataset"
)

// Column names used across the pipeline files
const (
	ColProductID       = "Product_ID"
	ColProductName     = "Product_Name"
	ColCategory        = "Category"
	ColStockQuantity   = "Stock_Quantity"
	ColUnitPrice       = "Unit_Price"
	ColUnitsSold       = "Units_Sold"
	ColLastRestocked   = "Last_Restocked"
	ColExpiryDate      = "Expiry_Date"
	ColReorderLevel    = "Reorder_Level"
	ColDaysUntilExpiry = "Days_Until_Expiry"
	ColStockValue      = "Stock_Value"
	ColSalesVelocity   = "Sales_Velocity"
	ColExpiryClass     = "Expiry_Class"
	ColRiskScore       = "Risk_Score"
	ColRiskLevel       = "Risk_Level"
	ColAction          = "Predicted_Action"
	ColDiscountPct     = "Predicted_Discount_Percent"
	ColForecastTotal   = "Forecast_Total"
	ColDate            = "Date"
	ColForecastQty     = "Forecast_Quantity"
)

// RawColumns are the columns an uploaded inventory file must carry
var RawColumns = []string{
	ColProductID,
	ColProductName,
	ColCategory,
	ColStockQuantity,
	ColUnitPrice,
	ColUnitsSold,
	ColLastRestocked,
	ColExpiryDate,
	ColReorderLevel,
}

// ProcessedColumns are the columns the preprocessing stage writes
var ProcessedColumns = append(append([]string{}, RawColumns...),
	ColDaysUntilExpiry,
	ColStockValue,
	ColSalesVelocity,
	ColExpiryClass,
)

// RecordFromRow parses one processed-data row into a typed record.
// Derived columns that are absent stay zero-valued; the caller decides
// which columns are mandatory via RequireColumns.
func RecordFromRow(t *dataset.Table, row int) (Record, error) {
	var rec Record
	var err error

	rec.ProductID = t.Get(row, ColProductID)
	if rec.ProductID == "" {
		return rec, &RowError{Row: row, Column: ColProductID, Reason: "empty product id"}
	}
	rec.ProductName = t.Get(row, ColProductName)
	rec.Category = t.Get(row, ColCategory)

	if rec.StockQuantity, err = ParseInt(t.Get(row, ColStockQuantity)); err != nil {
		return rec, &RowError{Row: row, Column: ColStockQuantity, Reason: err.Error()}
	}
	if rec.UnitPrice, err = ParseDecimal(t.Get(row, ColUnitPrice)); err != nil {
		return rec, &RowError{Row: row, Column: ColUnitPrice, Reason: err.Error()}
	}
	if rec.UnitsSold, err = ParseInt(t.Get(row, ColUnitsSold)); err != nil {
		return rec, &RowError{Row: row, Column: ColUnitsSold, Reason: err.Error()}
	}
	if rec.LastRestocked, err = ParseDate(t.Get(row, ColLastRestocked)); err != nil {
		return rec, &RowError{Row: row, Column: ColLastRestocked, Reason: err.Error()}
	}
	if rec.ExpiryDate, err = ParseDate(t.Get(row, ColExpiryDate)); err != nil {
		return rec, &RowError{Row: row, Column: ColExpiryDate, Reason: err.Error()}
	}
	if rec.ReorderLevel, err = ParseInt(t.Get(row, ColReorderLevel)); err != nil {
		return rec, &RowError{Row: row, Column: ColReorderLevel, Reason: err.Error()}
	}

	if t.HasColumn(ColDaysUntilExpiry) {
		if rec.DaysUntilExpiry, err = ParseInt(t.Get(row, ColDaysUntilExpiry)); err != nil {
			return rec, &RowError{Row: row, Column: ColDaysUntilExpiry, Reason: err.Error()}
		}
	}
	if t.HasColumn(ColStockValue) {
		if rec.StockValue, err = ParseDecimal(t.Get(row, ColStockValue)); err != nil {
			return rec, &RowError{Row: row, Column: ColStockValue, Reason: err.Error()}
		}
	}
	if t.HasColumn(ColSalesVelocity) {
		if rec.SalesVelocity, err = ParseFloat(t.Get(row, ColSalesVelocity)); err != nil {
			return rec, &RowError{Row: row, Column: ColSalesVelocity, Reason: err.Error()}
		}
	}
	rec.ExpiryClass = t.Get(row, ColExpiryClass)

	return rec, nil
}

// RowError reports a malformed cell in an input file
type RowError struct {
	Row    int
	Column string
	Reason string
}

func (e *RowError) Error() string {
	// Row numbers in messages are 1-based and account for the header
	return fmt.Sprintf("row %d, column %s: %s", e.Row+2, e.Column, e.Reason)
}
