// Package inventory defines the domain records flowing through the
// analytics pipeline and the parsing rules that turn raw CSV cells
// into typed values.
package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical date format in all inventory files
const DateLayout = "2006-01-02"

// Expiry classes assigned by the classifier
const (
	ClassExpired    = "Expired"
	ClassNearExpiry = "Near_Expiry"
	ClassSafe       = "Safe"
)

// Risk levels derived from the composite risk score
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// Recommended actions emitted by the recommendation stage
const (
	ActionRemove   = "Remove"
	ActionDiscount = "Discount"
	ActionRestock  = "Restock"
	ActionMonitor  = "Monitor"
)

// Risk score thresholds. Scores at or above the high threshold map to
// High, at or above the medium threshold to Medium, everything else to
// Low.
const (
	RiskHighThreshold   = 70.0
	RiskMediumThreshold = 40.0
)

// RiskLevelForScore maps a composite risk score onto a risk level
func RiskLevelForScore(score float64) string {
	switch {
	case score >= RiskHighThreshold:
		return RiskHigh
	case score >= RiskMediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Record is one inventory line item after preprocessing. Monetary
// amounts use decimals so derived values round the same way on every
// run.
type Record struct {
	ProductID       string
	ProductName     string
	Category        string
	StockQuantity   int
	UnitPrice       decimal.Decimal
	UnitsSold       int
	LastRestocked   time.Time
	ExpiryDate      time.Time
	ReorderLevel    int
	DaysUntilExpiry int
	StockValue      decimal.Decimal
	SalesVelocity   float64
	ExpiryClass     string
}

// ForecastPoint is one forecasted day of demand for a product
type ForecastPoint struct {
	ProductID   string    `json:"product_id"`
	Date        time.Time `json:"date"`
	ForecastQty float64   `json:"forecast_quantity"`
}

// RiskRecord is the scored output for one product
type RiskRecord struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Category    string  `json:"category"`
	RiskScore   float64 `json:"risk_score"`
	RiskLevel   string  `json:"risk_level"`
	ExpiryClass string  `json:"expiry_class"`
}

// Recommendation pairs a risk record with a suggested action. The
// forecast total is the summed forecast demand over the horizon, zero
// when the product has no forecast.
type Recommendation struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Category      string          `json:"category"`
	RiskLevel     string          `json:"risk_level"`
	ExpiryClass   string          `json:"expiry_class"`
	ForecastTotal float64         `json:"forecast_total"`
	Action        string          `json:"action"`
	DiscountPct   decimal.Decimal `json:"discount_pct"`
}

// ParseInt parses an integer cell, tolerating surrounding whitespace
// and a trailing ".0" from spreadsheet exports
func ParseInt(cell string) (int, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, fmt.Errorf("empty integer cell")
	}
	s = strings.TrimSuffix(s, ".0")
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("invalid integer %q", cell)
		}
		return int(f), nil
	}
	return v, nil
}

// ParseFloat parses a float cell
func ParseFloat(cell string) (float64, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return 0, fmt.Errorf("empty numeric cell")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", cell)
	}
	return v, nil
}

// ParseDecimal parses a monetary cell into a decimal
func ParseDecimal(cell string) (decimal.Decimal, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty decimal cell")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal %q", cell)
	}
	return d, nil
}

// ParseDate parses a date cell. Accepts the canonical layout plus the
// slash and timestamp variants spreadsheet tools produce.
func ParseDate(cell string) (time.Time, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date cell")
	}
	layouts := []string{
		DateLayout,
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", cell)
}

// FormatScore renders a risk score with two decimal places
func FormatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
