package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invsight/internal/dataset"
)

func TestRiskLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0, RiskLow},
		{39.99, RiskLow},
		{40, RiskMedium},
		{69.99, RiskMedium},
		{70, RiskHigh},
		{100, RiskHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RiskLevelForScore(tt.score), "score %v", tt.score)
	}
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Spreadsheet exports often render integers as floats
	v, err = ParseInt("42.0")
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = ParseInt("")
	assert.Error(t, err)
	_, err = ParseInt("abc")
	assert.Error(t, err)
}

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, cell := range []string{"2025-03-15", "2025/03/15", "03/15/2025", "2025-03-15 00:00:00"} {
		got, err := ParseDate(cell)
		require.NoError(t, err, cell)
		assert.True(t, got.Equal(want), cell)
	}

	_, err := ParseDate("15th of March")
	assert.Error(t, err)
}

func TestRecordFromRow(t *testing.T) {
	table := dataset.New(RawColumns...)
	table.Append("P001", "Milk", "Dairy", "50", "2.50", "200", "2025-01-01", "2025-01-20", "20")

	rec, err := RecordFromRow(table, 0)
	require.NoError(t, err)
	assert.Equal(t, "P001", rec.ProductID)
	assert.Equal(t, 50, rec.StockQuantity)
	assert.Equal(t, "2.5", rec.UnitPrice.String())
	assert.Equal(t, 200, rec.UnitsSold)
	assert.Equal(t, 20, rec.ReorderLevel)
}

func TestRecordFromRowBadCell(t *testing.T) {
	table := dataset.New(RawColumns...)
	table.Append("P001", "Milk", "Dairy", "not-a-number", "2.50", "200", "2025-01-01", "2025-01-20", "20")

	_, err := RecordFromRow(table, 0)
	require.Error(t, err)
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, ColStockQuantity, rowErr.Column)
}

func TestRecordFromRowEmptyID(t *testing.T) {
	table := dataset.New(RawColumns...)
	table.Append("", "Milk", "Dairy", "50", "2.50", "200", "2025-01-01", "2025-01-20", "20")

	_, err := RecordFromRow(table, 0)
	require.Error(t, err)
}
