package inventory

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"invsight/internal/dataset"
)

// IsXLSX reports whether a filename looks like an Excel workbook
func IsXLSX(name string) bool {
	return strings.EqualFold(strings.TrimSpace(pathExt(name)), ".xlsx")
}

func pathExt(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx:]
	}
	return ""
}

// TableFromXLSX reads the first sheet of an Excel workbook into a
// table. Uploads from spreadsheet tools arrive as .xlsx more often
// than as clean CSV, so ingestion accepts both.
func TableFromXLSX(r io.Reader) (*dataset.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	t := &dataset.Table{Headers: headers}
	for _, row := range rows[1:] {
		t.Append(row...)
	}

	return t, nil
}
