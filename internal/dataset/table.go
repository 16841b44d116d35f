// Package dataset provides the flat-file table layer shared by every
// pipeline stage: CSV files read into an in-memory header+rows table,
// transformed column-wise, and written back with full overwrite.
package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Table is an in-memory CSV table. Rows hold raw string cells; stages
// coerce types at the point of use.
type Table struct {
	Headers []string
	Rows    [][]string
}

// New creates an empty table with the given headers
func New(headers ...string) *Table {
	return &Table{Headers: headers}
}

// MissingColumnsError reports columns a stage required but the file lacks
type MissingColumnsError struct {
	Path    string
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: missing columns: %s", e.Path, strings.Join(e.Columns, ", "))
}

// Read loads a CSV file into a table, stripping a UTF-8 BOM if present
func Read(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = strings.TrimSpace(h)
	}

	t := &Table{Headers: headers}
	for _, rec := range records[1:] {
		// Normalize ragged rows to the header width
		row := make([]string, len(headers))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}

	return t, nil
}

// Write saves the table as UTF-8 CSV with a BOM so spreadsheet tools
// open it cleanly. Parent directories are created and an existing file
// is overwritten in full.
func (t *Table) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM to %s: %w", path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(t.Headers); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	for _, row := range t.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}

	return file.Sync()
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.Rows)
}

// Append adds a data row, padding or truncating to the header width
func (t *Table) Append(row ...string) {
	normalized := make([]string, len(t.Headers))
	copy(normalized, row)
	t.Rows = append(t.Rows, normalized)
}

// ColumnIndex returns the index of a named column, or -1
func (t *Table) ColumnIndex(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table carries the named column
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// RequireColumns returns a MissingColumnsError naming every absent column
func (t *Table) RequireColumns(path string, names ...string) error {
	var missing []string
	for _, name := range names {
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingColumnsError{Path: path, Columns: missing}
	}
	return nil
}

// Get returns the cell at (row, column name); empty string if absent
func (t *Table) Get(row int, name string) string {
	idx := t.ColumnIndex(name)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row]) {
		return ""
	}
	return t.Rows[row][idx]
}

// Set writes the cell at (row, column name); no-op if the column is absent
func (t *Table) Set(row int, name, value string) {
	idx := t.ColumnIndex(name)
	if idx < 0 || row < 0 || row >= len(t.Rows) {
		return
	}
	t.Rows[row][idx] = value
}

// AddColumn appends a column. A short values slice is padded with empties;
// adding an existing column overwrites it in place.
func (t *Table) AddColumn(name string, values []string) {
	if idx := t.ColumnIndex(name); idx >= 0 {
		for i := range t.Rows {
			v := ""
			if i < len(values) {
				v = values[i]
			}
			t.Rows[i][idx] = v
		}
		return
	}

	t.Headers = append(t.Headers, name)
	for i := range t.Rows {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		t.Rows[i] = append(t.Rows[i], v)
	}
}

// Column returns a copy of a column's values; nil if the column is absent
func (t *Table) Column(name string) []string {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	values := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		if idx < len(row) {
			values[i] = row[idx]
		}
	}
	return values
}

// Filter returns a new table keeping rows for which keep returns true
func (t *Table) Filter(keep func(row int) bool) *Table {
	out := &Table{Headers: append([]string(nil), t.Headers...)}
	for i := range t.Rows {
		if keep(i) {
			out.Rows = append(out.Rows, append([]string(nil), t.Rows[i]...))
		}
	}
	return out
}

// SortBy sorts rows in place by the given column using the less function
// over raw cell values. Rows missing the column sort first.
func (t *Table) SortBy(name string, less func(a, b string) bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return
	}
	sort.SliceStable(t.Rows, func(i, j int) bool {
		return less(t.Rows[i][idx], t.Rows[j][idx])
	})
}
