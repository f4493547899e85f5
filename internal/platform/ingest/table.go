package ingest

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical column names after normalization.
const (
	ColTimestamp   = "DICTATION DTTM"
	ColDescription = "EXAM DESC"
	ColValue       = "WRVU ESTIMATE"
	ColCode        = "EXAMCODE"
)

// RequiredColumns must be present after normalization.
var RequiredColumns = []string{ColTimestamp, ColDescription, ColValue}

// SchemaError reports every required column missing from a table.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing columns: %s", strings.Join(e.Missing, ", "))
}

// Table is a parsed tabular source: a header row and string cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of a column, or -1.
func (t *Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Cell returns row[col] or "" when the row is short.
func (t *Table) Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// CanonicalColumn maps a source header to its canonical name by
// case-insensitive substring. Unrecognized headers are returned trimmed.
func CanonicalColumn(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	out := strings.TrimSpace(name)
	if strings.Contains(k, "dttm") {
		out = ColTimestamp
	}
	if strings.Contains(k, "exam") && strings.Contains(k, "desc") {
		out = ColDescription
	}
	if strings.Contains(k, "wrvu") {
		out = ColValue
	}
	if strings.Contains(k, "examcode") || strings.Contains(k, "exam code") {
		out = ColCode
	}
	return out
}

// NormalizeColumns renames headers to their canonical names in place.
func (t *Table) NormalizeColumns() {
	for i, c := range t.Columns {
		t.Columns[i] = CanonicalColumn(c)
	}
}

// Validate returns a *SchemaError naming every required column that is absent.
func (t *Table) Validate() error {
	var missing []string
	for _, col := range RequiredColumns {
		if t.Index(col) < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &SchemaError{Missing: missing}
	}
	return nil
}

// Combine concatenates tables by column name. The result carries the union of
// columns in first-seen order; cells absent from a source are empty.
func Combine(tables ...*Table) *Table {
	out := &Table{}
	pos := map[string]int{}
	for _, t := range tables {
		for _, c := range t.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, t := range tables {
		for _, row := range t.Rows {
			merged := make([]string, len(out.Columns))
			for i, c := range t.Columns {
				merged[pos[c]] = t.Cell(row, i)
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
