package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Exams"

// CombineSources reads every source and merges them into one table ordered
// by dictation time. Rows whose timestamp cannot be parsed keep their
// relative order after the dated rows.
func CombineSources(sources ...Source) (*Table, error) {
	tables := make([]*Table, 0, len(sources))
	for _, src := range sources {
		t, err := Read(src.Name, src.Reader)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	out := Combine(tables...)
	col := out.Index(ColTimestamp)
	if col < 0 {
		return nil, &SchemaError{Missing: []string{ColTimestamp}}
	}

	type keyed struct {
		row []string
		ts  int64
		ok  bool
	}
	rows := make([]keyed, len(out.Rows))
	for i, row := range out.Rows {
		k := keyed{row: row}
		if ts, err := ParseTimestamp(out.Cell(row, col)); err == nil {
			k.ts, k.ok = ts.UnixNano(), true
		}
		rows[i] = k
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ok != rows[j].ok {
			return rows[i].ok
		}
		return rows[i].ok && rows[i].ts < rows[j].ts
	})
	for i, k := range rows {
		out.Rows[i] = k.row
	}
	return out, nil
}

// WriteCSV writes the header and every row as comma separated text.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	for _, row := range t.Rows {
		padded := make([]string, len(t.Columns))
		copy(padded, row)
		if err := cw.Write(padded); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the table to a single-sheet workbook with a bold,
// frozen header row.
func WriteXLSX(w io.Writer, t *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("opening stream writer: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freezing header: %w", err)
	}

	header := make([]interface{}, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = excelize.Cell{StyleID: bold, Value: c}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for r, row := range t.Rows {
		cells := make([]interface{}, len(t.Columns))
		for i := range t.Columns {
			cells[i] = t.Cell(row, i)
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, cells); err != nil {
			return fmt.Errorf("writing row %d: %w", r+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flushing sheet: %w", err)
	}
	_, err = f.WriteTo(w)
	return err
}
