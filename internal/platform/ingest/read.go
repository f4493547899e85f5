package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ps360HeaderRow is the zero-based header row of PS360 exports, which carry
// report metadata above the table.
const ps360HeaderRow = 8

const headerScanRows = 20

var multiSpace = regexp.MustCompile(`\s{2,}`)

// Read parses a named source, choosing the reader by file extension.
// Unknown extensions are treated as delimited text.
func Read(name string, r io.Reader) (*Table, error) {
	var (
		t   *Table
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		t, err = ReadXLSX(r)
	default:
		t, err = ReadDelimited(r)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	t.NormalizeColumns()
	return t, nil
}

// ReadDelimited parses comma, tab, semicolon or pipe separated text, or text
// aligned with runs of two or more spaces. The delimiter is sniffed from the
// header line.
func ReadDelimited(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	header := firstLine(data)
	if header == "" {
		return nil, fmt.Errorf("empty input")
	}

	delim, ok := sniffDelimiter(header)
	if !ok {
		return readAligned(data), nil
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing delimited text: %w", err)
	}
	return fromRecords(records, 0), nil
}

func firstLine(data []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return sc.Text()
		}
	}
	return ""
}

func sniffDelimiter(header string) (rune, bool) {
	best, bestCount := ',', 0
	for _, d := range []rune{',', '\t', ';', '|'} {
		if n := strings.Count(header, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, bestCount > 0
}

func readAligned(data []byte) *Table {
	var records [][]string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		records = append(records, multiSpace.Split(line, -1))
	}
	return fromRecords(records, 0)
}

// ReadXLSX parses the first worksheet of a workbook. The header row is the
// first of the leading rows that names at least two required columns, falling
// back to the PS360 offset and then to the first row. Columns with a blank
// header and fully empty rows are dropped.
func ReadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheets[0])
	}
	return fromRecords(rows, detectHeaderRow(rows)), nil
}

func detectHeaderRow(rows [][]string) int {
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		found := map[string]bool{}
		for _, cell := range rows[i] {
			found[CanonicalColumn(cell)] = true
		}
		n := 0
		for _, col := range RequiredColumns {
			if found[col] {
				n++
			}
		}
		if n >= 2 {
			return i
		}
	}
	if len(rows) > ps360HeaderRow {
		return ps360HeaderRow
	}
	return 0
}

// fromRecords builds a table whose header is records[headerRow]. Columns with
// a blank header are removed and blank rows skipped.
func fromRecords(records [][]string, headerRow int) *Table {
	if headerRow >= len(records) {
		return &Table{}
	}
	var keep []int
	t := &Table{}
	for i, h := range records[headerRow] {
		if strings.TrimSpace(h) == "" {
			continue
		}
		keep = append(keep, i)
		t.Columns = append(t.Columns, strings.TrimSpace(h))
	}
	for _, rec := range records[headerRow+1:] {
		if blankRow(rec) {
			continue
		}
		row := make([]string, len(keep))
		for j, i := range keep {
			if i < len(rec) {
				row[j] = rec[i]
			}
		}
		if blankRow(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}
