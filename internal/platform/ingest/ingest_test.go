package ingest

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestCanonicalColumn(t *testing.T) {
	tests := map[string]string{
		"Dictation DTTM":   ColTimestamp,
		" dttm ":           ColTimestamp,
		"Exam Description": ColDescription,
		"EXAM DESC":        ColDescription,
		"wRVU Estimate":    ColValue,
		"ExamCode":         ColCode,
		"Exam Code":        ColCode,
		"Patient MRN":      "Patient MRN",
	}
	for in, want := range tests {
		if got := CanonicalColumn(in); got != want {
			t.Errorf("CanonicalColumn(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestReadDelimited_SniffsDelimiter(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"comma", "DICTATION DTTM,EXAM DESC,WRVU ESTIMATE\n2024-03-04 08:15,CT HEAD,0.85\n"},
		{"tab", "DICTATION DTTM\tEXAM DESC\tWRVU ESTIMATE\n2024-03-04 08:15\tCT HEAD\t0.85\n"},
		{"semicolon", "DICTATION DTTM;EXAM DESC;WRVU ESTIMATE\n2024-03-04 08:15;CT HEAD;0.85\n"},
		{"aligned", "DICTATION DTTM     EXAM DESC    WRVU ESTIMATE\n2024-03-04 08:15   CT HEAD      0.85\n"},
		{"bom and blank lines", "\xef\xbb\xbf\nDICTATION DTTM,EXAM DESC,WRVU ESTIMATE\n\n2024-03-04 08:15,CT HEAD,0.85\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := ReadDelimited(strings.NewReader(tt.in))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := []string{ColTimestamp, ColDescription, ColValue}
			if !reflect.DeepEqual(tbl.Columns, want) {
				t.Errorf("expected columns %v, got %v", want, tbl.Columns)
			}
			if len(tbl.Rows) != 1 || tbl.Rows[0][1] != "CT HEAD" {
				t.Errorf("unexpected rows %q", tbl.Rows)
			}
		})
	}
}

func TestReadDelimited_Empty(t *testing.T) {
	if _, err := ReadDelimited(strings.NewReader("  \n\n")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestRecords_SchemaErrorListsAllMissing(t *testing.T) {
	tbl := &Table{Columns: []string{"Patient"}, Rows: [][]string{{"x"}}}
	_, _, err := tbl.Records()
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
	want := []string{ColTimestamp, ColDescription, ColValue}
	if len(se.Missing) != 3 {
		t.Fatalf("expected 3 missing columns, got %v", se.Missing)
	}
	for _, col := range want {
		if !strings.Contains(se.Error(), col) {
			t.Errorf("error %q does not mention %s", se.Error(), col)
		}
	}
}

func TestRecords_DropsUnparseableRows(t *testing.T) {
	in := "Dictation DTTM,Exam Desc,wRVU,Exam Code\n" +
		"2024-03-04 08:15,CT HEAD,0.85,CTHEAD\n" +
		"not a date,XR CHEST,0.22,\n" +
		"2024-03-04 09:00,XR CHEST,n/a,\n" +
		"3/4/2024 10:30,US ABDOMEN,\"1,234.5\",  \n"
	tbl, err := Read("export.csv", strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recs, dropped, err := tbl.Records()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped rows, got %d", dropped)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Code == nil || *recs[0].Code != "CTHEAD" {
		t.Errorf("expected code CTHEAD, got %v", recs[0].Code)
	}
	if recs[1].Code != nil {
		t.Errorf("expected nil code for blank cell, got %q", *recs[1].Code)
	}
	if recs[1].Value != 1234.5 {
		t.Errorf("expected 1234.5, got %v", recs[1].Value)
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-03-04 08:15",
		"2024-03-04T08:15:00",
		"3/4/2024 08:15",
		"03/04/2024 8:15 AM",
		"3/4/24 8:15",
		"45355.34375",
	} {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): unexpected error %v", in, err)
			continue
		}
		if !got.Truncate(time.Minute).Equal(want) {
			t.Errorf("ParseTimestamp(%q): expected %v, got %v", in, want, got)
		}
	}
	for _, in := range []string{"", "   ", "yesterday", "-5"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Errorf("ParseTimestamp(%q): expected error", in)
		}
	}
}

func TestParseValue(t *testing.T) {
	if v, err := ParseValue(" 1.82 "); err != nil || v != 1.82 {
		t.Errorf("expected 1.82, got %v (%v)", v, err)
	}
	for _, in := range []string{"", "abc", "NaN", "Inf"} {
		if _, err := ParseValue(in); err == nil {
			t.Errorf("ParseValue(%q): expected error", in)
		}
	}
}

func TestCombine_UnionsColumns(t *testing.T) {
	a := &Table{Columns: []string{ColTimestamp, ColDescription, ColValue}, Rows: [][]string{{"t1", "CT HEAD", "1"}}}
	b := &Table{Columns: []string{ColDescription, ColTimestamp, ColValue, ColCode}, Rows: [][]string{{"XR CHEST", "t2", "2", "XRCH"}}}

	got := Combine(a, b)
	wantCols := []string{ColTimestamp, ColDescription, ColValue, ColCode}
	if !reflect.DeepEqual(got.Columns, wantCols) {
		t.Fatalf("expected %v, got %v", wantCols, got.Columns)
	}
	want := [][]string{
		{"t1", "CT HEAD", "1", ""},
		{"t2", "XR CHEST", "2", "XRCH"},
	}
	if !reflect.DeepEqual(got.Rows, want) {
		t.Errorf("expected %q, got %q", want, got.Rows)
	}
}

func ps360Workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	f.SetCellValue(sheet, "A1", "PowerScribe 360 Report")
	f.SetCellValue(sheet, "A2", "Generated 2024-03-05")
	f.SetSheetRow(sheet, "A9", &[]interface{}{"DICTATION DTTM", "", "EXAM DESC", "EXAMCODE", "WRVU ESTIMATE"})
	f.SetSheetRow(sheet, "A10", &[]interface{}{45355.34375, "", "CT HEAD WITHOUT CONTRAST", "CTHEAD", 0.85})
	f.SetSheetRow(sheet, "A11", &[]interface{}{"", "", "", "", ""})
	f.SetSheetRow(sheet, "A12", &[]interface{}{"2024-03-04 09:30", "", "XR CHEST 2 VIEWS", "", 0.22})

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("writing workbook: %v", err)
	}
	return buf.Bytes()
}

func TestReadXLSX_PS360(t *testing.T) {
	tbl, err := Read("report.xlsx", bytes.NewReader(ps360Workbook(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantCols := []string{ColTimestamp, ColDescription, ColCode, ColValue}
	if !reflect.DeepEqual(tbl.Columns, wantCols) {
		t.Fatalf("expected %v, got %v", wantCols, tbl.Columns)
	}
	if len(tbl.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %q", len(tbl.Rows), tbl.Rows)
	}

	recs, dropped, err := tbl.Records()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dropped != 0 || len(recs) != 2 {
		t.Fatalf("expected 2 records and no drops, got %d / %d", len(recs), dropped)
	}
	want := time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC)
	if !recs[0].Timestamp.Truncate(time.Minute).Equal(want) {
		t.Errorf("expected %v, got %v", want, recs[0].Timestamp)
	}
}

func TestDetectHeaderRow(t *testing.T) {
	rows := [][]string{{"title"}, {"EXAM DESC", "DTTM"}, {"x", "y"}}
	if got := detectHeaderRow(rows); got != 1 {
		t.Errorf("expected header row 1, got %d", got)
	}
	short := [][]string{{"a"}, {"b"}}
	if got := detectHeaderRow(short); got != 0 {
		t.Errorf("expected header row 0, got %d", got)
	}
}

func TestLoad_CombinesAndSorts(t *testing.T) {
	a := "DICTATION DTTM,EXAM DESC,WRVU ESTIMATE\n2024-03-04 12:00,CT HEAD,0.85\nbad,CT HEAD,0.85\n"
	b := "DICTATION DTTM\tEXAM DESC\tWRVU ESTIMATE\n2024-03-04 07:00\tXR CHEST\t0.22\n"

	batch, err := Load(
		Source{Name: "a.csv", Reader: strings.NewReader(a)},
		Source{Name: "b.tsv", Reader: strings.NewReader(b)},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch.Rows != 3 || batch.Dropped != 1 || len(batch.Records) != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if batch.Records[0].Description != "XR CHEST" {
		t.Errorf("expected records ordered by time, got %q first", batch.Records[0].Description)
	}
	if !reflect.DeepEqual(batch.Files, []string{"a.csv", "b.tsv"}) {
		t.Errorf("unexpected files %v", batch.Files)
	}
}

func TestLoad_SchemaError(t *testing.T) {
	_, err := Load(Source{Name: "x.csv", Reader: strings.NewReader("foo,bar\n1,2\n")})
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}
