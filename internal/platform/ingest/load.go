package ingest

import (
	"io"
	"sort"
	"strings"
	"time"
)

// Record is one validated row. Code is nil when the source has no code column
// or the cell is blank.
type Record struct {
	Timestamp   time.Time
	Description string
	Code        *string
	Value       float64
}

// Records validates the schema once and converts rows. Rows whose timestamp
// or value cannot be parsed are dropped and counted.
func (t *Table) Records() ([]Record, int, error) {
	if err := t.Validate(); err != nil {
		return nil, 0, err
	}
	tsCol, descCol, valCol, codeCol := t.Index(ColTimestamp), t.Index(ColDescription), t.Index(ColValue), t.Index(ColCode)

	out := make([]Record, 0, len(t.Rows))
	dropped := 0
	for _, row := range t.Rows {
		ts, err := ParseTimestamp(t.Cell(row, tsCol))
		if err != nil {
			dropped++
			continue
		}
		val, err := ParseValue(t.Cell(row, valCol))
		if err != nil {
			dropped++
			continue
		}
		rec := Record{Timestamp: ts, Description: t.Cell(row, descCol), Value: val}
		if code := strings.TrimSpace(t.Cell(row, codeCol)); code != "" {
			rec.Code = &code
		}
		out = append(out, rec)
	}
	return out, dropped, nil
}

// Source is a named input such as an uploaded file.
type Source struct {
	Name   string
	Reader io.Reader
}

// Batch is the combined result of loading one or more sources.
type Batch struct {
	Files   []string
	Rows    int
	Dropped int
	Records []Record
}

// Load reads every source, combines them by column name and converts the
// rows. Records from several sources are ordered by timestamp.
func Load(sources ...Source) (*Batch, error) {
	tables := make([]*Table, 0, len(sources))
	b := &Batch{}
	for _, src := range sources {
		t, err := Read(src.Name, src.Reader)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
		b.Files = append(b.Files, src.Name)
	}

	combined := Combine(tables...)
	records, dropped, err := combined.Records()
	if err != nil {
		return nil, err
	}
	if len(sources) > 1 {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Timestamp.Before(records[j].Timestamp)
		})
	}
	b.Rows = len(combined.Rows)
	b.Dropped = dropped
	b.Records = records
	return b, nil
}
