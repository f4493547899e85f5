package exam

import (
	"strconv"

	"github.com/rvu/rvu/internal/platform/ingest"
)

// Export column names appended after the source columns.
const (
	ColModality = "Modality"
	ColBodyPart = "Body Part"
	ColExamName = "Exam Name"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// ExportTable lays enriched records out as a table with the canonical
// source columns followed by the derived ones.
func ExportTable(records []EnrichedRecord) *ingest.Table {
	t := &ingest.Table{
		Columns: []string{
			ingest.ColTimestamp, ingest.ColDescription, ingest.ColCode, ingest.ColValue,
			ColModality, ColBodyPart, ColExamName,
		},
		Rows: make([][]string, 0, len(records)),
	}
	for _, r := range records {
		code, _ := r.ProcedureCode()
		t.Rows = append(t.Rows, []string{
			r.Timestamp.Format(exportTimeLayout),
			r.Description,
			code,
			strconv.FormatFloat(r.Value, 'f', -1, 64),
			string(r.Modality),
			r.BodyPart(),
			r.ExamName,
		})
	}
	return t
}
