package exam

import (
	"reflect"
	"testing"
	"time"

	"github.com/rvu/rvu/internal/platform/ingest"
)

func TestExportTable(t *testing.T) {
	code := " CTHEAD "
	records := []EnrichedRecord{
		{
			RawRecord: RawRecord{
				Timestamp:   time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC),
				Description: "CT HEAD WO",
				Code:        &code,
				Value:       0.85,
			},
			Modality: ModalityCT,
			Regions:  NewRegions(RegionHeadNeck),
			ExamName: "CT Head/Neck",
		},
		{
			RawRecord: RawRecord{
				Timestamp:   time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
				Description: "XR CHEST",
				Value:       0.2,
			},
			Modality: ModalityRadiography,
			Regions:  NewRegions(RegionChest),
			ExamName: "XR Chest",
		},
	}

	tbl := ExportTable(records)
	if tbl.Index(ingest.ColTimestamp) != 0 || tbl.Index(ColExamName) != 6 {
		t.Fatalf("unexpected columns %v", tbl.Columns)
	}
	want := [][]string{
		{"2024-03-04 09:30:00", "CT HEAD WO", "CTHEAD", "0.85", "CT", "Head/Neck", "CT Head/Neck"},
		{"2024-03-04 10:00:00", "XR CHEST", "", "0.2", "Radiography", "Chest", "XR Chest"},
	}
	if !reflect.DeepEqual(tbl.Rows, want) {
		t.Errorf("expected %v, got %v", want, tbl.Rows)
	}
}
