package exam

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Modality is the imaging or procedure technology assigned to an exam.
type Modality string

const (
	ModalityCT                   Modality = "CT"
	ModalityCTA                  Modality = "CTA"
	ModalityCTV                  Modality = "CTV"
	ModalityMRI                  Modality = "MRI"
	ModalityMRA                  Modality = "MRA"
	ModalityMRV                  Modality = "MRV"
	ModalityRadiography          Modality = "Radiography"
	ModalityFluoroscopy          Modality = "Fluoroscopy"
	ModalityFluoroscopyDynamic   Modality = "Fluoroscopy - Dynamic"
	ModalityFluoroscopyGuidance  Modality = "Fluoroscopy Guidance"
	ModalityNuclearMedicine      Modality = "Nuclear Medicine"
	ModalityPET                  Modality = "PET"
	ModalityPETCT                Modality = "PET/CT"
	ModalityUS                   Modality = "US"
	ModalityUSDuplex             Modality = "US - Duplex"
	ModalityUSObstetrical        Modality = "US - Obstetrical"
	ModalityUSProcedure          Modality = "US Procedure"
	ModalityMammography          Modality = "Mammography"
	ModalityMammographyProcedure Modality = "Mammography Procedure"
	ModalityEchocardiography     Modality = "Echocardiography"
	ModalityInvasive             Modality = "Invasive"
	ModalityOther                Modality = "Other"
)

// Modalities lists every modality label the classifier can produce.
var Modalities = []Modality{
	ModalityCT, ModalityCTA, ModalityCTV,
	ModalityMRI, ModalityMRA, ModalityMRV,
	ModalityRadiography,
	ModalityFluoroscopy, ModalityFluoroscopyDynamic, ModalityFluoroscopyGuidance,
	ModalityNuclearMedicine, ModalityPET, ModalityPETCT,
	ModalityUS, ModalityUSDuplex, ModalityUSObstetrical, ModalityUSProcedure,
	ModalityMammography, ModalityMammographyProcedure,
	ModalityEchocardiography, ModalityInvasive, ModalityOther,
}

// IsAngio reports whether the modality is an angiography or venography study.
func (m Modality) IsAngio() bool {
	switch m {
	case ModalityCTA, ModalityCTV, ModalityMRA, ModalityMRV:
		return true
	}
	return false
}

// Valid reports whether m is one of the known modality labels.
func (m Modality) Valid() bool {
	for _, known := range Modalities {
		if m == known {
			return true
		}
	}
	return false
}

// BodyRegion is a standardized anatomical label.
type BodyRegion string

const (
	RegionHeadNeck       BodyRegion = "Head/Neck"
	RegionChest          BodyRegion = "Chest"
	RegionAbdomen        BodyRegion = "Abdomen"
	RegionPelvis         BodyRegion = "Pelvis"
	RegionSpine          BodyRegion = "Spine"
	RegionUpperExtremity BodyRegion = "Upper Extremity"
	RegionLowerExtremity BodyRegion = "Lower Extremity"
	RegionBreast         BodyRegion = "Breast"
	RegionRenal          BodyRegion = "Renal"
	RegionCardiac        BodyRegion = "Cardiac"
	RegionVascular       BodyRegion = "Vascular"
	RegionLiver          BodyRegion = "Liver"
	RegionSpleen         BodyRegion = "Spleen"
	RegionStomach        BodyRegion = "Stomach"
	RegionWholeBody      BodyRegion = "Whole Body"
	RegionUnknown        BodyRegion = "Unknown"
)

// BodyRegions lists every region label the classifier can produce.
var BodyRegions = []BodyRegion{
	RegionHeadNeck, RegionChest, RegionAbdomen, RegionPelvis, RegionSpine,
	RegionUpperExtremity, RegionLowerExtremity, RegionBreast, RegionRenal,
	RegionCardiac, RegionVascular, RegionLiver, RegionSpleen, RegionStomach,
	RegionWholeBody, RegionUnknown,
}

// Valid reports whether r is one of the known region labels.
func (r BodyRegion) Valid() bool {
	for _, known := range BodyRegions {
		if r == known {
			return true
		}
	}
	return false
}

// Regions is an ordered set of body regions. The zero value is unresolved.
type Regions []BodyRegion

// NewRegions builds a Regions value, dropping duplicates while keeping the
// first-seen order.
func NewRegions(candidates ...BodyRegion) Regions {
	seen := make(map[BodyRegion]bool, len(candidates))
	out := make(Regions, 0, len(candidates))
	for _, r := range candidates {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// Unknown reports whether no region was resolved.
func (rs Regions) Unknown() bool {
	return len(rs) == 0 || (len(rs) == 1 && rs[0] == RegionUnknown)
}

// Contains reports whether r is part of the set.
func (rs Regions) Contains(r BodyRegion) bool {
	for _, have := range rs {
		if have == r {
			return true
		}
	}
	return false
}

// String renders the set as a comma separated label, e.g. "Chest, Abdomen, Pelvis".
func (rs Regions) String() string {
	if rs.Unknown() {
		return string(RegionUnknown)
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}

// Strings returns the region labels as plain strings.
func (rs Regions) Strings() []string {
	if rs.Unknown() {
		return []string{string(RegionUnknown)}
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

// RawRecord is a single dictated exam as delivered by ingestion.
// Code is nil when the source had no procedure code for the row.
type RawRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Code        *string   `json:"code,omitempty"`
	Value       float64   `json:"value"`
}

// ProcedureCode returns the trimmed code and whether one is present.
func (r RawRecord) ProcedureCode() (string, bool) {
	if r.Code == nil {
		return "", false
	}
	code := strings.TrimSpace(*r.Code)
	return code, code != ""
}

// Classification is the taxonomy assigned to a (code, description) pair,
// together with the IDs of the rules that produced it.
type Classification struct {
	Modality     Modality `json:"modality"`
	Regions      Regions  `json:"regions"`
	ModalityRule string   `json:"modality_rule"`
	RegionRule   string   `json:"region_rule"`
}

// EnrichedRecord is a RawRecord plus its classification and exam name.
type EnrichedRecord struct {
	RawRecord
	Modality Modality `json:"modality"`
	Regions  Regions  `json:"regions"`
	ExamName string   `json:"exam_name"`
}

// BodyPart returns the joined region label.
func (e EnrichedRecord) BodyPart() string { return e.Regions.String() }

// StoredExam maps to the exam_record table.
type StoredExam struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ImportID    uuid.UUID `db:"import_id" json:"import_id"`
	DictatedAt  time.Time `db:"dictated_at" json:"dictated_at"`
	Description string    `db:"description" json:"description"`
	ExamCode    *string   `db:"exam_code" json:"exam_code,omitempty"`
	WRVU        float64   `db:"wrvu" json:"wrvu"`
	Modality    string    `db:"modality" json:"modality"`
	BodyRegions []string  `db:"body_regions" json:"body_regions"`
	BodyPart    string    `db:"body_part" json:"body_part"`
	ExamName    string    `db:"exam_name" json:"exam_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// NewStoredExam flattens an enriched record for persistence.
func NewStoredExam(importID uuid.UUID, e EnrichedRecord) *StoredExam {
	return &StoredExam{
		ImportID:    importID,
		DictatedAt:  e.Timestamp,
		Description: e.Description,
		ExamCode:    e.Code,
		WRVU:        e.Value,
		Modality:    string(e.Modality),
		BodyRegions: e.Regions.Strings(),
		BodyPart:    e.BodyPart(),
		ExamName:    e.ExamName,
	}
}

// ExamFilter narrows a stored exam listing. Zero fields are ignored.
type ExamFilter struct {
	Modality string
	BodyPart string
	From     *time.Time
	To       *time.Time
	Hour     *int
	Weekday  *time.Weekday
	ImportID *uuid.UUID
}

// ImportResult summarizes a batch import.
type ImportResult struct {
	ImportID uuid.UUID        `json:"import_id"`
	Files    []string         `json:"files"`
	Rows     int              `json:"rows"`
	Dropped  int              `json:"dropped"`
	Stored   int              `json:"stored"`
	Records  []EnrichedRecord `json:"records,omitempty"`
}
