package exam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rvu/rvu/internal/platform/db"
	"github.com/rvu/rvu/internal/platform/ingest"
)

var (
	// ErrNoInput is returned by Import when no sources were supplied.
	ErrNoInput = errors.New("no input files")
	// ErrInvalidInput wraps every ingestion failure, including
	// *ingest.SchemaError.
	ErrInvalidInput = errors.New("invalid input")
)

// ClassifyResult is the outcome of classifying a single exam.
type ClassifyResult struct {
	Modality Modality `json:"modality"`
	Regions  Regions  `json:"regions"`
	BodyPart string   `json:"body_part"`
	ExamName string   `json:"exam_name"`
	Contrast string   `json:"contrast,omitempty"`
	Rules    []string `json:"rules"`
}

// Service ties classification, ingestion and storage together. A nil
// repository disables storage; a nil tx runs batch inserts without an
// explicit transaction.
type Service struct {
	enricher *Enricher
	repo     Repository
	tx       db.TxBeginner
	logger   zerolog.Logger
}

func NewService(enricher *Enricher, repo Repository, tx db.TxBeginner, logger zerolog.Logger) *Service {
	return &Service{enricher: enricher, repo: repo, tx: tx, logger: logger}
}

// StorageEnabled reports whether imports are persisted.
func (s *Service) StorageEnabled() bool {
	return s.repo != nil
}

func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

func (s *Service) Classify(code *string, description string) ClassifyResult {
	class, name := s.enricher.Explain(code, description)
	return ClassifyResult{
		Modality: class.Modality,
		Regions:  class.Regions,
		BodyPart: class.Regions.String(),
		ExamName: name,
		Contrast: s.enricher.Classifier().ContrastPhrase(description),
		Rules:    []string{class.ModalityRule, class.RegionRule},
	}
}

func (s *Service) Enrich(ctx context.Context, records []RawRecord) ([]EnrichedRecord, error) {
	return s.enricher.EnrichBatch(ctx, records)
}

// Import loads the sources as one batch, enriches every valid row and, when
// storage is enabled, persists the batch in a single transaction. Records
// are returned when includeRecords is set or storage is disabled.
func (s *Service) Import(ctx context.Context, sources []ingest.Source, includeRecords bool) (*ImportResult, error) {
	if len(sources) == 0 {
		return nil, ErrNoInput
	}
	start := time.Now()

	batch, err := ingest.Load(sources...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	raw := make([]RawRecord, len(batch.Records))
	for i, r := range batch.Records {
		raw[i] = RawRecord{Timestamp: r.Timestamp, Description: r.Description, Code: r.Code, Value: r.Value}
	}
	enriched, err := s.enricher.EnrichBatch(ctx, raw)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{
		ImportID: uuid.New(),
		Files:    batch.Files,
		Rows:     batch.Rows,
		Dropped:  batch.Dropped,
	}

	if s.repo != nil && len(enriched) > 0 {
		exams := make([]*StoredExam, len(enriched))
		for i, e := range enriched {
			exams[i] = NewStoredExam(result.ImportID, e)
		}
		store := func(ctx context.Context) error {
			n, err := s.repo.CreateBatch(ctx, exams)
			result.Stored = n
			return err
		}
		if s.tx != nil {
			err = db.InTx(ctx, s.tx, store)
		} else {
			err = store(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("store import %s: %w", result.ImportID, err)
		}
	}

	if includeRecords || s.repo == nil {
		result.Records = enriched
	}

	s.log(ctx).Info().
		Str("import_id", result.ImportID.String()).
		Strs("files", result.Files).
		Int("rows", result.Rows).
		Int("dropped", result.Dropped).
		Int("stored", result.Stored).
		Dur("elapsed", time.Since(start)).
		Msg("import complete")

	return result, nil
}

func (s *Service) List(ctx context.Context, filter ExamFilter, limit, offset int) ([]*StoredExam, int, error) {
	if s.repo == nil {
		return nil, 0, ErrNoStore
	}
	return s.repo.List(ctx, filter, limit, offset)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*StoredExam, error) {
	if s.repo == nil {
		return nil, ErrNoStore
	}
	return s.repo.GetByID(ctx, id)
}

// Rules describes the active rule tables in evaluation order.
func (s *Service) Rules() []RuleInfo {
	return s.enricher.Classifier().Rules().Describe()
}

// ContrastPolicy returns the policy used when composing exam names.
func (s *Service) ContrastPolicy() ContrastPolicy {
	return s.enricher.Classifier().Policy()
}

// RulesVersion returns the version of the active rule set.
func (s *Service) RulesVersion() string {
	return s.enricher.Classifier().Rules().Version
}
