package exam

import (
	"context"
	"fmt"
	"runtime"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

type memoKey struct {
	version string
	hasCode bool
	code    string
	desc    string
}

type memoEntry struct {
	class Classification
	name  string
}

// Enricher attaches classifications and exam names to raw records. Results
// are memoized per (code present, code, description) in a bounded LRU owned
// by the enricher's rule-set version.
type Enricher struct {
	classifier *Classifier
	memo       *lru.Cache[memoKey, memoEntry]
	workers    int
}

// NewEnricher wraps a classifier. cacheSize <= 0 disables memoization and
// workers <= 0 uses GOMAXPROCS.
func NewEnricher(c *Classifier, cacheSize, workers int) (*Enricher, error) {
	if c == nil {
		c = NewClassifier(nil, "")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	e := &Enricher{classifier: c, workers: workers}
	if cacheSize > 0 {
		memo, err := lru.New[memoKey, memoEntry](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating classification cache: %w", err)
		}
		e.memo = memo
	}
	return e, nil
}

// Classifier returns the underlying classifier.
func (e *Enricher) Classifier() *Classifier { return e.classifier }

// Enrich classifies a single record.
func (e *Enricher) Enrich(r RawRecord) EnrichedRecord {
	code, hasCode := r.ProcedureCode()
	entry := e.lookup(hasCode, code, r.Description)
	return EnrichedRecord{
		RawRecord: r,
		Modality:  entry.class.Modality,
		Regions:   slices.Clone(entry.class.Regions),
		ExamName:  entry.name,
	}
}

// Explain classifies a (code, description) pair and returns the fired rules
// alongside the exam name.
func (e *Enricher) Explain(code *string, description string) (Classification, string) {
	var c string
	hasCode := false
	if code != nil {
		r := RawRecord{Code: code}
		c, hasCode = r.ProcedureCode()
	}
	entry := e.lookup(hasCode, c, description)
	class := entry.class
	class.Regions = slices.Clone(class.Regions)
	return class, entry.name
}

func (e *Enricher) lookup(hasCode bool, code, desc string) memoEntry {
	key := memoKey{version: e.classifier.rules.Version, hasCode: hasCode, code: code, desc: desc}
	if e.memo != nil {
		if v, ok := e.memo.Get(key); ok {
			return v
		}
	}

	var class Classification
	if hasCode {
		class = e.classifier.ClassifyByCode(code, desc)
	} else {
		class = e.classifier.ClassifyByDescription(desc)
	}
	entry := memoEntry{
		class: class,
		name:  e.classifier.ComposeExamName(class.Modality, class.Regions, desc),
	}
	if e.memo != nil {
		e.memo.Add(key, entry)
	}
	return entry
}

// EnrichBatch enriches records in parallel with a bounded number of workers.
// The result has the same length and order as the input.
func (e *Enricher) EnrichBatch(ctx context.Context, records []RawRecord) ([]EnrichedRecord, error) {
	out := make([]EnrichedRecord, len(records))
	if len(records) == 0 {
		return out, nil
	}

	chunk := (len(records) + e.workers - 1) / e.workers
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for start := 0; start < len(records); start += chunk {
		end := min(start+chunk, len(records))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%256 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				out[i] = e.Enrich(records[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("enriching batch: %w", err)
	}
	return out, nil
}
