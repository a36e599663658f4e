package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultThreshold    = 0.7
	DefaultChunkSize    = 4096
	DefaultChunkOverlap = 256
	DefaultParallel     = 4

	// maxInferredConfidence keeps inferred candidates strictly below the
	// confidence reserved for coded data.
	maxInferredConfidence = 0.99
)

// EntityMethod is an inferential extraction strategy over free text.
type EntityMethod interface {
	Method() common.ExtractionMethod
	ExtractEntities(ctx context.Context, rec common.Record, text string) ([]common.Entity, error)
}

// EntityExtractor turns a clinical record into entity candidates. Coded
// fields are mapped directly, free text goes through the configured
// inferential methods.
type EntityExtractor struct {
	methods   []EntityMethod
	threshold float64
	chunkSize int
	overlap   int
	parallel  int
}

type EntityExtractorOption func(*EntityExtractor)

// WithEntityMethods replaces the inferential methods. Without any method
// only coded fields are extracted.
func WithEntityMethods(methods ...EntityMethod) EntityExtractorOption {
	return func(x *EntityExtractor) {
		x.methods = methods
	}
}

func WithEntityThreshold(threshold float64) EntityExtractorOption {
	return func(x *EntityExtractor) {
		x.threshold = common.ClampConfidence(threshold)
	}
}

// WithChunking sets the size and overlap in bytes used to segment long
// free text.
func WithChunking(size, overlap int) EntityExtractorOption {
	return func(x *EntityExtractor) {
		if size > 0 {
			x.chunkSize = size
		}
		if overlap >= 0 && overlap < x.chunkSize {
			x.overlap = overlap
		}
	}
}

func WithParallel(n int) EntityExtractorOption {
	return func(x *EntityExtractor) {
		if n > 0 {
			x.parallel = n
		}
	}
}

// NewEntityExtractor creates an extractor using the pattern method over the
// built-in lexicon unless WithEntityMethods says otherwise.
func NewEntityExtractor(opts ...EntityExtractorOption) *EntityExtractor {
	x := &EntityExtractor{
		methods:   []EntityMethod{NewPatternMethod(nil)},
		threshold: DefaultThreshold,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		parallel:  DefaultParallel,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(x)
	}
	return x
}

// ValidateRecord checks the fields every record needs to be placed in the
// graph.
func ValidateRecord(rec common.Record) error {
	switch {
	case strings.TrimSpace(rec.RecordID) == "":
		return &common.ExtractionError{Err: errors.New("missing record_id")}
	case strings.TrimSpace(rec.PatientID) == "":
		return &common.ExtractionError{RecordID: rec.RecordID, Err: errors.New("missing patient_id")}
	}
	return nil
}

// Extract returns the deduplicated entity candidates of rec. A record
// without any recognisable entity yields an empty slice and no error.
func (x *EntityExtractor) Extract(ctx context.Context, rec common.Record) ([]common.Entity, error) {
	if err := ValidateRecord(rec); err != nil {
		return nil, err
	}

	structured, fallback := x.extractStructured(rec)

	segments := make([]string, 0, len(rec.FreeText)+len(fallback))
	for _, s := range append(append([]string{}, rec.FreeText...), fallback...) {
		if strings.TrimSpace(s) != "" {
			segments = append(segments, s)
		}
	}

	inferred, err := x.extractFreeText(ctx, rec, segments)
	if err != nil {
		return nil, err
	}

	return dedupeEntities(append(structured, inferred...)), nil
}

// extractStructured maps coded fields to entities. Fields that cannot be
// mapped return their display text for free-text extraction instead.
func (x *EntityExtractor) extractStructured(rec common.Record) ([]common.Entity, []string) {
	entities := make([]common.Entity, 0, len(rec.CodedFields))
	var fallback []string

	for _, f := range rec.CodedFields {
		display := common.NormalizeText(f.Display)
		code := strings.TrimSpace(f.Code)
		t, ok := common.ParseEntityType(f.Type)

		text := display
		if text == "" {
			text = code
		}
		if !ok || text == "" {
			if display != "" {
				fallback = append(fallback, display)
			}
			logger.Debug("[Extract][Structured] Coded field falls back to free text",
				"record", rec.RecordID, "type", f.Type, "code", f.Code)
			continue
		}

		entities = append(entities, common.Entity{
			Text:             text,
			Type:             t,
			SourceRecordID:   rec.RecordID,
			PatientID:        rec.PatientID,
			EncounterID:      rec.EncounterID,
			CodedSystem:      strings.TrimSpace(f.System),
			CodedCode:        code,
			Confidence:       1.0,
			ExtractionMethod: common.MethodStructured,
		})
	}

	return entities, fallback
}

func (x *EntityExtractor) extractFreeText(
	ctx context.Context,
	rec common.Record,
	segments []string,
) ([]common.Entity, error) {
	if len(x.methods) == 0 || len(segments) == 0 {
		return nil, nil
	}

	var chunks []string
	for _, s := range segments {
		chunks = append(chunks, SplitText(s, x.chunkSize, x.overlap)...)
	}

	// one slot per (chunk, method) keeps the merge order deterministic
	results := make([][]common.Entity, len(chunks)*len(x.methods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.parallel)

	for ci, chunk := range chunks {
		for mi, method := range x.methods {
			slot := ci*len(x.methods) + mi
			g.Go(func() error {
				found, err := method.ExtractEntities(gctx, rec, chunk)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					logger.Warn("[Extract][FreeText] Method failed, continuing without it",
						"record", rec.RecordID, "method", method.Method(), "err", err)
					return nil
				}

				kept := make([]common.Entity, 0, len(found))
				for _, e := range found {
					e.Text = common.NormalizeText(e.Text)
					e.Confidence = min(common.ClampConfidence(e.Confidence), maxInferredConfidence)
					if e.Text == "" || e.Confidence < x.threshold {
						continue
					}
					e.SourceRecordID = rec.RecordID
					e.PatientID = rec.PatientID
					e.EncounterID = rec.EncounterID
					e.ExtractionMethod = method.Method()
					kept = append(kept, e)
				}

				results[slot] = kept
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("extract free text of record %s: %w", rec.RecordID, err)
	}

	var out []common.Entity
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// dedupeEntities keeps one entity per (text key, type): the one with the
// highest confidence, the earlier one on ties. Order of first appearance is
// preserved.
func dedupeEntities(entities []common.Entity) []common.Entity {
	index := make(map[common.EntityKey]int, len(entities))
	out := make([]common.Entity, 0, len(entities))
	for _, e := range entities {
		k := e.Key()
		if i, ok := index[k]; ok {
			if e.Confidence > out[i].Confidence {
				out[i] = e
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}
