package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
)

const maxSnippetRunes = 240

// RelationMethod is an inferential relationship extraction strategy over
// free text. Endpoints are returned as entity keys.
type RelationMethod interface {
	Method() common.ExtractionMethod
	ExtractRelationships(
		ctx context.Context,
		rec common.Record,
		text string,
		entities []common.Entity,
	) ([]common.Relationship, error)
}

// Rule derives a relationship between two coded entities of one record.
type Rule struct {
	Source common.EntityType
	Target common.EntityType
	Type   common.RelationshipType
}

// DefaultRules are the associations implied by co-occurring coded data.
var DefaultRules = []Rule{
	{Source: common.EntityMedication, Target: common.EntityCondition, Type: common.RelTreats},
	{Source: common.EntityProcedure, Target: common.EntityCondition, Type: common.RelTreats},
	{Source: common.EntityCondition, Target: common.EntitySymptom, Type: common.RelCauses},
}

// RelationshipExtractor proposes relationships between the entities of one
// record.
type RelationshipExtractor struct {
	rules     []Rule
	methods   []RelationMethod
	threshold float64
	chunkSize int
	overlap   int
}

type RelationshipExtractorOption func(*RelationshipExtractor)

func WithRules(rules ...Rule) RelationshipExtractorOption {
	return func(x *RelationshipExtractor) {
		x.rules = rules
	}
}

func WithRelationMethods(methods ...RelationMethod) RelationshipExtractorOption {
	return func(x *RelationshipExtractor) {
		x.methods = methods
	}
}

func WithRelationThreshold(threshold float64) RelationshipExtractorOption {
	return func(x *RelationshipExtractor) {
		x.threshold = common.ClampConfidence(threshold)
	}
}

// NewRelationshipExtractor uses DefaultRules and the pattern method unless
// configured otherwise.
func NewRelationshipExtractor(opts ...RelationshipExtractorOption) *RelationshipExtractor {
	x := &RelationshipExtractor{
		rules:     DefaultRules,
		methods:   []RelationMethod{NewPatternRelationMethod()},
		threshold: DefaultThreshold,
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(x)
	}
	return x
}

// Extract returns the relationships among entities, which must all stem
// from rec. Self-loops, unknown endpoints and inferred candidates below the
// threshold are dropped. Symmetric types come back as two directed rows.
func (x *RelationshipExtractor) Extract(
	ctx context.Context,
	rec common.Record,
	entities []common.Entity,
) ([]common.Relationship, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	known := make(map[common.EntityKey]bool, len(entities))
	for _, e := range entities {
		known[e.Key()] = true
	}

	candidates := x.applyRules(entities)

	for _, text := range rec.FreeText {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, chunk := range SplitText(text, x.chunkSize, x.overlap) {
			for _, method := range x.methods {
				found, err := method.ExtractRelationships(ctx, rec, chunk, entities)
				if err != nil {
					if ctx.Err() != nil {
						return nil, fmt.Errorf("extract relationships of record %s: %w", rec.RecordID, ctx.Err())
					}
					logger.Warn("[Extract][Relationships] Method failed, continuing without it",
						"record", rec.RecordID, "method", method.Method(), "err", err)
					continue
				}
				for _, r := range found {
					r.ExtractionMethod = method.Method()
					r.Confidence = min(common.ClampConfidence(r.Confidence), maxInferredConfidence)
					if r.Confidence < x.threshold {
						continue
					}
					candidates = append(candidates, r)
				}
			}
		}
	}

	out := make([]common.Relationship, 0, len(candidates))
	index := make(map[relKey]int, len(candidates))
	add := func(r common.Relationship) {
		k := relKey{r.SourceKey, r.TargetKey, r.Type}
		if i, ok := index[k]; ok {
			if r.Confidence > out[i].Confidence {
				out[i] = r
			}
			return
		}
		index[k] = len(out)
		out = append(out, r)
	}

	for _, r := range candidates {
		if r.SourceKey == r.TargetKey || !known[r.SourceKey] || !known[r.TargetKey] {
			continue
		}
		r.SourceRecordID = rec.RecordID
		r.PatientID = rec.PatientID
		r.ContextSnippet = util.TruncateRunes(common.NormalizeText(r.ContextSnippet), maxSnippetRunes)
		add(r)
		if r.Type.Symmetric() {
			r.SourceKey, r.TargetKey = r.TargetKey, r.SourceKey
			add(r)
		}
	}
	return out, nil
}

type relKey struct {
	source common.EntityKey
	target common.EntityKey
	rtype  common.RelationshipType
}

func (x *RelationshipExtractor) applyRules(entities []common.Entity) []common.Relationship {
	var out []common.Relationship
	for _, rule := range x.rules {
		for _, src := range entities {
			if src.ExtractionMethod != common.MethodStructured || src.Type != rule.Source {
				continue
			}
			for _, tgt := range entities {
				if tgt.ExtractionMethod != common.MethodStructured || tgt.Type != rule.Target {
					continue
				}
				out = append(out, common.Relationship{
					SourceKey:        src.Key(),
					TargetKey:        tgt.Key(),
					Type:             rule.Type,
					Confidence:       1.0,
					ContextSnippet:   fmt.Sprintf("coded %s and %s in the same record", strings.ToLower(string(src.Type)), strings.ToLower(string(tgt.Type))),
					ExtractionMethod: common.MethodStructured,
				})
			}
		}
	}
	return out
}
