package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	gUtil "github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/embed"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/extract"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/terminology"

	"golang.org/x/sync/errgroup"
)

// maxContextTerms caps the record words handed to the normalizer for
// abbreviation disambiguation.
const maxContextTerms = 256

// ProcessResult describes one persisted record graph.
type ProcessResult struct {
	RecordID        string
	Entities        int
	Relationships   int
	Unnormalized    int
	EmbeddingFailed bool
	Saved           store.SaveResult
}

// BatchResult aggregates ProcessRecords.
type BatchResult struct {
	Processed     int
	Entities      int
	Relationships int
	Skipped       []string
}

// ProcessRecord extracts, normalizes, embeds and relates the entities of rec
// and persists them as one record graph. Malformed records fail with an
// error wrapping common.ErrExtractionFailure and leave the store untouched.
// Terminology and embedding outages never block persistence: affected
// entities are stored with needs_normalization set or without an embedding.
func (g *GraphClient) ProcessRecord(ctx context.Context, rec common.Record) (ProcessResult, error) {
	if err := extract.ValidateRecord(rec); err != nil {
		return ProcessResult{}, err
	}

	entities, err := g.entities.Extract(ctx, rec)
	if err != nil {
		return ProcessResult{}, err
	}

	res := ProcessResult{RecordID: rec.RecordID, Entities: len(entities)}

	unnormalized, err := g.normalize(ctx, rec, entities)
	if err != nil {
		return ProcessResult{}, err
	}
	res.Unnormalized = unnormalized

	if err := g.embed(ctx, entities); err != nil {
		if ctx.Err() != nil {
			return ProcessResult{}, ctx.Err()
		}
		res.EmbeddingFailed = true
		logger.Warn("[Graph][ProcessRecord] Embedding failed, storing entities without embeddings", "record", rec.RecordID, "err", err)
	}

	relations, err := g.relations.Extract(ctx, rec, entities)
	if err != nil {
		return ProcessResult{}, err
	}
	res.Relationships = len(relations)

	saved, err := g.store.SaveRecordGraph(ctx, common.RecordGraph{
		Record:        rec,
		Entities:      entities,
		Relationships: relations,
	})
	if err != nil {
		return ProcessResult{}, fmt.Errorf("failed to save record graph %s: %w", rec.RecordID, err)
	}
	res.Saved = saved

	logger.Info("[Graph][ProcessRecord] Record processed",
		"record", rec.RecordID,
		"entities", res.Entities,
		"relationships", res.Relationships,
		"unnormalized", res.Unnormalized,
	)
	return res, nil
}

// ProcessRecords processes recs in parallel. Records that fail extraction
// are logged and skipped; any other error aborts the batch.
func (g *GraphClient) ProcessRecords(ctx context.Context, recs []common.Record) (BatchResult, error) {
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelRecords)
	mutex := sync.Mutex{}

	logger.Info("[Graph][ProcessRecords] Processing", "total_records", len(recs))

	var out BatchResult
	for _, rec := range recs {
		eg.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
			}

			res, err := g.ProcessRecord(gCtx, rec)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				if errors.Is(err, common.ErrExtractionFailure) {
					logger.Warn("[Graph][ProcessRecords] Skipping record", "record", rec.RecordID, "err", err)
					out.Skipped = append(out.Skipped, rec.RecordID)
					return nil
				}
				return err
			}
			out.Processed++
			out.Entities += res.Entities
			out.Relationships += res.Relationships
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return out, fmt.Errorf("failed to process records: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	sort.Strings(out.Skipped)

	logger.Info("[Graph][ProcessRecords] Records processed", "processed", out.Processed, "skipped", len(out.Skipped))
	return out, nil
}

// normalize resolves every entity in place with bounded parallelism and
// returns how many could not be resolved because the terminology service
// failed.
func (g *GraphClient) normalize(ctx context.Context, rec common.Record, entities []common.Entity) (int, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	types := make([]common.EntityType, 0, len(entities))
	seen := make(map[common.EntityType]bool)
	for _, e := range entities {
		if !seen[e.Type] {
			seen[e.Type] = true
			types = append(types, e.Type)
		}
	}
	terms := contextTerms(rec)

	var failed atomic.Int64
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelAiRequests)
	for i := range entities {
		eg.Go(func() error {
			e := &entities[i]
			concept, ok, err := g.normalizer.Normalize(gCtx, terminology.Mention{
				System:       e.CodedSystem,
				Code:         e.CodedCode,
				Text:         e.Text,
				Type:         e.Type,
				Context:      types,
				ContextTerms: terms,
			})
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				failed.Add(1)
				e.NeedsNormalization = true
				logger.Debug("[Graph][Normalize] Lookup failed", "record", rec.RecordID, "text", e.Text, "err", err)
				return nil
			}
			if ok {
				e.CanonicalConceptID = concept.ID
				e.CanonicalCategory = concept.Category
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}

	if n := failed.Load(); n > 0 {
		logger.Warn("[Graph][Normalize] Terminology unavailable, entities flagged for reconciliation", "record", rec.RecordID, "count", n)
	}
	return int(failed.Load()), nil
}

// embed fills in the embedding of every entity. On error no entity is
// changed.
func (g *GraphClient) embed(ctx context.Context, entities []common.Entity) error {
	if g.embedder == nil || len(entities) == 0 {
		return nil
	}
	texts := make([]string, len(entities))
	for i, e := range entities {
		texts[i] = e.Text
	}

	vecs, err := gUtil.RetryWithContext(ctx, g.maxRetries, func(ctx context.Context) ([][]float32, error) {
		return embed.EmbedAll(ctx, g.embedder, texts, g.parallelAiRequests)
	})
	if err != nil {
		return err
	}
	for i := range entities {
		entities[i].Embedding = vecs[i]
	}
	return nil
}

func contextTerms(rec common.Record) []string {
	words := strings.FieldsFunc(strings.ToLower(rec.Text()), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := store.DedupeStrings(words)
	if len(terms) > maxContextTerms {
		terms = terms[:maxContextTerms]
	}
	return terms
}
