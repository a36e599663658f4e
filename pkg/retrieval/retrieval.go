package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/embed"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
)

// Modality names one scorer of the retrieval engine.
type Modality string

const (
	ModalityVector Modality = "vector"
	ModalityText   Modality = "text"
	ModalityGraph  Modality = "graph"
)

// Hit is one entry of a ranked list. Rank is 1-based and Score is the raw
// score of the modality that produced it.
type Hit struct {
	Entity common.Entity
	Rank   int
	Score  float64
}

// RankedList is the output of one scorer together with its fusion weight.
type RankedList struct {
	Modality Modality
	Weight   float64
	Hits     []Hit
}

// Engine runs the vector, text and graph scorers over a GraphStorage.
type Engine struct {
	store    store.GraphStorage
	embedder embed.Embedder
}

// NewEngine creates an Engine. The embedder should be cache-backed; a nil
// embedder makes vector search unavailable.
func NewEngine(s store.GraphStorage, e embed.Embedder) *Engine {
	return &Engine{store: s, embedder: e}
}

func toHits(scored []store.ScoredEntity) []Hit {
	hits := make([]Hit, len(scored))
	for i, s := range scored {
		hits[i] = Hit{Entity: s.Entity, Rank: i + 1, Score: s.Score}
	}
	return hits
}

func unavailable(m Modality, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", common.ErrModalityUnavailable, m, err)
}

// VectorSearch embeds queryText and returns the k most similar entities.
// Entities with a non-positive cosine similarity are not matches and are
// dropped. Embedding or index failures are reported as ErrModalityUnavailable.
func (e *Engine) VectorSearch(ctx context.Context, queryText string, k int, scope common.Scope) ([]Hit, error) {
	if e.embedder == nil {
		return nil, unavailable(ModalityVector, errors.New("no embedder configured"))
	}
	vec, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		logger.Warn("[Retrieval][VectorSearch] Embedding failed", "err", err)
		return nil, unavailable(ModalityVector, err)
	}
	if len(vec) == 0 {
		return nil, unavailable(ModalityVector, errors.New("empty query embedding"))
	}

	scored, err := e.store.SearchByEmbedding(ctx, vec, k, scope)
	if err != nil {
		return nil, unavailable(ModalityVector, err)
	}
	matched := scored[:0]
	for _, s := range scored {
		if s.Score > 0 {
			matched = append(matched, s)
		}
	}
	logger.Debug("[Retrieval][VectorSearch] Done", "hits", len(matched))
	return toHits(matched), nil
}

// TextSearch returns the k entities best matching queryText lexically.
func (e *Engine) TextSearch(ctx context.Context, queryText string, k int, scope common.Scope, includeRecordText bool) ([]Hit, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	scored, err := e.store.SearchByText(ctx, queryText, k, store.TextSearchOptions{
		Scope:             scope,
		IncludeRecordText: includeRecordText,
	})
	if err != nil {
		return nil, unavailable(ModalityText, err)
	}
	logger.Debug("[Retrieval][TextSearch] Done", "hits", len(scored))
	return toHits(scored), nil
}
