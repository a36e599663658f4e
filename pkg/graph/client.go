package graph

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/embed"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/extract"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/terminology"
)

// Normalizer resolves an entity mention to a canonical concept.
// terminology.Normalizer is the production implementation.
type Normalizer interface {
	Normalize(ctx context.Context, m terminology.Mention) (common.Concept, bool, error)
}

// GraphClient runs the write path: records go through extraction,
// normalization, embedding and relationship extraction and are persisted
// as one record graph each.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	store      store.GraphStorage
	entities   *extract.EntityExtractor
	relations  *extract.RelationshipExtractor
	normalizer Normalizer
	embedder   embed.Embedder

	parallelRecords    int
	parallelAiRequests int
	maxRetries         int
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Store is required. Nil extractors use the pattern-based defaults, a nil
// Normalizer uses the built-in dictionary and a nil Embedder stores
// entities without embeddings.
// ParallelRecords controls how many records are processed in parallel.
// ParallelAiRequests bounds concurrent terminology and embedding calls per record.
type NewGraphClientParams struct {
	Store                 store.GraphStorage
	EntityExtractor       *extract.EntityExtractor
	RelationshipExtractor *extract.RelationshipExtractor
	Normalizer            Normalizer
	Embedder              embed.Embedder
	ParallelRecords       int
	ParallelAiRequests    int
	MaxRetries            int
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Store:              storeClient,
//		Embedder:           embedder,
//		ParallelRecords:    4,
//		ParallelAiRequests: 16,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Store == nil {
		return nil, errors.New("graph client needs a store")
	}

	g := &GraphClient{
		store:              params.Store,
		entities:           params.EntityExtractor,
		relations:          params.RelationshipExtractor,
		normalizer:         params.Normalizer,
		embedder:           params.Embedder,
		parallelRecords:    params.ParallelRecords,
		parallelAiRequests: params.ParallelAiRequests,
		maxRetries:         params.MaxRetries,
	}
	if g.entities == nil {
		g.entities = extract.NewEntityExtractor()
	}
	if g.relations == nil {
		g.relations = extract.NewRelationshipExtractor()
	}
	if g.normalizer == nil {
		n, err := terminology.NewNormalizer(terminology.DefaultDictionary(), 0)
		if err != nil {
			return nil, err
		}
		g.normalizer = n
	}
	if g.parallelRecords <= 0 {
		g.parallelRecords = 2
	}
	if g.parallelAiRequests <= 0 {
		g.parallelAiRequests = 8
	}
	if g.maxRetries <= 0 {
		g.maxRetries = 3
	}

	return g, nil
}
