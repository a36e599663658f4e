package store

import (
	"context"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

// Direction selects which edges of a node Neighbors follows.
type Direction int

const (
	DirectionBoth Direction = iota
	DirectionOutgoing
	DirectionIncoming
)

// NeighborFilter restricts a Neighbors lookup. Empty Types means all types.
type NeighborFilter struct {
	Types     []common.RelationshipType
	Direction Direction
	Scope     common.Scope
}

// Allows reports whether a relationship of type t passes the type filter.
func (f NeighborFilter) Allows(t common.RelationshipType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

// TextSearchOptions configures SearchByText.
type TextSearchOptions struct {
	Scope common.Scope
	// IncludeRecordText also matches the free text of the record an entity
	// was extracted from.
	IncludeRecordText bool
}

// ScoredEntity is a search hit with its raw modality score.
type ScoredEntity struct {
	Entity common.Entity
	Score  float64
}

// SaveResult maps the entity keys of a saved record graph to their ids.
type SaveResult struct {
	EntityIDs       map[common.EntityKey]string
	RelationshipIDs []string
}

// Counts holds the number of rows stored for (or removed from) one record.
type Counts struct {
	Entities      int
	Relationships int
}

// GraphStorage is the persistent clinical knowledge graph.
//
// Every read takes a Scope and never returns entities or relationships
// outside of it. Writes are upserts keyed by the identity keys of entities
// and relationships.
type GraphStorage interface {
	// SaveRecordGraph persists a record and everything extracted from it in
	// a single transaction.
	SaveRecordGraph(ctx context.Context, g common.RecordGraph) (SaveResult, error)
	UpsertEntity(ctx context.Context, e common.Entity) (string, error)
	UpsertRelationship(ctx context.Context, r common.Relationship) (string, error)

	GetEntity(ctx context.Context, id string, scope common.Scope) (common.Entity, error)
	GetEntities(ctx context.Context, ids []string, scope common.Scope) ([]common.Entity, error)
	Neighbors(ctx context.Context, ids []string, filter NeighborFilter) ([]common.Relationship, error)
	RelationshipsAmong(ctx context.Context, ids []string, scope common.Scope) ([]common.Relationship, error)

	SearchByEmbedding(ctx context.Context, vec []float32, k int, scope common.Scope) ([]ScoredEntity, error)
	SearchByText(ctx context.Context, text string, k int, opts TextSearchOptions) ([]ScoredEntity, error)

	// RetractRecord removes a record with all of its entities and
	// relationships. Retracting an unknown record is not an error.
	RetractRecord(ctx context.Context, recordID string) (Counts, error)
	CountRecordGraph(ctx context.Context, recordID string) (Counts, error)

	ListUnnormalized(ctx context.Context, limit int) ([]common.Entity, error)
	SetCanonical(ctx context.Context, id string, concept common.Concept) error
}
