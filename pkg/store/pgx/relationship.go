package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

func collectRelationships(rows pgxv5.Rows) ([]common.Relationship, error) {
	defer rows.Close()
	var out []common.Relationship
	for rows.Next() {
		var (
			r      common.Relationship
			typ    string
			method string
		)
		if err := rows.Scan(
			&r.ID, &r.SourceEntityID, &r.TargetEntityID, &typ, &r.SourceRecordID, &r.PatientID,
			&r.Confidence, &r.ContextSnippet, &method, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.Type = common.RelationshipType(typ)
		r.ExtractionMethod = common.ExtractionMethod(method)
		out = append(out, r)
	}
	return out, rows.Err()
}

func relationshipArgs(id string, r common.Relationship) []any {
	return []any{
		id, r.SourceEntityID, r.TargetEntityID, string(r.Type), r.SourceRecordID, r.PatientID,
		r.Confidence, util.SanitizePostgresText(r.ContextSnippet), string(r.ExtractionMethod),
	}
}

// UpsertRelationship stores a relationship between two existing entities.
// Source record and patient default to those of the source entity.
func (s *GraphDBStorage) UpsertRelationship(ctx context.Context, r common.Relationship) (string, error) {
	if r.SourceEntityID == "" || r.TargetEntityID == "" {
		return "", fmt.Errorf("%w: relationship endpoints must be entity ids", store.ErrInvalidGraph)
	}
	if err := store.ValidateRelationship(r); err != nil {
		return "", err
	}
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var recordID, patientID string
	if err := tx.QueryRow(ctx, entityOwnerSQL, r.SourceEntityID).Scan(&recordID, &patientID); err != nil {
		return "", fmt.Errorf("source entity %s: %w", r.SourceEntityID, mapError(err))
	}
	if r.SourceRecordID == "" {
		r.SourceRecordID = recordID
	}
	if r.PatientID == "" {
		r.PatientID = patientID
	}

	var stored string
	if err := tx.QueryRow(ctx, upsertRelationshipSQL, relationshipArgs(id, r)...).Scan(&stored); err != nil {
		return "", mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return stored, nil
}

// Neighbors returns the relationships touching ids in the requested
// direction. Both endpoints must be visible in the filter scope.
func (s *GraphDBStorage) Neighbors(ctx context.Context, ids []string, filter store.NeighborFilter) ([]common.Relationship, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	outgoing := filter.Direction != store.DirectionIncoming
	incoming := filter.Direction != store.DirectionOutgoing

	rows, err := s.conn.Query(ctx, neighborsSQL,
		ids, filter.Scope.PatientID, filter.Scope.EncounterID,
		outgoing, incoming, relationshipTypes(filter.Types),
	)
	if err != nil {
		return nil, err
	}
	return collectRelationships(rows)
}

func (s *GraphDBStorage) RelationshipsAmong(ctx context.Context, ids []string, scope common.Scope) ([]common.Relationship, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) < 2 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, relationshipsAmongSQL, ids, scope.PatientID, scope.EncounterID)
	if err != nil {
		return nil, err
	}
	return collectRelationships(rows)
}

const relationshipColumns = `
    r.id, r.source_entity_id, r.target_entity_id, r.type, r.source_record_id, r.patient_id,
    r.confidence, COALESCE(r.context_snippet, ''), r.extraction_method, r.created_at`

const relationshipScopeFilter = `
  AND ($2::text = '' OR (src.patient_id = $2 AND tgt.patient_id = $2))
  AND ($3::text = '' OR (src.encounter_id = $3 AND tgt.encounter_id = $3))`

const entityOwnerSQL = `
SELECT source_record_id, patient_id
FROM entities
WHERE id = $1;
`

const upsertRelationshipSQL = `
INSERT INTO relationships (
    id, source_entity_id, target_entity_id, type, source_record_id, patient_id,
    confidence, context_snippet, extraction_method
)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
ON CONFLICT (source_entity_id, target_entity_id, type, source_record_id) DO UPDATE
SET confidence        = EXCLUDED.confidence,
    context_snippet   = EXCLUDED.context_snippet,
    extraction_method = EXCLUDED.extraction_method,
    updated_at        = now()
RETURNING id;
`

const neighborsSQL = `
SELECT` + relationshipColumns + `
FROM relationships r
JOIN entities src ON src.id = r.source_entity_id
JOIN entities tgt ON tgt.id = r.target_entity_id
WHERE (
        ($4::bool AND r.source_entity_id = ANY($1::text[]))
     OR ($5::bool AND r.target_entity_id = ANY($1::text[]))
  )
  AND (cardinality($6::text[]) = 0 OR r.type = ANY($6::text[]))` + relationshipScopeFilter + `
ORDER BY r.id;
`

const relationshipsAmongSQL = `
SELECT` + relationshipColumns + `
FROM relationships r
JOIN entities src ON src.id = r.source_entity_id
JOIN entities tgt ON tgt.id = r.target_entity_id
WHERE r.source_entity_id = ANY($1::text[])
  AND r.target_entity_id = ANY($1::text[])` + relationshipScopeFilter + `
ORDER BY r.id;
`
