package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pgvector/pgvector-go"
)

func scanEntity(row pgxv5.Row, extra ...any) (common.Entity, error) {
	var (
		e      common.Entity
		typ    string
		method string
	)
	dest := []any{
		&e.ID, &e.Text, &typ, &e.CanonicalConceptID, &e.CanonicalCategory,
		&e.SourceRecordID, &e.PatientID, &e.EncounterID, &e.CodedSystem, &e.CodedCode,
		&e.Confidence, &method, &e.NeedsNormalization, &e.CreatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return common.Entity{}, err
	}
	e.Type = common.EntityType(typ)
	e.ExtractionMethod = common.ExtractionMethod(method)
	return e, nil
}

func collectEntities(rows pgxv5.Rows) ([]common.Entity, error) {
	defer rows.Close()
	var out []common.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func embeddingArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func entityArgs(id string, e common.Entity) []any {
	text := util.SanitizePostgresText(e.Text)
	return []any{
		id, text, common.TextKey(text), string(e.Type), e.CanonicalConceptID, e.CanonicalCategory,
		e.SourceRecordID, e.PatientID, e.EncounterID, e.CodedSystem, e.CodedCode,
		e.Confidence, embeddingArg(e.Embedding), string(e.ExtractionMethod), e.NeedsNormalization,
	}
}

// UpsertEntity stores a single entity keyed by its identity. A placeholder
// record row is created when the source record is not known yet.
func (s *GraphDBStorage) UpsertEntity(ctx context.Context, e common.Entity) (string, error) {
	e.Text = common.NormalizeText(e.Text)
	if err := store.ValidateEntity(e); err != nil {
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

	if _, err := tx.Exec(ctx, ensureRecordSQL, e.SourceRecordID, e.PatientID, e.EncounterID); err != nil {
		return "", fmt.Errorf("failed to ensure record %s: %w", e.SourceRecordID, err)
	}
	var stored string
	if err := tx.QueryRow(ctx, upsertEntitySQL, entityArgs(id, e)...).Scan(&stored); err != nil {
		return "", mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return stored, nil
}

func (s *GraphDBStorage) GetEntity(ctx context.Context, id string, scope common.Scope) (common.Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(ctx, getEntitySQL, id, scope.PatientID, scope.EncounterID))
	if err != nil {
		return common.Entity{}, fmt.Errorf("entity %s: %w", id, mapError(err))
	}
	return e, nil
}

// GetEntities returns the visible entities among ids in the order given.
func (s *GraphDBStorage) GetEntities(ctx context.Context, ids []string, scope common.Scope) ([]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, getEntitiesSQL, ids, scope.PatientID, scope.EncounterID)
	if err != nil {
		return nil, err
	}
	found, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]common.Entity, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	out := make([]common.Entity, 0, len(found))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphDBStorage) ListUnnormalized(ctx context.Context, limit int) ([]common.Entity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, listUnnormalizedSQL, limit)
	if err != nil {
		return nil, err
	}
	return collectEntities(rows)
}

func (s *GraphDBStorage) SetCanonical(ctx context.Context, id string, concept common.Concept) error {
	tag, err := s.conn.Exec(ctx, setCanonicalSQL, id, concept.ID, concept.Category)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const entityColumns = `
    e.id, e.text, e.type, COALESCE(e.canonical_concept_id, ''), COALESCE(e.canonical_category, ''),
    e.source_record_id, e.patient_id, e.encounter_id, COALESCE(e.coded_system, ''), COALESCE(e.coded_code, ''),
    e.confidence, e.extraction_method, e.needs_normalization, e.created_at`

const scopeFilter = `
  AND ($2::text = '' OR e.patient_id = $2)
  AND ($3::text = '' OR e.encounter_id = $3)`

const ensureRecordSQL = `
INSERT INTO clinical_records (record_id, patient_id, encounter_id)
VALUES ($1, $2, $3)
ON CONFLICT (record_id) DO NOTHING;
`

const upsertEntitySQL = `
INSERT INTO entities (
    id, text, text_key, type, canonical_concept_id, canonical_category,
    source_record_id, patient_id, encounter_id, coded_system, coded_code,
    confidence, embedding, extraction_method, needs_normalization
)
VALUES (
    $1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''),
    $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''),
    $12, $13, $14, $15
)
ON CONFLICT (text_key, type, source_record_id) DO UPDATE
SET patient_id           = EXCLUDED.patient_id,
    encounter_id         = EXCLUDED.encounter_id,
    coded_system         = EXCLUDED.coded_system,
    coded_code           = EXCLUDED.coded_code,
    confidence           = EXCLUDED.confidence,
    extraction_method    = EXCLUDED.extraction_method,
    embedding            = COALESCE(EXCLUDED.embedding, entities.embedding),
    canonical_concept_id = COALESCE(EXCLUDED.canonical_concept_id, entities.canonical_concept_id),
    canonical_category   = COALESCE(EXCLUDED.canonical_category, entities.canonical_category),
    needs_normalization  = EXCLUDED.needs_normalization
                           AND COALESCE(EXCLUDED.canonical_concept_id, entities.canonical_concept_id) IS NULL,
    updated_at           = now()
RETURNING id;
`

const getEntitySQL = `
SELECT` + entityColumns + `
FROM entities e
WHERE e.id = $1` + scopeFilter + `;
`

const getEntitiesSQL = `
SELECT` + entityColumns + `
FROM entities e
WHERE e.id = ANY($1::text[])` + scopeFilter + `;
`

const listUnnormalizedSQL = `
SELECT` + entityColumns + `
FROM entities e
WHERE e.needs_normalization
ORDER BY e.created_at, e.id
LIMIT $1;
`

const setCanonicalSQL = `
UPDATE entities
SET canonical_concept_id = COALESCE(NULLIF($2, ''), canonical_concept_id),
    canonical_category   = COALESCE(NULLIF($3, ''), canonical_category),
    needs_normalization  = false,
    updated_at           = now()
WHERE id = $1;
`
