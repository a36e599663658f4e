package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/backend/internal/util"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// SaveRecordGraph persists a record with its entities and relationships in
// one transaction. Upserts are pipelined in batches of batchSize.
func (s *GraphDBStorage) SaveRecordGraph(ctx context.Context, g common.RecordGraph) (store.SaveResult, error) {
	g, err := store.PrepareRecordGraph(g)
	if err != nil {
		return store.SaveResult{}, err
	}
	rec := g.Record

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return store.SaveResult{}, err
	}
	defer tx.Rollback(ctx)

	recordedAt := pgtype.Timestamptz{Time: rec.RecordedAt, Valid: !rec.RecordedAt.IsZero()}
	if _, err := tx.Exec(ctx, upsertRecordSQL,
		rec.RecordID, rec.PatientID, rec.EncounterID,
		util.SanitizePostgresText(rec.Text()), recordedAt,
	); err != nil {
		return store.SaveResult{}, fmt.Errorf("failed to upsert record %s: %w", rec.RecordID, err)
	}

	res := store.SaveResult{
		EntityIDs:       make(map[common.EntityKey]string, len(g.Entities)),
		RelationshipIDs: make([]string, 0, len(g.Relationships)),
	}

	logger.Debug("[Store][SaveRecordGraph] Upserting entities", "record_id", rec.RecordID, "count", len(g.Entities))
	err = store.ChunkRange(len(g.Entities), s.batchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range g.Entities[start:end] {
			id, err := gonanoid.New()
			if err != nil {
				return err
			}
			batch.Queue(upsertEntitySQL, entityArgs(id, e)...)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for _, e := range g.Entities[start:end] {
			var id string
			if err := br.QueryRow().Scan(&id); err != nil {
				return fmt.Errorf("failed to upsert entity %q: %w", e.Text, mapError(err))
			}
			res.EntityIDs[e.Key()] = id
		}
		return br.Close()
	})
	if err != nil {
		return store.SaveResult{}, err
	}

	logger.Debug("[Store][SaveRecordGraph] Upserting relationships", "record_id", rec.RecordID, "count", len(g.Relationships))
	err = store.ChunkRange(len(g.Relationships), s.batchSize, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, r := range g.Relationships[start:end] {
			if r.SourceEntityID == "" {
				r.SourceEntityID = res.EntityIDs[r.SourceKey]
				r.TargetEntityID = res.EntityIDs[r.TargetKey]
			}
			id, err := gonanoid.New()
			if err != nil {
				return err
			}
			batch.Queue(upsertRelationshipSQL, relationshipArgs(id, r)...)
		}
		br := tx.SendBatch(ctx, batch)
		defer br.Close()
		for _, r := range g.Relationships[start:end] {
			var id string
			if err := br.QueryRow().Scan(&id); err != nil {
				return fmt.Errorf("failed to upsert %s relationship: %w", r.Type, mapError(err))
			}
			res.RelationshipIDs = append(res.RelationshipIDs, id)
		}
		return br.Close()
	})
	if err != nil {
		return store.SaveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return store.SaveResult{}, err
	}
	return res, nil
}

// RetractRecord deletes a record and everything extracted from it.
func (s *GraphDBStorage) RetractRecord(ctx context.Context, recordID string) (store.Counts, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return store.Counts{}, err
	}
	defer tx.Rollback(ctx)

	var counts store.Counts
	tag, err := tx.Exec(ctx, deleteRecordRelationshipsSQL, recordID)
	if err != nil {
		return store.Counts{}, err
	}
	counts.Relationships = int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, deleteRecordEntitiesSQL, recordID)
	if err != nil {
		return store.Counts{}, err
	}
	counts.Entities = int(tag.RowsAffected())

	if _, err := tx.Exec(ctx, deleteRecordSQL, recordID); err != nil {
		return store.Counts{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.Counts{}, err
	}

	logger.Info("[Store][RetractRecord] Record retracted", "record_id", recordID, "entities", counts.Entities, "relationships", counts.Relationships)
	return counts, nil
}

func (s *GraphDBStorage) CountRecordGraph(ctx context.Context, recordID string) (store.Counts, error) {
	var entities, relationships int64
	if err := s.conn.QueryRow(ctx, countRecordGraphSQL, recordID).Scan(&entities, &relationships); err != nil {
		return store.Counts{}, err
	}
	return store.Counts{Entities: int(entities), Relationships: int(relationships)}, nil
}

const upsertRecordSQL = `
INSERT INTO clinical_records (record_id, patient_id, encounter_id, free_text, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (record_id) DO UPDATE
SET patient_id   = EXCLUDED.patient_id,
    encounter_id = EXCLUDED.encounter_id,
    free_text    = EXCLUDED.free_text,
    recorded_at  = EXCLUDED.recorded_at,
    updated_at   = now();
`

const deleteRecordRelationshipsSQL = `
DELETE FROM relationships
WHERE source_record_id = $1
   OR source_entity_id IN (SELECT id FROM entities WHERE source_record_id = $1)
   OR target_entity_id IN (SELECT id FROM entities WHERE source_record_id = $1);
`

const deleteRecordEntitiesSQL = `
DELETE FROM entities
WHERE source_record_id = $1;
`

const deleteRecordSQL = `
DELETE FROM clinical_records
WHERE record_id = $1;
`

const countRecordGraphSQL = `
SELECT
    (SELECT count(*) FROM entities WHERE source_record_id = $1),
    (SELECT count(*) FROM relationships WHERE source_record_id = $1);
`
