package pgx

import (
	"context"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

func collectScored(rows pgxv5.Rows) ([]store.ScoredEntity, error) {
	defer rows.Close()
	var out []store.ScoredEntity
	for rows.Next() {
		var score float64
		e, err := scanEntity(rows, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, store.ScoredEntity{Entity: e, Score: score})
	}
	return out, rows.Err()
}

// SearchByEmbedding returns the k entities closest to vec by cosine
// distance. Score is the cosine similarity.
func (s *GraphDBStorage) SearchByEmbedding(ctx context.Context, vec []float32, k int, scope common.Scope) ([]store.ScoredEntity, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, searchByEmbeddingSQL,
		pgvector.NewVector(vec), scope.PatientID, scope.EncounterID, k,
	)
	if err != nil {
		return nil, err
	}
	return collectScored(rows)
}

// SearchByText ranks entities by full-text match of any query term. An
// exact match of the whole mention adds 1 to the rank.
func (s *GraphDBStorage) SearchByText(ctx context.Context, text string, k int, opts store.TextSearchOptions) ([]store.ScoredEntity, error) {
	if strings.TrimSpace(text) == "" || k <= 0 {
		return nil, nil
	}
	rows, err := s.conn.Query(ctx, searchByTextSQL,
		text, opts.Scope.PatientID, opts.Scope.EncounterID, k,
		common.TextKey(text), opts.IncludeRecordText,
	)
	if err != nil {
		return nil, err
	}
	return collectScored(rows)
}

const searchByEmbeddingSQL = `
SELECT` + entityColumns + `,
    1 - (e.embedding <=> $1) AS score
FROM entities e
WHERE e.embedding IS NOT NULL` + scopeFilter + `
ORDER BY e.embedding <=> $1, e.id
LIMIT $4;
`

// The query terms are OR-ed: each lexeme of the input is quoted and joined
// with '|' so user input never reaches the tsquery parser unescaped.
const searchByTextSQL = `
WITH q AS (
    SELECT to_tsquery('simple', array_to_string(ARRAY(
        SELECT quote_literal(lexeme)
        FROM unnest(tsvector_to_array(to_tsvector('simple', $1))) AS lexeme
    ), ' | ')) AS query
)
SELECT` + entityColumns + `,
    ts_rank(e.search_vector, q.query)
    + CASE WHEN e.text_key = $5 THEN 1 ELSE 0 END
    + CASE WHEN $6::bool THEN 0.5 * ts_rank(r.search_vector, q.query) ELSE 0 END AS score
FROM entities e
CROSS JOIN q
JOIN clinical_records r ON r.record_id = e.source_record_id
WHERE e.search_vector @@ q.query` + scopeFilter + `
ORDER BY score DESC, e.id
LIMIT $4;
`
