package terminology

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const lookupCodeSQL = `
SELECT c.id, c.category, c.display
FROM terminology_codes tc
JOIN terminology_concepts c ON c.id = tc.concept_id
WHERE tc.system = $1 AND tc.code = $2
LIMIT 1`

const lookupTextSQL = `
SELECT c.id, c.category, c.display, c.entity_type, c.hint_types, c.hint_terms
FROM terminology_synonyms s
JOIN terminology_concepts c ON c.id = s.concept_id
WHERE s.synonym_key = $1
ORDER BY s.position, c.id`

const upsertConceptSQL = `
INSERT INTO terminology_concepts (id, category, display, entity_type, hint_types, hint_terms)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	category = EXCLUDED.category,
	display = EXCLUDED.display,
	entity_type = EXCLUDED.entity_type,
	hint_types = EXCLUDED.hint_types,
	hint_terms = EXCLUDED.hint_terms`

const upsertCodeSQL = `
INSERT INTO terminology_codes (system, code, concept_id)
VALUES ($1, $2, $3)
ON CONFLICT (system, code) DO UPDATE SET concept_id = EXCLUDED.concept_id`

const upsertSynonymSQL = `
INSERT INTO terminology_synonyms (synonym_key, concept_id, position)
VALUES ($1, $2, $3)
ON CONFLICT (synonym_key, concept_id) DO UPDATE SET position = EXCLUDED.position`

// DBService is a terminology Service backed by the terminology tables in
// PostgreSQL.
type DBService struct {
	conn pgxIConn
}

// NewDBService creates a DBService on an open pool or connection.
func NewDBService(conn pgxIConn) *DBService {
	return &DBService{conn: conn}
}

// Lookup resolves coded mentions by code and everything else by surface
// form, disambiguating with the stored context hints.
func (s *DBService) Lookup(ctx context.Context, m Mention) (common.Concept, bool, error) {
	if m.Coded() {
		var c common.Concept
		err := s.conn.QueryRow(ctx, lookupCodeSQL, CanonicalSystem(m.System), m.Code).
			Scan(&c.ID, &c.Category, &c.Display)
		switch {
		case err == nil:
			return c, true, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return common.Concept{}, false, fmt.Errorf("lookup code %s|%s: %w", m.System, m.Code, err)
		}
	}

	key := common.TextKey(m.Text)
	if key == "" {
		return common.Concept{}, false, nil
	}
	rows, err := s.conn.Query(ctx, lookupTextSQL, key)
	if err != nil {
		return common.Concept{}, false, fmt.Errorf("lookup text %q: %w", key, err)
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var (
			c          Candidate
			entityType string
			hintTypes  []string
		)
		if err := rows.Scan(
			&c.Concept.ID,
			&c.Concept.Category,
			&c.Concept.Display,
			&entityType,
			&hintTypes,
			&c.HintTerms,
		); err != nil {
			return common.Concept{}, false, err
		}
		c.EntityType = common.EntityType(entityType)
		for _, ht := range hintTypes {
			if t, ok := common.ParseEntityType(ht); ok {
				c.HintTypes = append(c.HintTypes, t)
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return common.Concept{}, false, err
	}

	concept, ok := pick(m, candidates)
	return concept, ok, nil
}

// Seed writes entries into the terminology tables in one transaction.
// Existing rows are updated in place, so seeding twice is harmless.
func (s *DBService) Seed(ctx context.Context, entries []Entry) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for pos, e := range entries {
		c := e.Concept()
		hintTypes := make([]string, len(e.HintTypes))
		for i, t := range e.HintTypes {
			hintTypes[i] = string(t)
		}
		hintTerms := e.HintTerms
		if hintTerms == nil {
			hintTerms = []string{}
		}

		if _, err := tx.Exec(ctx, upsertConceptSQL,
			c.ID, c.Category, c.Display, string(e.EntityType), hintTypes, hintTerms,
		); err != nil {
			return fmt.Errorf("seed concept %s: %w", c.ID, err)
		}

		codes := append([]Code{{System: e.System, Code: e.Code}}, e.AltCodes...)
		for _, code := range codes {
			if _, err := tx.Exec(ctx, upsertCodeSQL, CanonicalSystem(code.System), code.Code, c.ID); err != nil {
				return fmt.Errorf("seed code %s|%s: %w", code.System, code.Code, err)
			}
		}

		for _, form := range e.SurfaceForms() {
			k := common.TextKey(form)
			if k == "" {
				continue
			}
			if _, err := tx.Exec(ctx, upsertSynonymSQL, k, c.ID, pos); err != nil {
				return fmt.Errorf("seed synonym %q: %w", k, err)
			}
		}
	}

	return tx.Commit(ctx)
}

var _ Service = (*DBService)(nil)
