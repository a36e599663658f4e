package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type entityIdentity struct {
	text   string
	typ    common.EntityType
	record string
}

type relIdentity struct {
	source string
	target string
	typ    common.RelationshipType
	record string
}

// GraphMemoryStorage is an in-process GraphStorage backed by maps. It is
// used for tests and single-process deployments.
type GraphMemoryStorage struct {
	mu        sync.RWMutex
	records   map[string]common.Record
	entities  map[string]common.Entity
	entityIDs map[entityIdentity]string
	rels      map[string]common.Relationship
	relIDs    map[relIdentity]string
	outgoing  map[string]map[string]struct{}
	incoming  map[string]map[string]struct{}
	now       func() time.Time
}

var _ store.GraphStorage = (*GraphMemoryStorage)(nil)

type GraphMemoryStorageOption func(*GraphMemoryStorage)

// WithClock replaces the clock used for created_at timestamps.
func WithClock(now func() time.Time) GraphMemoryStorageOption {
	return func(s *GraphMemoryStorage) {
		s.now = now
	}
}

func NewGraphMemoryStorage(opts ...GraphMemoryStorageOption) *GraphMemoryStorage {
	s := &GraphMemoryStorage{
		records:   make(map[string]common.Record),
		entities:  make(map[string]common.Entity),
		entityIDs: make(map[entityIdentity]string),
		rels:      make(map[string]common.Relationship),
		relIDs:    make(map[relIdentity]string),
		outgoing:  make(map[string]map[string]struct{}),
		incoming:  make(map[string]map[string]struct{}),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func newIDs(n int) ([]string, error) {
	ids := make([]string, n)
	for i := range ids {
		id, err := gonanoid.New()
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func entityIdentityOf(e common.Entity) entityIdentity {
	return entityIdentity{text: common.TextKey(e.Text), typ: e.Type, record: e.SourceRecordID}
}

func relIdentityOf(r common.Relationship) relIdentity {
	return relIdentity{source: r.SourceEntityID, target: r.TargetEntityID, typ: r.Type, record: r.SourceRecordID}
}

func (s *GraphMemoryStorage) SaveRecordGraph(ctx context.Context, g common.RecordGraph) (store.SaveResult, error) {
	g, err := store.PrepareRecordGraph(g)
	if err != nil {
		return store.SaveResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.SaveResult{}, err
	}
	ids, err := newIDs(len(g.Entities) + len(g.Relationships))
	if err != nil {
		return store.SaveResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range g.Relationships {
		if r.SourceEntityID == "" {
			continue
		}
		if _, ok := s.entities[r.SourceEntityID]; !ok {
			return store.SaveResult{}, fmt.Errorf("source entity %s: %w", r.SourceEntityID, common.ErrNotFound)
		}
		if _, ok := s.entities[r.TargetEntityID]; !ok {
			return store.SaveResult{}, fmt.Errorf("target entity %s: %w", r.TargetEntityID, common.ErrNotFound)
		}
	}

	s.records[g.Record.RecordID] = g.Record

	res := store.SaveResult{
		EntityIDs:       make(map[common.EntityKey]string, len(g.Entities)),
		RelationshipIDs: make([]string, 0, len(g.Relationships)),
	}
	for i, e := range g.Entities {
		res.EntityIDs[e.Key()] = s.upsertEntityLocked(e, ids[i])
	}
	for i, r := range g.Relationships {
		if r.SourceEntityID == "" {
			r.SourceEntityID = res.EntityIDs[r.SourceKey]
			r.TargetEntityID = res.EntityIDs[r.TargetKey]
		}
		res.RelationshipIDs = append(res.RelationshipIDs, s.upsertRelationshipLocked(r, ids[len(g.Entities)+i]))
	}

	return res, nil
}

func (s *GraphMemoryStorage) upsertEntityLocked(e common.Entity, newID string) string {
	e.Embedding = slices.Clone(e.Embedding)
	key := entityIdentityOf(e)
	if id, ok := s.entityIDs[key]; ok {
		old := s.entities[id]
		e.ID = id
		e.Text = old.Text
		e.CreatedAt = old.CreatedAt
		if e.Embedding == nil {
			e.Embedding = old.Embedding
		}
		if e.CanonicalConceptID == "" && old.CanonicalConceptID != "" {
			e.CanonicalConceptID = old.CanonicalConceptID
			e.CanonicalCategory = old.CanonicalCategory
			e.NeedsNormalization = false
		}
		s.entities[id] = e
		return id
	}

	e.ID = newID
	e.CreatedAt = s.now()
	s.entities[newID] = e
	s.entityIDs[key] = newID
	return newID
}

func (s *GraphMemoryStorage) upsertRelationshipLocked(r common.Relationship, newID string) string {
	r.SourceKey = common.EntityKey{}
	r.TargetKey = common.EntityKey{}
	key := relIdentityOf(r)
	if id, ok := s.relIDs[key]; ok {
		old := s.rels[id]
		r.ID = id
		r.CreatedAt = old.CreatedAt
		s.rels[id] = r
		return id
	}

	r.ID = newID
	r.CreatedAt = s.now()
	s.rels[newID] = r
	s.relIDs[key] = newID
	link(s.outgoing, r.SourceEntityID, newID)
	link(s.incoming, r.TargetEntityID, newID)
	return newID
}

func link(index map[string]map[string]struct{}, node, relID string) {
	set, ok := index[node]
	if !ok {
		set = make(map[string]struct{})
		index[node] = set
	}
	set[relID] = struct{}{}
}

func unlink(index map[string]map[string]struct{}, node, relID string) {
	set, ok := index[node]
	if !ok {
		return
	}
	delete(set, relID)
	if len(set) == 0 {
		delete(index, node)
	}
}

func (s *GraphMemoryStorage) UpsertEntity(ctx context.Context, e common.Entity) (string, error) {
	e.Text = common.NormalizeText(e.Text)
	if err := store.ValidateEntity(e); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ids, err := newIDs(1)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[e.SourceRecordID]; !ok {
		s.records[e.SourceRecordID] = common.Record{
			RecordID:    e.SourceRecordID,
			PatientID:   e.PatientID,
			EncounterID: e.EncounterID,
		}
	}
	return s.upsertEntityLocked(e, ids[0]), nil
}

func (s *GraphMemoryStorage) UpsertRelationship(ctx context.Context, r common.Relationship) (string, error) {
	if r.SourceEntityID == "" || r.TargetEntityID == "" {
		return "", fmt.Errorf("%w: relationship endpoints must be entity ids", store.ErrInvalidGraph)
	}
	if err := store.ValidateRelationship(r); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ids, err := newIDs(1)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.entities[r.SourceEntityID]
	if !ok {
		return "", fmt.Errorf("source entity %s: %w", r.SourceEntityID, common.ErrNotFound)
	}
	if _, ok := s.entities[r.TargetEntityID]; !ok {
		return "", fmt.Errorf("target entity %s: %w", r.TargetEntityID, common.ErrNotFound)
	}
	if r.SourceRecordID == "" {
		r.SourceRecordID = src.SourceRecordID
	}
	if r.PatientID == "" {
		r.PatientID = src.PatientID
	}
	return s.upsertRelationshipLocked(r, ids[0]), nil
}

func (s *GraphMemoryStorage) visible(id string, scope common.Scope) (common.Entity, bool) {
	e, ok := s.entities[id]
	if !ok || !scope.Allows(e.PatientID, e.EncounterID) {
		return common.Entity{}, false
	}
	return e, true
}

func (s *GraphMemoryStorage) GetEntity(ctx context.Context, id string, scope common.Scope) (common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return common.Entity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.visible(id, scope)
	if !ok {
		return common.Entity{}, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	return e, nil
}

// GetEntities returns the visible entities among ids in the order given.
// Unknown and out-of-scope ids are skipped.
func (s *GraphMemoryStorage) GetEntities(ctx context.Context, ids []string, scope common.Scope) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Entity, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if e, ok := s.visible(id, scope); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *GraphMemoryStorage) Neighbors(ctx context.Context, ids []string, filter store.NeighborFilter) ([]common.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []common.Relationship
	collect := func(relIDs map[string]struct{}) {
		for relID := range relIDs {
			if _, ok := seen[relID]; ok {
				continue
			}
			r := s.rels[relID]
			if !filter.Allows(r.Type) {
				continue
			}
			if _, ok := s.visible(r.SourceEntityID, filter.Scope); !ok {
				continue
			}
			if _, ok := s.visible(r.TargetEntityID, filter.Scope); !ok {
				continue
			}
			seen[relID] = struct{}{}
			out = append(out, r)
		}
	}
	for _, id := range ids {
		if filter.Direction != store.DirectionIncoming {
			collect(s.outgoing[id])
		}
		if filter.Direction != store.DirectionOutgoing {
			collect(s.incoming[id])
		}
	}

	sortRelationships(out)
	return out, nil
}

func (s *GraphMemoryStorage) RelationshipsAmong(ctx context.Context, ids []string, scope common.Scope) ([]common.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.visible(id, scope); ok {
			set[id] = struct{}{}
		}
	}

	var out []common.Relationship
	for id := range set {
		for relID := range s.outgoing[id] {
			r := s.rels[relID]
			if _, ok := set[r.TargetEntityID]; ok {
				out = append(out, r)
			}
		}
	}

	sortRelationships(out)
	return out, nil
}

func sortRelationships(rels []common.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		return rels[i].ID < rels[j].ID
	})
}

func sortHits(hits []store.ScoredEntity, k int) []store.ScoredEntity {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Entity.ID < hits[j].Entity.ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// SearchByEmbedding ranks entities by cosine similarity to vec.
func (s *GraphMemoryStorage) SearchByEmbedding(ctx context.Context, vec []float32, k int, scope common.Scope) ([]store.ScoredEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []store.ScoredEntity
	for _, e := range s.entities {
		if len(e.Embedding) == 0 || !scope.Allows(e.PatientID, e.EncounterID) {
			continue
		}
		hits = append(hits, store.ScoredEntity{Entity: e, Score: store.CosineSimilarity(vec, e.Embedding)})
	}
	return sortHits(hits, k), nil
}

// SearchByText ranks entities by keyword overlap with text. Exact and
// phrase matches of the whole mention score above partial overlaps.
func (s *GraphMemoryStorage) SearchByText(ctx context.Context, text string, k int, opts store.TextSearchOptions) ([]store.ScoredEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := tokenize(text)
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	queryKey := strings.Join(query, " ")

	s.mu.RLock()
	defer s.mu.RUnlock()

	recordScores := make(map[string]float64)
	var hits []store.ScoredEntity
	for _, e := range s.entities {
		if !opts.Scope.Allows(e.PatientID, e.EncounterID) {
			continue
		}
		score := textScore(query, queryKey, e.Text)
		if opts.IncludeRecordText {
			rs, ok := recordScores[e.SourceRecordID]
			if !ok {
				rs = overlap(query, tokenize(s.records[e.SourceRecordID].Text()))
				recordScores[e.SourceRecordID] = rs
			}
			if score > 0 {
				score += 0.5 * rs
			}
		}
		if score > 0 {
			hits = append(hits, store.ScoredEntity{Entity: e, Score: score})
		}
	}
	return sortHits(hits, k), nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "for": {}, "in": {}, "is": {},
	"of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "what": {}, "which": {},
	"with": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, ok := stopwords[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

func overlap(query, tokens []string) float64 {
	if len(query) == 0 || len(tokens) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	matched := 0
	for _, q := range query {
		if _, ok := set[q]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}

func textScore(query []string, queryKey, text string) float64 {
	tokens := tokenize(text)
	score := overlap(query, tokens)
	if score == 0 {
		return 0
	}
	key := strings.Join(tokens, " ")
	switch {
	case key == queryKey:
		score += 1
	case strings.Contains(" "+queryKey+" ", " "+key+" "), strings.Contains(" "+key+" ", " "+queryKey+" "):
		score += 0.5
	}
	return score
}

// RetractRecord deletes the record and everything extracted from it.
func (s *GraphMemoryStorage) RetractRecord(ctx context.Context, recordID string) (store.Counts, error) {
	if err := ctx.Err(); err != nil {
		return store.Counts{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts store.Counts
	doomed := make(map[string]struct{})
	for id, e := range s.entities {
		if e.SourceRecordID == recordID {
			doomed[id] = struct{}{}
		}
	}
	for id, r := range s.rels {
		_, src := doomed[r.SourceEntityID]
		_, tgt := doomed[r.TargetEntityID]
		if r.SourceRecordID != recordID && !src && !tgt {
			continue
		}
		delete(s.rels, id)
		delete(s.relIDs, relIdentityOf(r))
		unlink(s.outgoing, r.SourceEntityID, id)
		unlink(s.incoming, r.TargetEntityID, id)
		counts.Relationships++
	}
	for id := range doomed {
		delete(s.entityIDs, entityIdentityOf(s.entities[id]))
		delete(s.entities, id)
		counts.Entities++
	}
	delete(s.records, recordID)

	return counts, nil
}

func (s *GraphMemoryStorage) CountRecordGraph(ctx context.Context, recordID string) (store.Counts, error) {
	if err := ctx.Err(); err != nil {
		return store.Counts{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts store.Counts
	for _, e := range s.entities {
		if e.SourceRecordID == recordID {
			counts.Entities++
		}
	}
	for _, r := range s.rels {
		if r.SourceRecordID == recordID {
			counts.Relationships++
		}
	}
	return counts, nil
}

// ListUnnormalized returns up to limit entities still waiting for a
// canonical concept, oldest first.
func (s *GraphMemoryStorage) ListUnnormalized(ctx context.Context, limit int) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []common.Entity
	for _, e := range s.entities {
		if e.NeedsNormalization {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetCanonical stores the canonical concept of an entity. An empty concept
// id only clears the needs_normalization flag.
func (s *GraphMemoryStorage) SetCanonical(ctx context.Context, id string, concept common.Concept) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	if concept.ID != "" {
		e.CanonicalConceptID = concept.ID
		e.CanonicalCategory = concept.Category
	}
	e.NeedsNormalization = false
	s.entities[id] = e
	return nil
}
